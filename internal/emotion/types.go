// Package emotion scores text against per-emotion trigger lexicons and
// derives the emotional weight that the memory tiers use for scoring.
// Stored weights decay lazily with a per-emotion half-life; nothing here
// runs in the background.
package emotion

import "time"

const (
	Joy          = "joy"
	Sadness      = "sadness"
	Anger        = "anger"
	Fear         = "fear"
	Surprise     = "surprise"
	Disgust      = "disgust"
	Trust        = "trust"
	Anticipation = "anticipation"
	Neutral      = "neutral"
)

// Emotions lists every scored emotion in canonical order. The order is the
// tie-break for the dominant emotion, so it must stay stable.
var Emotions = []string{Joy, Sadness, Anger, Fear, Surprise, Disgust, Trust, Anticipation}

const (
	IntensityVeryHigh = "very_high"
	IntensityHigh     = "high"
	IntensityMedium   = "medium"
	IntensityLow      = "low"
	IntensityVeryLow  = "very_low"
)

var (
	positiveEmotions = map[string]bool{Joy: true, Trust: true, Anticipation: true}
	negativeEmotions = map[string]bool{Sadness: true, Anger: true, Fear: true, Disgust: true}

	highArousalEmotions = map[string]bool{Anger: true, Fear: true, Joy: true, Surprise: true}
	lowArousalEmotions  = map[string]bool{Sadness: true, Trust: true}

	oppositePairs = [][2]string{
		{Joy, Sadness},
		{Anger, Trust},
		{Fear, Anticipation},
		{Surprise, Neutral},
	}
)

// State is one emotion analysis result. Persisted states are immutable;
// a newer analysis supersedes, never edits.
type State struct {
	ID         string             `json:"id,omitempty"`
	Vector     map[string]float64 `json:"vector"`
	Dominant   string             `json:"dominant"`
	Confidence float64            `json:"confidence"`
	Intensity  string             `json:"intensity"`
	Valence    float64            `json:"valence"`
	Arousal    float64            `json:"arousal"`
	Complexity int                `json:"complexity"`
	ComputedAt time.Time          `json:"computedAt"`

	// FragmentID is a weak reference; the fragment may have been evicted.
	FragmentID string `json:"fragmentId,omitempty"`
}

func oppositeEmotions(a, b string) bool {
	for _, pair := range oppositePairs {
		if (pair[0] == a && pair[1] == b) || (pair[0] == b && pair[1] == a) {
			return true
		}
	}
	return false
}
