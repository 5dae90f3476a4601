package memory

import (
	"fmt"
	"math"
	"time"

	"github.com/stellarlinkco/mnemo/internal/config"
	"github.com/stellarlinkco/mnemo/internal/emotion"
)

// frequencyBonusCap bounds how much repeated access can lift the relevance
// term; a fragment touched a hundred times gets the full bonus.
const frequencyBonusCap = 0.2

// Weights are the composite score coefficients. They must sum to 1.
type Weights struct {
	Recency   float64
	Relevance float64
	Emotional float64
}

func NewWeights(cfg config.TiersConfig) (Weights, error) {
	w := Weights{
		Recency:   cfg.RecencyWeight,
		Relevance: cfg.RelevanceWeight,
		Emotional: cfg.EmotionalWeight,
	}
	if w.Recency < 0 || w.Relevance < 0 || w.Emotional < 0 {
		return Weights{}, fmt.Errorf("score weights must be non-negative: %+v", w)
	}
	if sum := w.Recency + w.Relevance + w.Emotional; math.Abs(sum-1) > 1e-6 {
		return Weights{}, fmt.Errorf("score weights must sum to 1, got %.4f", sum)
	}
	return w, nil
}

// Scorer computes the composite tier score for fragments. Emotional weight
// is decayed lazily at scoring time; the stored value never changes.
type Scorer struct {
	weights   Weights
	halfLives emotion.HalfLives
}

func NewScorer(cfg *config.Config) (*Scorer, error) {
	weights, err := NewWeights(cfg.Tiers)
	if err != nil {
		return nil, err
	}
	halfLives, err := emotion.NewHalfLives(cfg.Emotion)
	if err != nil {
		return nil, err
	}
	return &Scorer{weights: weights, halfLives: halfLives}, nil
}

// Score returns w1*recency + w2*relevance + w3*emotional in [0,1].
// Relevance carries a small frequency bonus so that access count, not just
// access time, feeds the score.
func (s *Scorer) Score(frag *Fragment, now time.Time) float64 {
	recency := Recency(frag.LastAccessedAt, now)
	relevance := clamp01(frag.RelevanceScore + frequencyBonus(frag.AccessCount))
	emotional := s.EmotionalWeight(frag, now)

	return clamp01(s.weights.Recency*recency + s.weights.Relevance*relevance + s.weights.Emotional*emotional)
}

// EmotionalWeight returns the fragment's stored weight decayed by the time
// since ingestion, using the dominant emotion's half-life.
func (s *Scorer) EmotionalWeight(frag *Fragment, now time.Time) float64 {
	return s.halfLives.Decay(frag.EmotionalWeight, frag.DominantEmotion, now.Sub(frag.CreatedAt))
}

// Recency maps time since last access to (0,1]: 1 right now, 0.5 after an
// hour, asymptotically 0 as the fragment goes untouched.
func Recency(lastAccessedAt, now time.Time) float64 {
	hours := now.Sub(lastAccessedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return 1 / (1 + hours)
}

func frequencyBonus(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	bonus := float64(accessCount) / 100 * frequencyBonusCap
	if bonus > frequencyBonusCap {
		return frequencyBonusCap
	}
	return bonus
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
