package emotion

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/stellarlinkco/mnemo/internal/config"
)

const (
	modifierWindow = 3
	negationWindow = 4

	amplifierFactor  = 1.5
	diminisherFactor = 0.5

	// Negation weakens positive emotions and sharpens negative ones rather
	// than flipping cleanly; "not happy" reads closer to flat than to sad.
	negatedPositiveFactor = 0.3
	negatedNegativeFactor = 1.5

	contextSameFactor     = 1.2
	contextOpposingFactor = 0.8

	arousalBonus    = 0.3
	complexityBonus = 0.1
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// Analyzer scores text against the trigger lexicons. It is stateless after
// construction and safe for concurrent use.
type Analyzer struct {
	lexicon    *Lexicon
	threshold  float64
	multiplier float64
}

func NewAnalyzer(cfg config.EmotionConfig) (*Analyzer, error) {
	lexicon, err := LoadLexicon(cfg.LexiconPath)
	if err != nil {
		return nil, fmt.Errorf("load lexicon: %w", err)
	}

	threshold := cfg.DetectionThreshold
	if threshold <= 0 {
		threshold = config.DefaultDetectionThreshold
	}
	multiplier := cfg.WeightMultiplier
	if multiplier <= 0 {
		multiplier = config.DefaultWeightMultiplier
	}

	return &Analyzer{lexicon: lexicon, threshold: threshold, multiplier: multiplier}, nil
}

// Analyze scores a single text. Empty or whitespace-only text yields nil:
// no emotion was observed, which is different from observing a zero vector.
func (a *Analyzer) Analyze(text string) *State {
	return a.AnalyzeWithContext(text, "")
}

// AnalyzeWithContext additionally weighs the surrounding conversation:
// a context window sharing the dominant emotion raises confidence, an
// opposing one dampens it.
func (a *Analyzer) AnalyzeWithContext(text, context string) *State {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	scores := a.baseScores(tokens)
	a.applyModifiers(tokens, scores)
	a.applyNegations(tokens, scores)
	for _, name := range Emotions {
		scores[name] = clamp01(scores[name])
	}

	dominant, confidence := a.dominant(scores)
	if context != "" && dominant != Neutral {
		if ctx := a.AnalyzeWithContext(context, ""); ctx != nil {
			confidence = clamp01(confidence * contextFactor(dominant, ctx.Dominant))
		}
	}

	return &State{
		Vector:     scores,
		Dominant:   dominant,
		Confidence: confidence,
		Intensity:  intensityLevel(confidence),
		Valence:    valence(scores),
		Arousal:    arousal(scores),
		Complexity: a.complexity(scores),
		ComputedAt: time.Now().UTC(),
	}
}

// FragmentWeight folds an analysis into the scalar weight a memory fragment
// carries into tier scoring.
func (a *Analyzer) FragmentWeight(st *State) float64 {
	if st == nil {
		return 0
	}
	weight := (st.Confidence + st.Arousal*arousalBonus + float64(st.Complexity)*complexityBonus) * a.multiplier
	return clamp01(weight)
}

func tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// baseScores sums matched trigger weights per emotion, normalized by the
// total token count so long texts do not dominate short ones.
func (a *Analyzer) baseScores(tokens []string) map[string]float64 {
	scores := make(map[string]float64, len(Emotions))
	total := float64(len(tokens))

	for _, name := range Emotions {
		sum := 0.0
		for _, tok := range tokens {
			if w, ok := a.lexicon.Triggers[name][tok]; ok {
				sum += w
			}
		}
		scores[name] = sum / total
	}
	return scores
}

func (a *Analyzer) applyModifiers(tokens []string, scores map[string]float64) {
	total := float64(len(tokens))

	for i, tok := range tokens {
		var factor float64
		switch {
		case a.lexicon.Amplifiers[tok]:
			factor = amplifierFactor
		case a.lexicon.Diminishers[tok]:
			factor = diminisherFactor
		default:
			continue
		}

		for j := i + 1; j <= i+modifierWindow && j < len(tokens); j++ {
			for _, name := range Emotions {
				if w, ok := a.lexicon.Triggers[name][tokens[j]]; ok {
					scores[name] += w / total * (factor - 1)
					break
				}
			}
		}
	}
}

func (a *Analyzer) applyNegations(tokens []string, scores map[string]float64) {
	for i, tok := range tokens {
		if !a.lexicon.Negations[tok] {
			continue
		}

		for j := i + 1; j <= i+negationWindow && j < len(tokens); j++ {
			for _, name := range Emotions {
				if _, ok := a.lexicon.Triggers[name][tokens[j]]; !ok {
					continue
				}
				switch {
				case positiveEmotions[name]:
					scores[name] *= negatedPositiveFactor
				case negativeEmotions[name]:
					scores[name] *= negatedNegativeFactor
				}
			}
		}
	}
}

// dominant picks the strongest emotion, falling back to neutral below the
// detection threshold. Ties resolve to the earlier entry in Emotions.
func (a *Analyzer) dominant(scores map[string]float64) (string, float64) {
	best, bestScore := Neutral, 0.0
	for _, name := range Emotions {
		if scores[name] > bestScore {
			best, bestScore = name, scores[name]
		}
	}
	if bestScore < a.threshold {
		return Neutral, 0
	}
	return best, bestScore
}

func (a *Analyzer) complexity(scores map[string]float64) int {
	count := 0
	for _, name := range Emotions {
		if scores[name] >= a.threshold {
			count++
		}
	}
	return count
}

func valence(scores map[string]float64) float64 {
	var positive, negative float64
	for name, score := range scores {
		switch {
		case positiveEmotions[name]:
			positive += score
		case negativeEmotions[name]:
			negative += score
		}
	}
	if positive+negative == 0 {
		return 0
	}
	return (positive - negative) / (positive + negative)
}

func arousal(scores map[string]float64) float64 {
	var high, low float64
	for name, score := range scores {
		switch {
		case highArousalEmotions[name]:
			high += score
		case lowArousalEmotions[name]:
			low += score
		}
	}
	if high+low == 0 {
		return 0.5
	}
	return high / (high + low)
}

func intensityLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return IntensityVeryHigh
	case confidence >= 0.6:
		return IntensityHigh
	case confidence >= 0.4:
		return IntensityMedium
	case confidence >= 0.2:
		return IntensityLow
	default:
		return IntensityVeryLow
	}
}

func contextFactor(dominant, contextDominant string) float64 {
	switch {
	case dominant == contextDominant:
		return contextSameFactor
	case oppositeEmotions(dominant, contextDominant):
		return contextOpposingFactor
	default:
		return 1.0
	}
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
