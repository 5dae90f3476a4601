package emotion

import (
	"fmt"
	"math"
	"time"

	"github.com/stellarlinkco/mnemo/internal/config"
)

// HalfLives resolves the decay half-life per emotion. Weights decay lazily
// when read; no background pass ever rewrites a stored value.
type HalfLives struct {
	base       time.Duration
	perEmotion map[string]time.Duration
}

func NewHalfLives(cfg config.EmotionConfig) (HalfLives, error) {
	raw := cfg.HalfLife
	if raw == "" {
		raw = config.DefaultEmotionHalfLife
	}
	base, err := time.ParseDuration(raw)
	if err != nil {
		return HalfLives{}, fmt.Errorf("parse half-life %q: %w", raw, err)
	}
	if base <= 0 {
		return HalfLives{}, fmt.Errorf("half-life must be positive, got %s", base)
	}

	perEmotion := make(map[string]time.Duration, len(cfg.HalfLives))
	for name, value := range cfg.HalfLives {
		if !knownEmotion(name) {
			return HalfLives{}, fmt.Errorf("half-life for unknown emotion %q", name)
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return HalfLives{}, fmt.Errorf("parse half-life for %s: %w", name, err)
		}
		if d <= 0 {
			return HalfLives{}, fmt.Errorf("half-life for %s must be positive, got %s", name, d)
		}
		perEmotion[name] = d
	}

	return HalfLives{base: base, perEmotion: perEmotion}, nil
}

func (h HalfLives) For(emotion string) time.Duration {
	if d, ok := h.perEmotion[emotion]; ok {
		return d
	}
	return h.base
}

// Decay returns the weight after elapsed time: weight * 0.5^(elapsed/halfLife).
// Non-positive elapsed time returns the weight unchanged, so clock skew can
// never inflate a stored value.
func (h HalfLives) Decay(weight float64, emotion string, elapsed time.Duration) float64 {
	if elapsed <= 0 || weight <= 0 {
		return weight
	}
	halfLife := h.For(emotion)
	if halfLife <= 0 {
		return weight
	}
	return weight * math.Pow(0.5, elapsed.Seconds()/halfLife.Seconds())
}

// DecayVector applies per-emotion decay to a whole vector, returning a new
// map. The input is never mutated; stored states are immutable.
func (h HalfLives) DecayVector(vector map[string]float64, elapsed time.Duration) map[string]float64 {
	decayed := make(map[string]float64, len(vector))
	for name, weight := range vector {
		decayed[name] = h.Decay(weight, name, elapsed)
	}
	return decayed
}

// DecayState returns a copy of st with the vector and confidence decayed by
// the time between st.ComputedAt and now.
func (h HalfLives) DecayState(st *State, now time.Time) *State {
	if st == nil {
		return nil
	}
	elapsed := now.Sub(st.ComputedAt)

	decayed := *st
	decayed.Vector = h.DecayVector(st.Vector, elapsed)
	decayed.Confidence = h.Decay(st.Confidence, st.Dominant, elapsed)
	decayed.Intensity = intensityLevel(decayed.Confidence)
	return &decayed
}

func knownEmotion(name string) bool {
	for _, e := range Emotions {
		if e == name {
			return true
		}
	}
	return false
}
