package memory

import (
	"math"
	"testing"
	"time"

	"github.com/stellarlinkco/mnemo/internal/config"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	scorer, err := NewScorer(config.DefaultConfig())
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	return scorer
}

func assertScore(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("score = %.9f, want %.9f", got, want)
	}
}

func TestRecency(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	assertScore(t, Recency(now, now), 1)
	assertScore(t, Recency(now.Add(-time.Hour), now), 0.5)
	assertScore(t, Recency(now.Add(-3*time.Hour), now), 0.25)

	// A clock skew putting the access in the future reads as "just now".
	assertScore(t, Recency(now.Add(time.Hour), now), 1)
}

func TestNewWeightsValidation(t *testing.T) {
	base := config.DefaultConfig().Tiers

	if _, err := NewWeights(base); err != nil {
		t.Fatalf("default weights rejected: %v", err)
	}

	custom := base
	custom.RecencyWeight = 0.5
	custom.RelevanceWeight = 0.3
	custom.EmotionalWeight = 0.2
	if _, err := NewWeights(custom); err != nil {
		t.Fatalf("valid custom weights rejected: %v", err)
	}

	negative := base
	negative.RecencyWeight = -0.1
	negative.RelevanceWeight = 0.9
	negative.EmotionalWeight = 0.2
	if _, err := NewWeights(negative); err == nil {
		t.Fatal("expected error for negative weight")
	}

	short := base
	short.RecencyWeight = 0.4
	short.RelevanceWeight = 0.4
	short.EmotionalWeight = 0.1
	if _, err := NewWeights(short); err == nil {
		t.Fatal("expected error for weights summing to 0.9")
	}
}

func TestFrequencyBonus(t *testing.T) {
	assertScore(t, frequencyBonus(0), 0)
	assertScore(t, frequencyBonus(-5), 0)
	assertScore(t, frequencyBonus(50), 0.1)
	assertScore(t, frequencyBonus(100), 0.2)
	assertScore(t, frequencyBonus(1000), 0.2)
}

func TestScoreFreshNeutralFragment(t *testing.T) {
	scorer := newTestScorer(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	frag := &Fragment{
		RelevanceScore:  0.5,
		DominantEmotion: "neutral",
		CreatedAt:       now,
		LastAccessedAt:  now,
	}

	// 0.4*1 recency + 0.4*0.5 relevance + 0.2*0 emotional.
	assertScore(t, scorer.Score(frag, now), 0.6)
}

func TestScoreDecaysEmotionalTerm(t *testing.T) {
	scorer := newTestScorer(t)
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	frag := &Fragment{
		RelevanceScore:  0.5,
		EmotionalWeight: 0.9,
		DominantEmotion: "joy",
		CreatedAt:       created,
		LastAccessedAt:  created,
	}

	assertScore(t, scorer.Score(frag, created), 0.4+0.2+0.2*0.9)

	// One default half-life later the emotional term halves. The fragment
	// was touched just before scoring, so recency stays at 1.
	later := created.Add(48 * time.Hour)
	frag.LastAccessedAt = later
	assertScore(t, scorer.Score(frag, later), 0.4+0.2+0.2*0.45)

	// The stored weight itself never changes.
	if frag.EmotionalWeight != 0.9 {
		t.Fatalf("stored emotional weight mutated to %v", frag.EmotionalWeight)
	}
}

func TestScoreAccessCountLiftsScore(t *testing.T) {
	scorer := newTestScorer(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cold := &Fragment{RelevanceScore: 0.5, DominantEmotion: "neutral", CreatedAt: now, LastAccessedAt: now}
	hot := &Fragment{RelevanceScore: 0.5, DominantEmotion: "neutral", CreatedAt: now, LastAccessedAt: now, AccessCount: 100}

	diff := scorer.Score(hot, now) - scorer.Score(cold, now)
	assertScore(t, diff, 0.4*0.2)
}

func TestScoreStaysInUnitRange(t *testing.T) {
	scorer := newTestScorer(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	maxed := &Fragment{
		RelevanceScore:  1,
		EmotionalWeight: 1,
		DominantEmotion: "joy",
		AccessCount:     10000,
		CreatedAt:       now,
		LastAccessedAt:  now,
	}
	if got := scorer.Score(maxed, now); got > 1 {
		t.Fatalf("score above 1: %v", got)
	}

	stale := &Fragment{
		RelevanceScore:  0.001,
		DominantEmotion: "neutral",
		CreatedAt:       now.Add(-10000 * time.Hour),
		LastAccessedAt:  now.Add(-10000 * time.Hour),
	}
	if got := scorer.Score(stale, now); got < 0 {
		t.Fatalf("score below 0: %v", got)
	}
}
