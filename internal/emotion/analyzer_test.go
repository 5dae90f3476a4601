package emotion

import (
	"math"
	"testing"

	"github.com/stellarlinkco/mnemo/internal/config"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()

	analyzer, err := NewAnalyzer(config.EmotionConfig{})
	if err != nil {
		t.Fatalf("NewAnalyzer error: %v", err)
	}
	return analyzer
}

func assertClose(t *testing.T, name string, got, want float64) {
	t.Helper()

	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
}

func TestAnalyzeEmptyTextYieldsNil(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	if st := analyzer.Analyze(""); st != nil {
		t.Fatalf("expected nil state for empty text, got %+v", st)
	}
	if st := analyzer.Analyze("  \n\t  "); st != nil {
		t.Fatalf("expected nil state for whitespace text, got %+v", st)
	}
}

func TestAnalyzeAmplifiedJoy(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	st := analyzer.Analyze("this is absolutely wonderful and amazing")
	if st == nil {
		t.Fatal("expected a state")
	}
	if st.Dominant != Joy {
		t.Fatalf("dominant = %s", st.Dominant)
	}
	// Base: (0.8+0.8)/6. The amplifier boosts both following triggers by
	// half their normalized weight, landing at 0.4.
	assertClose(t, "confidence", st.Confidence, 0.4)
	if st.Intensity != IntensityMedium {
		t.Fatalf("intensity = %s", st.Intensity)
	}
	assertClose(t, "valence", st.Valence, 1.0)
	assertClose(t, "arousal", st.Arousal, 1.0)
	if st.Complexity != 1 {
		t.Fatalf("complexity = %d", st.Complexity)
	}
}

func TestAnalyzeNegationDampensPositive(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	st := analyzer.Analyze("not happy at all")
	if st == nil {
		t.Fatal("expected a state")
	}
	if st.Dominant != Neutral {
		t.Fatalf("dominant = %s, want neutral after negated joy", st.Dominant)
	}
	assertClose(t, "confidence", st.Confidence, 0)
	if st.Intensity != IntensityVeryLow {
		t.Fatalf("intensity = %s", st.Intensity)
	}
}

func TestAnalyzeNegationSharpensNegative(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	plain := analyzer.Analyze("it is so awful")
	negated := analyzer.Analyze("this is not awful")

	if plain.Dominant != Disgust || negated.Dominant != Disgust {
		t.Fatalf("dominants = %s / %s", plain.Dominant, negated.Dominant)
	}
	assertClose(t, "plain confidence", plain.Confidence, 0.15)
	assertClose(t, "negated confidence", negated.Confidence, 0.225)
}

func TestAnalyzeDiminisher(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	st := analyzer.Analyze("slightly annoyed")
	if st.Dominant != Anger {
		t.Fatalf("dominant = %s", st.Dominant)
	}
	assertClose(t, "confidence", st.Confidence, 0.15)
}

func TestAnalyzeUnknownTokensIgnored(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	st := analyzer.Analyze("the quarterly report compiles cleanly")
	if st == nil {
		t.Fatal("expected a state for non-empty text")
	}
	if st.Dominant != Neutral {
		t.Fatalf("dominant = %s", st.Dominant)
	}
	assertClose(t, "valence", st.Valence, 0)
	assertClose(t, "arousal", st.Arousal, 0.5)
	if st.Complexity != 0 {
		t.Fatalf("complexity = %d", st.Complexity)
	}
}

func TestAnalyzeMixedValence(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	st := analyzer.Analyze("happy but scared")
	// Joy and fear tie; the canonical order breaks the tie.
	if st.Dominant != Joy {
		t.Fatalf("dominant = %s", st.Dominant)
	}
	assertClose(t, "valence", st.Valence, 0)
	assertClose(t, "arousal", st.Arousal, 1.0)
	if st.Complexity != 2 {
		t.Fatalf("complexity = %d", st.Complexity)
	}
}

func TestAnalyzeLowArousal(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	st := analyzer.Analyze("calm trust after sadness")
	if st.Dominant != Trust {
		t.Fatalf("dominant = %s", st.Dominant)
	}
	assertClose(t, "arousal", st.Arousal, 0)
}

func TestAnalyzeWithContext(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	base := analyzer.Analyze("wonderful news")
	assertClose(t, "base confidence", base.Confidence, 0.4)

	same := analyzer.AnalyzeWithContext("wonderful news", "so happy and glad")
	assertClose(t, "same-emotion context", same.Confidence, 0.48)

	opposing := analyzer.AnalyzeWithContext("wonderful news", "terrible grief and loss")
	assertClose(t, "opposing context", opposing.Confidence, 0.32)

	unrelated := analyzer.AnalyzeWithContext("wonderful news", "strange and unexpected")
	assertClose(t, "unrelated context", unrelated.Confidence, 0.4)
}

func TestIntensityLevels(t *testing.T) {
	cases := []struct {
		confidence float64
		want       string
	}{
		{0.85, IntensityVeryHigh},
		{0.8, IntensityVeryHigh},
		{0.7, IntensityHigh},
		{0.45, IntensityMedium},
		{0.25, IntensityLow},
		{0.1, IntensityVeryLow},
		{0, IntensityVeryLow},
	}

	for _, tc := range cases {
		if got := intensityLevel(tc.confidence); got != tc.want {
			t.Errorf("intensityLevel(%v) = %s, want %s", tc.confidence, got, tc.want)
		}
	}
}

func TestFragmentWeight(t *testing.T) {
	analyzer := newTestAnalyzer(t)

	if got := analyzer.FragmentWeight(nil); got != 0 {
		t.Fatalf("nil state weight = %v", got)
	}

	// (0.4 + 1.0*0.3 + 1*0.1) * 1.5 clamps at 1.
	high := &State{Confidence: 0.4, Arousal: 1.0, Complexity: 1}
	assertClose(t, "clamped weight", analyzer.FragmentWeight(high), 1.0)

	low := &State{Confidence: 0.1, Arousal: 0.5, Complexity: 1}
	assertClose(t, "low weight", analyzer.FragmentWeight(low), 0.525)
}
