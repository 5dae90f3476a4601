package emotion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stellarlinkco/mnemo/internal/config"
)

func writeLexiconFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write lexicon: %v", err)
	}
	return path
}

func TestDefaultLexiconCoversAllEmotions(t *testing.T) {
	lex := DefaultLexicon()

	for _, name := range Emotions {
		if len(lex.Triggers[name]) == 0 {
			t.Errorf("no triggers for %s", name)
		}
	}
	for name, triggers := range lex.Triggers {
		for word, weight := range triggers {
			if weight < 0 || weight > 1 {
				t.Errorf("%s trigger %q weight %v out of range", name, word, weight)
			}
		}
	}
}

func TestLoadLexiconMergesOverrides(t *testing.T) {
	path := writeLexiconFile(t, `
emotions:
  joy:
    stoked: 0.9
    good: 0.9
amplifiers:
  - mega
negations:
  - nope
`)

	lex, err := LoadLexicon(path)
	if err != nil {
		t.Fatalf("LoadLexicon error: %v", err)
	}
	if lex.Triggers[Joy]["stoked"] != 0.9 {
		t.Fatalf("stoked weight = %v", lex.Triggers[Joy]["stoked"])
	}
	if lex.Triggers[Joy]["good"] != 0.9 {
		t.Fatalf("good weight not overridden: %v", lex.Triggers[Joy]["good"])
	}
	if !lex.Amplifiers["mega"] {
		t.Fatal("mega not added to amplifiers")
	}
	if !lex.Negations["nope"] {
		t.Fatal("nope not added to negations")
	}
	// Built-ins survive the merge.
	if !lex.Amplifiers["very"] {
		t.Fatal("built-in amplifier lost")
	}
}

func TestLoadLexiconEmptyPathUsesDefaults(t *testing.T) {
	lex, err := LoadLexicon("")
	if err != nil {
		t.Fatalf("LoadLexicon error: %v", err)
	}
	if lex.Triggers[Joy]["happy"] != 0.8 {
		t.Fatalf("default happy weight = %v", lex.Triggers[Joy]["happy"])
	}
}

func TestLoadLexiconRejectsUnknownEmotion(t *testing.T) {
	path := writeLexiconFile(t, `
emotions:
  bliss:
    serene: 0.5
`)

	if _, err := LoadLexicon(path); err == nil {
		t.Fatal("expected error for unknown emotion")
	}
}

func TestLoadLexiconRejectsOutOfRangeWeight(t *testing.T) {
	path := writeLexiconFile(t, `
emotions:
  joy:
    hyped: 1.5
`)

	if _, err := LoadLexicon(path); err == nil {
		t.Fatal("expected error for out-of-range weight")
	}
}

func TestLoadLexiconMissingFile(t *testing.T) {
	if _, err := LoadLexicon(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAnalyzerUsesLexiconOverride(t *testing.T) {
	path := writeLexiconFile(t, `
emotions:
  joy:
    stoked: 0.9
amplifiers:
  - mega
`)

	analyzer, err := NewAnalyzer(config.EmotionConfig{LexiconPath: path})
	if err != nil {
		t.Fatalf("NewAnalyzer error: %v", err)
	}

	st := analyzer.Analyze("mega stoked")
	if st.Dominant != Joy {
		t.Fatalf("dominant = %s", st.Dominant)
	}
	// 0.9/2 base plus the amplifier boost of 0.9/2*0.5.
	assertClose(t, "confidence", st.Confidence, 0.675)
}
