package emotion

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Lexicon holds per-emotion trigger weights plus the modifier word sets.
type Lexicon struct {
	Triggers    map[string]map[string]float64
	Negations   map[string]bool
	Amplifiers  map[string]bool
	Diminishers map[string]bool
}

type lexiconFile struct {
	Emotions    map[string]map[string]float64 `yaml:"emotions"`
	Negations   []string                      `yaml:"negations"`
	Amplifiers  []string                      `yaml:"amplifiers"`
	Diminishers []string                      `yaml:"diminishers"`
}

// DefaultLexicon returns the built-in trigger tables. Weights grade trigger
// strength in [0,1]; a word may appear under more than one emotion.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		Triggers: map[string]map[string]float64{
			Joy: {
				"ecstatic": 1.0, "euphoric": 1.0, "overjoyed": 0.9, "blissful": 0.9,
				"thrilled": 0.9, "elated": 0.9, "delighted": 0.8, "wonderful": 0.8,
				"fantastic": 0.8, "amazing": 0.8, "excellent": 0.8, "awesome": 0.8,
				"brilliant": 0.8, "perfect": 0.8, "terrific": 0.8, "superb": 0.8,
				"marvelous": 0.9, "magnificent": 0.9, "happy": 0.8, "happiness": 0.8,
				"joy": 0.8, "joyful": 0.8, "adore": 0.8, "love": 0.7, "loved": 0.7,
				"cheerful": 0.7, "grateful": 0.7, "glad": 0.6, "pleased": 0.6,
				"enjoy": 0.6, "enjoyed": 0.6, "satisfied": 0.6, "proud": 0.6,
				"laugh": 0.6, "laughing": 0.6, "fun": 0.5, "funny": 0.5, "nice": 0.5,
				"good": 0.5, "great": 0.6, "cool": 0.5, "smile": 0.4,
			},
			Sadness: {
				"devastated": 1.0, "despair": 1.0, "heartbroken": 0.9, "grief": 0.9,
				"depressed": 0.9, "hopeless": 0.9, "miserable": 0.8, "sorrow": 0.8,
				"mourning": 0.8, "crying": 0.8, "depressing": 0.8, "sad": 0.7,
				"sadness": 0.7, "unhappy": 0.7, "disappointed": 0.7, "disappointing": 0.7,
				"lonely": 0.7, "gloomy": 0.7, "melancholy": 0.7, "tears": 0.7,
				"cried": 0.7, "loss": 0.7, "upset": 0.6, "regret": 0.6, "hurt": 0.6,
				"sorry": 0.5, "pity": 0.5, "unfortunate": 0.5, "miss": 0.5,
				"missing": 0.5, "lost": 0.5, "bad": 0.4,
			},
			Anger: {
				"furious": 1.0, "rage": 1.0, "enraged": 1.0, "livid": 1.0,
				"outraged": 0.9, "outrage": 0.9, "hate": 0.9, "hatred": 0.9,
				"infuriating": 0.9, "angry": 0.8, "anger": 0.8, "pissed": 0.8,
				"mad": 0.7, "hostile": 0.7, "aggressive": 0.7, "frustrated": 0.7,
				"frustrating": 0.7, "resent": 0.7, "resentment": 0.7,
				"unacceptable": 0.7, "annoyed": 0.6, "annoying": 0.6,
				"irritated": 0.6, "irritating": 0.6, "idiotic": 0.6, "dammit": 0.6,
				"disrespectful": 0.6, "damn": 0.5, "stupid": 0.5, "ridiculous": 0.5,
				"terrible": 0.5,
			},
			Fear: {
				"terror": 1.0, "terrified": 1.0, "panic": 1.0, "horrified": 0.9,
				"horror": 0.9, "nightmare": 0.9, "terrifying": 0.9, "dread": 0.8,
				"afraid": 0.8, "scared": 0.8, "fear": 0.8, "frightened": 0.8,
				"shock": 0.8, "fearful": 0.7, "alarmed": 0.7, "threatened": 0.7,
				"scary": 0.7, "anxious": 0.6, "anxiety": 0.6, "nervous": 0.6,
				"creepy": 0.6, "worried": 0.5, "worry": 0.5, "uneasy": 0.5,
				"insecure": 0.4, "uncertain": 0.4, "doubt": 0.3,
			},
			Surprise: {
				"astonished": 0.9, "astonishing": 0.9, "astounding": 0.9,
				"stunned": 0.9, "shocked": 0.9, "shocking": 0.9, "amazed": 0.8,
				"unbelievable": 0.8, "incredible": 0.8, "speechless": 0.8,
				"surprised": 0.7, "surprise": 0.7, "surprising": 0.7, "wow": 0.7,
				"whoa": 0.7, "startled": 0.7, "unexpected": 0.6, "suddenly": 0.6,
				"remarkable": 0.6, "sudden": 0.5, "strange": 0.5, "unusual": 0.5,
				"curious": 0.4, "interesting": 0.4,
			},
			Disgust: {
				"disgusting": 0.9, "disgust": 0.9, "revolting": 0.9, "repulsive": 0.9,
				"nauseating": 0.8, "sickening": 0.8, "vile": 0.8, "repugnant": 0.8,
				"gross": 0.7, "nasty": 0.7, "filthy": 0.7, "foul": 0.7,
				"horrible": 0.6, "awful": 0.6, "rotten": 0.6, "distasteful": 0.6,
				"offensive": 0.6, "yuck": 0.6, "eww": 0.6, "ugh": 0.5, "trash": 0.5,
				"garbage": 0.5,
			},
			Trust: {
				"trust": 0.8, "trustworthy": 0.8, "reliable": 0.8, "dependable": 0.8,
				"faithful": 0.8, "loyal": 0.8, "loyalty": 0.8, "faith": 0.7,
				"confident": 0.7, "confidence": 0.7, "believe": 0.7, "honest": 0.7,
				"honesty": 0.7, "sincere": 0.7, "credible": 0.6, "assured": 0.6,
				"secure": 0.6, "belief": 0.6, "depend": 0.5, "certain": 0.5,
				"safe": 0.5, "assure": 0.5, "sure": 0.4, "presume": 0.4,
				"suppose": 0.3, "probably": 0.3, "think": 0.3, "maybe": 0.3,
			},
			Anticipation: {
				"anticipation": 0.8, "eager": 0.8, "eagerly": 0.8, "excited": 0.8,
				"excitement": 0.8, "craving": 0.7, "longing": 0.7, "impatient": 0.7,
				"await": 0.6, "awaiting": 0.6, "want": 0.6, "wanting": 0.6,
				"desire": 0.6, "keen": 0.6, "expect": 0.5, "expecting": 0.5,
				"hope": 0.5, "hoping": 0.5, "hopefully": 0.5, "wish": 0.5,
				"ready": 0.5, "interested": 0.5, "planned": 0.4, "planning": 0.4,
				"upcoming": 0.4, "forward": 0.4, "interest": 0.4, "soon": 0.3,
				"plan": 0.3,
			},
		},
		Negations: wordSet(
			"no", "not", "never", "none", "nothing", "nobody", "neither", "nor",
			"cannot", "without",
			// Contraction stems left behind by the tokenizer ("don't" -> "don", "t").
			"don", "didn", "doesn", "isn", "aren", "wasn", "weren", "couldn",
			"shouldn", "wouldn", "ain",
		),
		Amplifiers: wordSet(
			"very", "extremely", "incredibly", "absolutely", "totally", "really",
			"utterly", "super", "truly", "deeply", "immensely", "profoundly",
		),
		Diminishers: wordSet(
			"slightly", "somewhat", "barely", "hardly", "mildly", "marginally",
			"faintly", "kinda", "sorta", "almost", "nearly", "practically",
		),
	}
}

// LoadLexicon merges a YAML override file into the defaults. File entries
// add new triggers or replace the weight of existing ones; modifier lists
// extend the built-in sets.
func LoadLexicon(path string) (*Lexicon, error) {
	lex := DefaultLexicon()
	if path == "" {
		return lex, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}

	var file lexiconFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}

	for name, triggers := range file.Emotions {
		table, ok := lex.Triggers[name]
		if !ok {
			return nil, fmt.Errorf("unknown emotion %q in lexicon %s", name, path)
		}
		for word, weight := range triggers {
			if weight < 0 || weight > 1 {
				return nil, fmt.Errorf("trigger %q weight %.2f out of range [0,1]", word, weight)
			}
			table[word] = weight
		}
	}
	for _, word := range file.Negations {
		lex.Negations[word] = true
	}
	for _, word := range file.Amplifiers {
		lex.Amplifiers[word] = true
	}
	for _, word := range file.Diminishers {
		lex.Diminishers[word] = true
	}

	return lex, nil
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
