// Package feedback turns free-form user feedback into profile changes.
// Text is matched against weighted trigger phrases, scored together with
// its emotion analysis, and either auto-applied, queued for review or
// logged and dropped. Every invocation leaves an analysis row behind.
package feedback

import "strings"

// Intents classify what the user is asking for.
const (
	IntentTone      = "tone_adjustment"
	IntentStyle     = "style_preference"
	IntentFactual   = "factual_correction"
	IntentVerbosity = "verbosity"
	IntentTrait     = "trait_adjustment"
)

const (
	actionSet      = "set"
	actionIncrease = "increase"
	actionDecrease = "decrease"
	actionAdd      = "add"
	actionRemove   = "remove"
)

// trigger is one phrase and the base confidence a match carries. Longer,
// more specific phrases carry more weight than their bare substrings, so
// "less formal" outranks the "formal" it contains.
type trigger struct {
	phrase   string
	strength float64
}

type rule struct {
	intent   string
	field    string
	action   string
	value    string
	triggers []trigger
}

// defaultRules is the built-in phrase table. Declaration order is the
// tie-break when two matches carry equal strength.
func defaultRules() []rule {
	return []rule{
		{
			intent: IntentTone, field: "tone", action: actionSet, value: "formal",
			triggers: []trigger{
				{"more formal", 0.85},
				{"too casual", 0.8},
				{"less casual", 0.8},
				{"businesslike", 0.7},
				{"more serious", 0.7},
				{"formal", 0.6},
			},
		},
		{
			intent: IntentTone, field: "tone", action: actionSet, value: "friendly",
			triggers: []trigger{
				{"less formal", 0.85},
				{"friendlier", 0.75},
				{"lighten up", 0.75},
				{"more relaxed", 0.7},
				{"friendly", 0.7},
				{"informal", 0.65},
				{"casual", 0.5},
			},
		},
		{
			intent: IntentTone, field: "tone", action: actionSet, value: "professional",
			triggers: []trigger{
				{"more professional", 0.85},
				{"unprofessional", 0.8},
				{"professional", 0.6},
			},
		},
		{
			intent: IntentTone, field: "tone", action: actionSet, value: "creative",
			triggers: []trigger{
				{"more playful", 0.75},
				{"too stiff", 0.7},
				{"playful", 0.6},
			},
		},
		{
			intent: IntentStyle, field: "temperature", action: actionIncrease,
			triggers: []trigger{
				{"surprise me", 0.8},
				{"more creative", 0.75},
				{"boring", 0.75},
				{"predictable", 0.7},
				{"bland", 0.7},
				{"repetitive", 0.7},
				{"more variety", 0.7},
				{"generic", 0.65},
			},
		},
		{
			intent: IntentStyle, field: "temperature", action: actionDecrease,
			triggers: []trigger{
				{"too random", 0.8},
				{"incoherent", 0.8},
				{"makes no sense", 0.8},
				{"chaotic", 0.75},
				{"stay focused", 0.75},
				{"off topic", 0.7},
				{"more consistent", 0.7},
			},
		},
		{
			intent: IntentFactual, field: "temperature", action: actionDecrease,
			triggers: []trigger{
				{"factually wrong", 0.9},
				{"you made that up", 0.85},
				{"check your facts", 0.85},
				{"that's wrong", 0.8},
				{"incorrect", 0.7},
				{"not true", 0.7},
			},
		},
		{
			intent: IntentVerbosity, field: "max_tokens", action: actionIncrease,
			triggers: []trigger{
				{"too short", 0.8},
				{"more detail", 0.8},
				{"too brief", 0.75},
				{"elaborate", 0.7},
				{"expand on", 0.7},
			},
		},
		{
			intent: IntentVerbosity, field: "max_tokens", action: actionDecrease,
			triggers: []trigger{
				{"wall of text", 0.85},
				{"get to the point", 0.85},
				{"too long", 0.8},
				{"too verbose", 0.8},
				{"more concise", 0.8},
				{"rambling", 0.75},
				{"shorter", 0.7},
			},
		},
		{
			intent: IntentTrait, field: "traits", action: actionAdd, value: "humor",
			triggers: []trigger{
				{"more jokes", 0.8},
				{"be funnier", 0.8},
				{"more humor", 0.8},
				{"funnier", 0.75},
			},
		},
		{
			intent: IntentTrait, field: "traits", action: actionRemove, value: "humor",
			triggers: []trigger{
				{"stop joking", 0.85},
				{"less jokes", 0.8},
				{"fewer jokes", 0.8},
				{"too silly", 0.75},
				{"be serious", 0.7},
			},
		},
		{
			intent: IntentTrait, field: "traits", action: actionAdd, value: "empathy",
			triggers: []trigger{
				{"be more empathetic", 0.85},
				{"more empathy", 0.8},
				{"more understanding", 0.7},
			},
		},
		{
			intent: IntentTrait, field: "traits", action: actionAdd, value: "confidence",
			triggers: []trigger{
				{"stop hedging", 0.8},
				{"more confident", 0.8},
				{"too hesitant", 0.75},
			},
		},
	}
}

// match is the strongest trigger hit for a piece of feedback.
type match struct {
	intent   string
	field    string
	action   string
	value    string
	phrase   string
	strength float64
}

// bestMatch scans the text against every rule and returns the strongest
// hit. Matching is plain substring containment on the lowercased text;
// containment overlaps between phrases are resolved by strength, then by
// rule declaration order.
func bestMatch(rules []rule, text string) (match, bool) {
	lowered := strings.ToLower(text)

	var best match
	found := false
	for _, r := range rules {
		for _, tr := range r.triggers {
			if !strings.Contains(lowered, tr.phrase) {
				continue
			}
			if found && tr.strength <= best.strength {
				continue
			}
			best = match{
				intent:   r.intent,
				field:    r.field,
				action:   r.action,
				value:    r.value,
				phrase:   tr.phrase,
				strength: tr.strength,
			}
			found = true
		}
	}
	return best, found
}
