package feedback

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/stellarlinkco/mnemo/internal/config"
	"github.com/stellarlinkco/mnemo/internal/emotion"
	"github.com/stellarlinkco/mnemo/internal/profile"
)

// Outcome records how a piece of feedback was resolved.
type Outcome string

const (
	OutcomeAutoApplied    Outcome = "auto_applied"
	OutcomeProposed       Outcome = "proposed"
	OutcomeDailyLimit     Outcome = "daily_limit"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeUnclassified   Outcome = "unclassified"
	OutcomeRedundant      Outcome = "redundant"
)

// Confidence boosts. Strongly negative feedback and agitated feedback both
// signal urgency, so they push a match toward the auto-apply gate.
const (
	negativeValenceCutoff = -0.3
	negativeValenceBoost  = 1.5
	highArousalCutoff     = 0.7
	highArousalBoost      = 1.3
)

// Correction step sizes for the numeric fields, and the values assumed for
// profiles that predate a field.
const (
	temperatureStep     = 0.1
	fallbackTemperature = 0.7
	maxTokensStep       = 200
	fallbackMaxTokens   = 2048
)

// Result is what one feedback invocation produced. Change is nil unless a
// profile change was proposed or applied.
type Result struct {
	Analysis *Analysis       `json:"analysis"`
	Change   *profile.Change `json:"change,omitempty"`
	Outcome  Outcome         `json:"outcome"`
}

// Processor classifies feedback and drives changes through the profile
// store. Confidence must clear the adjustment threshold and the agent must
// be under its daily quota for a change to apply without review.
type Processor struct {
	analyzer *emotion.Analyzer
	profiles *profile.Store
	store    *Store
	rules    []rule

	threshold  float64
	dailyLimit int
	minLength  int

	now func() time.Time
}

func NewProcessor(analyzer *emotion.Analyzer, profiles *profile.Store, store *Store, cfg *config.Config) *Processor {
	return &Processor{
		analyzer:   analyzer,
		profiles:   profiles,
		store:      store,
		rules:      defaultRules(),
		threshold:  cfg.Feedback.AdjustmentThreshold,
		dailyLimit: cfg.Feedback.MaxAdjustmentsPerDay,
		minLength:  cfg.Feedback.MinFeedbackLength,
		now:        time.Now,
	}
}

// Process runs one piece of feedback end to end: analyze, classify, score,
// then apply or propose. The analysis row is persisted on every path that
// reaches a classification, including the dead ends.
func (p *Processor) Process(ctx context.Context, agentName, text string) (*Result, error) {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return nil, fmt.Errorf("process feedback: empty agent name")
	}
	text = strings.TrimSpace(text)

	analysis := &Analysis{
		ID:              uuid.NewString(),
		AgentName:       agentName,
		FeedbackText:    text,
		DominantEmotion: emotion.Neutral,
		Intensity:       emotion.IntensityVeryLow,
		CreatedAt:       p.now().UTC(),
	}

	if utf8.RuneCountInString(text) < p.minLength {
		analysis.Outcome = OutcomeBelowThreshold
		return p.finish(ctx, analysis, nil)
	}

	valence, arousal := 0.0, 0.5
	if st := p.analyzer.Analyze(text); st != nil {
		analysis.DominantEmotion = st.Dominant
		analysis.Intensity = st.Intensity
		analysis.Sentiment = st.Valence
		valence, arousal = st.Valence, st.Arousal
	}

	m, ok := bestMatch(p.rules, text)
	if !ok {
		analysis.Outcome = OutcomeUnclassified
		return p.finish(ctx, analysis, nil)
	}
	analysis.Intent = m.intent
	analysis.Field = m.field

	confidence := m.strength
	if valence < negativeValenceCutoff {
		confidence *= negativeValenceBoost
	}
	if arousal > highArousalCutoff {
		confidence *= highArousalBoost
	}
	if confidence > 1 {
		confidence = 1
	}
	analysis.Confidence = confidence

	prof, err := p.profiles.GetCurrent(ctx, agentName)
	if err != nil {
		return nil, err
	}

	fromValue, toValue, err := resolveAction(prof, m)
	if err != nil {
		return nil, err
	}
	if toValue == fromValue {
		analysis.Outcome = OutcomeRedundant
		return p.finish(ctx, analysis, nil)
	}

	proposed, err := p.profiles.Propose(ctx, profile.Change{
		AgentName:            agentName,
		Field:                m.field,
		FromValue:            fromValue,
		ToValue:              toValue,
		Confidence:           confidence,
		TriggeringFeedbackID: analysis.ID,
	})
	if err != nil {
		return nil, err
	}
	analysis.ChangeID = proposed.ID

	if confidence < p.threshold {
		analysis.Outcome = OutcomeProposed
		return p.finish(ctx, analysis, proposed)
	}

	applied, err := p.appliedToday(ctx, agentName)
	if err != nil {
		return nil, err
	}
	if applied >= p.dailyLimit {
		analysis.Outcome = OutcomeDailyLimit
		log.Printf("[feedback] %s hit the daily adjustment quota (%d), queued %s for review",
			agentName, p.dailyLimit, proposed.ID)
		return p.finish(ctx, analysis, proposed)
	}

	if _, err := p.profiles.Apply(ctx, proposed.ID); err != nil {
		// The proposal survives for manual review.
		analysis.Outcome = OutcomeProposed
		if _, saveErr := p.finish(ctx, analysis, proposed); saveErr != nil {
			log.Printf("[feedback] save analysis %s: %v", analysis.ID, saveErr)
		}
		return nil, fmt.Errorf("auto-apply change %s: %w", proposed.ID, err)
	}

	analysis.Outcome = OutcomeAutoApplied
	appliedChange, err := p.profiles.Change(ctx, proposed.ID)
	if err != nil {
		return nil, err
	}
	log.Printf("[feedback] auto-applied %s.%s %q -> %q (confidence %.2f, trigger %q)",
		agentName, m.field, fromValue, toValue, confidence, m.phrase)
	return p.finish(ctx, analysis, appliedChange)
}

func (p *Processor) finish(ctx context.Context, analysis *Analysis, change *profile.Change) (*Result, error) {
	if err := p.store.Save(ctx, analysis); err != nil {
		return nil, err
	}
	return &Result{Analysis: analysis, Change: change, Outcome: analysis.Outcome}, nil
}

// appliedToday counts adjustments since UTC midnight.
func (p *Processor) appliedToday(ctx context.Context, agentName string) (int, error) {
	now := p.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return p.profiles.AppliedCountSince(ctx, agentName, midnight)
}

// resolveAction computes the concrete from/to values for a match against
// the agent's current profile.
func resolveAction(prof *profile.Profile, m match) (fromValue, toValue string, err error) {
	fromValue = prof.Fields[m.field]

	switch m.action {
	case actionSet:
		toValue = m.value

	case actionIncrease, actionDecrease:
		direction := 1.0
		if m.action == actionDecrease {
			direction = -1
		}
		switch m.field {
		case "temperature":
			current := fallbackTemperature
			if fromValue != "" {
				if current, err = strconv.ParseFloat(fromValue, 64); err != nil {
					return "", "", fmt.Errorf("profile temperature %q: %w", fromValue, err)
				}
			}
			next := current + direction*temperatureStep
			if next < profile.MinTemperature {
				next = profile.MinTemperature
			}
			if next > profile.MaxTemperature {
				next = profile.MaxTemperature
			}
			toValue = strconv.FormatFloat(next, 'f', 1, 64)
		case "max_tokens":
			current := fallbackMaxTokens
			if fromValue != "" {
				if current, err = strconv.Atoi(fromValue); err != nil {
					return "", "", fmt.Errorf("profile max_tokens %q: %w", fromValue, err)
				}
			}
			next := current + int(direction)*maxTokensStep
			if next < profile.MinMaxTokens {
				next = profile.MinMaxTokens
			}
			if next > profile.MaxMaxTokens {
				next = profile.MaxMaxTokens
			}
			toValue = strconv.Itoa(next)
		default:
			return "", "", fmt.Errorf("no %s rule for field %q", m.action, m.field)
		}

	case actionAdd:
		toValue = addTrait(fromValue, m.value)

	case actionRemove:
		toValue = removeTrait(fromValue, m.value)

	default:
		return "", "", fmt.Errorf("unknown action %q", m.action)
	}
	return fromValue, toValue, nil
}

func splitTraits(raw string) []string {
	parts := strings.Split(raw, ",")
	traits := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			traits = append(traits, trimmed)
		}
	}
	return traits
}

// addTrait appends a trait to the comma-separated list, leaving the value
// untouched when the trait is already present.
func addTrait(raw, trait string) string {
	for _, existing := range splitTraits(raw) {
		if strings.EqualFold(existing, trait) {
			return raw
		}
	}
	if strings.TrimSpace(raw) == "" {
		return trait
	}
	return strings.Join(append(splitTraits(raw), trait), ", ")
}

// removeTrait drops a trait from the list, leaving the value untouched
// when the trait is absent.
func removeTrait(raw, trait string) string {
	traits := splitTraits(raw)
	kept := make([]string, 0, len(traits))
	removed := false
	for _, existing := range traits {
		if strings.EqualFold(existing, trait) {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return raw
	}
	return strings.Join(kept, ", ")
}
