package memory

import (
	"fmt"
	"time"
)

// Tier orders the storage tiers from hottest to coldest. Promotion moves a
// fragment one step toward TierHot, demotion one step toward TierCold.
type Tier int

const (
	TierHot Tier = iota + 1
	TierWarm
	TierSemantic
	TierCold
)

// Tiers lists every tier warmest first; passes scan in this order.
var Tiers = []Tier{TierHot, TierWarm, TierSemantic, TierCold}

var tierNames = map[Tier]string{
	TierHot:      "L1_hot",
	TierWarm:     "L2_warm",
	TierSemantic: "L3_semantic",
	TierCold:     "L4_cold",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("L%d_unknown", int(t))
}

func (t Tier) Valid() bool {
	return t >= TierHot && t <= TierCold
}

// Warmer returns the next tier toward TierHot; TierHot returns itself.
func (t Tier) Warmer() Tier {
	if t <= TierHot {
		return TierHot
	}
	return t - 1
}

// Colder returns the next tier toward TierCold; TierCold returns itself.
func (t Tier) Colder() Tier {
	if t >= TierCold {
		return TierCold
	}
	return t + 1
}

func ParseTier(s string) (Tier, error) {
	for tier, name := range tierNames {
		if name == s {
			return tier, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// Fragment is one stored memory record. The store owns it exclusively:
// tier moves come from the optimizer, access fields from Touch, and deletion
// only ever happens as eviction from the coldest tier.
type Fragment struct {
	ID              string    `json:"id"`
	AgentName       string    `json:"agentName"`
	Content         string    `json:"content"`
	Tier            Tier      `json:"tier"`
	RelevanceScore  float64   `json:"relevanceScore"`
	EmotionalWeight float64   `json:"emotionalWeight"`
	DominantEmotion string    `json:"dominantEmotion"`
	AccessCount     int       `json:"accessCount"`
	CreatedAt       time.Time `json:"createdAt"`
	LastAccessedAt  time.Time `json:"lastAccessedAt"`
}

// IngestInput is the payload for Store.Ingest. Zero RelevanceScore falls
// back to 0.5 and an empty DominantEmotion to neutral.
type IngestInput struct {
	AgentName       string
	Content         string
	RelevanceScore  float64
	EmotionalWeight float64
	DominantEmotion string
}

type TransitionKind string

const (
	TransitionPromote TransitionKind = "promote"
	TransitionDemote  TransitionKind = "demote"
	TransitionEvict   TransitionKind = "evict"
)

// Transition is one planned tier move for a fragment. To is zero for
// evictions.
type Transition struct {
	FragmentID string         `json:"fragmentId"`
	Kind       TransitionKind `json:"kind"`
	From       Tier           `json:"from"`
	To         Tier           `json:"to,omitempty"`
	Score      float64        `json:"score"`
	Reason     string         `json:"reason,omitempty"`
}

// PassReport summarizes one optimizer pass.
type PassReport struct {
	Trigger     string        `json:"trigger"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Scanned     int           `json:"scanned"`
	Promoted    int           `json:"promoted"`
	Demoted     int           `json:"demoted"`
	Evicted     int           `json:"evicted"`
	Transitions []Transition  `json:"transitions,omitempty"`
}

func (r *PassReport) Changed() int {
	return r.Promoted + r.Demoted + r.Evicted
}
