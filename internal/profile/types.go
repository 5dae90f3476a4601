// Package profile holds the agent persona state: the live profile, its
// change log, point-in-time snapshots and rollback. The profile is the one
// mutable entity in the system; every mutation runs through the store here
// and is serialized per agent.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation reports a malformed field or value in a proposed
	// change. Raised before any snapshot is taken.
	ErrValidation = errors.New("invalid profile change")

	// ErrRollbackTargetNotFound reports that no snapshot exists at or
	// before the requested rollback time. The profile stays untouched.
	ErrRollbackTargetNotFound = errors.New("no snapshot at or before rollback target")
)

// Profile is an agent's persona configuration. Version counts applied
// changes: it moves by exactly one per apply and never moves on proposed or
// rejected changes.
type Profile struct {
	AgentName string            `json:"agentName"`
	Fields    map[string]string `json:"fields"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy; callers get their own field map.
func (p *Profile) Clone() *Profile {
	copied := *p
	copied.Fields = make(map[string]string, len(p.Fields))
	for k, v := range p.Fields {
		copied.Fields[k] = v
	}
	return &copied
}

type ChangeStatus string

const (
	StatusProposed   ChangeStatus = "proposed"
	StatusApplied    ChangeStatus = "applied"
	StatusRejected   ChangeStatus = "rejected"
	StatusRolledBack ChangeStatus = "rolled_back"
)

// Change is one proposed or applied profile mutation. The feedback id is a
// weak reference; the analysis row it points at may be pruned.
type Change struct {
	ID                   string       `json:"id"`
	AgentName            string       `json:"agentName"`
	Field                string       `json:"field"`
	FromValue            string       `json:"fromValue"`
	ToValue              string       `json:"toValue"`
	Confidence           float64      `json:"confidence"`
	TriggeringFeedbackID string       `json:"triggeringFeedbackId,omitempty"`
	Status               ChangeStatus `json:"status"`
	CreatedAt            time.Time    `json:"createdAt"`
	AppliedAt            *time.Time   `json:"appliedAt,omitempty"`
}

type SnapshotTrigger string

const (
	TriggerPreChange   SnapshotTrigger = "pre_change"
	TriggerPreRollback SnapshotTrigger = "pre_rollback"
	TriggerScheduled   SnapshotTrigger = "scheduled"
	TriggerManual      SnapshotTrigger = "manual"
)

// Snapshot is an immutable full copy of a profile, the unit of rollback.
type Snapshot struct {
	ID        string          `json:"id"`
	AgentName string          `json:"agentName"`
	Trigger   SnapshotTrigger `json:"trigger"`
	State     string          `json:"state"`
	Version   int             `json:"version"`
	TakenAt   time.Time       `json:"takenAt"`
}

// snapshotState is the serialized form stored in Snapshot.State. Map keys
// marshal in sorted order, so equal profiles serialize to equal bytes.
type snapshotState struct {
	Fields  map[string]string `json:"fields"`
	Version int               `json:"version"`
}

func encodeState(p *Profile) (string, error) {
	data, err := json.Marshal(snapshotState{Fields: p.Fields, Version: p.Version})
	if err != nil {
		return "", fmt.Errorf("encode profile state: %w", err)
	}
	return string(data), nil
}

func decodeState(raw string) (*snapshotState, error) {
	var st snapshotState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode profile state: %w", err)
	}
	if st.Fields == nil {
		st.Fields = make(map[string]string)
	}
	return &st, nil
}

// Evolution aggregates an agent's change history over a window.
type Evolution struct {
	AgentName      string               `json:"agentName"`
	Since          time.Time            `json:"since"`
	Total          int                  `json:"total"`
	ByField        map[string]int       `json:"byField"`
	ByStatus       map[ChangeStatus]int `json:"byStatus"`
	AvgConfidence  float64              `json:"avgConfidence"`
	MinConfidence  float64              `json:"minConfidence"`
	MaxConfidence  float64              `json:"maxConfidence"`
	FirstChangeAt  *time.Time           `json:"firstChangeAt,omitempty"`
	LastChangeAt   *time.Time           `json:"lastChangeAt,omitempty"`
	CurrentVersion int                  `json:"currentVersion"`
}

var (
	validTones     = map[string]bool{"formal": true, "friendly": true, "professional": true, "creative": true}
	validVerbosity = map[string]bool{"concise": true, "balanced": true, "detailed": true}
)

// Bounds for the numeric profile fields.
const (
	MinTemperature = 0.1
	MaxTemperature = 1.0
	MinMaxTokens   = 100
	MaxMaxTokens   = 4000
)
