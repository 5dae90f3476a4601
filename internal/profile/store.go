package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/mnemo/internal/config"
	"github.com/stellarlinkco/mnemo/internal/storage"
)

// Store is the profile version store: current profiles, the change log and
// the snapshot history. Apply and Rollback are transactional and serialized
// per agent; different agents never block each other.
type Store struct {
	db       *storage.DB
	defaults map[string]string

	mu sync.Mutex

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	now func() time.Time
}

func NewStore(db *storage.DB, cfg *config.Config) (*Store, error) {
	defaults := make(map[string]string, len(cfg.Profile.Defaults))
	for k, v := range cfg.Profile.Defaults {
		defaults[k] = v
	}

	s := &Store{
		db:       db,
		defaults: defaults,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_profiles (
			agent_name TEXT PRIMARY KEY,
			fields TEXT NOT NULL DEFAULT '{}',
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profile_changes (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			field TEXT NOT NULL,
			from_value TEXT NOT NULL DEFAULT '',
			to_value TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			feedback_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'proposed',
			created_at TEXT NOT NULL,
			applied_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_agent ON profile_changes(agent_name, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_status ON profile_changes(agent_name, status)`,
		`CREATE TABLE IF NOT EXISTS profile_snapshots (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			trigger_kind TEXT NOT NULL DEFAULT 'manual',
			state TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			taken_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_agent ON profile_snapshots(agent_name, taken_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init profile schema: %w", err)
		}
	}
	return nil
}

// lockAgent serializes mutations per agent name and returns the unlock.
func (s *Store) lockAgent(agentName string) func() {
	s.lockMu.Lock()
	lock, ok := s.locks[agentName]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[agentName] = lock
	}
	s.lockMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// GetCurrent returns the agent's live profile, creating a default one at
// version 1 on first touch.
func (s *Store) GetCurrent(ctx context.Context, agentName string) (*Profile, error) {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return nil, fmt.Errorf("empty agent name: %w", ErrValidation)
	}

	prof, err := s.readProfile(ctx, agentName)
	if err == nil {
		return prof, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	unlock := s.lockAgent(agentName)
	defer unlock()

	// Another caller may have created it while we waited for the lock.
	prof, err = s.readProfile(ctx, agentName)
	if err == nil {
		return prof, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	prof = &Profile{
		AgentName: agentName,
		Fields:    make(map[string]string, len(s.defaults)),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for k, v := range s.defaults {
		prof.Fields[k] = v
	}

	fields, err := json.Marshal(prof.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal profile fields: %w", err)
	}

	s.mu.Lock()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agent_profiles (agent_name, fields, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`), agentName, string(fields), prof.Version, storage.FormatTime(now), storage.FormatTime(now))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("create default profile: %w", err)
	}

	log.Printf("[profile] created default profile for %s", agentName)
	return prof, nil
}

func (s *Store) readProfile(ctx context.Context, agentName string) (*Profile, error) {
	var (
		prof               Profile
		fields             string
		createdAt, updated string
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT agent_name, fields, version, created_at, updated_at
		FROM agent_profiles
		WHERE agent_name = ?
	`), agentName).Scan(&prof.AgentName, &fields, &prof.Version, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", agentName, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	if err := json.Unmarshal([]byte(fields), &prof.Fields); err != nil {
		return nil, fmt.Errorf("profile %s fields: %w", agentName, err)
	}
	if prof.Fields == nil {
		prof.Fields = make(map[string]string)
	}
	if prof.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("profile %s created_at: %w", agentName, err)
	}
	if prof.UpdatedAt, err = storage.ParseTime(updated); err != nil {
		return nil, fmt.Errorf("profile %s updated_at: %w", agentName, err)
	}
	return &prof, nil
}

// validateChange rejects malformed fields and values before anything is
// snapshotted or written.
func validateChange(prof *Profile, field, value string) error {
	switch field {
	case "temperature":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < MinTemperature || v > MaxTemperature {
			return fmt.Errorf("temperature %q outside [%.1f, %.1f]: %w", value, MinTemperature, MaxTemperature, ErrValidation)
		}
	case "max_tokens":
		v, err := strconv.Atoi(value)
		if err != nil || v < MinMaxTokens || v > MaxMaxTokens {
			return fmt.Errorf("max_tokens %q outside [%d, %d]: %w", value, MinMaxTokens, MaxMaxTokens, ErrValidation)
		}
	case "tone":
		if !validTones[value] {
			return fmt.Errorf("tone %q is not one of formal/friendly/professional/creative: %w", value, ErrValidation)
		}
	case "verbosity":
		if !validVerbosity[value] {
			return fmt.Errorf("verbosity %q is not one of concise/balanced/detailed: %w", value, ErrValidation)
		}
	case "traits":
		// Free-form comma-separated list.
	default:
		if _, ok := prof.Fields[field]; !ok {
			return fmt.Errorf("unknown profile field %q: %w", field, ErrValidation)
		}
	}
	return nil
}

// Propose records a candidate change with status proposed. Proposing never
// mutates the profile.
func (s *Store) Propose(ctx context.Context, change Change) (*Change, error) {
	change.AgentName = strings.TrimSpace(change.AgentName)
	if change.AgentName == "" {
		return nil, fmt.Errorf("empty agent name: %w", ErrValidation)
	}
	if strings.TrimSpace(change.Field) == "" {
		return nil, fmt.Errorf("empty change field: %w", ErrValidation)
	}

	prof, err := s.GetCurrent(ctx, change.AgentName)
	if err != nil {
		return nil, err
	}
	if err := validateChange(prof, change.Field, change.ToValue); err != nil {
		return nil, err
	}

	change.ID = uuid.NewString()
	change.Status = StatusProposed
	change.CreatedAt = s.now().UTC()
	change.AppliedAt = nil

	s.mu.Lock()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO profile_changes
			(id, agent_name, field, from_value, to_value, confidence, feedback_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), change.ID, change.AgentName, change.Field, change.FromValue, change.ToValue,
		change.Confidence, change.TriggeringFeedbackID, string(change.Status), storage.FormatTime(change.CreatedAt))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("propose change: %w", err)
	}
	return &change, nil
}

// Apply executes a proposed change transactionally: pre-change snapshot,
// field mutation, version bump and status flip commit together or not at
// all.
func (s *Store) Apply(ctx context.Context, changeID string) (*Profile, error) {
	change, err := s.Change(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if change.Status != StatusProposed {
		return nil, fmt.Errorf("change %s is %s, not proposed: %w", changeID, change.Status, ErrValidation)
	}

	unlock := s.lockAgent(change.AgentName)
	defer unlock()

	prof, err := s.readProfile(ctx, change.AgentName)
	if err != nil {
		return nil, err
	}
	if err := validateChange(prof, change.Field, change.ToValue); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	state, err := encodeState(prof)
	if err != nil {
		return nil, err
	}

	updated := prof.Clone()
	updated.Fields[change.Field] = change.ToValue
	updated.Version++
	updated.UpdatedAt = now
	fields, err := json.Marshal(updated.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal profile fields: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO profile_snapshots (id, agent_name, trigger_kind, state, version, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), uuid.NewString(), change.AgentName, string(TriggerPreChange), state, prof.Version, storage.FormatTime(now)); err != nil {
		return nil, fmt.Errorf("snapshot before apply: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE agent_profiles SET fields = ?, version = ?, updated_at = ?
		WHERE agent_name = ? AND version = ?
	`), string(fields), updated.Version, storage.FormatTime(now), change.AgentName, prof.Version)
	if err != nil {
		return nil, fmt.Errorf("apply change %s: %w", changeID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("apply change %s: profile version moved underneath", changeID)
	}

	res, err = tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE profile_changes SET status = ?, applied_at = ? WHERE id = ? AND status = ?
	`), string(StatusApplied), storage.FormatTime(now), changeID, string(StatusProposed))
	if err != nil {
		return nil, fmt.Errorf("mark change %s applied: %w", changeID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("mark change %s applied: status moved underneath", changeID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit apply: %w", err)
	}

	log.Printf("[profile] applied change %s: %s.%s %q -> %q (v%d)",
		changeID, change.AgentName, change.Field, prof.Fields[change.Field], change.ToValue, updated.Version)
	return updated, nil
}

// Snapshot captures the agent's current profile, creating the profile first
// if this is the agent's first touch.
func (s *Store) Snapshot(ctx context.Context, agentName string, trigger SnapshotTrigger) (string, error) {
	switch trigger {
	case TriggerPreChange, TriggerPreRollback, TriggerScheduled, TriggerManual:
	case "":
		trigger = TriggerManual
	default:
		return "", fmt.Errorf("unknown snapshot trigger %q: %w", trigger, ErrValidation)
	}

	if _, err := s.GetCurrent(ctx, agentName); err != nil {
		return "", err
	}

	unlock := s.lockAgent(strings.TrimSpace(agentName))
	defer unlock()

	prof, err := s.readProfile(ctx, strings.TrimSpace(agentName))
	if err != nil {
		return "", err
	}
	state, err := encodeState(prof)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	s.mu.Lock()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO profile_snapshots (id, agent_name, trigger_kind, state, version, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), id, prof.AgentName, string(trigger), state, prof.Version, storage.FormatTime(s.now().UTC()))
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("take snapshot: %w", err)
	}
	return id, nil
}

// Rollback restores the newest snapshot taken at or before target. The
// abandoned state is preserved in a pre_rollback snapshot, and every change
// applied at or after the restored snapshot is reclassified rolled_back.
// History is never deleted.
func (s *Store) Rollback(ctx context.Context, agentName string, target time.Time) (*Profile, error) {
	agentName = strings.TrimSpace(agentName)

	unlock := s.lockAgent(agentName)
	defer unlock()

	prof, err := s.readProfile(ctx, agentName)
	if err != nil {
		return nil, err
	}

	var (
		snapID, rawState, takenAt string
		snapVersion               int
	)
	err = s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, state, version, taken_at FROM profile_snapshots
		WHERE agent_name = ? AND taken_at <= ?
		ORDER BY taken_at DESC
		LIMIT 1
	`), agentName, storage.FormatTime(target)).Scan(&snapID, &rawState, &snapVersion, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rollback %s to %s: %w", agentName, target.UTC().Format(time.RFC3339), ErrRollbackTargetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find rollback snapshot: %w", err)
	}

	st, err := decodeState(rawState)
	if err != nil {
		return nil, err
	}
	currentState, err := encodeState(prof)
	if err != nil {
		return nil, err
	}
	restoredFields, err := json.Marshal(st.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshal restored fields: %w", err)
	}

	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin rollback: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO profile_snapshots (id, agent_name, trigger_kind, state, version, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), uuid.NewString(), agentName, string(TriggerPreRollback), currentState, prof.Version, storage.FormatTime(now)); err != nil {
		return nil, fmt.Errorf("snapshot before rollback: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE agent_profiles SET fields = ?, version = ?, updated_at = ? WHERE agent_name = ?
	`), string(restoredFields), st.Version, storage.FormatTime(now), agentName); err != nil {
		return nil, fmt.Errorf("restore profile: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE profile_changes SET status = ? WHERE agent_name = ? AND status = ? AND applied_at >= ?
	`), string(StatusRolledBack), agentName, string(StatusApplied), takenAt)
	if err != nil {
		return nil, fmt.Errorf("reclassify rolled back changes: %w", err)
	}
	reclassified, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rollback: %w", err)
	}

	log.Printf("[profile] rolled back %s to snapshot %s (v%d -> v%d), %d changes reclassified",
		agentName, snapID, prof.Version, st.Version, reclassified)

	return &Profile{
		AgentName: agentName,
		Fields:    st.Fields,
		Version:   st.Version,
		CreatedAt: prof.CreatedAt,
		UpdatedAt: now,
	}, nil
}

// Change loads one change by id.
func (s *Store) Change(ctx context.Context, changeID string) (*Change, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, agent_name, field, from_value, to_value, confidence, feedback_id, status, created_at, applied_at
		FROM profile_changes
		WHERE id = ?
	`), changeID)
	if err != nil {
		return nil, fmt.Errorf("load change: %w", err)
	}
	defer rows.Close()

	changes, err := scanChanges(rows)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("change %s: %w", changeID, storage.ErrNotFound)
	}
	return &changes[0], nil
}

// Changes returns the agent's change log, newest first.
func (s *Store) Changes(ctx context.Context, agentName string, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, agent_name, field, from_value, to_value, confidence, feedback_id, status, created_at, applied_at
		FROM profile_changes
		WHERE agent_name = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), strings.TrimSpace(agentName), limit)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

// PendingChanges returns proposed changes awaiting review, oldest first.
func (s *Store) PendingChanges(ctx context.Context, agentName string) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, agent_name, field, from_value, to_value, confidence, feedback_id, status, created_at, applied_at
		FROM profile_changes
		WHERE agent_name = ? AND status = ?
		ORDER BY created_at ASC
	`), strings.TrimSpace(agentName), string(StatusProposed))
	if err != nil {
		return nil, fmt.Errorf("list pending changes: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

// Review resolves a proposed change: approval applies it, rejection marks
// it rejected. Either way the change row survives as history.
func (s *Store) Review(ctx context.Context, changeID string, approve bool) (*Change, error) {
	if approve {
		if _, err := s.Apply(ctx, changeID); err != nil {
			return nil, err
		}
		return s.Change(ctx, changeID)
	}

	change, err := s.Change(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if change.Status != StatusProposed {
		return nil, fmt.Errorf("change %s is %s, not proposed: %w", changeID, change.Status, ErrValidation)
	}

	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE profile_changes SET status = ? WHERE id = ? AND status = ?
	`), string(StatusRejected), changeID, string(StatusProposed))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("reject change %s: %w", changeID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("reject change %s: status moved underneath", changeID)
	}
	return s.Change(ctx, changeID)
}

// AppliedCountSince counts adjustments that took effect at or after since,
// including ones later rolled back. The daily auto-apply quota reads this.
func (s *Store) AppliedCountSince(ctx context.Context, agentName string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT COUNT(*) FROM profile_changes
		WHERE agent_name = ? AND applied_at IS NOT NULL AND applied_at >= ?
	`), strings.TrimSpace(agentName), storage.FormatTime(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count applied changes: %w", err)
	}
	return count, nil
}

// Evolution aggregates change statistics for an agent since a point in
// time.
func (s *Store) Evolution(ctx context.Context, agentName string, since time.Time) (*Evolution, error) {
	prof, err := s.GetCurrent(ctx, agentName)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, agent_name, field, from_value, to_value, confidence, feedback_id, status, created_at, applied_at
		FROM profile_changes
		WHERE agent_name = ? AND created_at >= ?
		ORDER BY created_at ASC
	`), prof.AgentName, storage.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("load evolution changes: %w", err)
	}
	defer rows.Close()

	changes, err := scanChanges(rows)
	if err != nil {
		return nil, err
	}

	ev := &Evolution{
		AgentName:      prof.AgentName,
		Since:          since.UTC(),
		Total:          len(changes),
		ByField:        make(map[string]int),
		ByStatus:       make(map[ChangeStatus]int),
		CurrentVersion: prof.Version,
	}
	if len(changes) == 0 {
		return ev, nil
	}

	ev.MinConfidence = changes[0].Confidence
	var sum float64
	for i := range changes {
		c := &changes[i]
		ev.ByField[c.Field]++
		ev.ByStatus[c.Status]++
		sum += c.Confidence
		if c.Confidence < ev.MinConfidence {
			ev.MinConfidence = c.Confidence
		}
		if c.Confidence > ev.MaxConfidence {
			ev.MaxConfidence = c.Confidence
		}
	}
	ev.AvgConfidence = sum / float64(len(changes))
	first := changes[0].CreatedAt
	last := changes[len(changes)-1].CreatedAt
	ev.FirstChangeAt = &first
	ev.LastChangeAt = &last
	return ev, nil
}

// CleanupOldData prunes resolved history older than cutoff: rejected and
// rolled_back changes, and superseded snapshots. The newest snapshot older
// than the cutoff is kept per agent, so rollback still has an anchor at the
// retention horizon.
func (s *Store) CleanupOldData(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := storage.FormatTime(cutoff)
	var total int64

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM profile_changes
		WHERE created_at < ? AND status IN (?, ?)
	`), at, string(StatusRejected), string(StatusRolledBack))
	if err != nil {
		return 0, fmt.Errorf("prune resolved changes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM profile_snapshots
		WHERE taken_at < ? AND id IN (
			SELECT old.id FROM profile_snapshots old
			JOIN profile_snapshots newer
				ON newer.agent_name = old.agent_name AND newer.taken_at > old.taken_at
			WHERE old.taken_at < ? AND newer.taken_at < ?
		)
	`), at, at, at)
	if err != nil {
		return 0, fmt.Errorf("prune superseded snapshots: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

// Agents lists every agent with a profile. Scheduled snapshots iterate
// this.
func (s *Store) Agents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_name FROM agent_profiles ORDER BY agent_name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan agent name: %w", err)
		}
		agents = append(agents, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

func scanChanges(rows *sql.Rows) ([]Change, error) {
	result := make([]Change, 0)
	for rows.Next() {
		var (
			c         Change
			status    string
			createdAt string
			appliedAt sql.NullString
		)
		if err := rows.Scan(
			&c.ID,
			&c.AgentName,
			&c.Field,
			&c.FromValue,
			&c.ToValue,
			&c.Confidence,
			&c.TriggeringFeedbackID,
			&status,
			&createdAt,
			&appliedAt,
		); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Status = ChangeStatus(status)

		var err error
		if c.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("change %s created_at: %w", c.ID, err)
		}
		if appliedAt.Valid {
			at, err := storage.ParseTime(appliedAt.String)
			if err != nil {
				return nil, fmt.Errorf("change %s applied_at: %w", c.ID, err)
			}
			c.AppliedAt = &at
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return result, nil
}

// Snapshots lists an agent's snapshots, newest first. Mostly an inspection
// surface for the CLI.
func (s *Store) Snapshots(ctx context.Context, agentName string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, agent_name, trigger_kind, state, version, taken_at
		FROM profile_snapshots
		WHERE agent_name = ?
		ORDER BY taken_at DESC
		LIMIT ?
	`), strings.TrimSpace(agentName), limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	result := make([]Snapshot, 0)
	for rows.Next() {
		var (
			snap    Snapshot
			trigger string
			takenAt string
		)
		if err := rows.Scan(&snap.ID, &snap.AgentName, &trigger, &snap.State, &snap.Version, &takenAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Trigger = SnapshotTrigger(trigger)
		var err error
		if snap.TakenAt, err = storage.ParseTime(takenAt); err != nil {
			return nil, fmt.Errorf("snapshot %s taken_at: %w", snap.ID, err)
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}
