package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/mnemo/internal/config"
	"github.com/stellarlinkco/mnemo/internal/emotion"
	"github.com/stellarlinkco/mnemo/internal/storage"
)

const fragmentKeyPrefix = "fragment:"

// Store owns fragment and emotional-state persistence. The structured store
// is the source of truth; the hot cache mirrors L1 fragments and the
// semantic index carries embeddings, both best-effort.
type Store struct {
	db       *storage.DB
	hot      storage.HotCache
	index    storage.SemanticIndex
	embedder storage.Embedder

	mu     sync.Mutex
	hotTTL time.Duration
	now    func() time.Time
}

func NewStore(backends *storage.Backends, cfg *config.Config) (*Store, error) {
	hotTTL := 24 * time.Hour
	if raw := strings.TrimSpace(cfg.Tiers.MaxAge.Hot); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse hot max age: %w", err)
		}
		hotTTL = d
	}

	s := &Store{
		db:       backends.DB,
		hot:      backends.Hot,
		index:    backends.Index,
		embedder: backends.Embedder,
		hotTTL:   hotTTL,
		now:      time.Now,
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_fragments (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			tier INTEGER NOT NULL DEFAULT 1,
			relevance_score REAL NOT NULL DEFAULT 0.5,
			emotional_weight REAL NOT NULL DEFAULT 0,
			dominant_emotion TEXT NOT NULL DEFAULT 'neutral',
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			last_accessed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fragments_tier ON memory_fragments(tier, last_accessed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_fragments_agent ON memory_fragments(agent_name, tier)`,
		`CREATE TABLE IF NOT EXISTS emotional_states (
			id TEXT PRIMARY KEY,
			fragment_id TEXT NOT NULL DEFAULT '',
			vector TEXT NOT NULL DEFAULT '{}',
			dominant TEXT NOT NULL DEFAULT 'neutral',
			confidence REAL NOT NULL DEFAULT 0,
			intensity TEXT NOT NULL DEFAULT 'very_low',
			valence REAL NOT NULL DEFAULT 0,
			arousal REAL NOT NULL DEFAULT 0.5,
			complexity INTEGER NOT NULL DEFAULT 0,
			computed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_states_fragment ON emotional_states(fragment_id, computed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_states_computed ON emotional_states(computed_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init memory schema: %w", err)
		}
	}
	return nil
}

// Ingest creates a fragment in L1_hot, mirrors it into the hot cache and
// upserts its embedding when an embedder is configured.
func (s *Store) Ingest(ctx context.Context, in IngestInput) (*Fragment, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("ingest: empty content")
	}

	relevance := in.RelevanceScore
	if relevance <= 0 {
		relevance = 0.5
	}
	if relevance > 1 {
		relevance = 1
	}
	dominant := strings.TrimSpace(in.DominantEmotion)
	if dominant == "" {
		dominant = emotion.Neutral
	}

	now := s.now().UTC()
	frag := &Fragment{
		ID:              uuid.NewString(),
		AgentName:       strings.TrimSpace(in.AgentName),
		Content:         content,
		Tier:            TierHot,
		RelevanceScore:  relevance,
		EmotionalWeight: clamp01(in.EmotionalWeight),
		DominantEmotion: dominant,
		CreatedAt:       now,
		LastAccessedAt:  now,
	}

	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO memory_fragments
			(id, agent_name, content, tier, relevance_score, emotional_weight, dominant_emotion, access_count, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`), frag.ID, frag.AgentName, frag.Content, int(frag.Tier), frag.RelevanceScore, frag.EmotionalWeight,
		frag.DominantEmotion, storage.FormatTime(frag.CreatedAt), storage.FormatTime(frag.LastAccessedAt))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("ingest fragment: %w", err)
	}

	s.cacheFragment(frag)
	s.upsertEmbedding(ctx, frag)

	return frag, nil
}

// Touch records an access: bump the count, refresh last_accessed_at. The
// cached copy is dropped so the next read sees fresh access fields.
func (s *Store) Touch(ctx context.Context, id string) error {
	now := storage.FormatTime(s.now().UTC())

	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE memory_fragments
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`), now, id)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("touch fragment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch fragment: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("touch fragment %s: %w", id, storage.ErrNotFound)
	}

	if s.hot != nil {
		s.hot.Delete(fragmentKeyPrefix + id)
	}
	return nil
}

// Get reads a fragment, serving L1 entries from the hot cache when present.
func (s *Store) Get(ctx context.Context, id string) (*Fragment, error) {
	if s.hot != nil {
		if data, ok := s.hot.Get(fragmentKeyPrefix + id); ok {
			var frag Fragment
			if err := json.Unmarshal(data, &frag); err == nil {
				return &frag, nil
			}
			s.hot.Delete(fragmentKeyPrefix + id)
		}
	}

	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, agent_name, content, tier, relevance_score, emotional_weight, dominant_emotion, access_count, created_at, last_accessed_at
		FROM memory_fragments
		WHERE id = ?
	`), id)

	frag, err := scanFragment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fragment %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get fragment: %w", err)
	}

	s.cacheFragment(frag)
	return frag, nil
}

// Exists reports whether a fragment id still resolves. Weak references use
// this to tolerate eviction.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT COUNT(*) FROM memory_fragments WHERE id = ?`), id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("fragment exists: %w", err)
	}
	return count > 0, nil
}

// ListByTier returns a tier's fragments, optionally filtered by agent.
// A non-positive limit returns everything.
func (s *Store) ListByTier(ctx context.Context, agentName string, tier Tier, limit int) ([]Fragment, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("list by tier: invalid tier %d", int(tier))
	}

	q := `
		SELECT id, agent_name, content, tier, relevance_score, emotional_weight, dominant_emotion, access_count, created_at, last_accessed_at
		FROM memory_fragments
		WHERE tier = ?
	`
	args := []any{int(tier)}
	if agent := strings.TrimSpace(agentName); agent != "" {
		q += ` AND agent_name = ?`
		args = append(args, agent)
	}
	q += ` ORDER BY relevance_score DESC, created_at ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list by tier: %w", err)
	}
	defer rows.Close()
	return scanFragments(rows)
}

// TierCounts returns the fragment count per tier, including empty tiers.
func (s *Store) TierCounts(ctx context.Context) (map[Tier]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM memory_fragments GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("tier counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Tier]int, len(Tiers))
	for _, tier := range Tiers {
		counts[tier] = 0
	}
	for rows.Next() {
		var tier, count int
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		counts[Tier(tier)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tier counts: %w", err)
	}
	return counts, nil
}

// ApplyTransitions commits one tier's batch atomically: every move and
// eviction in the batch lands, or none do. Rows already moved away by an
// earlier overlapping decision are skipped, not failed; the returned slice
// holds the transitions that actually took effect.
func (s *Store) ApplyTransitions(ctx context.Context, tier Tier, batch []Transition) ([]Transition, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transitions: %w", err)
	}
	defer tx.Rollback()

	applied := make([]Transition, 0, len(batch))
	for _, t := range batch {
		if t.From != tier {
			return nil, fmt.Errorf("transition for %s batched under %s", t.From, tier)
		}

		var res sql.Result
		switch t.Kind {
		case TransitionEvict:
			res, err = tx.ExecContext(ctx, s.db.Rebind(
				`DELETE FROM memory_fragments WHERE id = ? AND tier = ?`), t.FragmentID, int(tier))
		case TransitionPromote, TransitionDemote:
			if !t.To.Valid() {
				return nil, fmt.Errorf("transition %s for %s: invalid target tier %d", t.Kind, t.FragmentID, int(t.To))
			}
			res, err = tx.ExecContext(ctx, s.db.Rebind(
				`UPDATE memory_fragments SET tier = ? WHERE id = ? AND tier = ?`), int(t.To), t.FragmentID, int(tier))
		default:
			return nil, fmt.Errorf("unknown transition kind %q", t.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("apply %s for %s: %w", t.Kind, t.FragmentID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("apply %s for %s: %w", t.Kind, t.FragmentID, err)
		}
		if affected > 0 {
			applied = append(applied, t)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transitions: %w", err)
	}

	s.syncAdapters(ctx, applied)
	return applied, nil
}

// syncAdapters reconciles the hot cache and semantic index after a
// committed batch. Failures here are logged; the structured store already
// holds the truth.
func (s *Store) syncAdapters(ctx context.Context, applied []Transition) {
	var evicted []string
	for _, t := range applied {
		switch {
		case t.Kind == TransitionEvict:
			evicted = append(evicted, t.FragmentID)
			if s.hot != nil {
				s.hot.Delete(fragmentKeyPrefix + t.FragmentID)
			}
		case t.From == TierHot:
			if s.hot != nil {
				s.hot.Delete(fragmentKeyPrefix + t.FragmentID)
			}
		case t.To == TierHot:
			frag, err := s.Get(ctx, t.FragmentID)
			if err != nil {
				log.Printf("[memory] warm cache after promote %s: %v", t.FragmentID, err)
				continue
			}
			s.cacheFragment(frag)
		}
	}

	if len(evicted) > 0 && s.index != nil {
		if err := s.index.Delete(ctx, evicted...); err != nil {
			log.Printf("[memory] semantic delete: %v", err)
		}
	}
}

// Search finds fragments by semantic similarity when an embedder and index
// are configured, falling back to substring matching otherwise. Index hits
// are existence-checked against the structured store, so evicted ids
// lingering in the index are silently dropped.
func (s *Store) Search(ctx context.Context, agentName, query string, limit int) ([]Fragment, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	if s.embedder != nil && s.index != nil {
		frags, err := s.searchSemantic(ctx, agentName, query, limit)
		if err == nil {
			return frags, nil
		}
		log.Printf("[memory] semantic search failed, using substring match: %v", err)
	}

	return s.searchSubstring(ctx, agentName, query, limit)
}

func (s *Store) searchSemantic(ctx context.Context, agentName, query string, limit int) ([]Fragment, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch: some returned ids may be evicted or belong to other agents.
	matches, err := s.index.Query(ctx, vec, limit*3)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	agent := strings.TrimSpace(agentName)
	frags := make([]Fragment, 0, limit)
	for _, match := range matches {
		frag, err := s.Get(ctx, match.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if agent != "" && frag.AgentName != agent {
			continue
		}
		frags = append(frags, *frag)
		if len(frags) >= limit {
			break
		}
	}
	return frags, nil
}

func (s *Store) searchSubstring(ctx context.Context, agentName, query string, limit int) ([]Fragment, error) {
	q := `
		SELECT id, agent_name, content, tier, relevance_score, emotional_weight, dominant_emotion, access_count, created_at, last_accessed_at
		FROM memory_fragments
		WHERE content LIKE ?
	`
	args := []any{"%" + query + "%"}
	if agent := strings.TrimSpace(agentName); agent != "" {
		q += ` AND agent_name = ?`
		args = append(args, agent)
	}
	q += ` ORDER BY relevance_score DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("search fragments: %w", err)
	}
	defer rows.Close()
	return scanFragments(rows)
}

// SaveState persists an emotion analysis. Missing ids are assigned; states
// are immutable once written.
func (s *Store) SaveState(ctx context.Context, st *emotion.State) error {
	if st == nil {
		return fmt.Errorf("save state: nil state")
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.ComputedAt.IsZero() {
		st.ComputedAt = s.now().UTC()
	}

	vector, err := json.Marshal(st.Vector)
	if err != nil {
		return fmt.Errorf("marshal emotion vector: %w", err)
	}

	s.mu.Lock()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO emotional_states
			(id, fragment_id, vector, dominant, confidence, intensity, valence, arousal, complexity, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), st.ID, st.FragmentID, string(vector), st.Dominant, st.Confidence, st.Intensity,
		st.Valence, st.Arousal, st.Complexity, storage.FormatTime(st.ComputedAt))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("save emotional state: %w", err)
	}
	return nil
}

// LatestStateForFragment returns the newest stored state for a fragment.
func (s *Store) LatestStateForFragment(ctx context.Context, fragmentID string) (*emotion.State, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, fragment_id, vector, dominant, confidence, intensity, valence, arousal, complexity, computed_at
		FROM emotional_states
		WHERE fragment_id = ?
		ORDER BY computed_at DESC
		LIMIT 1
	`), fragmentID)
	if err != nil {
		return nil, fmt.Errorf("latest state: %w", err)
	}
	defer rows.Close()

	states, err := scanStates(rows)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, fmt.Errorf("state for fragment %s: %w", fragmentID, storage.ErrNotFound)
	}
	return &states[0], nil
}

// StatesSince lists states computed at or after since, newest first. With
// an agent filter, states are joined through their source fragment, so
// states whose fragment was evicted drop out of agent-scoped reads.
func (s *Store) StatesSince(ctx context.Context, agentName string, since time.Time, limit int) ([]emotion.State, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		q    string
		args []any
	)
	if agent := strings.TrimSpace(agentName); agent != "" {
		q = `
			SELECT s.id, s.fragment_id, s.vector, s.dominant, s.confidence, s.intensity, s.valence, s.arousal, s.complexity, s.computed_at
			FROM emotional_states s
			JOIN memory_fragments f ON f.id = s.fragment_id
			WHERE s.computed_at >= ? AND f.agent_name = ?
			ORDER BY s.computed_at DESC
			LIMIT ?
		`
		args = []any{storage.FormatTime(since), agent, limit}
	} else {
		q = `
			SELECT id, fragment_id, vector, dominant, confidence, intensity, valence, arousal, complexity, computed_at
			FROM emotional_states
			WHERE computed_at >= ?
			ORDER BY computed_at DESC
			LIMIT ?
		`
		args = []any{storage.FormatTime(since), limit}
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("states since: %w", err)
	}
	defer rows.Close()
	return scanStates(rows)
}

// DeleteStatesBefore drops states older than cutoff and returns how many
// went. Retention cleanup is the only caller.
func (s *Store) DeleteStatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM emotional_states WHERE computed_at < ?`), storage.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old states: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old states: %w", err)
	}
	return deleted, nil
}

func (s *Store) cacheFragment(frag *Fragment) {
	if s.hot == nil || frag.Tier != TierHot {
		return
	}
	data, err := json.Marshal(frag)
	if err != nil {
		log.Printf("[memory] marshal fragment for cache: %v", err)
		return
	}
	s.hot.Put(fragmentKeyPrefix+frag.ID, data, s.hotTTL)
}

func (s *Store) upsertEmbedding(ctx context.Context, frag *Fragment) {
	if s.embedder == nil || s.index == nil {
		return
	}
	vec, err := s.embedder.Embed(ctx, frag.Content)
	if err != nil {
		log.Printf("[memory] embed fragment %s: %v", frag.ID, err)
		return
	}
	metadata := map[string]string{"agent": frag.AgentName, "tier": frag.Tier.String()}
	if err := s.index.Upsert(ctx, frag.ID, vec, metadata); err != nil {
		log.Printf("[memory] semantic upsert %s: %v", frag.ID, err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFragment(row rowScanner) (*Fragment, error) {
	var (
		frag                  Fragment
		tier                  int
		createdAt, lastAccess string
	)
	if err := row.Scan(
		&frag.ID,
		&frag.AgentName,
		&frag.Content,
		&tier,
		&frag.RelevanceScore,
		&frag.EmotionalWeight,
		&frag.DominantEmotion,
		&frag.AccessCount,
		&createdAt,
		&lastAccess,
	); err != nil {
		return nil, err
	}

	frag.Tier = Tier(tier)
	var err error
	if frag.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("fragment %s created_at: %w", frag.ID, err)
	}
	if frag.LastAccessedAt, err = storage.ParseTime(lastAccess); err != nil {
		return nil, fmt.Errorf("fragment %s last_accessed_at: %w", frag.ID, err)
	}
	return &frag, nil
}

func scanFragments(rows *sql.Rows) ([]Fragment, error) {
	result := make([]Fragment, 0)
	for rows.Next() {
		frag, err := scanFragment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		result = append(result, *frag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragments: %w", err)
	}
	return result, nil
}

func scanStates(rows *sql.Rows) ([]emotion.State, error) {
	result := make([]emotion.State, 0)
	for rows.Next() {
		var (
			st         emotion.State
			vector     string
			computedAt string
		)
		if err := rows.Scan(
			&st.ID,
			&st.FragmentID,
			&vector,
			&st.Dominant,
			&st.Confidence,
			&st.Intensity,
			&st.Valence,
			&st.Arousal,
			&st.Complexity,
			&computedAt,
		); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		if err := json.Unmarshal([]byte(vector), &st.Vector); err != nil {
			return nil, fmt.Errorf("state %s vector: %w", st.ID, err)
		}
		var err error
		if st.ComputedAt, err = storage.ParseTime(computedAt); err != nil {
			return nil, fmt.Errorf("state %s computed_at: %w", st.ID, err)
		}
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return result, nil
}
