package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stellarlinkco/mnemo/internal/storage"
)

// Analysis is the persisted record of one feedback invocation. ChangeID is
// a weak reference to the profile change it spawned, empty when none was.
type Analysis struct {
	ID              string    `json:"id"`
	AgentName       string    `json:"agentName"`
	FeedbackText    string    `json:"feedbackText"`
	DominantEmotion string    `json:"dominantEmotion"`
	Intensity       string    `json:"intensity"`
	Sentiment       float64   `json:"sentiment"`
	Intent          string    `json:"intent,omitempty"`
	Field           string    `json:"field,omitempty"`
	Confidence      float64   `json:"confidence"`
	Outcome         Outcome   `json:"outcome"`
	ChangeID        string    `json:"changeId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Effectiveness summarizes how an agent's feedback has been resolved.
type Effectiveness struct {
	AgentName     string              `json:"agentName"`
	Since         time.Time           `json:"since"`
	Total         int                 `json:"total"`
	Outcomes      map[Outcome]int     `json:"outcomes"`
	AvgConfidence map[Outcome]float64 `json:"avgConfidence"`
}

// Store is the feedback analysis log.
type Store struct {
	db *storage.DB
	mu sync.Mutex
}

func NewStore(db *storage.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS feedback_analysis (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			feedback_text TEXT NOT NULL,
			dominant_emotion TEXT NOT NULL DEFAULT 'neutral',
			intensity TEXT NOT NULL DEFAULT 'very_low',
			sentiment REAL NOT NULL DEFAULT 0,
			intent TEXT NOT NULL DEFAULT '',
			field TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			change_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_agent ON feedback_analysis(agent_name, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init feedback schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, a *Analysis) error {
	if a.Outcome == "" {
		return fmt.Errorf("save analysis %s: empty outcome", a.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO feedback_analysis
			(id, agent_name, feedback_text, dominant_emotion, intensity, sentiment,
			 intent, field, confidence, outcome, change_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.AgentName, a.FeedbackText, a.DominantEmotion, a.Intensity, a.Sentiment,
		a.Intent, a.Field, a.Confidence, string(a.Outcome), a.ChangeID, storage.FormatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// ListByAgent returns an agent's analysis history, newest first.
func (s *Store) ListByAgent(ctx context.Context, agentName string, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, agent_name, feedback_text, dominant_emotion, intensity, sentiment,
		       intent, field, confidence, outcome, change_id, created_at
		FROM feedback_analysis
		WHERE agent_name = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), strings.TrimSpace(agentName), limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()
	return scanAnalyses(rows)
}

// Effectiveness aggregates outcome counts and mean confidence per outcome
// for an agent since a point in time.
func (s *Store) Effectiveness(ctx context.Context, agentName string, since time.Time) (*Effectiveness, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT outcome, COUNT(*), AVG(confidence)
		FROM feedback_analysis
		WHERE agent_name = ? AND created_at >= ?
		GROUP BY outcome
	`), strings.TrimSpace(agentName), storage.FormatTime(since))
	if err != nil {
		return nil, fmt.Errorf("aggregate effectiveness: %w", err)
	}
	defer rows.Close()

	eff := &Effectiveness{
		AgentName:     strings.TrimSpace(agentName),
		Since:         since.UTC(),
		Outcomes:      make(map[Outcome]int),
		AvgConfidence: make(map[Outcome]float64),
	}
	for rows.Next() {
		var (
			outcome string
			count   int
			avg     sql.NullFloat64
		)
		if err := rows.Scan(&outcome, &count, &avg); err != nil {
			return nil, fmt.Errorf("scan effectiveness row: %w", err)
		}
		eff.Outcomes[Outcome(outcome)] = count
		if avg.Valid {
			eff.AvgConfidence[Outcome(outcome)] = avg.Float64
		}
		eff.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate effectiveness rows: %w", err)
	}
	return eff, nil
}

// DeleteBefore prunes analyses older than cutoff and returns how many rows
// went away.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM feedback_analysis WHERE created_at < ?
	`), storage.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune analyses: %w", err)
	}
	return res.RowsAffected()
}

func scanAnalyses(rows *sql.Rows) ([]Analysis, error) {
	result := make([]Analysis, 0)
	for rows.Next() {
		var (
			a         Analysis
			outcome   string
			createdAt string
		)
		if err := rows.Scan(
			&a.ID,
			&a.AgentName,
			&a.FeedbackText,
			&a.DominantEmotion,
			&a.Intensity,
			&a.Sentiment,
			&a.Intent,
			&a.Field,
			&a.Confidence,
			&outcome,
			&a.ChangeID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		a.Outcome = Outcome(outcome)
		var err error
		if a.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("analysis %s created_at: %w", a.ID, err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return result, nil
}
