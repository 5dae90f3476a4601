package memory

import (
	"context"
	"fmt"

	"github.com/stellarlinkco/mnemo/internal/config"
)

type reindexRow struct {
	ID        string
	AgentName string
	Content   string
	Tier      Tier
}

// ReindexSemantic rebuilds the semantic index from the structured store in
// deterministic id order: every non-blank fragment is re-embedded and
// upserted in batches. It is the recovery path after an index wipe or an
// embedding model switch; upserts are idempotent, so rerunning is safe.
// Without an embedder and index configured it is a no-op.
func (s *Store) ReindexSemantic(ctx context.Context, batchSize int) (int, error) {
	if s.embedder == nil || s.index == nil {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = config.DefaultEmbeddingBatchSize
	}

	indexed := 0
	lastID := ""
	for {
		select {
		case <-ctx.Done():
			return indexed, ctx.Err()
		default:
		}

		rows, err := s.fragmentsAfter(ctx, lastID, batchSize)
		if err != nil {
			return indexed, err
		}
		if len(rows) == 0 {
			return indexed, nil
		}
		lastID = rows[len(rows)-1].ID

		texts := make([]string, 0, len(rows))
		for _, row := range rows {
			texts = append(texts, row.Content)
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return indexed, fmt.Errorf("reindex: embed batch: %w", err)
		}
		if len(vectors) != len(rows) {
			return indexed, fmt.Errorf("reindex: embed batch count mismatch: got %d want %d", len(vectors), len(rows))
		}

		for i, row := range rows {
			metadata := map[string]string{"agent": row.AgentName, "tier": row.Tier.String()}
			if err := s.index.Upsert(ctx, row.ID, vectors[i], metadata); err != nil {
				return indexed, fmt.Errorf("reindex: upsert %s: %w", row.ID, err)
			}
			indexed++
		}

		if len(rows) < batchSize {
			return indexed, nil
		}
	}
}

func (s *Store) fragmentsAfter(ctx context.Context, lastID string, limit int) ([]reindexRow, error) {
	q := `
		SELECT id, agent_name, content, tier
		FROM memory_fragments
		WHERE id > ? AND TRIM(content) != ''
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), lastID, limit)
	if err != nil {
		return nil, fmt.Errorf("query reindex batch: %w", err)
	}
	defer rows.Close()

	result := make([]reindexRow, 0, limit)
	for rows.Next() {
		var (
			row  reindexRow
			tier int
		)
		if err := rows.Scan(&row.ID, &row.AgentName, &row.Content, &tier); err != nil {
			return nil, fmt.Errorf("scan reindex row: %w", err)
		}
		row.Tier = Tier(tier)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reindex rows: %w", err)
	}
	return result, nil
}
