package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/stellarlinkco/mnemo/internal/config"
)

// pgvectorIndex backs the semantic index with PostgreSQL + pgvector. It keeps
// its own pool so the index can live on a different database than the
// structured store.
type pgvectorIndex struct {
	pool *pgxpool.Pool
}

func newPgvectorIndex(cfg *config.Config) (SemanticIndex, error) {
	dsn := strings.TrimSpace(cfg.Storage.PostgresDSN)
	if dsn == "" {
		return nil, fmt.Errorf("pgvector backend selected but no DSN configured")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	idx := &pgvectorIndex{pool: pool}
	if err := idx.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *pgvectorIndex) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS semantic_index (
			id TEXT PRIMARY KEY,
			embedding vector NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init semantic index schema: %w", err)
		}
	}
	return nil
}

func (p *pgvectorIndex) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]string) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	vec := pgvector.NewVector(embedding)
	_, err = p.pool.Exec(ctx, `
		INSERT INTO semantic_index (id, embedding, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = excluded.embedding, metadata = excluded.metadata
	`, id, vec, string(meta))
	if err != nil {
		return fmt.Errorf("upsert vector: %w", err)
	}
	return nil
}

func (p *pgvectorIndex) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	vec := pgvector.NewVector(embedding)
	rows, err := p.pool.Query(ctx, `
		SELECT id, 1 - (embedding <=> $1) AS similarity
		FROM semantic_index
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var similarity float64
		if err := rows.Scan(&m.ID, &similarity); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.Similarity = float32(similarity)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

func (p *pgvectorIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM semantic_index WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	return nil
}

func (p *pgvectorIndex) Close() error {
	p.pool.Close()
	return nil
}

var _ SemanticIndex = (*pgvectorIndex)(nil)
var _ SemanticIndex = (*chromemIndex)(nil)
var _ HotCache = (*ristrettoCache)(nil)
