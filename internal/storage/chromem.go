package storage

import (
	"context"
	"fmt"
	"log"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/stellarlinkco/mnemo/internal/config"
)

const chromemCollection = "fragments"

// chromemIndex backs the semantic index with chromem-go, a pure Go embedded
// vector database. Embeddings are always supplied by the caller, so the
// collection carries no embedding function of its own.
type chromemIndex struct {
	col *chromem.Collection
}

func newChromemIndex(cfg *config.Config) (SemanticIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path := strings.TrimSpace(cfg.Storage.IndexPath); path != "" {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(chromemCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create chromem collection: %w", err)
	}
	return &chromemIndex{col: col}, nil
}

func (c *chromemIndex) Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]string) error {
	doc := chromem.Document{
		ID:        id,
		Embedding: embedding,
		Metadata:  metadata,
	}
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (c *chromemIndex) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	// chromem requires nResults <= collection size; shrink until it fits.
	var results []chromem.Result
	for limit := k; limit >= 1; limit-- {
		var err error
		results, err = c.col.QueryEmbedding(ctx, embedding, limit, nil, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{ID: r.ID, Similarity: r.Similarity})
	}
	return matches, nil
}

// Delete is a no-op: chromem does not expose deletion by id. Stale entries
// are harmless because every queried id is existence-checked against the
// structured store before use.
func (c *chromemIndex) Delete(_ context.Context, ids ...string) error {
	if len(ids) > 0 {
		log.Printf("[storage] chromem: leaving %d evicted vectors in place", len(ids))
	}
	return nil
}

func (c *chromemIndex) Close() error {
	return nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
