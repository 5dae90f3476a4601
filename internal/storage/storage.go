// Package storage provides the pluggable backends behind the memory engine:
// a durable structured store, a hot key-value cache, a semantic vector index
// and an embedding client. The core packages hold only the interfaces defined
// here; concrete backends are picked by name from the registry at startup and
// injected explicitly, so nothing in the engine depends on a specific driver.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stellarlinkco/mnemo/internal/config"
)

var (
	// ErrNotFound reports that a record does not exist. Callers match it
	// with errors.Is; it is an answer, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable reports that a backend call failed or timed out.
	// Background passes log it and retry on their next tick.
	ErrUnavailable = errors.New("storage adapter unavailable")
)

// HotCache is the capability contract of the L1 tier backend.
type HotCache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte, ttl time.Duration)
	Delete(key string)
	Close()
}

// SemanticIndex is the capability contract of the vector backend used for
// relevance scoring. Implementations may keep deleted ids around; callers
// existence-check every returned id against the structured store.
type SemanticIndex interface {
	Upsert(ctx context.Context, id string, embedding []float32, metadata map[string]string) error
	Query(ctx context.Context, embedding []float32, k int) ([]Match, error)
	Delete(ctx context.Context, ids ...string) error
	Close() error
}

// Match is one ranked hit from a semantic index query.
type Match struct {
	ID         string
	Similarity float32
}

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Backends bundles the concrete adapters selected by configuration. Index and
// Embedder are nil when their backend is "none"; Hot is nil when the hot
// cache backend is "none".
type Backends struct {
	DB       *DB
	Hot      HotCache
	Index    SemanticIndex
	Embedder Embedder
}

type (
	structuredFactory func(ctx context.Context, cfg *config.Config) (*DB, error)
	hotCacheFactory   func(cfg *config.Config) (HotCache, error)
	semanticFactory   func(cfg *config.Config) (SemanticIndex, error)
)

var (
	structuredBackends = map[string]structuredFactory{
		"sqlite":   openSQLite,
		"postgres": openPostgres,
	}
	hotCacheBackends = map[string]hotCacheFactory{
		"ristretto": newRistrettoCache,
		"none":      func(*config.Config) (HotCache, error) { return nil, nil },
	}
	semanticBackends = map[string]semanticFactory{
		"chromem":  newChromemIndex,
		"pgvector": newPgvectorIndex,
		"none":     func(*config.Config) (SemanticIndex, error) { return nil, nil },
	}
)

// RegisterStructured adds a structured store backend under name. Intended for
// wiring alternative engines without touching the registry defaults.
func RegisterStructured(name string, factory func(ctx context.Context, cfg *config.Config) (*DB, error)) {
	structuredBackends[name] = factory
}

// RegisterHotCache adds a hot cache backend under name.
func RegisterHotCache(name string, factory func(cfg *config.Config) (HotCache, error)) {
	hotCacheBackends[name] = factory
}

// RegisterSemantic adds a semantic index backend under name.
func RegisterSemantic(name string, factory func(cfg *config.Config) (SemanticIndex, error)) {
	semanticBackends[name] = factory
}

// Open builds every configured backend. On failure it closes whatever was
// already opened and returns the error.
func Open(ctx context.Context, cfg *config.Config) (*Backends, error) {
	structured, ok := structuredBackends[cfg.Storage.Structured]
	if !ok {
		return nil, fmt.Errorf("unknown structured backend %q", cfg.Storage.Structured)
	}
	hot, ok := hotCacheBackends[cfg.Storage.HotCache]
	if !ok {
		return nil, fmt.Errorf("unknown hot cache backend %q", cfg.Storage.HotCache)
	}
	semantic, ok := semanticBackends[cfg.Storage.Semantic]
	if !ok {
		return nil, fmt.Errorf("unknown semantic backend %q", cfg.Storage.Semantic)
	}

	b := &Backends{}

	db, err := structured(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open structured store: %w", err)
	}
	b.DB = db

	if b.Hot, err = hot(cfg); err != nil {
		b.Close()
		return nil, fmt.Errorf("open hot cache: %w", err)
	}
	if b.Index, err = semantic(cfg); err != nil {
		b.Close()
		return nil, fmt.Errorf("open semantic index: %w", err)
	}
	b.Embedder = NewEmbedder(cfg.Storage.Embedding)

	return b, nil
}

// Close releases every open backend. Safe on a partially opened bundle.
func (b *Backends) Close() error {
	var firstErr error
	if b.Index != nil {
		if err := b.Index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.Hot != nil {
		b.Hot.Close()
	}
	if b.DB != nil {
		if err := b.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
