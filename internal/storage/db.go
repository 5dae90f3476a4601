package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/mnemo/internal/config"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "pgx"

	// TimeLayout is RFC 3339 with fixed-width nanoseconds. Every timestamp
	// is stored as UTC text in this layout so that lexicographic order in
	// SQL equals chronological order in both backends.
	TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// DB wraps the shared database handle with the driver it was opened on.
// Domain stores use Rebind to translate ? placeholders for Postgres.
type DB struct {
	*sql.DB
	driver string
}

func openSQLite(_ context.Context, cfg *config.Config) (*DB, error) {
	dbPath := cfg.Storage.DBPath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}

	return &DB{DB: db, driver: driverSQLite}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*DB, error) {
	dsn := strings.TrimSpace(cfg.Storage.PostgresDSN)
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend selected but no DSN configured")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &DB{DB: db, driver: driverPostgres}, nil
}

// Rebind rewrites ? placeholders to $1..$n for the Postgres driver. Queries
// must not contain a literal question mark outside placeholders.
func (d *DB) Rebind(query string) string {
	if d.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Placeholders returns a comma-joined list of n ? markers for IN clauses.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// Tolerate hand-written timestamps without padded nanoseconds.
		if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
			return t2, nil
		}
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
