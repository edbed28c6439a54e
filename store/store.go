// Package store persists validated annotations keyed by image content
// digest, schema version and model, so re-analyzing an unchanged image is a
// lookup instead of an OCR call. SQLite (embedded, WAL) is the default;
// a postgres:// DSN switches to PostgreSQL via pgx. The same store backs
// the server's recent-results listing.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/wudi/labelkit/observability"
	"github.com/wudi/labelkit/schema"
)

//go:embed schema.sql
var schemaFS embed.FS

// DefaultRecentLimit is used when Recent is called with a non-positive
// limit.
const DefaultRecentLimit = 20

// Entry is one persisted annotation with its cache key and write time.
type Entry struct {
	Digest     string             `json:"digest"`
	Version    schema.Version     `json:"-"`
	SchemaName string             `json:"schema_version"`
	Model      string             `json:"model,omitempty"`
	Annotation *schema.Annotation `json:"annotation"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Store is an annotation cache over database/sql. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
	log    observability.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log observability.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Open connects to the annotation store and creates its schema if absent.
// A postgres:// or postgresql:// DSN selects PostgreSQL; anything else is
// treated as a SQLite path. SQLite runs with WAL and foreign keys enabled.
func Open(dsn string, opts ...Option) (*Store, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "pgx"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Store{db: db, driver: driver, log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(s)
	}

	if driver == "sqlite" {
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
			}
		}
	}
	ddl, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}
	if _, err := db.Exec(string(ddl)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create store schema: %w", err)
	}
	s.log.Debug("annotation store ready", observability.String("driver", driver))
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Put stores or replaces the annotation for one digest, version and model.
func (s *Store) Put(ctx context.Context, version schema.Version, model, digest string, ann *schema.Annotation) error {
	if ann == nil {
		return fmt.Errorf("store: nil annotation")
	}
	record, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}
	query := s.rebind(`
		INSERT INTO annotations (digest, version, model, image_id, record, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (digest, version, model) DO UPDATE SET
			image_id   = excluded.image_id,
			record     = excluded.record,
			created_at = excluded.created_at
	`)
	_, err = s.db.ExecContext(ctx, query,
		digest, version.String(), model, ann.ImageID, string(record), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("store annotation: %w", err)
	}
	return nil
}

// Get looks up the annotation for one digest, version and model. A miss is
// (nil, false, nil), never an error.
func (s *Store) Get(ctx context.Context, version schema.Version, model, digest string) (*schema.Annotation, bool, error) {
	query := s.rebind(`
		SELECT record FROM annotations
		WHERE digest = ? AND version = ? AND model = ?
	`)
	var record string
	err := s.db.QueryRowContext(ctx, query, digest, version.String(), model).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load annotation: %w", err)
	}
	var ann schema.Annotation
	if err := json.Unmarshal([]byte(record), &ann); err != nil {
		return nil, false, fmt.Errorf("decode stored annotation: %w", err)
	}
	s.log.Debug("annotation cache hit",
		observability.String("digest", digest),
		observability.Int(observability.MetricCacheHits, 1))
	return &ann, true, nil
}

// Recent returns the most recently written entries, newest first. A
// non-positive limit uses DefaultRecentLimit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	query := s.rebind(`
		SELECT digest, version, model, record, created_at FROM annotations
		ORDER BY created_at DESC
		LIMIT ?
	`)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry     Entry
			record    string
			createdAt int64
		)
		if err := rows.Scan(&entry.Digest, &entry.SchemaName, &entry.Model, &record, &createdAt); err != nil {
			return nil, fmt.Errorf("scan annotation row: %w", err)
		}
		if v, err := schema.ParseVersion(entry.SchemaName); err == nil {
			entry.Version = v
		}
		var ann schema.Annotation
		if err := json.Unmarshal([]byte(record), &ann); err != nil {
			return nil, fmt.Errorf("decode stored annotation: %w", err)
		}
		entry.Annotation = &ann
		entry.CreatedAt = time.Unix(0, createdAt)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	return out, nil
}

// rebind rewrites ? placeholders into the $N form PostgreSQL expects.
// SQLite queries pass through unchanged.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
