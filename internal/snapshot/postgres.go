package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL. Artifacts are rows
// in a single table keyed by name, so replicas behind the same database
// share one snapshot namespace.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL and ensures the artifacts table
// exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS artifacts (
			name       TEXT PRIMARY KEY,
			data       BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create artifacts table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Create returns a writer that buffers the artifact in memory and upserts
// it in a single statement on Close.
func (p *PostgresStore) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	if name == "" {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}
	return &pgArtifact{db: p.db, name: name}, nil
}

// Open returns a reader over the stored artifact bytes.
func (p *PostgresStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	query := `SELECT data FROM artifacts WHERE name = $1`

	var data []byte
	err := p.db.QueryRowContext(ctx, query, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// List returns all artifact names.
func (p *PostgresStore) List(ctx context.Context) ([]string, error) {
	query := `SELECT name FROM artifacts ORDER BY name`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan artifact name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close closes the database handle
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

type pgArtifact struct {
	db   *sql.DB
	name string
	buf  bytes.Buffer
}

func (a *pgArtifact) Write(p []byte) (int, error) {
	return a.buf.Write(p)
}

func (a *pgArtifact) Close() error {
	query := `
		INSERT INTO artifacts (name, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`

	if _, err := a.db.Exec(query, a.name, a.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	return nil
}
