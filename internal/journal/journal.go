package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Source identifies which input produced an entry.
type Source string

const (
	SourceSeed    Source = "seed"
	SourceCreate  Source = "create"
	SourceChannel Source = "channel"
)

// Kind is what the merge did.
type Kind string

const (
	KindInsert    Kind = "insert"
	KindUpdate    Kind = "update"
	KindMalformed Kind = "malformed"
)

// Entry is one journal row.
type Entry struct {
	Seq           int64     `json:"seq"`
	Source        Source    `json:"source"`
	Kind          Kind      `json:"kind"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	Payload       string    `json:"payload"`
	Hash          string    `json:"hash,omitempty"`
	At            time.Time `json:"at"`
}

// Journal is the SQLite-backed log.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal at path and applies migrations.
// ":memory:" gives a private in-memory journal.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite has one writer; a single connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database. Safe on a nil journal.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("set up migrate driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("set up migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Append writes an entry. Seq is the engine's logical clock value and must be
// unique; a duplicate seq is ignored so a retried write is harmless.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO entries (seq, source, kind, transaction_id, status, payload, hash, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		e.Seq,
		string(e.Source),
		string(e.Kind),
		e.TransactionID,
		e.Status,
		e.Payload,
		e.Hash,
		e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append journal entry %d: %w", e.Seq, err)
	}
	return nil
}

// Filter narrows Read. Zero values match everything.
type Filter struct {
	TransactionID string
	Source        Source
	Limit         int
}

// Read returns entries in seq order.
func (j *Journal) Read(ctx context.Context, f Filter) ([]Entry, error) {
	query := `
		SELECT seq, source, kind, transaction_id, status, payload, hash, at
		FROM entries
		WHERE (? = '' OR transaction_id = ?)
		  AND (? = '' OR source = ?)
		ORDER BY seq ASC`
	args := []any{f.TransactionID, f.TransactionID, string(f.Source), string(f.Source)}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e            Entry
			source, kind string
			at           string
		)
		if err := rows.Scan(&e.Seq, &source, &kind, &e.TransactionID, &e.Status, &e.Payload, &e.Hash, &at); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Source = Source(source)
		e.Kind = Kind(kind)
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse journal time %q: %w", at, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest seq written, or 0 for an empty journal.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM entries").Scan(&seq); err != nil {
		return 0, fmt.Errorf("last journal seq: %w", err)
	}
	return seq.Int64, nil
}
