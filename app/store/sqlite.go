package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("document not found")

// ErrConflict is returned when a write carries a stale or unexpected revision
var ErrConflict = errors.New("document revision conflict")

// Doc is a stored document. Body holds entity fields only, meta fields live in columns.
type Doc struct {
	ID        string
	Rev       string
	CreatedAt time.Time
	UpdatedAt time.Time
	Body      json.RawMessage
}

// Change is a change feed record
type Change struct {
	Seq        int64     `json:"seq"`
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Rev        string    `json:"rev"`
	Deleted    bool      `json:"deleted"`
	Remote     bool      `json:"remote"`
	ChangedAt  time.Time `json:"changedAt"`
}

// Guard is called before every write, a non-nil error aborts the write
type Guard func(ctx context.Context) error

// SQLite implements document persistence on top of SQLite
type SQLite struct {
	db    *sqlx.DB
	guard Guard
}

type docRow struct {
	ID        string `db:"id"`
	Rev       string `db:"rev"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	Body      []byte `db:"body"`
}

type changeRow struct {
	Seq        int64  `db:"seq"`
	Collection string `db:"collection"`
	ID         string `db:"id"`
	Rev        string `db:"rev"`
	Deleted    bool   `db:"deleted"`
	Remote     bool   `db:"remote"`
	ChangedAt  int64  `db:"changed_at"`
}

// migrations are applied in order, index+1 is the schema version
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			rev TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			body BLOB NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE TABLE IF NOT EXISTS changes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			rev TEXT NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT 0,
			changed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_collection ON changes(collection, seq)`,
	},
	{
		`ALTER TABLE changes ADD COLUMN remote BOOLEAN NOT NULL DEFAULT 0`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			remote TEXT NOT NULL,
			collection TEXT NOT NULL,
			direction TEXT NOT NULL,
			seq TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (remote, collection, direction)
		)`,
	},
}

// NewSQLite opens or creates the store at dbPath and applies pending migrations
func NewSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite allows a single writer, pragmas are per connection

	pragmas := []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA synchronous=NORMAL"}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to apply %q: %w (also failed to close db: %v)", p, err, closeErr)
			}
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to migrate: %w (also failed to close db: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// SetGuard sets a check called before every write
func (s *SQLite) SetGuard(g Guard) { s.guard = g }

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", version, err)
		}
		for _, q := range migrations[i] {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("failed to apply migration %d: %w", version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			version, time.Now().UnixNano()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
		log.Printf("[DEBUG] applied store migration %d", version)
	}
	return nil
}

// Put writes the document. Empty doc.Rev means the document must not exist yet,
// otherwise doc.Rev must match the stored revision. Returns the document with the new revision.
func (s *SQLite) Put(ctx context.Context, collection string, doc Doc) (Doc, error) {
	if doc.ID == "" {
		return Doc{}, fmt.Errorf("empty document id in %s", collection)
	}
	if err := s.checkGuard(ctx); err != nil {
		return Doc{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Doc{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var current string
	err = tx.GetContext(ctx, &current, "SELECT rev FROM documents WHERE collection = ? AND id = ?", collection, doc.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if doc.Rev != "" {
			return Doc{}, fmt.Errorf("put %s/%s with rev %s: %w", collection, doc.ID, doc.Rev, ErrConflict)
		}
	case err != nil:
		return Doc{}, fmt.Errorf("failed to load revision for %s/%s: %w", collection, doc.ID, err)
	case doc.Rev != current:
		return Doc{}, fmt.Errorf("put %s/%s with rev %q, current %q: %w", collection, doc.ID, doc.Rev, current, ErrConflict)
	}

	doc.Rev = NextRev(current, doc.Body)
	if err := s.upsert(ctx, tx, collection, doc); err != nil {
		return Doc{}, err
	}
	if err := s.recordChange(ctx, tx, collection, doc.ID, doc.Rev, false, false); err != nil {
		return Doc{}, err
	}
	if err := tx.Commit(); err != nil {
		return Doc{}, fmt.Errorf("failed to commit %s/%s: %w", collection, doc.ID, err)
	}
	return doc, nil
}

// PutReplicated stores a document received from a remote as-is, keeping its revision.
// deleted removes the local document. The change is marked as remote so it is not pushed back.
func (s *SQLite) PutReplicated(ctx context.Context, collection string, doc Doc, deleted bool) error {
	if err := s.checkGuard(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if deleted {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, doc.ID); err != nil {
			return fmt.Errorf("failed to delete replicated %s/%s: %w", collection, doc.ID, err)
		}
	} else if err := s.upsert(ctx, tx, collection, doc); err != nil {
		return err
	}
	if err := s.recordChange(ctx, tx, collection, doc.ID, doc.Rev, deleted, true); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replicated %s/%s: %w", collection, doc.ID, err)
	}
	return nil
}

// Get returns a document by id
func (s *SQLite) Get(ctx context.Context, collection, id string) (Doc, error) {
	var row docRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, rev, created_at, updated_at, body FROM documents WHERE collection = ? AND id = ?", collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{}, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Doc{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return row.toDoc(), nil
}

// Delete removes a document permanently and records a deletion in the change feed
func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var current string
	err = tx.GetContext(ctx, &current, "SELECT rev FROM documents WHERE collection = ? AND id = ?", collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load revision for %s/%s: %w", collection, id, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if err := s.recordChange(ctx, tx, collection, id, NextRev(current, nil), true, false); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// All returns every document in the collection ordered by creation time
func (s *SQLite) All(ctx context.Context, collection string) ([]Doc, error) {
	rows := []docRow{}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, rev, created_at, updated_at, body FROM documents WHERE collection = ? ORDER BY created_at, id", collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	res := make([]Doc, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.toDoc())
	}
	return res, nil
}

// Count returns number of documents in the collection
func (s *SQLite) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM documents WHERE collection = ?", collection); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// Changes returns change records with seq greater than since, oldest first.
// Empty collection means all collections, limit <= 0 means no limit.
func (s *SQLite) Changes(ctx context.Context, collection string, since int64, limit int) ([]Change, error) {
	query := "SELECT seq, collection, id, rev, deleted, remote, changed_at FROM changes WHERE seq > ?"
	args := []any{since}
	if collection != "" {
		query += " AND collection = ?"
		args = append(args, collection)
	}
	query += " ORDER BY seq"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows := []changeRow{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load changes since %d: %w", since, err)
	}
	res := make([]Change, 0, len(rows))
	for _, r := range rows {
		res = append(res, Change{Seq: r.Seq, Collection: r.Collection, ID: r.ID, Rev: r.Rev,
			Deleted: r.Deleted, Remote: r.Remote, ChangedAt: time.Unix(0, r.ChangedAt)})
	}
	return res, nil
}

// Revisions returns every revision the document had, newest first, taken from the change feed
func (s *SQLite) Revisions(ctx context.Context, collection, id string) ([]string, error) {
	res := []string{}
	err := s.db.SelectContext(ctx, &res,
		"SELECT rev FROM changes WHERE collection = ? AND id = ? ORDER BY seq DESC", collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load revisions of %s/%s: %w", collection, id, err)
	}
	return res, nil
}

// LastSeq returns the latest change sequence, 0 for an empty feed
func (s *SQLite) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.GetContext(ctx, &seq, "SELECT COALESCE(MAX(seq), 0) FROM changes"); err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	return seq, nil
}

// Checkpoint returns the saved replication position, empty string if none
func (s *SQLite) Checkpoint(ctx context.Context, remote, collection, direction string) (string, error) {
	var seq string
	err := s.db.GetContext(ctx, &seq,
		"SELECT seq FROM checkpoints WHERE remote = ? AND collection = ? AND direction = ?", remote, collection, direction)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get checkpoint %s/%s/%s: %w", remote, collection, direction, err)
	}
	return seq, nil
}

// SetCheckpoint saves the replication position
func (s *SQLite) SetCheckpoint(ctx context.Context, remote, collection, direction, seq string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints (remote, collection, direction, seq, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(remote, collection, direction) DO UPDATE SET seq = excluded.seq, updated_at = excluded.updated_at`,
		remote, collection, direction, seq, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set checkpoint %s/%s/%s: %w", remote, collection, direction, err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) checkGuard(ctx context.Context) error {
	if s.guard == nil {
		return nil
	}
	return s.guard(ctx)
}

func (s *SQLite) upsert(ctx context.Context, tx *sqlx.Tx, collection string, doc Doc) error {
	body := doc.Body
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO documents (collection, id, rev, created_at, updated_at, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET rev = excluded.rev, updated_at = excluded.updated_at, body = excluded.body`,
		collection, doc.ID, doc.Rev, doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano(), []byte(body))
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, doc.ID, err)
	}
	return nil
}

func (s *SQLite) recordChange(ctx context.Context, tx *sqlx.Tx, collection, id, rev string, deleted, remote bool) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO changes (collection, id, rev, deleted, remote, changed_at) VALUES (?, ?, ?, ?, ?, ?)",
		collection, id, rev, deleted, remote, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record change for %s/%s: %w", collection, id, err)
	}
	return nil
}

func (r docRow) toDoc() Doc {
	return Doc{ID: r.ID, Rev: r.Rev, CreatedAt: time.Unix(0, r.CreatedAt), UpdatedAt: time.Unix(0, r.UpdatedAt),
		Body: json.RawMessage(r.Body)}
}

// NextRev makes the revision following prev for the given body, in "<generation>-<hash>" form
func NextRev(prev string, body []byte) string {
	h := sha256.Sum256(append([]byte(prev), body...))
	return strconv.Itoa(RevGeneration(prev)+1) + "-" + hex.EncodeToString(h[:16])
}

// RevGeneration returns the numeric generation of a revision, 0 for empty or malformed revisions
func RevGeneration(rev string) int {
	gen, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(gen)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
