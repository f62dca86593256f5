// Package docstore is a schemaless JSON document store on SQLite. Documents
// live in named collections, get server-generated ids, and carry a version
// that callers use for conditional writes. There are no multi-document
// transactions: every call touches exactly one document.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNoDocument      = errors.New("docstore: no such document")
	ErrVersionMismatch = errors.New("docstore: version mismatch")
	ErrDuplicate       = errors.New("docstore: unique constraint")
	ErrBadField        = errors.New("docstore: invalid field name")
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Store struct {
	db *sql.DB
}

// Open creates the database file (and its directory) when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			version    INTEGER NOT NULL,
			body       TEXT NOT NULL,
			UNIQUE (collection, id)
		);
	`)
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// Collection returns a handle; the name must be a plain identifier.
func (s *Store) Collection(name string) (*Collection, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: collection %q", ErrBadField, name)
	}
	return &Collection{db: s.db, name: name}, nil
}

type Collection struct {
	db   *sql.DB
	name string
}

type Document struct {
	ID      string
	Version int64
	Body    json.RawMessage
}

// Decode unmarshals the body into v.
func (d Document) Decode(v any) error { return json.Unmarshal(d.Body, v) }

// Cond is an equality test on a top-level field of the body.
type Cond struct {
	Field string
	Value any
}

type Query struct {
	Where   []Cond
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// EnsureUnique adds a unique index over one body field of this collection.
func (c *Collection) EnsureUnique(ctx context.Context, field string) error {
	if !namePattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrBadField, field)
	}
	stmt := fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_%s_%s ON documents (json_extract(body, '$.%s')) WHERE collection = '%s'`,
		c.name, field, field, c.name,
	)
	_, err := c.db.ExecContext(ctx, stmt)
	return err
}

func (c *Collection) Add(ctx context.Context, body any) (Document, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Document{}, err
	}
	doc := Document{ID: newID(), Version: 1, Body: raw}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, version, body) VALUES (?, ?, ?, ?)`,
		c.name, doc.ID, doc.Version, string(raw),
	)
	if err != nil {
		return Document{}, translate(err)
	}
	return doc, nil
}

func (c *Collection) Get(ctx context.Context, id string) (Document, error) {
	var (
		doc  = Document{ID: id}
		body string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT version, body FROM documents WHERE collection = ? AND id = ?`,
		c.name, id,
	).Scan(&doc.Version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNoDocument
	}
	if err != nil {
		return Document{}, err
	}
	doc.Body = json.RawMessage(body)
	return doc, nil
}

func (c *Collection) where(conds []Cond) (string, []any, error) {
	var (
		b    strings.Builder
		args = []any{c.name}
	)
	b.WriteString(` WHERE collection = ?`)
	for _, cond := range conds {
		if !namePattern.MatchString(cond.Field) {
			return "", nil, fmt.Errorf("%w: %q", ErrBadField, cond.Field)
		}
		fmt.Fprintf(&b, ` AND json_extract(body, '$.%s') = ?`, cond.Field)
		args = append(args, sqlValue(cond.Value))
	}
	return b.String(), args, nil
}

// Count returns how many documents match every condition.
func (c *Collection) Count(ctx context.Context, conds []Cond) (int, error) {
	clause, args, err := c.where(conds)
	if err != nil {
		return 0, err
	}
	var n int
	err = c.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`+clause, args...).Scan(&n)
	return n, err
}

// Query returns matching documents in the requested order. Ties, and the
// default order, follow insertion.
func (c *Collection) Query(ctx context.Context, q Query) ([]Document, error) {
	clause, args, err := c.where(q.Where)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(`SELECT id, version, body FROM documents` + clause)

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	if q.OrderBy != "" {
		if !namePattern.MatchString(q.OrderBy) {
			return nil, fmt.Errorf("%w: %q", ErrBadField, q.OrderBy)
		}
		fmt.Fprintf(&b, ` ORDER BY json_extract(body, '$.%s') %s, seq %s`, q.OrderBy, dir, dir)
	} else {
		fmt.Fprintf(&b, ` ORDER BY seq %s`, dir)
	}
	switch {
	case q.Limit > 0:
		fmt.Fprintf(&b, ` LIMIT %d OFFSET %d`, q.Limit, q.Offset)
	case q.Offset > 0:
		fmt.Fprintf(&b, ` LIMIT -1 OFFSET %d`, q.Offset)
	}

	rows, err := c.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Document{}
	for rows.Next() {
		var (
			doc  Document
			body string
		)
		if err := rows.Scan(&doc.ID, &doc.Version, &body); err != nil {
			return nil, err
		}
		doc.Body = json.RawMessage(body)
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Update replaces the body only while the stored version equals
// ifVersion, and bumps the version. A concurrent writer makes it return
// ErrVersionMismatch.
func (c *Collection) Update(ctx context.Context, id string, body any, ifVersion int64) (Document, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Document{}, err
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE documents SET body = ?, version = version + 1 WHERE collection = ? AND id = ? AND version = ?`,
		string(raw), c.name, id, ifVersion,
	)
	if err != nil {
		return Document{}, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Document{}, err
	}
	if n == 0 {
		if _, err := c.Get(ctx, id); err != nil {
			return Document{}, err
		}
		return Document{}, ErrVersionMismatch
	}
	return Document{ID: id, Version: ifVersion + 1, Body: raw}, nil
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, c.name, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoDocument
	}
	return nil
}

// sqlValue maps Go values onto what json_extract yields for the same JSON.
func sqlValue(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case fmt.Stringer:
		return t.String()
	}
	return v
}

func translate(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
