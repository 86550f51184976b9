// Package sqlitestore persists tree nodes in a single SQLite table.
//
// Table layout (names configurable through Schema):
//
//	nodes(id INTEGER PRIMARY KEY, parent_id INTEGER NULL, path TEXT,
//	      name TEXT, children_count INTEGER)
//
// Typed tree predicates are compiled into parameterised WHERE clauses.
// Descendant lookups use LIKE on the separator-terminated path prefix,
// backed by an index on path.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/agentic-research/dotted/internal/logging"
	"github.com/agentic-research/dotted/internal/pathcodec"
	"github.com/agentic-research/dotted/internal/tree"
	_ "modernc.org/sqlite"
)

// ErrUnsupportedPredicate is returned for predicate types the store cannot
// translate to SQL.
var ErrUnsupportedPredicate = errors.New("unsupported predicate")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Schema names the table and parent column.
type Schema struct {
	Table        string // default "nodes"
	ParentColumn string // default "parent_id"
}

func (s Schema) withDefaults() Schema {
	if s.Table == "" {
		s.Table = "nodes"
	}
	if s.ParentColumn == "" {
		s.ParentColumn = string(tree.FieldParentID)
	}
	return s
}

// Validate checks that both names are plain SQL identifiers.
func (s Schema) Validate() error {
	s = s.withDefaults()
	for _, name := range []string{s.Table, s.ParentColumn} {
		if !identRe.MatchString(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	switch s.ParentColumn {
	case "id", "path", "name", "children_count":
		return fmt.Errorf("parent column %q collides with a built-in column", s.ParentColumn)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a tree.Store over SQLite. Values returned by Transaction are
// bound to the open *sql.Tx.
type Store struct {
	db     *sql.DB
	q      querier
	inTx   bool
	schema Schema
	logger *slog.Logger
}

// Open opens (creating if needed) the database at dsn and ensures the
// node table and its indexes exist.
func Open(ctx context.Context, dsn string, schema Schema, logger *slog.Logger) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	schema = schema.withDefaults()
	if logger == nil {
		logger = logging.Discard()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// One connection: pragmas apply to every statement, ":memory:" stays a
	// single database, and writers are serialised.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, q: db, schema: schema, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("sqlite store opened", "dsn", dsn, "table", schema.Table)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	t, p := s.schema.Table, s.schema.ParentColumn
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		%[2]s INTEGER REFERENCES %[1]s(id),
		path TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		children_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_path ON %[1]s(path);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_%[2]s ON %[1]s(%[2]s);
	`, t, p)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Schema returns the resolved table layout.
func (s *Store) Schema() Schema {
	return s.schema
}

func (s *Store) selectSQL() string {
	return fmt.Sprintf("SELECT id, %s, path, name, children_count FROM %s", s.schema.ParentColumn, s.schema.Table)
}

func (s *Store) FindAll(ctx context.Context, p tree.Predicate, orders ...tree.Order) ([]*tree.Node, error) {
	return s.find(ctx, p, orders, 0)
}

func (s *Store) FindOne(ctx context.Context, p tree.Predicate, orders ...tree.Order) (*tree.Node, error) {
	nodes, err := s.find(ctx, p, orders, 1)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, tree.ErrNotFound
	}
	return nodes[0], nil
}

func (s *Store) find(ctx context.Context, p tree.Predicate, orders []tree.Order, limit int) ([]*tree.Node, error) {
	where, args, err := s.compile(p)
	if err != nil {
		return nil, err
	}
	orderBy, err := s.orderBy(orders)
	if err != nil {
		return nil, err
	}
	query := s.selectSQL() + " WHERE " + where + " ORDER BY " + orderBy
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*tree.Node{}
	for rows.Next() {
		var (
			n      tree.Node
			parent sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &parent, &n.Path, &n.Name, &n.ChildrenCount); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if parent.Valid {
			n.ParentID = tree.ID(parent.Int64)
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, attrs tree.Attributes) (*tree.Node, error) {
	parent, err := tree.ParentValue(attrs.ParentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkExists(ctx, parent); err != nil {
		return nil, err
	}
	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s, name) VALUES (?, ?)", s.schema.Table, s.schema.ParentColumn),
		nullable(parent), attrs.Name)
	if err != nil {
		return nil, fmt.Errorf("insert node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &tree.Node{ID: id, ParentID: parent, Name: attrs.Name}, nil
}

func (s *Store) UpdateAttribute(ctx context.Context, id int64, f tree.Field, value any) error {
	var probe tree.Node
	if err := probe.Set(f, value); err != nil {
		return err
	}

	var arg any
	switch f {
	case tree.FieldPath:
		arg = probe.Path
	case tree.FieldName:
		arg = probe.Name
	case tree.FieldChildrenCount:
		arg = probe.ChildrenCount
	case tree.FieldParentID:
		if err := s.checkExists(ctx, probe.ParentID); err != nil {
			return err
		}
		arg = nullable(probe.ParentID)
	}

	col, _ := s.column(f)
	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s = ? WHERE id = ?", s.schema.Table, col), arg, id)
	if err != nil {
		return fmt.Errorf("update %s of %d: %w", f, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update %d: %w", id, tree.ErrNotFound)
	}
	return nil
}

// Transaction runs work inside a database transaction, committing when it
// returns nil. Inside a transaction it joins the open one.
func (s *Store) Transaction(ctx context.Context, work func(tx tree.Store) error) error {
	if s.inTx {
		return work(s)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	txs := &Store{db: s.db, q: sqlTx, inTx: true, schema: s.schema, logger: s.logger}
	if err := work(txs); err != nil {
		s.logger.Debug("transaction rolled back", "error", err)
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) checkExists(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	var one int
	err := s.q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", s.schema.Table), *id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("parent %d: %w", *id, tree.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("look up %d: %w", *id, err)
	}
	return nil
}

func (s *Store) column(f tree.Field) (string, bool) {
	switch f {
	case tree.FieldID, tree.FieldPath, tree.FieldName, tree.FieldChildrenCount:
		return string(f), true
	case tree.FieldParentID:
		return s.schema.ParentColumn, true
	}
	return "", false
}

func (s *Store) compile(p tree.Predicate) (string, []any, error) {
	switch v := p.(type) {
	case tree.All:
		return "1 = 1", nil, nil
	case tree.IDIs:
		return "id = ?", []any{int64(v)}, nil
	case tree.IDIn:
		if len(v) == 0 {
			return "0 = 1", nil, nil
		}
		args := make([]any, len(v))
		for i, id := range v {
			args[i] = id
		}
		return "id IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(v)), ", ") + ")", args, nil
	case tree.ParentIs:
		if v.ID == nil {
			return s.schema.ParentColumn + " IS NULL", nil, nil
		}
		return s.schema.ParentColumn + " = ?", []any{*v.ID}, nil
	case tree.PathUnder:
		if v == "" {
			return "0 = 1", nil, nil
		}
		return `path LIKE ? ESCAPE '\'`, []any{pathcodec.PrefixPattern(string(v))}, nil
	case tree.Not:
		inner, args, err := s.compile(v.P)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", args, nil
	case tree.And:
		if len(v) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(v))
		var args []any
		for _, q := range v {
			clause, a, err := s.compile(q)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "("+clause+")")
			args = append(args, a...)
		}
		return strings.Join(parts, " AND "), args, nil
	}
	return "", nil, fmt.Errorf("%T: %w", p, ErrUnsupportedPredicate)
}

func (s *Store) orderBy(orders []tree.Order) (string, error) {
	parts := make([]string, 0, len(orders)+1)
	for _, o := range orders {
		col, ok := s.column(o.Field)
		if !ok {
			return "", fmt.Errorf("cannot order by %q: %w", o.Field, tree.ErrInvalidValue)
		}
		if o.Desc {
			col += " DESC"
		}
		parts = append(parts, col)
	}
	parts = append(parts, "id")
	return strings.Join(parts, ", "), nil
}

func nullable(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

var _ tree.Store = (*Store)(nil)
