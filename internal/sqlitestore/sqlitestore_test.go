package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/agentic-research/dotted/internal/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, schema Schema) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tree.db")
	s, err := Open(context.Background(), dbPath, schema, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// insertRaw writes a row directly, bypassing path assignment.
func insertRaw(t *testing.T, s *Store, id int64, parent *int64, path, name string) {
	t.Helper()
	_, err := s.db.Exec(
		fmt.Sprintf("INSERT INTO %s (id, %s, path, name) VALUES (?, ?, ?, ?)", s.schema.Table, s.schema.ParentColumn),
		id, nullable(parent), path, name)
	require.NoError(t, err)
}

func pathsOf(t *testing.T, s *Store) map[int64]string {
	t.Helper()
	all, err := s.FindAll(context.Background(), tree.All{})
	require.NoError(t, err)
	out := make(map[int64]string, len(all))
	for _, n := range all {
		out[n.ID] = n.Path
	}
	return out
}

func TestSchema_Validate(t *testing.T) {
	assert.NoError(t, Schema{}.Validate())
	assert.NoError(t, Schema{Table: "categories", ParentColumn: "category_id"}.Validate())
	assert.Error(t, Schema{Table: "nodes; DROP TABLE x"}.Validate())
	assert.Error(t, Schema{ParentColumn: "path"}.Validate())
}

func TestOpen_RejectsBadSchema(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "x.db"), Schema{Table: "1bad"}, nil)
	assert.Error(t, err)
}

func TestStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Schema{})

	root, err := s.Create(ctx, tree.Attributes{Name: "root"})
	require.NoError(t, err)
	child, err := s.Create(ctx, tree.Attributes{Name: "child", ParentID: tree.ID(root.ID)})
	require.NoError(t, err)

	got, err := s.FindOne(ctx, tree.IDIs(child.ID))
	require.NoError(t, err)
	assert.Equal(t, "child", got.Name)
	require.NotNil(t, got.ParentID)
	assert.Equal(t, root.ID, *got.ParentID)
	assert.Empty(t, got.Path)

	roots, err := s.FindAll(ctx, tree.ParentIs{})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Nil(t, roots[0].ParentID)

	_, err = s.FindOne(ctx, tree.IDIs(99))
	assert.ErrorIs(t, err, tree.ErrNotFound)

	_, err = s.Create(ctx, tree.Attributes{ParentID: tree.ID(99)})
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

func TestStore_UpdateAttribute(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Schema{})
	insertRaw(t, s, 1, nil, "1", "a")
	insertRaw(t, s, 2, nil, "", "b")

	require.NoError(t, s.UpdateAttribute(ctx, 2, tree.FieldParentID, tree.ID(1)))
	require.NoError(t, s.UpdateAttribute(ctx, 2, tree.FieldPath, "1.2"))
	require.NoError(t, s.UpdateAttribute(ctx, 1, tree.FieldChildrenCount, 1))
	require.NoError(t, s.UpdateAttribute(ctx, 2, tree.FieldName, "renamed"))

	n, err := s.FindOne(ctx, tree.IDIs(2))
	require.NoError(t, err)
	assert.Equal(t, "1.2", n.Path)
	assert.Equal(t, "renamed", n.Name)
	assert.Equal(t, int64(1), *n.ParentID)

	require.NoError(t, s.UpdateAttribute(ctx, 2, tree.FieldParentID, (*int64)(nil)))
	n, err = s.FindOne(ctx, tree.IDIs(2))
	require.NoError(t, err)
	assert.Nil(t, n.ParentID)

	assert.ErrorIs(t, s.UpdateAttribute(ctx, 9, tree.FieldPath, "9"), tree.ErrNotFound)
	assert.ErrorIs(t, s.UpdateAttribute(ctx, 2, tree.FieldParentID, tree.ID(9)), tree.ErrNotFound)
	assert.ErrorIs(t, s.UpdateAttribute(ctx, 2, tree.FieldChildrenCount, "x"), tree.ErrInvalidValue)
	assert.ErrorIs(t, s.UpdateAttribute(ctx, 2, tree.FieldID, int64(5)), tree.ErrInvalidValue)
}

func TestStore_PredicatesAndOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Schema{})
	insertRaw(t, s, 1, nil, "1", "m")
	insertRaw(t, s, 2, tree.ID(1), "1.2", "z")
	insertRaw(t, s, 20, tree.ID(1), "1.20", "a")
	insertRaw(t, s, 21, tree.ID(20), "1.20.21", "b")
	insertRaw(t, s, 3, tree.ID(2), "1.2.3", "c")

	under, err := s.FindAll(ctx, tree.PathUnder("1.2"), tree.Asc(tree.FieldPath))
	require.NoError(t, err)
	require.Len(t, under, 1, "1.20 must not be selected as a descendant of 1.2")
	assert.Equal(t, int64(3), under[0].ID)

	kids, err := s.FindAll(ctx, tree.ParentIs{ID: tree.ID(1)}, tree.Asc(tree.FieldName))
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, int64(20), kids[0].ID)

	in, err := s.FindAll(ctx, tree.IDIn{1, 2, 20}, tree.Desc(tree.FieldPath))
	require.NoError(t, err)
	require.Len(t, in, 3)
	assert.Equal(t, []string{"1.20", "1.2", "1"}, []string{in[0].Path, in[1].Path, in[2].Path})

	none, err := s.FindAll(ctx, tree.IDIn{})
	require.NoError(t, err)
	assert.Empty(t, none)

	sibs, err := s.FindAll(ctx, tree.And{tree.ParentIs{ID: tree.ID(1)}, tree.Not{P: tree.IDIs(2)}})
	require.NoError(t, err)
	require.Len(t, sibs, 1)
	assert.Equal(t, int64(20), sibs[0].ID)

	_, err = s.FindAll(ctx, tree.All{}, tree.Asc("bogus"))
	assert.ErrorIs(t, err, tree.ErrInvalidValue)
}

type customPredicate struct{}

func (customPredicate) Match(*tree.Node) bool { return true }

func TestStore_UnsupportedPredicate(t *testing.T) {
	s := openTestStore(t, Schema{})
	_, err := s.FindAll(context.Background(), customPredicate{})
	assert.ErrorIs(t, err, ErrUnsupportedPredicate)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Schema{})
	insertRaw(t, s, 1, nil, "1", "a")

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx tree.Store) error {
		require.NoError(t, tx.UpdateAttribute(ctx, 1, tree.FieldPath, "changed"))
		return tx.Transaction(ctx, func(inner tree.Store) error {
			_, err := inner.Create(ctx, tree.Attributes{Name: "b"})
			require.NoError(t, err)
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, map[int64]string{1: "1"}, pathsOf(t, s))
}

func TestStore_CustomSchema(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Schema{Table: "categories", ParentColumn: "category_id"})
	svc := tree.New(s, tree.Options{}, nil)

	root, err := svc.Create(ctx, tree.Attributes{Name: "root"})
	require.NoError(t, err)
	child, err := svc.Create(ctx, tree.Attributes{Name: "child", ParentID: tree.ID(root.ID)})
	require.NoError(t, err)
	assert.Equal(t, "1.2", child.Path)

	var parent int64
	require.NoError(t, s.db.QueryRow("SELECT category_id FROM categories WHERE id = ?", child.ID).Scan(&parent))
	assert.Equal(t, root.ID, parent)
}

// The scenarios below drive tree.Service end to end through SQLite.

func TestService_FamilyScenario(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Schema{})
	svc := tree.New(s, tree.Options{}, nil)

	r, err := svc.Create(ctx, tree.Attributes{Name: "R"})
	require.NoError(t, err)
	c, err := svc.Create(ctx, tree.Attributes{Name: "C", ParentID: tree.ID(r.ID)})
	require.NoError(t, err)
	g, err := svc.Create(ctx, tree.Attributes{Name: "G", ParentID: tree.ID(c.ID)})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "1", 2: "1.2", 3: "1.2.3"}, pathsOf(t, s))

	ancestors, err := svc.Ancestors(ctx, g)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, c.ID, ancestors[0].ID)
	assert.Equal(t, r.ID, ancestors[1].ID)

	depth, err := svc.Depth(g)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	ok, err := svc.AncestorOf(r, g)
	require.NoError(t, err)
	assert.True(t, ok)

	r2, err := svc.Create(ctx, tree.Attributes{Name: "R2"})
	require.NoError(t, err)
	require.NoError(t, svc.Reparent(ctx, c, tree.ID(r2.ID)))
	assert.Equal(t, map[int64]string{1: "1", 2: "4.2", 3: "4.2.3", 4: "4"}, pathsOf(t, s))

	sub, err := svc.AllChildren(ctx, r)
	require.NoError(t, err)
	assert.Empty(t, sub)

	violations, err := svc.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestService_RejectedMoveRollsBackInSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Schema{})
	insertRaw(t, s, 1, nil, "1", "r")
	insertRaw(t, s, 2, tree.ID(1), "1.2", "c")
	insertRaw(t, s, 3, tree.ID(2), "1.2.3", "g")
	insertRaw(t, s, 4, nil, "4", "r2")
	svc := tree.New(s, tree.Options{}, nil)

	c, err := svc.Get(ctx, 2)
	require.NoError(t, err)
	// Move the node under its own child: rejected, nothing persisted.
	err = svc.Reparent(ctx, c, tree.ID(3))
	assert.ErrorIs(t, err, tree.ErrCycle)

	got, err := svc.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *got.ParentID)
	assert.Equal(t, map[int64]string{1: "1", 2: "1.2", 3: "1.2.3", 4: "4"}, pathsOf(t, s))
}

func TestService_RebuildAllInSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, Schema{})
	insertRaw(t, s, 1, nil, "", "a")
	insertRaw(t, s, 2, tree.ID(1), "", "b")
	insertRaw(t, s, 20, tree.ID(1), "", "c")
	insertRaw(t, s, 21, tree.ID(20), "", "d")
	insertRaw(t, s, 30, nil, "", "e")

	svc := tree.New(s, tree.Options{CounterCache: true}, nil)
	n, err := svc.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	want := map[int64]string{1: "1", 2: "1.2", 20: "1.20", 21: "1.20.21", 30: "30"}
	assert.Equal(t, want, pathsOf(t, s))

	root, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, root.ChildrenCount)

	// Boundary: the subtree of 2 does not include 20 or 21.
	two, err := svc.Get(ctx, 2)
	require.NoError(t, err)
	sub, err := svc.AllChildren(ctx, two)
	require.NoError(t, err)
	assert.Empty(t, sub)

	_, err = svc.RebuildAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, pathsOf(t, s))
}
