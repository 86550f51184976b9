package cmd

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/ohler55/ojg/oj"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type harness struct {
	t      *testing.T
	dir    string
	dbPath string
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{t: t, dir: dir, dbPath: filepath.Join(dir, "data", "tree.db")}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	base := []string{"--config", filepath.Join(h.dir, "missing.hcl"), "--db", h.dbPath}
	root.SetArgs(append(base, args...))
	err := root.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "dotted %v", args)
	return out
}

func TestInit_CreatesDatabase(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("init")
	assert.Equal(t, "table nodes ready (parent column parent_id)\n", out)
	assert.FileExists(t, h.dbPath)
}

func TestAddMoveShow(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, "1\t1\n", h.mustRun("add", "a"))
	assert.Equal(t, "2\t1.2\n", h.mustRun("add", "b", "--parent", "1"))
	assert.Equal(t, "3\t1.2.3\n", h.mustRun("add", "c", "-p", "2"))
	assert.Equal(t, "4\t4\n", h.mustRun("add", "d"))

	assert.Equal(t, "2\t4.2\n", h.mustRun("move", "2", "--parent", "4"))

	raw := h.mustRun("show", "3")
	parsed, err := oj.ParseString(raw)
	require.NoError(t, err)
	doc, ok := parsed.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "4.2.3", doc["path"])
	assert.Equal(t, "c", doc["name"])
	assert.Equal(t, int64(2), doc["parent_id"])
	assert.Equal(t, int64(2), doc["depth"])
	assert.Equal(t, []any{int64(2), int64(4)}, doc["ancestors"])
	assert.Equal(t, []any{}, doc["children"])

	list := h.mustRun("list")
	assert.Equal(t, "a [1] 1\nd [4] 4\n  b [2] 4.2\n    c [3] 4.2.3\n", list)

	assert.Equal(t, "ok\n", h.mustRun("check"))
}

func TestMove_ToRoot(t *testing.T) {
	h := newHarness(t)
	h.mustRun("add", "a")
	h.mustRun("add", "b", "-p", "1")
	h.mustRun("add", "c", "-p", "2")

	assert.Equal(t, "2\t2\n", h.mustRun("move", "2"))
	assert.Equal(t, "a [1] 1\nb [2] 2\n  c [3] 2.3\n", h.mustRun("list"))
}

func TestMove_RejectsCycle(t *testing.T) {
	h := newHarness(t)
	h.mustRun("add", "a")
	h.mustRun("add", "b", "-p", "1")

	_, err := h.run("move", "1", "--parent", "2")
	require.Error(t, err)

	assert.Equal(t, "a [1] 1\n  b [2] 1.2\n", h.mustRun("list"))
}

func TestCommands_RejectBadInput(t *testing.T) {
	h := newHarness(t)
	h.mustRun("add", "a")

	tests := [][]string{
		{"show", "x"},
		{"show", "0"},
		{"show", "99"},
		{"move", "99", "-p", "1"},
		{"add", "b", "-p", "42"},
		{"add"},
	}
	for _, args := range tests {
		_, err := h.run(args...)
		assert.Error(t, err, "dotted %v", args)
	}
}

func TestCheckAndRebuild(t *testing.T) {
	h := newHarness(t)
	h.mustRun("add", "a")
	h.mustRun("add", "b", "-p", "1")
	h.mustRun("add", "c", "-p", "2")

	db, err := sql.Open("sqlite", h.dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE nodes SET path = '9.9' WHERE id = 3`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO nodes (parent_id, path, name, children_count) VALUES (2, '', 'e', 0)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := h.run("check")
	require.Error(t, err)
	assert.Contains(t, out, "node 3")
	assert.Contains(t, out, "node 4")

	assert.Equal(t, "repathed 4 nodes\n", h.mustRun("rebuild"))
	assert.Equal(t, "ok\n", h.mustRun("check"))
	assert.Equal(t, "a [1] 1\n  b [2] 1.2\n    c [3] 1.2.3\n    e [4] 1.2.4\n", h.mustRun("list"))
}
