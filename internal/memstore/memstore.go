// Package memstore is an in-memory tree.Store. Transactions work on a copy
// of the state that replaces the committed state only when the work
// succeeds.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentic-research/dotted/internal/tree"
)

type state struct {
	rows   map[int64]*tree.Node
	nextID int64
}

func newState() *state {
	return &state{rows: make(map[int64]*tree.Node), nextID: 1}
}

func (s *state) clone() *state {
	c := &state{rows: make(map[int64]*tree.Node, len(s.rows)), nextID: s.nextID}
	for id, n := range s.rows {
		c.rows[id] = n.Clone()
	}
	return c
}

// Store holds nodes in memory. It is safe for concurrent use; a running
// transaction excludes every other caller until it finishes.
type Store struct {
	mu   sync.RWMutex
	data *state
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// Seed inserts n as is, keeping its id and path. It is meant for loading
// fixtures, including unpathed or inconsistent ones.
func (s *Store) Seed(n *tree.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.rows[n.ID] = n.Clone()
	if n.ID >= s.data.nextID {
		s.data.nextID = n.ID + 1
	}
}

// Len returns the number of stored nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.rows)
}

func (s *Store) FindAll(ctx context.Context, p tree.Predicate, orders ...tree.Order) ([]*tree.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findAll(s.data, p, orders)
}

func (s *Store) FindOne(ctx context.Context, p tree.Predicate, orders ...tree.Order) (*tree.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findOne(s.data, p, orders)
}

func (s *Store) Create(ctx context.Context, attrs tree.Attributes) (*tree.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return create(s.data, attrs)
}

func (s *Store) UpdateAttribute(ctx context.Context, id int64, f tree.Field, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return update(s.data, id, f, value)
}

// Transaction runs work on a private copy of the state and commits it
// when work returns nil.
func (s *Store) Transaction(ctx context.Context, work func(tx tree.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := work(&txStore{data: working}); err != nil {
		return err
	}
	s.data = working
	return nil
}

// txStore is the view handed to transaction work. The owning Store's lock
// is held for its whole life.
type txStore struct {
	data *state
}

func (t *txStore) FindAll(ctx context.Context, p tree.Predicate, orders ...tree.Order) ([]*tree.Node, error) {
	return findAll(t.data, p, orders)
}

func (t *txStore) FindOne(ctx context.Context, p tree.Predicate, orders ...tree.Order) (*tree.Node, error) {
	return findOne(t.data, p, orders)
}

func (t *txStore) Create(ctx context.Context, attrs tree.Attributes) (*tree.Node, error) {
	return create(t.data, attrs)
}

func (t *txStore) UpdateAttribute(ctx context.Context, id int64, f tree.Field, value any) error {
	return update(t.data, id, f, value)
}

func (t *txStore) Transaction(ctx context.Context, work func(tx tree.Store) error) error {
	return work(t)
}

func findAll(st *state, p tree.Predicate, orders []tree.Order) ([]*tree.Node, error) {
	if err := checkOrders(orders); err != nil {
		return nil, err
	}
	out := []*tree.Node{}
	for _, n := range st.rows {
		if p.Match(n) {
			out = append(out, n.Clone())
		}
	}
	tree.SortNodes(out, orders)
	return out, nil
}

func findOne(st *state, p tree.Predicate, orders []tree.Order) (*tree.Node, error) {
	all, err := findAll(st, p, orders)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, tree.ErrNotFound
	}
	return all[0], nil
}

func create(st *state, attrs tree.Attributes) (*tree.Node, error) {
	parent, err := tree.ParentValue(attrs.ParentID)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		if _, ok := st.rows[*parent]; !ok {
			return nil, fmt.Errorf("parent %d: %w", *parent, tree.ErrNotFound)
		}
	}
	n := &tree.Node{ID: st.nextID, ParentID: parent, Name: attrs.Name}
	st.nextID++
	st.rows[n.ID] = n
	return n.Clone(), nil
}

func update(st *state, id int64, f tree.Field, value any) error {
	n, ok := st.rows[id]
	if !ok {
		return fmt.Errorf("update %d: %w", id, tree.ErrNotFound)
	}
	if f == tree.FieldParentID {
		parent, err := tree.ParentValue(value)
		if err != nil {
			return err
		}
		if parent != nil {
			if _, ok := st.rows[*parent]; !ok {
				return fmt.Errorf("parent %d: %w", *parent, tree.ErrNotFound)
			}
		}
	}
	return n.Set(f, value)
}

func checkOrders(orders []tree.Order) error {
	var bad []string
	for _, o := range orders {
		if !tree.Orderable(o.Field) {
			bad = append(bad, string(o.Field))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("cannot order by %s: %w", strings.Join(bad, ", "), tree.ErrInvalidValue)
	}
	return nil
}

var (
	_ tree.Store = (*Store)(nil)
	_ tree.Store = (*txStore)(nil)
)
