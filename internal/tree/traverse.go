package tree

import (
	"context"
	"fmt"
	"strconv"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/agentic-research/dotted/internal/pathcodec"
)

// VisitFunc is called once per node during a traversal. parent is nil for
// roots.
type VisitFunc func(n, parent *Node) error

// Traverse walks the forest depth first from the roots, visiting every
// node before its children. It follows parent links only and never reads
// paths, so it works on unpathed data.
func (s *Service) Traverse(ctx context.Context, fn VisitFunc) error {
	_, err := s.walk(ctx, fn)
	return err
}

func (s *Service) walk(ctx context.Context, fn VisitFunc) (*roaring64.Bitmap, error) {
	roots, err := s.Roots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roots: %w", err)
	}
	visited := roaring64.New()
	for _, r := range roots {
		if err := s.visit(ctx, r, nil, visited, fn); err != nil {
			return nil, err
		}
	}
	return visited, nil
}

func (s *Service) visit(ctx context.Context, n, parent *Node, visited *roaring64.Bitmap, fn VisitFunc) error {
	if visited.Contains(uint64(n.ID)) {
		return fmt.Errorf("node %d reached twice: %w", n.ID, ErrCycle)
	}
	visited.Add(uint64(n.ID))

	if err := fn(n, parent); err != nil {
		return err
	}
	children, err := s.Children(ctx, n)
	if err != nil {
		return fmt.Errorf("load children of %d: %w", n.ID, err)
	}
	for _, c := range children {
		if err := s.visit(ctx, c, n, visited, fn); err != nil {
			return err
		}
	}
	return nil
}

// RebuildAll recomputes the path of every node reachable from a root, in
// one transaction. Each node is cleared and reassigned from its parent's
// freshly built path, so the result does not depend on what was stored
// before. It returns the number of nodes repathed. On error nothing is
// changed.
func (s *Service) RebuildAll(ctx context.Context) (int, error) {
	var repathed, unreachable int
	err := s.store.Transaction(ctx, func(tx Store) error {
		t := s.with(tx)
		visited, err := t.walk(ctx, func(n, parent *Node) error {
			return t.rebuildNode(ctx, n, parent)
		})
		if err != nil {
			return err
		}
		all, err := tx.FindAll(ctx, All{})
		if err != nil {
			return fmt.Errorf("count nodes: %w", err)
		}
		repathed = int(visited.GetCardinality())
		unreachable = len(all) - repathed
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rebuild paths: %w", err)
	}
	if unreachable > 0 {
		s.logger.Warn("nodes unreachable from any root were not repathed", "count", unreachable)
	}
	s.logger.Info("paths rebuilt", "nodes", repathed)
	return repathed, nil
}

func (s *Service) rebuildNode(ctx context.Context, n, parent *Node) error {
	if err := s.store.UpdateAttribute(ctx, n.ID, FieldPath, ""); err != nil {
		return fmt.Errorf("clear path of %d: %w", n.ID, err)
	}
	n.Path = ""

	parentPath := ""
	if parent != nil {
		parentPath = parent.Path
	}
	path, err := pathcodec.Build(n.ID, parentPath, parent != nil)
	if err != nil {
		return fmt.Errorf("rebuild %d: %w", n.ID, err)
	}
	if err := s.store.UpdateAttribute(ctx, n.ID, FieldPath, path); err != nil {
		return fmt.Errorf("store path of %d: %w", n.ID, err)
	}
	n.Path = path

	if s.opts.CounterCache {
		children, err := s.store.FindAll(ctx, ParentIs{ID: &n.ID})
		if err != nil {
			return fmt.Errorf("count children of %d: %w", n.ID, err)
		}
		if len(children) != n.ChildrenCount {
			if err := s.store.UpdateAttribute(ctx, n.ID, FieldChildrenCount, len(children)); err != nil {
				return fmt.Errorf("store children count of %d: %w", n.ID, err)
			}
			n.ChildrenCount = len(children)
		}
	}
	return nil
}

// Violation describes one node whose stored path breaks the tree
// invariants.
type Violation struct {
	NodeID int64
	Path   string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("node %d (%q): %s", v.NodeID, v.Path, v.Reason)
}

// Verify checks every stored path against the parent links and returns
// the violations found, sorted by node id.
func (s *Service) Verify(ctx context.Context) ([]Violation, error) {
	all, err := s.store.FindAll(ctx, All{}, Asc(FieldID))
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	byID := make(map[int64]*Node, len(all))
	for _, n := range all {
		byID[n.ID] = n
	}

	var out []Violation
	report := func(n *Node, reason string) {
		out = append(out, Violation{NodeID: n.ID, Path: n.Path, Reason: reason})
	}
	for _, n := range all {
		if n.Path == "" {
			report(n, "no path")
			continue
		}
		if !pathcodec.Valid(n.Path) {
			report(n, "malformed path")
			continue
		}
		if last, _ := pathcodec.LastID(n.Path); last != n.ID {
			report(n, "path does not end with own id")
			continue
		}
		if n.ParentID == nil {
			if pathcodec.Depth(n.Path) != 0 {
				report(n, "root path has ancestors")
			}
			continue
		}
		parent, ok := byID[*n.ParentID]
		if !ok {
			report(n, "parent "+strconv.FormatInt(*n.ParentID, 10)+" does not exist")
			continue
		}
		if n.Path != pathcodec.DescendantPrefix(parent.Path)+strconv.FormatInt(n.ID, 10) {
			report(n, "path does not extend parent path "+strconv.Quote(parent.Path))
		}
	}
	return out, nil
}
