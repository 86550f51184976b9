package tree

import (
	"context"
	"fmt"

	"github.com/agentic-research/dotted/internal/pathcodec"
)

// Roots returns every node without a parent, in configured order.
func (s *Service) Roots(ctx context.Context) ([]*Node, error) {
	return s.store.FindAll(ctx, ParentIs{}, s.opts.Order...)
}

// FirstRoot returns the first root in configured order, or ErrNotFound
// for an empty forest.
func (s *Service) FirstRoot(ctx context.Context) (*Node, error) {
	return s.store.FindOne(ctx, ParentIs{}, s.opts.Order...)
}

// Get loads the node with this id.
func (s *Service) Get(ctx context.Context, id int64) (*Node, error) {
	return s.store.FindOne(ctx, IDIs(id))
}

// Parent returns the parent of n, or nil for a root.
func (s *Service) Parent(ctx context.Context, n *Node) (*Node, error) {
	if n.ParentID == nil {
		return nil, nil
	}
	return s.store.FindOne(ctx, IDIs(*n.ParentID))
}

// Children returns the direct children of n in configured order.
func (s *Service) Children(ctx context.Context, n *Node) ([]*Node, error) {
	return s.store.FindAll(ctx, ParentIs{ID: &n.ID}, s.opts.Order...)
}

// Ancestors returns the ancestors of n, parent first and root last. Pathed
// nodes are answered with one query; unpathed ones walk parent links.
func (s *Service) Ancestors(ctx context.Context, n *Node) ([]*Node, error) {
	if n.Path == "" {
		return s.walkParents(ctx, n)
	}
	ids, err := pathcodec.AncestorIDs(n.Path)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Node{}, nil
	}
	return s.store.FindAll(ctx, IDIn(ids), Desc(FieldPath))
}

// SelfAndAncestors returns n followed by its ancestors.
func (s *Service) SelfAndAncestors(ctx context.Context, n *Node) ([]*Node, error) {
	ancestors, err := s.Ancestors(ctx, n)
	if err != nil {
		return nil, err
	}
	return append([]*Node{n}, ancestors...), nil
}

// Root returns the root of the tree n belongs to. A root is its own root.
func (s *Service) Root(ctx context.Context, n *Node) (*Node, error) {
	if n.Path == "" {
		ancestors, err := s.walkParents(ctx, n)
		if err != nil {
			return nil, err
		}
		if len(ancestors) == 0 {
			return n, nil
		}
		return ancestors[len(ancestors)-1], nil
	}
	rootID, err := pathcodec.RootID(n.Path)
	if err != nil {
		return nil, err
	}
	if rootID == n.ID {
		return n, nil
	}
	return s.store.FindOne(ctx, IDIs(rootID))
}

// Siblings returns the nodes sharing the parent of n, excluding n.
func (s *Service) Siblings(ctx context.Context, n *Node) ([]*Node, error) {
	return s.store.FindAll(ctx, And{ParentIs{ID: n.ParentID}, Not{IDIs(n.ID)}}, s.opts.Order...)
}

// SelfAndSiblings returns the nodes sharing the parent of n, including n.
func (s *Service) SelfAndSiblings(ctx context.Context, n *Node) ([]*Node, error) {
	return s.store.FindAll(ctx, ParentIs{ID: n.ParentID}, s.opts.Order...)
}

// Depth returns the number of ancestors of n; roots have depth 0.
func (s *Service) Depth(n *Node) (int, error) {
	if n.Path == "" {
		return 0, fmt.Errorf("depth of %d: %w", n.ID, ErrUnpathed)
	}
	return pathcodec.Depth(n.Path), nil
}

// AllChildren returns the whole subtree below n, excluding n, ordered by
// path.
func (s *Service) AllChildren(ctx context.Context, n *Node) ([]*Node, error) {
	if n.Path == "" {
		return nil, fmt.Errorf("subtree of %d: %w", n.ID, ErrUnpathed)
	}
	return s.store.FindAll(ctx, PathUnder(n.Path), Asc(FieldPath))
}

// SelfAndAllChildren returns n followed by its whole subtree.
func (s *Service) SelfAndAllChildren(ctx context.Context, n *Node) ([]*Node, error) {
	children, err := s.AllChildren(ctx, n)
	if err != nil {
		return nil, err
	}
	return append([]*Node{n}, children...), nil
}

// AncestorOf reports whether a is a strict ancestor of b.
func (s *Service) AncestorOf(a, b *Node) (bool, error) {
	if a.Path == "" || b.Path == "" {
		return false, fmt.Errorf("compare %d and %d: %w", a.ID, b.ID, ErrUnpathed)
	}
	return pathcodec.IsAncestorPath(a.Path, b.Path), nil
}

// DescendantOf reports whether a is a strict descendant of b.
func (s *Service) DescendantOf(a, b *Node) (bool, error) {
	return s.AncestorOf(b, a)
}

// walkParents follows parent links from n up to its root, one lookup per
// level.
func (s *Service) walkParents(ctx context.Context, n *Node) ([]*Node, error) {
	seen := map[int64]struct{}{n.ID: {}}
	var out []*Node
	for cur := n; cur.ParentID != nil; {
		if _, ok := seen[*cur.ParentID]; ok {
			return nil, fmt.Errorf("walk parents of %d: %w", n.ID, ErrCycle)
		}
		parent, err := s.store.FindOne(ctx, IDIs(*cur.ParentID))
		if err != nil {
			return nil, fmt.Errorf("parent %d of %d: %w", *cur.ParentID, cur.ID, err)
		}
		seen[parent.ID] = struct{}{}
		out = append(out, parent)
		cur = parent
	}
	if out == nil {
		out = []*Node{}
	}
	return out, nil
}
