package tree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentic-research/dotted/internal/logging"
	"github.com/agentic-research/dotted/internal/pathcodec"
)

// Options configures a Service.
type Options struct {
	// Order sorts roots, siblings and children. Ties fall back to id.
	Order []Order
	// CounterCache keeps ChildrenCount up to date on creates and moves.
	CounterCache bool
}

// Service maintains dotted paths on top of a Store.
type Service struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

// New returns a Service over store. A nil logger discards output.
func New(store Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{store: store, opts: opts, logger: logger}
}

// Options returns the configuration the service was built with.
func (s *Service) Options() Options {
	return s.opts
}

// with returns a copy of s bound to a transaction store.
func (s *Service) with(tx Store) *Service {
	c := *s
	c.store = tx
	return &c
}

// Create persists a node and assigns its path in one transaction. It is
// the create pipeline a collaborator normally runs.
func (s *Service) Create(ctx context.Context, attrs Attributes) (*Node, error) {
	var created *Node
	err := s.store.Transaction(ctx, func(tx Store) error {
		n, err := tx.Create(ctx, attrs)
		if err != nil {
			return fmt.Errorf("create node: %w", err)
		}
		if err := s.with(tx).AssignPathOnCreate(ctx, n); err != nil {
			return err
		}
		created = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AssignPathOnCreate is the after-first-save hook. It builds and persists
// the path of n when n has none; a node that already has a path is left
// alone. On success n.Path holds the stored value.
func (s *Service) AssignPathOnCreate(ctx context.Context, n *Node) error {
	if n == nil || n.ID <= 0 {
		return fmt.Errorf("assign path: %w", pathcodec.ErrNoID)
	}
	if n.Path != "" {
		return nil
	}

	var path string
	err := s.store.Transaction(ctx, func(tx Store) error {
		t := s.with(tx)
		parentPath, err := t.parentPath(ctx, n.ParentID)
		if err != nil {
			return err
		}
		path, err = pathcodec.Build(n.ID, parentPath, n.ParentID != nil)
		if err != nil {
			return fmt.Errorf("assign path: %w", err)
		}
		if err := tx.UpdateAttribute(ctx, n.ID, FieldPath, path); err != nil {
			return fmt.Errorf("store path of %d: %w", n.ID, err)
		}
		if s.opts.CounterCache {
			return t.adjustChildrenCount(ctx, n.ParentID, 1)
		}
		return nil
	})
	if err != nil {
		return err
	}
	n.Path = path
	return nil
}

// Reparent moves n under newParentID (nil makes it a root) and repairs the
// paths of n and its subtree, all in one transaction.
func (s *Service) Reparent(ctx context.Context, n *Node, newParentID *int64) error {
	if n == nil || n.ID <= 0 {
		return fmt.Errorf("reparent: %w", pathcodec.ErrNoID)
	}
	moved := n.Clone()
	moved.ParentID = newParentID
	err := s.store.Transaction(ctx, func(tx Store) error {
		if err := tx.UpdateAttribute(ctx, n.ID, FieldParentID, newParentID); err != nil {
			return fmt.Errorf("store parent of %d: %w", n.ID, err)
		}
		return s.with(tx).RepairPathOnReparent(ctx, moved, n.ParentID)
	})
	if err != nil {
		return err
	}
	n.ParentID = moved.ParentID
	n.Path = moved.Path
	return nil
}

// RepairPathOnReparent is the after-update hook. n carries its new parent;
// oldParentID is the parent it had before the update. Nothing happens when
// the parent did not change. Otherwise the path of n is rebuilt and every
// descendant path is rewritten onto the new prefix. The cascade runs in a
// single transaction; any failure leaves every path as it was.
func (s *Service) RepairPathOnReparent(ctx context.Context, n *Node, oldParentID *int64) error {
	if n == nil || n.ID <= 0 {
		return fmt.Errorf("repair path: %w", pathcodec.ErrNoID)
	}
	if sameParent(n.ParentID, oldParentID) {
		return nil
	}
	if n.ParentID != nil && *n.ParentID == n.ID {
		return fmt.Errorf("node %d cannot be its own parent: %w", n.ID, ErrCycle)
	}

	oldPath := n.Path
	var newPath string
	err := s.store.Transaction(ctx, func(tx Store) error {
		t := s.with(tx)
		parentPath, err := t.parentPath(ctx, n.ParentID)
		if err != nil {
			return err
		}
		if oldPath != "" && n.ParentID != nil &&
			(parentPath == oldPath || pathcodec.IsAncestorPath(oldPath, parentPath)) {
			return fmt.Errorf("move %d under its descendant %d: %w", n.ID, *n.ParentID, ErrCycle)
		}
		newPath, err = pathcodec.Build(n.ID, parentPath, n.ParentID != nil)
		if err != nil {
			return fmt.Errorf("repair path: %w", err)
		}
		if err := tx.UpdateAttribute(ctx, n.ID, FieldPath, newPath); err != nil {
			return fmt.Errorf("store path of %d: %w", n.ID, err)
		}
		if s.opts.CounterCache {
			if err := t.adjustChildrenCount(ctx, oldParentID, -1); err != nil {
				return err
			}
			if err := t.adjustChildrenCount(ctx, n.ParentID, 1); err != nil {
				return err
			}
		}
		if oldPath == "" || oldPath == newPath {
			return nil
		}
		return t.cascade(ctx, oldPath, newPath)
	})
	if err != nil {
		return err
	}
	n.Path = newPath
	return nil
}

// cascade rewrites every strict descendant of oldPath onto newPath.
func (s *Service) cascade(ctx context.Context, oldPath, newPath string) error {
	descendants, err := s.store.FindAll(ctx, PathUnder(oldPath), Asc(FieldPath))
	if err != nil {
		return fmt.Errorf("load descendants of %q: %w", oldPath, err)
	}
	for _, d := range descendants {
		rewritten, err := pathcodec.RewritePrefix(oldPath, newPath, d.Path)
		if err != nil {
			return fmt.Errorf("descendant %d: %w", d.ID, err)
		}
		if err := s.store.UpdateAttribute(ctx, d.ID, FieldPath, rewritten); err != nil {
			return fmt.Errorf("store path of %d: %w", d.ID, err)
		}
	}
	s.logger.Debug("subtree repathed", "from", oldPath, "to", newPath, "descendants", len(descendants))
	return nil
}

// parentPath loads the path of the parent with this id. A nil id is a
// root and yields "".
func (s *Service) parentPath(ctx context.Context, parentID *int64) (string, error) {
	if parentID == nil {
		return "", nil
	}
	parent, err := s.store.FindOne(ctx, IDIs(*parentID))
	if err != nil {
		return "", fmt.Errorf("load parent %d: %w", *parentID, err)
	}
	if parent.Path == "" {
		return "", fmt.Errorf("parent %d: %w", parent.ID, pathcodec.ErrParentUnpathed)
	}
	return parent.Path, nil
}

func (s *Service) adjustChildrenCount(ctx context.Context, parentID *int64, delta int) error {
	if parentID == nil {
		return nil
	}
	parent, err := s.store.FindOne(ctx, IDIs(*parentID))
	if err != nil {
		return fmt.Errorf("load parent %d: %w", *parentID, err)
	}
	count := max(parent.ChildrenCount+delta, 0)
	if err := s.store.UpdateAttribute(ctx, parent.ID, FieldChildrenCount, count); err != nil {
		return fmt.Errorf("store children count of %d: %w", parent.ID, err)
	}
	return nil
}
