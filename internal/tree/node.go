// Package tree maintains materialized (dotted) paths over a flat node
// store and answers ancestor, descendant and sibling queries from them.
//
// The store is an external collaborator reached only through the Store
// interface. Service owns the path algorithm: assigning a path after a
// node is first persisted, repairing a moved subtree, and rebuilding the
// whole forest.
package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when no node matches.
	ErrNotFound = errors.New("node not found")
	// ErrUnpathed is returned by path-based queries on a node whose path
	// has not been assigned. Run RebuildAll first.
	ErrUnpathed = errors.New("node has no path")
	// ErrCycle is returned when an operation would make a node its own
	// ancestor, or when traversal meets a node twice.
	ErrCycle = errors.New("parent cycle")
	// ErrInvalidValue is returned by UpdateAttribute for a value of the
	// wrong type for its field.
	ErrInvalidValue = errors.New("invalid attribute value")
)

// Field names a persisted node attribute. Stores map fields onto their
// own column names.
type Field string

const (
	FieldID            Field = "id"
	FieldParentID      Field = "parent_id"
	FieldPath          Field = "path"
	FieldName          Field = "name"
	FieldChildrenCount Field = "children_count"
)

// Node is one row of the tree.
type Node struct {
	ID       int64
	ParentID *int64 // nil for roots
	// Path is the dotted id chain from the root down to and including ID.
	// Empty until assigned.
	Path string
	Name string
	// ChildrenCount is only maintained when counter caching is enabled.
	ChildrenCount int
}

// Attributes are the caller-supplied fields of a node being created.
type Attributes struct {
	ParentID *int64
	Name     string
}

// IsRoot reports whether n has no parent.
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	return &c
}

// Set assigns value to the field f of n. Parent ids accept *int64, int64
// or nil; a non-positive int64 clears the parent.
func (n *Node) Set(f Field, value any) error {
	switch f {
	case FieldPath:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: %T: %w", f, value, ErrInvalidValue)
		}
		n.Path = s
	case FieldName:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: %T: %w", f, value, ErrInvalidValue)
		}
		n.Name = s
	case FieldChildrenCount:
		c, ok := value.(int)
		if !ok || c < 0 {
			return fmt.Errorf("%s: %v: %w", f, value, ErrInvalidValue)
		}
		n.ChildrenCount = c
	case FieldParentID:
		id, err := ParentValue(value)
		if err != nil {
			return err
		}
		n.ParentID = id
	default:
		return fmt.Errorf("field %q is not updatable: %w", f, ErrInvalidValue)
	}
	return nil
}

// ParentValue normalises a parent id attribute value.
func ParentValue(value any) (*int64, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *int64:
		if v == nil || *v <= 0 {
			return nil, nil
		}
		id := *v
		return &id, nil
	case int64:
		if v <= 0 {
			return nil, nil
		}
		return &v, nil
	default:
		return nil, fmt.Errorf("%s: %T: %w", FieldParentID, value, ErrInvalidValue)
	}
}

// ID returns a pointer to id, for use as a parent reference.
func ID(id int64) *int64 {
	return &id
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
