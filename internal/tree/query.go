package tree

import (
	"cmp"
	"slices"
	"strings"

	"github.com/agentic-research/dotted/internal/pathcodec"
)

// Predicate selects nodes. Stores translate the concrete types below into
// their own query language; Match is the reference semantics and is what
// in-memory stores evaluate directly.
type Predicate interface {
	Match(n *Node) bool
}

// All matches every node.
type All struct{}

// IDIs matches the node with this id.
type IDIs int64

// IDIn matches nodes whose id is in the set.
type IDIn []int64

// ParentIs matches the direct children of ID, or roots when ID is nil.
type ParentIs struct {
	ID *int64
}

// PathUnder matches the strict descendants of the node whose path it
// holds, comparing whole segments.
type PathUnder string

// Not inverts P.
type Not struct {
	P Predicate
}

// And matches when every member matches. An empty And matches everything.
type And []Predicate

func (All) Match(*Node) bool { return true }

func (p IDIs) Match(n *Node) bool { return n.ID == int64(p) }

func (p IDIn) Match(n *Node) bool { return slices.Contains(p, n.ID) }

func (p ParentIs) Match(n *Node) bool { return sameParent(p.ID, n.ParentID) }

func (p PathUnder) Match(n *Node) bool { return pathcodec.IsAncestorPath(string(p), n.Path) }

func (p Not) Match(n *Node) bool { return !p.P.Match(n) }

func (p And) Match(n *Node) bool {
	for _, q := range p {
		if !q.Match(n) {
			return false
		}
	}
	return true
}

// Order is one sort key.
type Order struct {
	Field Field
	Desc  bool
}

// Asc sorts by f ascending.
func Asc(f Field) Order { return Order{Field: f} }

// Desc sorts by f descending.
func Desc(f Field) Order { return Order{Field: f, Desc: true} }

// Orderable reports whether f can be used as a sort key.
func Orderable(f Field) bool {
	switch f {
	case FieldID, FieldParentID, FieldPath, FieldName, FieldChildrenCount:
		return true
	}
	return false
}

// SortNodes sorts nodes by orders, breaking ties by ascending id.
func SortNodes(nodes []*Node, orders []Order) {
	slices.SortStableFunc(nodes, func(a, b *Node) int {
		for _, o := range orders {
			c := compareField(a, b, o.Field)
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func compareField(a, b *Node, f Field) int {
	switch f {
	case FieldID:
		return cmp.Compare(a.ID, b.ID)
	case FieldPath:
		return strings.Compare(a.Path, b.Path)
	case FieldName:
		return strings.Compare(a.Name, b.Name)
	case FieldChildrenCount:
		return cmp.Compare(a.ChildrenCount, b.ChildrenCount)
	case FieldParentID:
		// NULLs first, as SQLite sorts them.
		switch {
		case a.ParentID == nil && b.ParentID == nil:
			return 0
		case a.ParentID == nil:
			return -1
		case b.ParentID == nil:
			return 1
		}
		return cmp.Compare(*a.ParentID, *b.ParentID)
	}
	return 0
}
