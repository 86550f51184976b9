// Package pathcodec builds and manipulates dotted paths ("1.3.7"), the
// materialized ancestor chain stored on every tree node.
//
// Everything here is pure string work. Nothing in this package knows how
// paths are stored or queried.
package pathcodec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Separator joins the id segments of a path.
const Separator = "."

var (
	// ErrNoID is returned when a path is requested for a node that has not
	// been persisted yet.
	ErrNoID = errors.New("node has no id")
	// ErrParentUnpathed is returned when the parent exists but its own path
	// has not been assigned, so the child path cannot be derived from it.
	ErrParentUnpathed = errors.New("parent has no path")
	// ErrPrefixMismatch signals a path that does not start with the prefix
	// it was selected by. It means the stored tree is corrupted.
	ErrPrefixMismatch = errors.New("path does not start with prefix")
	// ErrMalformedPath is returned for paths whose segments are not ids.
	ErrMalformedPath = errors.New("malformed path")
)

// Build returns the path of a node with the given id. When hasParent is
// set the path extends parentPath, otherwise the node is a root and its
// path is just its id.
func Build(id int64, parentPath string, hasParent bool) (string, error) {
	if id <= 0 {
		return "", ErrNoID
	}
	self := strconv.FormatInt(id, 10)
	if !hasParent {
		return self, nil
	}
	if parentPath == "" {
		return "", fmt.Errorf("build path for %d: %w", id, ErrParentUnpathed)
	}
	return parentPath + Separator + self, nil
}

// PrefixPattern returns a LIKE pattern matching every strict descendant of
// the node owning path. The separator is part of the pattern so "1.2"
// never matches "1.20".
func PrefixPattern(path string) string {
	return escapeLike(path) + Separator + "%"
}

// DescendantPrefix is the literal string every strict descendant path
// starts with.
func DescendantPrefix(path string) string {
	return path + Separator
}

// Depth counts separators; a root path has depth 0.
func Depth(path string) int {
	return strings.Count(path, Separator)
}

// RewritePrefix replaces the leading oldPath of fullPath with newPath and
// keeps the trailing segments. fullPath must be oldPath itself or one of
// its descendants.
func RewritePrefix(oldPath, newPath, fullPath string) (string, error) {
	if oldPath == "" {
		return "", fmt.Errorf("rewrite %q: empty prefix: %w", fullPath, ErrPrefixMismatch)
	}
	if fullPath == oldPath {
		return newPath, nil
	}
	rest, ok := strings.CutPrefix(fullPath, DescendantPrefix(oldPath))
	if !ok {
		return "", fmt.Errorf("rewrite %q with prefix %q: %w", fullPath, oldPath, ErrPrefixMismatch)
	}
	return newPath + Separator + rest, nil
}

// IsAncestorPath reports whether a is a strict segment prefix of b.
func IsAncestorPath(a, b string) bool {
	if a == "" || len(b) <= len(a) {
		return false
	}
	return strings.HasPrefix(b, DescendantPrefix(a))
}

// Segments parses the id chain of path, root first.
func Segments(path string) ([]int64, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path: %w", ErrMalformedPath)
	}
	parts := strings.Split(path, Separator)
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("segment %q of %q: %w", p, path, ErrMalformedPath)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AncestorIDs returns the ids of path excluding the last (self) segment,
// root first.
func AncestorIDs(path string) ([]int64, error) {
	ids, err := Segments(path)
	if err != nil {
		return nil, err
	}
	return ids[:len(ids)-1], nil
}

// RootID returns the first segment of path.
func RootID(path string) (int64, error) {
	head, _, _ := strings.Cut(path, Separator)
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("root of %q: %w", path, ErrMalformedPath)
	}
	return id, nil
}

// LastID returns the final (self) segment of path.
func LastID(path string) (int64, error) {
	tail := path
	if i := strings.LastIndex(path, Separator); i >= 0 {
		tail = path[i+1:]
	}
	id, err := strconv.ParseInt(tail, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("last segment of %q: %w", path, ErrMalformedPath)
	}
	return id, nil
}

// Valid reports whether path is a well-formed id chain.
func Valid(path string) bool {
	_, err := Segments(path)
	return err == nil
}

// escapeLike escapes LIKE metacharacters. Well-formed paths never contain
// them, but a corrupted row must not widen a descendant query.
func escapeLike(s string) string {
	if !strings.ContainsAny(s, `%_\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '%', '_', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
