// Package intervaltree implements an unbalanced binary search tree of time
// ranges keyed by start and augmented with the maximum end of each subtree.
//
// The tree is not self-balancing: insertion order determines its shape. The
// engine builds one per user per pass, with at most a few hundred entries.
package intervaltree

import (
	"time"

	"github.com/samber/mo"

	"gcalsync/internal/daterange"
)

// Match selects how a query range is compared with each stored range.
type Match int

const (
	// ContainedBy matches stored ranges that contain the query.
	ContainedBy Match = iota
	// Contained matches stored ranges that lie inside the query.
	Contained
	// Overlap matches stored ranges having an endpoint inside the query.
	Overlap
	// Exact matches stored ranges equal to the query.
	Exact
)

func (m Match) String() string {
	switch m {
	case ContainedBy:
		return "contained_by"
	case Contained:
		return "contained"
	case Overlap:
		return "overlap"
	case Exact:
		return "exact"
	default:
		return "unknown"
	}
}

type node[T any] struct {
	interval daterange.Range
	max      time.Time
	value    T

	left  *node[T]
	right *node[T]
}

// Tree is not safe for concurrent mutation.
type Tree[T any] struct {
	root  *node[T]
	count int
	depth int
}

// New returns an empty tree.
func New[T any]() *Tree[T] {
	return &Tree[T]{}
}

// Len returns the number of stored ranges.
func (t *Tree[T]) Len() int {
	return t.count
}

// Depth returns the number of nodes on the longest root-to-leaf path.
func (t *Tree[T]) Depth() int {
	return t.depth
}

// Insert adds value under r. Ranges with equal starts are all kept; later
// ones go to the right.
func (t *Tree[T]) Insert(r daterange.Range, value T) {
	n := &node[T]{interval: r, max: r.End, value: value}
	t.count++

	if t.root == nil {
		t.root = n
		t.depth = 1
		return
	}

	depth := 1
	cur := t.root
	for {
		if n.max.After(cur.max) {
			cur.max = n.max
		}
		depth++

		if r.Start.Before(cur.interval.Start) {
			if cur.left == nil {
				cur.left = n
				break
			}
			cur = cur.left
		} else {
			if cur.right == nil {
				cur.right = n
				break
			}
			cur = cur.right
		}
	}

	if depth > t.depth {
		t.depth = depth
	}
}

// Find returns the values whose range contains r.
func (t *Tree[T]) Find(r daterange.Range) []T {
	return t.FindAll(r, ContainedBy)
}

// FindAll walks the tree node-left-right, skipping subtrees that cannot
// match. Results follow traversal order, not chronological order.
func (t *Tree[T]) FindAll(r daterange.Range, m Match) []T {
	var out []T
	t.root.collect(r, m, &out)
	return out
}

func (n *node[T]) collect(r daterange.Range, m Match, out *[]T) {
	if n == nil {
		return
	}
	if n.matches(r, m) {
		*out = append(*out, n.value)
	}
	if n.descendLeft(r) {
		n.left.collect(r, m, out)
	}
	if n.descendRight(r) {
		n.right.collect(r, m, out)
	}
}

func (n *node[T]) matches(r daterange.Range, m Match) bool {
	switch m {
	case ContainedBy:
		return n.interval.Contains(r)
	case Contained:
		return r.Contains(n.interval)
	case Overlap:
		return r.Overlaps(n.interval)
	case Exact:
		return r.Equal(n.interval)
	default:
		return false
	}
}

func (n *node[T]) descendLeft(r daterange.Range) bool {
	return n.left != nil &&
		r.Start.Before(n.interval.Start) &&
		r.Start.Before(n.left.max)
}

func (n *node[T]) descendRight(r daterange.Range) bool {
	return n.right != nil &&
		!r.End.Before(n.interval.Start) &&
		!r.Start.After(n.right.max)
}

// FindExact follows a single descent path, preferring the left subtree, and
// returns the first range equal to r. With duplicate ranges stored along
// different paths only one of them can be found.
func (t *Tree[T]) FindExact(r daterange.Range) mo.Option[T] {
	n := t.root
	for n != nil {
		if n.interval.Equal(r) {
			return mo.Some(n.value)
		}
		switch {
		case n.descendLeft(r):
			n = n.left
		case n.descendRight(r):
			n = n.right
		default:
			n = nil
		}
	}
	return mo.None[T]()
}

// Values returns every stored value in order of start.
func (t *Tree[T]) Values() []T {
	out := make([]T, 0, t.count)
	t.root.inorder(&out)
	return out
}

func (n *node[T]) inorder(out *[]T) {
	if n == nil {
		return
	}
	n.left.inorder(out)
	*out = append(*out, n.value)
	n.right.inorder(out)
}
