// Package brick implements the value tree held behind handle references:
// a closed two-variant sum over leaves (a single scalar, array, table or
// opaque value) and composites (an ordered name -> child mapping).
//
// A Node is a finite tree. It is owned by exactly one handle wrapper (or
// by its parent node) and is mutated only through Replace.
package brick

import (
	"errors"
	"fmt"
	"strings"
)

// Errors for tree navigation.
var (
	ErrPathNotFound = errors.New("path not found")
	ErrNotComposite = errors.New("not a composite")
)

type kind int

const (
	kindLeaf kind = iota
	kindComposite
)

// Node is one value or a named collection of values. Exactly one variant
// is active: leaves carry a payload, composites carry ordered children.
type Node struct {
	name string
	kind kind

	// leaf payload
	value any

	// composite children, insertion-ordered
	order    []string
	children map[string]*Node
}

// NewLeaf returns a leaf node. An empty name means the node flattens into
// its parent's position when serialized.
func NewLeaf(name string, value any) *Node {
	return &Node{name: name, kind: kindLeaf, value: value}
}

// NewComposite returns an empty composite node.
func NewComposite(name string) *Node {
	return &Node{
		name:     name,
		kind:     kindComposite,
		children: make(map[string]*Node),
	}
}

// Name returns the node's own name, which may be empty.
func (n *Node) Name() string { return n.name }

// IsLeaf reports whether the node is the leaf variant.
func (n *Node) IsLeaf() bool { return n.kind == kindLeaf }

// Value returns the leaf payload. It is nil for composites.
func (n *Node) Value() any { return n.value }

// SetValue overwrites the leaf payload in place, preserving identity and
// name. It is a no-op on composites.
func (n *Node) SetValue(v any) {
	if n.kind == kindLeaf {
		n.value = v
	}
}

// Keys returns the child names of a composite in insertion order. The
// returned slice is a copy.
func (n *Node) Keys() []string {
	keys := make([]string, len(n.order))
	copy(keys, n.order)
	return keys
}

// Len returns the number of children. Leaves have none.
func (n *Node) Len() int { return len(n.order) }

// Child returns the named child of a composite.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// Set inserts or overwrites a named child. Setting a child on a leaf is
// an error.
func (n *Node) Set(name string, child *Node) error {
	if n.kind != kindComposite {
		return fmt.Errorf("%w: cannot set %q on a leaf", ErrNotComposite, name)
	}
	if _, ok := n.children[name]; !ok {
		n.order = append(n.order, name)
	}
	n.children[name] = child
	return nil
}

// Get traverses children left-to-right. The empty path resolves to the
// node itself. Traversal fails with ErrPathNotFound when a name is absent
// and ErrNotComposite when it reaches a leaf before the path is exhausted.
func (n *Node) Get(path []string) (*Node, error) {
	node := n
	for i, name := range path {
		if node.kind != kindComposite {
			return nil, fmt.Errorf("%w: %q is a leaf, cannot descend into %q",
				ErrNotComposite, strings.Join(path[:i], "/"), name)
		}
		child, ok := node.children[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, strings.Join(path[:i+1], "/"))
		}
		node = child
	}
	return node, nil
}

// Replace substitutes the value at path. A composite replacement
// overwrites the parent's child slot wholesale; a leaf replacement
// overwrites only the target leaf's payload, keeping its name and
// position. The path must resolve.
func (n *Node) Replace(path []string, repl *Node) error {
	target, err := n.Get(path)
	if err != nil {
		return err
	}

	if repl.kind == kindComposite {
		if len(path) == 0 {
			return fmt.Errorf("%w: cannot replace the root slot", ErrPathNotFound)
		}
		parent, err := n.Get(path[:len(path)-1])
		if err != nil {
			return err
		}
		return parent.Set(path[len(path)-1], repl)
	}

	if target.kind != kindLeaf {
		return fmt.Errorf("%w: %q holds a composite, leaf payload cannot replace it",
			ErrNotComposite, strings.Join(path, "/"))
	}
	target.value = repl.value
	return nil
}

// Clone returns a deep copy of the tree. Leaf payloads are shared, not
// copied: they are replaced wholesale rather than mutated, so sharing is
// safe for the copy-then-replace operations that need Clone.
func (n *Node) Clone() *Node {
	if n.kind == kindLeaf {
		return &Node{name: n.name, kind: kindLeaf, value: n.value}
	}
	c := NewComposite(n.name)
	for _, key := range n.order {
		c.order = append(c.order, key)
		c.children[key] = n.children[key].Clone()
	}
	return c
}

// SplitPath parses the slash-separated path syntax used by lookup and
// replace operations, trimming whitespace around each segment.
func SplitPath(keys string) []string {
	parts := strings.Split(keys, "/")
	path := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, " \t\n\r")
		if p != "" {
			path = append(path, p)
		}
	}
	return path
}
