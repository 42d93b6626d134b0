// Package handle associates brick trees with versioned identities and
// keeps the process-wide registry that maps each name to its latest
// wrapper. All table access is serialized behind one RWMutex; callers
// inject the table rather than reaching for a package global.
package handle

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/brickd/internal/brick"
)

// Wrapper binds one brick tree to an identity, a version counter and a
// persistence flag. A wrapper is never mutated after it is superseded in
// the table; re-registering a name produces a new wrapper.
type Wrapper struct {
	identity  string
	synthetic string
	version   int
	persist   bool
	root      *brick.Node
}

// NewWrapper wraps root. identity is the caller alias or natural
// location and may be empty for ephemeral handles; non-persistent
// wrappers are keyed by a synthetic process-unique id fixed here.
func NewWrapper(identity string, root *brick.Node, persist bool) *Wrapper {
	return &Wrapper{
		identity:  identity,
		synthetic: uuid.NewString(),
		persist:   persist,
		root:      root,
	}
}

// Name returns the table key: the identity when persistent, otherwise
// the synthetic id. Stable for the wrapper's lifetime.
func (w *Wrapper) Name() string {
	if w.persist {
		return w.identity
	}
	return w.synthetic
}

// Identity returns the caller-supplied identity, possibly empty.
func (w *Wrapper) Identity() string { return w.identity }

// Version returns the wrapper's version, assigned at registration.
func (w *Wrapper) Version() int { return w.version }

// Persist reports whether the wrapper survives ingestion-by-reference.
func (w *Wrapper) Persist() bool { return w.persist }

// Root returns the owned brick tree.
func (w *Wrapper) Root() *brick.Node { return w.root }

// Reference returns the wire form "{name}:{version}".
func (w *Wrapper) Reference() string {
	return fmt.Sprintf("%s:%d", w.Name(), w.version)
}

// SplitReference extracts the name embedded in a reference string:
// everything before the last colon. ok is false when the string carries
// no colon and therefore is not a reference.
func SplitReference(ref string) (name string, ok bool) {
	idx := strings.LastIndex(ref, ":")
	if idx < 0 {
		return "", false
	}
	return ref[:idx], true
}
