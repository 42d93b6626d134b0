package handle

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brickd/internal/brick"
)

// Table is the registry mapping name -> latest wrapper. It holds at most
// one live wrapper per name and is the only place versions advance.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*Wrapper
	logger  *zap.Logger
}

// NewTable returns an empty table. logger may be nil.
func NewTable(logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		entries: make(map[string]*Wrapper),
		logger:  logger,
	}
}

// Register stores w as the latest wrapper under its name, bumping its
// version to existing+1 when the name is already live. Returns the
// resulting reference string.
func (t *Table) Register(w *Wrapper) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[w.Name()]; ok {
		w.version = existing.version + 1
	}
	t.entries[w.Name()] = w

	t.logger.Debug("handle registered",
		zap.String("name", w.Name()),
		zap.Int("version", w.version),
		zap.Bool("persist", w.persist))
	return w.Reference()
}

// Lookup returns the latest wrapper registered under name.
func (t *Table) Lookup(name string) (*Wrapper, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.entries[name]
	return w, ok
}

// Retire removes w's entry only when w is non-persistent and still the
// current wrapper for its name. Retiring a persistent wrapper is a
// no-op; persistent entries go away only via DeleteReference.
func (t *Table) Retire(w *Wrapper) bool {
	if w.persist {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.entries[w.Name()]
	if !ok || current != w {
		return false
	}
	delete(t.entries, w.Name())
	t.logger.Debug("handle retired", zap.String("name", w.Name()))
	return true
}

// DeleteReference removes the entry for the name embedded in ref,
// unconditionally of persistence. Returns false when ref is not a
// reference string or the name is not live.
func (t *Table) DeleteReference(ref string) bool {
	name, ok := SplitReference(ref)
	if !ok {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[name]; !ok {
		return false
	}
	delete(t.entries, name)
	t.logger.Debug("handle deleted", zap.String("name", name))
	return true
}

// Clear empties the table.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]*Wrapper)
	t.logger.Info("handle table cleared")
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Names returns all live names, sorted for stable output.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Export serializes every live entry's tree, keyed by name.
func (t *Table) Export() *brick.Map {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := brick.NewMap()
	for _, name := range names {
		out.Set(name, t.entries[name].root.Serialize())
	}
	return out
}
