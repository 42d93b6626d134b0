package brick

import (
	"bytes"
	"encoding/json"
)

// Map is an insertion-ordered string-keyed mapping. Serialization uses it
// instead of a plain map so composite children keep a stable order.
type Map struct {
	keys []string
	vals map[string]any
}

// NewMap returns an empty ordered map.
func NewMap() *Map {
	return &Map{vals: make(map[string]any)}
}

// Set inserts or overwrites a key.
func (m *Map) Set(key string, val any) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = val
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.vals[key]
	return v, ok
}

// Keys returns the keys in insertion order. The slice is a copy.
func (m *Map) Keys() []string {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// MarshalJSON renders the map as a JSON object in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(m.vals[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Serialize renders the tree as nested ordered mappings. A composite
// becomes a Map keyed by child name; a leaf becomes its raw payload. A
// node with a name wraps its rendering in a single-entry Map, an unnamed
// node flattens directly into its parent's position. That asymmetry is
// what lets one tree represent either a pure value or a named wrapper
// without a discriminator field.
func (n *Node) Serialize() any {
	if n.kind == kindLeaf {
		if n.name == "" {
			return n.value
		}
		wrapped := NewMap()
		wrapped.Set(n.name, n.value)
		return wrapped
	}

	children := NewMap()
	for _, key := range n.order {
		children.Set(key, n.children[key].Serialize())
	}
	if n.name == "" {
		return children
	}
	wrapped := NewMap()
	wrapped.Set(n.name, children)
	return wrapped
}
