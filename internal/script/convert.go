package script

import (
	"fmt"
	"math"
	"strings"
	"time"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"

	"github.com/fyrsmithlabs/brickd/internal/brick"
	"github.com/fyrsmithlabs/brickd/internal/grid"
)

// toStarlark converts a brick payload into the interpreter's typed form.
// This is the external-typed-form boundary: dates become starlark time
// values, integral floats become ints, "true"/"false" strings become
// bools, and marker strings ("mod.Member" for a registered module)
// resolve through the module registry. The coercion happens only here,
// at call time; nothing is stored back into the tree.
func (b *Bridge) toStarlark(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case time.Time:
		return startime.Time(val), nil
	case string:
		return b.coerceString(val), nil
	case []any:
		elems := make([]starlark.Value, 0, len(val))
		for _, e := range val {
			sv, err := b.toStarlark(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case [][]any:
		rows := make([]starlark.Value, 0, len(val))
		for _, row := range val {
			sv, err := b.toStarlark([]any(row))
			if err != nil {
				return nil, err
			}
			rows = append(rows, sv)
		}
		return starlark.NewList(rows), nil
	case *brick.Map:
		d := starlark.NewDict(val.Len())
		for _, key := range val.Keys() {
			entry, _ := val.Get(key)
			sv, err := b.toStarlark(entry)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(b.coerceString(key), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	case *grid.Table:
		d := starlark.NewDict(3)
		for _, pair := range []struct {
			key string
			val any
		}{
			{"columns", val.Columns},
			{"index", val.Index},
			{"cells", val.Cells},
		} {
			sv, err := b.toStarlark(pair.val)
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(pair.key), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: cannot pass %T to the interpreter", ErrExecution, v)
}

// coerceString applies the string-level external coercions. Unrecognized
// strings pass through unchanged.
func (b *Bridge) coerceString(s string) starlark.Value {
	switch strings.ToLower(s) {
	case "true":
		return starlark.True
	case "false":
		return starlark.False
	}
	if dot := strings.Index(s, "."); dot > 0 {
		if mod, ok := b.modules[s[:dot]]; ok {
			if member, err := mod.Attr(s[dot+1:]); err == nil && member != nil {
				return member
			}
		}
	}
	return starlark.String(s)
}

// fromStarlark converts an interpreter result back into a brick payload.
// Unconvertible values (functions, instantiated objects) stay as the raw
// interpreter value so later invokes can still dispatch on them.
func fromStarlark(v starlark.Value) any {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(val)
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i
		}
		return val.String()
	case starlark.Float:
		return float64(val)
	case starlark.String:
		return string(val)
	case startime.Time:
		return time.Time(val)
	case *starlark.List:
		out := make([]any, 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			out = append(out, fromStarlark(val.Index(i)))
		}
		return out
	case starlark.Tuple:
		out := make([]any, 0, len(val))
		for _, e := range val {
			out = append(out, fromStarlark(e))
		}
		return out
	case *starlark.Dict:
		out := brick.NewMap()
		for _, item := range val.Items() {
			out.Set(keyString(item[0]), fromStarlark(item[1]))
		}
		return out
	}
	return v
}

func keyString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
