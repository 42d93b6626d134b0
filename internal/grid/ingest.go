package grid

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/brickd/internal/brick"
	"github.com/fyrsmithlabs/brickd/internal/handle"
)

// Ingestor converts raw blocks into brick trees, resolving reference
// strings through the injected handle table.
type Ingestor struct {
	table *handle.Table
}

// NewIngestor returns an ingestor bound to table.
func NewIngestor(table *handle.Table) *Ingestor {
	return &Ingestor{table: table}
}

// ResolveReference reports whether the block is a reference: exactly
// 1x1, a string cell, containing a colon. The name is everything before
// the last colon. A literal 1x1 string with a colon can never be stored
// as raw data through this path; callers that need one use the explicit
// ref form of the HTTP adapter.
func ResolveReference(b *Block) (name string, ok bool) {
	if b.Rows() != 1 || b.Cols() != 1 {
		return "", false
	}
	s, isStr := b.At(0, 0).(string)
	if !isStr {
		return "", false
	}
	return handle.SplitReference(s)
}

// ToTree crops the block, then either resolves it as a reference or
// wraps it as an unnamed leaf. Resolving a reference to a non-persistent
// wrapper retires it from the table: ephemeral handles are single-use.
// Leaf wrapping attempts column-wise numeric coercion of string cells;
// coercion failure is silent, never an error.
func (g *Ingestor) ToTree(b *Block) (*brick.Node, error) {
	cropped := b.Crop()

	if name, ok := ResolveReference(cropped); ok {
		w, found := g.table.Lookup(name)
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownReference, name)
		}
		if !w.Persist() {
			g.table.Retire(w)
		}
		return w.Root(), nil
	}

	return brick.NewLeaf("", cropped.coerceNumeric().rawValue()), nil
}

// ToGrid parses a keyed grid: every row whose column 0 is non-empty
// starts a child named by that key, spanning the rows down to the next
// key (the last key runs to the bottom) across all columns but column 0.
// Each child sub-block goes through ToTree, so nested references work.
func (g *Ingestor) ToGrid(b *Block) (*brick.Node, error) {
	var keyRows []int
	for row := 0; row < b.Rows(); row++ {
		if !b.IsEmpty(row, 0) {
			keyRows = append(keyRows, row)
		}
	}
	if len(keyRows) == 0 {
		return nil, ErrEmptyGrid
	}

	node := brick.NewComposite("")
	for i, start := range keyRows {
		end := b.Rows()
		if i+1 < len(keyRows) {
			end = keyRows[i+1]
		}
		child, err := g.ToTree(b.sub(start, end, 1, b.Cols()))
		if err != nil {
			return nil, err
		}
		if err := node.Set(cellString(b.At(start, 0)), child); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Table is the tabular leaf payload: a cell grid with optional column
// and row labels overlaid from separate ranges. It is a value type that
// round-trips arbitrary mixed cells, not an analytical frame.
type Table struct {
	Columns []any   `json:"columns,omitempty"`
	Index   []any   `json:"index,omitempty"`
	Cells   [][]any `json:"cells"`
}

// ToTable builds a tabular leaf from data, with columns and index each
// optionally resolved through the same ingestion path and flattened into
// label rows. A scalar or list payload is reshaped to a grid so no value
// is ever dropped on the way in.
func (g *Ingestor) ToTable(data, columns, index *Block) (*brick.Node, error) {
	dataNode, err := g.ToTree(data)
	if err != nil {
		return nil, err
	}

	tbl := &Table{Cells: tableCells(dataNode.Value())}

	if columns != nil {
		cols, err := g.flattenBlock(columns)
		if err != nil {
			return nil, fmt.Errorf("columns: %w", err)
		}
		tbl.Columns = cols
	}
	if index != nil {
		idx, err := g.flattenBlock(index)
		if err != nil {
			return nil, fmt.Errorf("index: %w", err)
		}
		tbl.Index = idx
	}

	return brick.NewLeaf("", tbl), nil
}

// Flatten resolves the block to its raw leaf payload and reshapes it as
// a column vector grid, the form the caller adapter spills back into a
// range.
func (g *Ingestor) Flatten(b *Block) ([][]any, error) {
	node, err := g.ToTree(b)
	if err != nil {
		return nil, err
	}
	value := node.Value()
	if grid := cellGrid(value); grid != nil {
		return grid, nil
	}
	if list, ok := value.([]any); ok {
		out := make([][]any, len(list))
		for i, v := range list {
			out[i] = []any{v}
		}
		return out, nil
	}
	return [][]any{{value}}, nil
}

func (g *Ingestor) flattenBlock(b *Block) ([]any, error) {
	node, err := g.ToTree(b)
	if err != nil {
		return nil, err
	}
	if grid := cellGrid(node.Value()); grid != nil {
		var flat []any
		for _, row := range grid {
			flat = append(flat, row...)
		}
		return flat, nil
	}
	return []any{node.Value()}, nil
}

// tableCells normalizes a leaf payload to a cell grid: a grid passes
// through, a list becomes a column vector, anything else a 1x1 grid.
func tableCells(v any) [][]any {
	if grid := cellGrid(v); grid != nil {
		return grid
	}
	if list, ok := v.([]any); ok {
		out := make([][]any, len(list))
		for i, e := range list {
			out[i] = []any{e}
		}
		return out
	}
	return [][]any{{v}}
}

// cellGrid returns the payload as a 2-D grid when it is one, else nil.
func cellGrid(v any) [][]any {
	grid, ok := v.([][]any)
	if !ok {
		return nil
	}
	return grid
}

func cellString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}
