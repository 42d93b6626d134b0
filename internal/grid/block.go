// Package grid ingests raw rectangular range input into brick trees:
// cropping empty edges, sniffing reference strings, coercing numerics and
// parsing keyed-grid and table layouts.
//
// Blocks are typed per range, the way a spreadsheet runtime delivers
// them: all-string, all-numeric, or mixed/object. Empty cells are
// detected differently per dtype (the literal "nan", IEEE NaN, or a nil
// cell); collapsing that dispatch silently keeps or drops the wrong
// cells during cropping.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Errors for range ingestion.
var (
	ErrEmptyGrid        = errors.New("no key rows in grid")
	ErrUnknownReference = errors.New("unknown reference")
	ErrRaggedBlock      = errors.New("block rows have unequal length")
)

// DType is the per-block cell type delivered by the caller adapter.
type DType int

const (
	// String blocks hold string cells; empties are the literal "nan".
	String DType = iota
	// Numeric blocks hold float64 cells; empties are IEEE NaN.
	Numeric
	// Mixed blocks hold arbitrary cells; empties are nil (or NaN floats).
	Mixed
)

func (d DType) String() string {
	switch d {
	case String:
		return "string"
	case Numeric:
		return "numeric"
	default:
		return "mixed"
	}
}

// ParseDType maps the wire tag used by the caller adapter to a DType.
func ParseDType(tag string) (DType, error) {
	switch tag {
	case "string":
		return String, nil
	case "numeric":
		return Numeric, nil
	case "mixed", "object", "":
		return Mixed, nil
	}
	return Mixed, fmt.Errorf("unknown dtype %q", tag)
}

// Block is a rectangular range of typed cells.
type Block struct {
	dtype DType
	cells [][]any
}

// New builds a block from cells, validating rectangularity. The cell
// slices are retained, not copied.
func New(dtype DType, cells [][]any) (*Block, error) {
	if len(cells) == 0 {
		return &Block{dtype: dtype}, nil
	}
	width := len(cells[0])
	for i, row := range cells {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrRaggedBlock, i, len(row), width)
		}
	}
	return &Block{dtype: dtype, cells: cells}, nil
}

// Scalar wraps a single value as a 1x1 mixed block.
func Scalar(v any) *Block {
	return &Block{dtype: Mixed, cells: [][]any{{v}}}
}

// DType returns the block's cell type.
func (b *Block) DType() DType { return b.dtype }

// Rows returns the row count.
func (b *Block) Rows() int { return len(b.cells) }

// Cols returns the column count.
func (b *Block) Cols() int {
	if len(b.cells) == 0 {
		return 0
	}
	return len(b.cells[0])
}

// At returns the cell at (row, col).
func (b *Block) At(row, col int) any { return b.cells[row][col] }

// Cells returns the underlying cell grid.
func (b *Block) Cells() [][]any { return b.cells }

// IsEmpty reports whether a cell counts as empty under the block's dtype.
func (b *Block) IsEmpty(row, col int) bool {
	return b.emptyCell(b.cells[row][col])
}

func (b *Block) emptyCell(v any) bool {
	switch b.dtype {
	case String:
		s, ok := v.(string)
		return ok && s == "nan"
	case Numeric:
		f, ok := v.(float64)
		return ok && math.IsNaN(f)
	default:
		if v == nil {
			return true
		}
		if f, ok := v.(float64); ok {
			return math.IsNaN(f)
		}
		return false
	}
}

func (b *Block) rowEmpty(row int) bool {
	for col := 0; col < b.Cols(); col++ {
		if !b.IsEmpty(row, col) {
			return false
		}
	}
	return true
}

func (b *Block) colEmpty(col int) bool {
	for row := 0; row < b.Rows(); row++ {
		if !b.IsEmpty(row, col) {
			return false
		}
	}
	return true
}

// sub returns the sub-block spanning rows [r0,r1) and cols [c0,c1),
// sharing cell storage with the parent.
func (b *Block) sub(r0, r1, c0, c1 int) *Block {
	rows := make([][]any, 0, r1-r0)
	for r := r0; r < r1; r++ {
		rows = append(rows, b.cells[r][c0:c1])
	}
	return &Block{dtype: b.dtype, cells: rows}
}

// Crop strips all-empty edges: top row, then left column, then bottom
// row, then right column, each loop re-evaluated against the current
// shape. The result never shrinks below 1x1.
func (b *Block) Crop() *Block {
	r0, r1 := 0, b.Rows()
	c0, c1 := 0, b.Cols()
	if r1 == 0 || c1 == 0 {
		return b
	}

	view := func() *Block { return b.sub(r0, r1, c0, c1) }

	for r1-r0 > 1 && view().rowEmpty(0) {
		r0++
	}
	for c1-c0 > 1 && view().colEmpty(0) {
		c0++
	}
	for r1-r0 > 1 && view().rowEmpty(r1-r0-1) {
		r1--
	}
	for c1-c0 > 1 && view().colEmpty(c1-c0-1) {
		c1--
	}
	return b.sub(r0, r1, c0, c1)
}

// coerceNumeric converts whole columns of parseable string cells to
// float64, column-wise all-or-nothing: a single non-numeric cell leaves
// the entire column as strings. Failed coercion is never an error.
func (b *Block) coerceNumeric() *Block {
	if b.dtype != String || b.Rows() == 0 {
		return b
	}

	numeric := make([]bool, b.Cols())
	parsed := make([][]float64, b.Rows())
	for col := 0; col < b.Cols(); col++ {
		numeric[col] = true
		for row := 0; row < b.Rows(); row++ {
			s, ok := b.cells[row][col].(string)
			if !ok {
				numeric[col] = false
				break
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				numeric[col] = false
				break
			}
			if parsed[row] == nil {
				parsed[row] = make([]float64, b.Cols())
			}
			parsed[row][col] = f
		}
	}

	converted := false
	for _, ok := range numeric {
		if ok {
			converted = true
			break
		}
	}
	if !converted {
		return b
	}

	cells := make([][]any, b.Rows())
	for row := range b.cells {
		cells[row] = make([]any, b.Cols())
		for col := range b.cells[row] {
			if numeric[col] {
				cells[row][col] = parsed[row][col]
			} else {
				cells[row][col] = b.cells[row][col]
			}
		}
	}
	return &Block{dtype: Mixed, cells: cells}
}

// rawValue reduces the block to the leaf payload form: the single cell
// for a 1x1 block, otherwise the 2-D cell grid.
func (b *Block) rawValue() any {
	if b.Rows() == 1 && b.Cols() == 1 {
		return b.cells[0][0]
	}
	return b.cells
}
