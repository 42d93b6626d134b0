package bricks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/brickd/internal/brick"
	"github.com/fyrsmithlabs/brickd/internal/grid"
	"github.com/fyrsmithlabs/brickd/internal/script"
)

// ErrorPrefix is the fixed marker every boundary failure message starts
// with. Callers (spreadsheet cells) receive these as plain strings.
const ErrorPrefix = "#BRICK ERROR: "

// ErrValidation marks missing, empty or malformed caller input, rejected
// before any core logic runs.
var ErrValidation = errors.New("validation failed")

// categorize maps an internal error to its taxonomy name and a message
// with the sentinel's own text stripped, so the surfaced string reads
// "Category: detail" rather than repeating the category twice.
func categorize(err error) (category, message string) {
	for _, c := range []struct {
		sentinel error
		name     string
	}{
		{ErrValidation, "ValidationError"},
		{brick.ErrPathNotFound, "PathNotFound"},
		{brick.ErrNotComposite, "NotComposite"},
		{grid.ErrEmptyGrid, "EmptyGrid"},
		{grid.ErrUnknownReference, "ValidationError"},
		{script.ErrExecution, "ExecutionError"},
	} {
		if errors.Is(err, c.sentinel) {
			return c.name, strings.TrimPrefix(err.Error(), c.sentinel.Error()+": ")
		}
	}
	return "ExecutionError", err.Error()
}

// ErrorString converts any operation failure into the single
// marker-prefixed message surfaced to the caller. Raw faults never
// propagate past the boundary.
func ErrorString(err error) string {
	category, message := categorize(err)
	return fmt.Sprintf("%s%s: %s", ErrorPrefix, category, message)
}

// checkRequired rejects a missing or empty scalar argument.
func checkRequired(name, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, "nan") {
		return fmt.Errorf("%w: %s is required and cannot be empty", ErrValidation, name)
	}
	return nil
}

// checkBlock rejects an absent or empty 2-D argument. Optional blocks
// may be nil. A numeric block whose every cell is NaN counts as absent,
// matching how the caller adapter delivers an untouched optional range.
func checkBlock(name string, b *grid.Block, required bool) error {
	if b == nil {
		if !required {
			return nil
		}
		return fmt.Errorf("%w: %s is required", ErrValidation, name)
	}
	if b.Rows() == 0 || b.Cols() == 0 {
		return fmt.Errorf("%w: %s must be a non-empty 2-D range", ErrValidation, name)
	}
	if b.DType() == grid.Numeric {
		empty := true
		for row := 0; row < b.Rows() && empty; row++ {
			for col := 0; col < b.Cols(); col++ {
				if !b.IsEmpty(row, col) {
					empty = false
					break
				}
			}
		}
		if empty {
			return fmt.Errorf("%w: %s cannot be empty", ErrValidation, name)
		}
	}
	return nil
}
