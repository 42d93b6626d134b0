package grid

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brickd/internal/brick"
	"github.com/fyrsmithlabs/brickd/internal/handle"
)

func newIngestor(t *testing.T) (*Ingestor, *handle.Table) {
	t.Helper()
	table := handle.NewTable(zap.NewNop())
	return NewIngestor(table), table
}

func TestResolveReference(t *testing.T) {
	tests := []struct {
		name     string
		block    *Block
		wantName string
		wantOK   bool
	}{
		{"reference", Scalar("curves:3"), "curves", true},
		{"multi colon", Scalar("a:b:1"), "a:b", true},
		{"no colon", Scalar("curves"), "", false},
		{"not a string", Scalar(42.0), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, ok := ResolveReference(tt.block)
			if ok != tt.wantOK || name != tt.wantName {
				t.Errorf("ResolveReference = %q, %v; want %q, %v", name, ok, tt.wantName, tt.wantOK)
			}
		})
	}

	big, err := New(String, [][]any{{"a:1", "b:2"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ResolveReference(big); ok {
		t.Error("non-1x1 block must never be a reference")
	}
}

func TestToTree_LeafRoundTrip(t *testing.T) {
	g, _ := newIngestor(t)

	b, err := New(Mixed, [][]any{{"alpha"}})
	if err != nil {
		t.Fatal(err)
	}
	node, err := g.ToTree(b)
	if err != nil {
		t.Fatalf("ToTree failed: %v", err)
	}
	if !node.IsLeaf() {
		t.Fatal("fresh block should become a leaf")
	}
	if node.Serialize() != "alpha" {
		t.Errorf("round trip = %v, want alpha", node.Serialize())
	}
}

func TestToTree_ResolvesAndRetiresEphemeral(t *testing.T) {
	g, table := newIngestor(t)

	root := brick.NewLeaf("", 42)
	w := handle.NewWrapper("", root, false)
	ref := table.Register(w)

	node, err := g.ToTree(Scalar(ref))
	if err != nil {
		t.Fatalf("ToTree failed: %v", err)
	}
	if node != root {
		t.Error("reference should resolve to the stored tree")
	}
	if _, ok := table.Lookup(w.Name()); ok {
		t.Error("ephemeral handle should be retired after resolution")
	}
}

func TestToTree_PersistentSurvivesResolution(t *testing.T) {
	g, table := newIngestor(t)

	w := handle.NewWrapper("curves", brick.NewLeaf("", 1), true)
	ref := table.Register(w)

	if _, err := g.ToTree(Scalar(ref)); err != nil {
		t.Fatalf("ToTree failed: %v", err)
	}
	if _, ok := table.Lookup("curves"); !ok {
		t.Error("persistent handle must survive ingestion by reference")
	}
}

func TestToTree_UnknownReference(t *testing.T) {
	g, _ := newIngestor(t)
	_, err := g.ToTree(Scalar("ghost:0"))
	if !errors.Is(err, ErrUnknownReference) {
		t.Errorf("error = %v, want ErrUnknownReference", err)
	}
}

func TestToGrid_KeySpans(t *testing.T) {
	g, _ := newIngestor(t)

	// Keys at rows 0, 2, 5 of a 7-row block.
	b, err := New(Mixed, [][]any{
		{"alpha", 1.0},
		{nil, 2.0},
		{"beta", 3.0},
		{nil, 4.0},
		{nil, 5.0},
		{"gamma", 6.0},
		{nil, 7.0},
	})
	if err != nil {
		t.Fatal(err)
	}

	node, err := g.ToGrid(b)
	if err != nil {
		t.Fatalf("ToGrid failed: %v", err)
	}
	if node.Len() != 3 {
		t.Fatalf("children = %d, want 3", node.Len())
	}

	spans := map[string]int{"alpha": 2, "beta": 3, "gamma": 2}
	for name, rows := range spans {
		child, ok := node.Child(name)
		if !ok {
			t.Fatalf("missing child %q", name)
		}
		cells, ok := child.Value().([][]any)
		if !ok {
			t.Fatalf("child %q is not a cell grid: %T", name, child.Value())
		}
		if len(cells) != rows {
			t.Errorf("child %q spans %d rows, want %d", name, len(cells), rows)
		}
	}
}

func TestToGrid_NoKeys(t *testing.T) {
	g, _ := newIngestor(t)
	b, err := New(Mixed, [][]any{
		{nil, 1.0},
		{nil, 2.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.ToGrid(b); !errors.Is(err, ErrEmptyGrid) {
		t.Errorf("error = %v, want ErrEmptyGrid", err)
	}
}

func TestToTable_LabelOverlay(t *testing.T) {
	g, _ := newIngestor(t)

	data, err := New(Numeric, [][]any{{1.0, 2.0}, {3.0, 4.0}})
	if err != nil {
		t.Fatal(err)
	}
	columns, err := New(String, [][]any{{"bid", "ask"}})
	if err != nil {
		t.Fatal(err)
	}
	index, err := New(String, [][]any{{"r1"}, {"r2"}})
	if err != nil {
		t.Fatal(err)
	}

	node, err := g.ToTable(data, columns, index)
	if err != nil {
		t.Fatalf("ToTable failed: %v", err)
	}
	tbl, ok := node.Value().(*Table)
	if !ok {
		t.Fatalf("payload is %T, want *Table", node.Value())
	}
	if len(tbl.Columns) != 2 || tbl.Columns[0] != "bid" {
		t.Errorf("columns = %v", tbl.Columns)
	}
	if len(tbl.Index) != 2 || tbl.Index[1] != "r2" {
		t.Errorf("index = %v", tbl.Index)
	}
	if len(tbl.Cells) != 2 {
		t.Errorf("cells = %v", tbl.Cells)
	}
}

func TestToTable_ScalarAndListData(t *testing.T) {
	g, table := newIngestor(t)

	node, err := g.ToTable(Scalar(5.0), nil, nil)
	if err != nil {
		t.Fatalf("ToTable failed: %v", err)
	}
	tbl := node.Value().(*Table)
	if len(tbl.Cells) != 1 || len(tbl.Cells[0]) != 1 || tbl.Cells[0][0] != 5.0 {
		t.Errorf("scalar data = %v, want [[5]]", tbl.Cells)
	}

	// A reference to a stored list reshapes to a column vector.
	w := handle.NewWrapper("", brick.NewLeaf("", []any{1.0, 2.0}), false)
	ref := table.Register(w)
	node, err = g.ToTable(Scalar(ref), nil, nil)
	if err != nil {
		t.Fatalf("ToTable failed: %v", err)
	}
	tbl = node.Value().(*Table)
	if len(tbl.Cells) != 2 || tbl.Cells[1][0] != 2.0 {
		t.Errorf("list data = %v, want column of 2", tbl.Cells)
	}
}

func TestFlatten_Shapes(t *testing.T) {
	g, _ := newIngestor(t)

	b, err := New(Numeric, [][]any{{1.0, 2.0}})
	if err != nil {
		t.Fatal(err)
	}
	cells, err := g.Flatten(b)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	if len(cells) != 1 || len(cells[0]) != 2 {
		t.Errorf("cells = %v", cells)
	}

	scalar, err := g.Flatten(Scalar("solo"))
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	if len(scalar) != 1 || scalar[0][0] != "solo" {
		t.Errorf("scalar flatten = %v", scalar)
	}
}
