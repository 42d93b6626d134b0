// Package bricks exposes the producing operations behind the caller
// surface: create, merge, replace, lookup and run operations that
// transform or read brick trees, wrap results in handle wrappers and
// return reference strings. Every operation validates its input first
// and never registers a partial handle on failure.
package bricks

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brickd/internal/brick"
	"github.com/fyrsmithlabs/brickd/internal/grid"
	"github.com/fyrsmithlabs/brickd/internal/handle"
	"github.com/fyrsmithlabs/brickd/internal/script"
)

const (
	// maxCreatePairs bounds the key/brick pairs of a multi-create.
	maxCreatePairs = 8
	// maxMergeBlocks bounds the inputs of a merge.
	maxMergeBlocks = 5
	// maxReplacePairs bounds the path/brick pairs of a replace.
	maxReplacePairs = 5

	// deletedAck is the literal acknowledgement a delete spills back
	// into the calling cell.
	deletedAck = "DELETED FROM MEMORY"
)

// Options carries the per-call knobs shared by producing operations.
type Options struct {
	// Persist keeps the handle alive across ingestions by reference.
	Persist bool
	// Location is the caller's natural identity (e.g. the calling cell
	// address), used as the handle identity for persistent handles.
	Location string
}

// Pair is one key/block input of a multi-create.
type Pair struct {
	Key   string
	Block *grid.Block
}

// PathPair is one path/block input of a replace.
type PathPair struct {
	Path  string
	Block *grid.Block
}

// Service implements the producing operations over an injected handle
// table and function bridge.
type Service struct {
	table   *handle.Table
	ingest  *grid.Ingestor
	bridge  *script.Bridge
	logger  *zap.Logger
	metrics *metrics
}

// NewService wires the operation layer. logger and reg may be nil.
func NewService(table *handle.Table, bridge *script.Bridge, logger *zap.Logger, reg prometheus.Registerer) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		table:   table,
		ingest:  grid.NewIngestor(table),
		bridge:  bridge,
		logger:  logger,
		metrics: newMetrics(reg),
	}
}

// Bridge returns the function bridge, for host-side module registration.
func (s *Service) Bridge() *script.Bridge { return s.bridge }

// register wraps root, registers it and returns the reference string.
// Persistent handles take the caller location as identity.
func (s *Service) register(root *brick.Node, opt Options) string {
	identity := ""
	if opt.Persist {
		identity = opt.Location
	}
	ref := s.table.Register(handle.NewWrapper(identity, root, opt.Persist))
	s.metrics.handles.Set(float64(s.table.Len()))
	return ref
}

// Brick creates a single named brick from data.
func (s *Service) Brick(ctx context.Context, key string, data *grid.Block, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("brick", err) }()
	if err = checkRequired("key", key); err != nil {
		return "", err
	}
	if err = checkBlock("data", data, true); err != nil {
		return "", err
	}

	child, err := s.ingest.ToTree(data)
	if err != nil {
		return "", err
	}
	root := brick.NewComposite("")
	if err = root.Set(key, child); err != nil {
		return "", err
	}

	s.logger.Debug("brick created", zap.String("key", key))
	return s.register(root, opt), nil
}

// Bricks creates up to eight named bricks in one operation. Pairs with
// an empty key or missing block are skipped, but the first pair is
// mandatory.
func (s *Service) Bricks(ctx context.Context, pairs []Pair, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("bricks", err) }()
	if len(pairs) == 0 {
		return "", fmt.Errorf("%w: key_1 is required and cannot be empty", ErrValidation)
	}
	if len(pairs) > maxCreatePairs {
		return "", fmt.Errorf("%w: at most %d key/brick pairs are supported", ErrValidation, maxCreatePairs)
	}
	if err = checkRequired("key_1", pairs[0].Key); err != nil {
		return "", err
	}
	if err = checkBlock("brick_1", pairs[0].Block, true); err != nil {
		return "", err
	}

	root := brick.NewComposite("")
	for _, pair := range pairs {
		if pair.Key == "" || pair.Block == nil {
			continue
		}
		child, err := s.ingest.ToTree(pair.Block)
		if err != nil {
			return "", err
		}
		if err := root.Set(pair.Key, child); err != nil {
			return "", err
		}
	}
	return s.register(root, opt), nil
}

// Array stores the range as-is in a single unnamed leaf.
func (s *Service) Array(ctx context.Context, data *grid.Block, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("array", err) }()
	if err = checkBlock("data", data, true); err != nil {
		return "", err
	}
	node, err := s.ingest.ToTree(data)
	if err != nil {
		return "", err
	}
	return s.register(node, opt), nil
}

// List stores the range flattened to a one-dimensional sequence.
func (s *Service) List(ctx context.Context, data *grid.Block, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("list", err) }()
	if err = checkBlock("data", data, true); err != nil {
		return "", err
	}
	node, err := s.ingest.ToTree(data)
	if err != nil {
		return "", err
	}

	var flat []any
	if rows, ok := node.Value().([][]any); ok {
		for _, row := range rows {
			flat = append(flat, row...)
		}
	} else {
		flat = []any{node.Value()}
	}
	return s.register(brick.NewLeaf(node.Name(), flat), opt), nil
}

// Table stores the range as a tabular value with optional column and
// row label overlays.
func (s *Service) Table(ctx context.Context, data, columns, index *grid.Block, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("table", err) }()
	if err = checkBlock("data", data, true); err != nil {
		return "", err
	}
	if err = checkBlock("columns", columns, false); err != nil {
		return "", err
	}
	if err = checkBlock("index", index, false); err != nil {
		return "", err
	}
	node, err := s.ingest.ToTable(data, columns, index)
	if err != nil {
		return "", err
	}
	return s.register(node, opt), nil
}

// Grid parses a keyed grid: keys in column 0, each key owning the rows
// down to the next key across the remaining columns.
func (s *Service) Grid(ctx context.Context, data *grid.Block, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("grid", err) }()
	if err = checkBlock("data", data, true); err != nil {
		return "", err
	}
	if data.Cols() < 2 {
		return "", fmt.Errorf("%w: data needs a key column and at least one value column", ErrValidation)
	}
	node, err := s.ingest.ToGrid(data)
	if err != nil {
		return "", err
	}
	return s.register(node, opt), nil
}

// Lookup navigates to a nested brick via a slash-separated path and
// registers the subtree under a fresh handle.
func (s *Service) Lookup(ctx context.Context, bricksBlock *grid.Block, keys string, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("lookup", err) }()
	if err = checkBlock("bricks", bricksBlock, true); err != nil {
		return "", err
	}
	if err = checkRequired("keys", keys); err != nil {
		return "", err
	}
	node, err := s.ingest.ToTree(bricksBlock)
	if err != nil {
		return "", err
	}
	target, err := node.Get(brick.SplitPath(keys))
	if err != nil {
		return "", err
	}
	return s.register(target, opt), nil
}

// Flatten propagates the raw value behind a reference back to the
// caller. Dynamic: no handle is produced.
func (s *Service) Flatten(ctx context.Context, block *grid.Block) (cells [][]any, err error) {
	defer func() { s.metrics.record("flatten", err) }()
	if err = checkBlock("brick", block, true); err != nil {
		return nil, err
	}
	return s.ingest.Flatten(block)
}

// Alias re-registers a brick under a caller-chosen persistent name.
func (s *Service) Alias(ctx context.Context, block *grid.Block, alias string) (ref string, err error) {
	defer func() { s.metrics.record("alias", err) }()
	if err = checkBlock("brick", block, true); err != nil {
		return "", err
	}
	if err = checkRequired("alias", alias); err != nil {
		return "", err
	}
	node, err := s.ingest.ToTree(block)
	if err != nil {
		return "", err
	}
	return s.register(node, Options{Persist: true, Location: alias}), nil
}

// Merge combines the children of up to five bricks into one collection.
// Later inputs overwrite earlier keys.
func (s *Service) Merge(ctx context.Context, blocks []*grid.Block, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("merge", err) }()
	if len(blocks) < 2 {
		return "", fmt.Errorf("%w: merge needs at least brick_1 and brick_2", ErrValidation)
	}
	if len(blocks) > maxMergeBlocks {
		return "", fmt.Errorf("%w: at most %d bricks can be merged", ErrValidation, maxMergeBlocks)
	}
	if err = checkBlock("brick_1", blocks[0], true); err != nil {
		return "", err
	}
	if err = checkBlock("brick_2", blocks[1], true); err != nil {
		return "", err
	}

	merged := brick.NewComposite("")
	for i, block := range blocks {
		if block == nil {
			continue
		}
		node, err := s.ingest.ToTree(block)
		if err != nil {
			return "", err
		}
		if node.IsLeaf() {
			return "", fmt.Errorf("%w: brick_%d is not a named collection", ErrValidation, i+1)
		}
		for _, key := range node.Keys() {
			child, _ := node.Child(key)
			if err := merged.Set(key, child); err != nil {
				return "", err
			}
		}
	}
	return s.register(merged, opt), nil
}

// Replace deep-copies the brick and substitutes values at up to five
// slash-separated paths, registering the copy as a fresh handle. The
// source handle is left untouched.
func (s *Service) Replace(ctx context.Context, bricksBlock *grid.Block, pairs []PathPair, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("replace", err) }()
	if err = checkBlock("bricks", bricksBlock, true); err != nil {
		return "", err
	}
	if len(pairs) == 0 {
		return "", fmt.Errorf("%w: key_1 is required and cannot be empty", ErrValidation)
	}
	if len(pairs) > maxReplacePairs {
		return "", fmt.Errorf("%w: at most %d replacements are supported", ErrValidation, maxReplacePairs)
	}
	if err = checkRequired("key_1", pairs[0].Path); err != nil {
		return "", err
	}
	if err = checkBlock("brick_1", pairs[0].Block, true); err != nil {
		return "", err
	}

	node, err := s.ingest.ToTree(bricksBlock)
	if err != nil {
		return "", err
	}
	clone := node.Clone()

	for _, pair := range pairs {
		if pair.Path == "" || pair.Block == nil {
			continue
		}
		repl, err := s.ingest.ToTree(pair.Block)
		if err != nil {
			return "", err
		}
		if err := clone.Replace(brick.SplitPath(pair.Path), repl); err != nil {
			return "", err
		}
	}
	return s.register(clone, opt), nil
}

// DefineFunctions evaluates a single column of source lines and
// registers the resulting named values as a collection.
func (s *Service) DefineFunctions(ctx context.Context, funcs *grid.Block, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("define_functions", err) }()
	if err = checkBlock("functions", funcs, true); err != nil {
		return "", err
	}

	node, err := s.ingest.ToTree(funcs)
	if err != nil {
		return "", err
	}

	var lines []any
	if rows, ok := node.Value().([][]any); ok {
		for _, row := range rows {
			lines = append(lines, row[0])
		}
	} else {
		lines = []any{node.Value()}
	}

	defined, err := s.bridge.DefineFunctions(lines)
	if err != nil {
		return "", err
	}
	s.logger.Info("functions defined", zap.Int("count", defined.Len()))
	return s.register(defined, opt), nil
}

// Instantiate constructs a named type from a registered module, with an
// optional args brick passed as keyword arguments.
func (s *Service) Instantiate(ctx context.Context, typeName, modulePath string, args *grid.Block, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("instantiate", err) }()
	if err = checkRequired("context_name", typeName); err != nil {
		return "", err
	}
	if err = checkRequired("context_path", modulePath); err != nil {
		return "", err
	}

	argsNode, err := s.argsNode(args)
	if err != nil {
		return "", err
	}
	node, err := s.bridge.Instantiate(typeName, modulePath, argsNode)
	if err != nil {
		return "", err
	}
	return s.register(node, opt), nil
}

// Invoke runs a stored function or object member by name and registers
// the wrapped result.
func (s *Service) Invoke(ctx context.Context, target *grid.Block, functionName string, args *grid.Block, opt Options) (ref string, err error) {
	defer func() { s.metrics.record("invoke", err) }()
	if err = checkBlock("function_brick", target, true); err != nil {
		return "", err
	}
	if err = checkRequired("function_name", functionName); err != nil {
		return "", err
	}

	targetNode, err := s.ingest.ToTree(target)
	if err != nil {
		return "", err
	}
	argsNode, err := s.argsNode(args)
	if err != nil {
		return "", err
	}

	result, err := s.bridge.Invoke(targetNode, functionName, argsNode)
	if err != nil {
		return "", err
	}
	s.logger.Debug("function invoked", zap.String("name", functionName))
	return s.register(result, opt), nil
}

func (s *Service) argsNode(args *grid.Block) (*brick.Node, error) {
	if args == nil {
		return nil, nil
	}
	if err := checkBlock("args", args, false); err != nil {
		return nil, err
	}
	return s.ingest.ToTree(args)
}

// Delete removes the handle behind a reference, unconditionally of
// persistence, and returns the literal acknowledgement string.
func (s *Service) Delete(ctx context.Context, block *grid.Block) (ack string, err error) {
	defer func() { s.metrics.record("delete", err) }()
	if err = checkBlock("brick", block, true); err != nil {
		return "", err
	}

	cropped := block.Crop()
	if _, ok := grid.ResolveReference(cropped); !ok {
		return "", fmt.Errorf("%w: brick must be a reference", ErrValidation)
	}
	s.table.DeleteReference(cropped.At(0, 0).(string))
	s.metrics.handles.Set(float64(s.table.Len()))
	return deletedAck, nil
}

// Clear empties the handle table.
func (s *Service) Clear(ctx context.Context) {
	s.metrics.record("clear", nil)
	s.table.Clear()
	s.metrics.handles.Set(0)
}

// Export serializes every live handle's tree, keyed by name. Consumed by
// the presentation layer; never mutates state.
func (s *Service) Export(ctx context.Context) *brick.Map {
	s.metrics.record("export", nil)
	return s.table.Export()
}

// References lists the current reference string of every live handle.
func (s *Service) References(ctx context.Context) []string {
	names := s.table.Names()
	refs := make([]string, 0, len(names))
	for _, name := range names {
		if w, ok := s.table.Lookup(name); ok {
			refs = append(refs, w.Reference())
		}
	}
	return refs
}

// Today returns the current date, a convenience the caller surface
// exposes alongside the producing operations.
func (s *Service) Today() time.Time {
	return time.Now()
}
