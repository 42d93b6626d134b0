// Package script is the function bridge: it evaluates caller-supplied
// source text with an embedded Starlark interpreter, instantiates types
// from registered plugin modules, and invokes callables against brick
// arguments.
//
// Caller source is a trust boundary. It runs inside the interpreter,
// which has no filesystem, network or ambient host authority, and module
// resolution is restricted to modules the host process registered
// explicitly rather than arbitrary import paths.
package script

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brickd/internal/brick"
)

// ErrExecution marks any failure while evaluating or invoking
// caller-supplied code.
var ErrExecution = errors.New("execution failed")

// segment starters: a new top-level code segment begins at any line whose
// first whitespace-delimited token is one of these.
var segmentStarters = map[string]bool{
	"from":   true,
	"import": true,
	"def":    true,
}

// Bridge evaluates source, instantiates registered types and invokes
// callables. Safe defaults: an empty module registry and a print hook
// that routes to the logger.
type Bridge struct {
	modules map[string]*starlarkstruct.Module
	logger  *zap.Logger
}

// NewBridge returns a bridge with the built-in time module registered
// under "time". logger may be nil.
func NewBridge(logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		modules: make(map[string]*starlarkstruct.Module),
		logger:  logger,
	}
	b.RegisterModule(startime.Module)
	return b
}

// RegisterModule exposes a module to caller code under its name. This is
// the declared plugin surface: only registered modules are resolvable
// from import lines, Instantiate paths and marker strings.
func (b *Bridge) RegisterModule(mod *starlarkstruct.Module) {
	b.modules[mod.Name] = mod
}

// Module returns the registered module with the given name.
func (b *Bridge) Module(name string) (*starlarkstruct.Module, bool) {
	mod, ok := b.modules[name]
	return mod, ok
}

func (b *Bridge) thread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			b.logger.Info("script print", zap.String("msg", msg))
		},
	}
}

// sanitizeLine turns null-ish cells into empty lines while preserving the
// indentation of real code lines.
func sanitizeLine(cell any) string {
	if cell == nil {
		return ""
	}
	s, ok := cell.(string)
	if !ok {
		s = fmt.Sprintf("%v", cell)
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || strings.EqualFold(trimmed, "nan") {
		return ""
	}
	return s
}

func firstToken(line string) string {
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		return line[:idx]
	}
	return line
}

// segments partitions sanitized lines into top-level code segments. Lines
// before the first starter are preamble and are discarded. Any segment
// left as an unterminated block header (trailing ':') gets a synthetic
// no-op body so it still parses.
func segments(lines []string) []string {
	var starts []int
	for i, line := range lines {
		if segmentStarters[firstToken(line)] {
			starts = append(starts, i)
		}
	}

	var segs []string
	for i, start := range starts {
		end := len(lines)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		seg := strings.Join(lines[start:end], "\n")
		if strings.HasSuffix(strings.TrimRight(seg, " \t\n"), ":") {
			seg += "\n    pass"
		}
		segs = append(segs, seg)
	}
	return segs
}

// DefineFunctions evaluates a single column of source lines and returns
// a composite whose children are the named values produced, each wrapped
// as an unnamed leaf, in the order their segments bound them.
func (b *Bridge) DefineFunctions(lines []any) (*brick.Node, error) {
	sanitized := make([]string, 0, len(lines))
	for _, cell := range lines {
		sanitized = append(sanitized, sanitizeLine(cell))
	}

	globals := make(starlark.StringDict)
	thread := b.thread("define")

	var order []string
	seen := make(map[string]bool)
	for _, seg := range segments(sanitized) {
		if err := b.execSegment(thread, seg, globals); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrExecution, evalMessage(err))
		}
		// Names bound within one segment carry no order of their own;
		// sort those, keep segment order across segments.
		var added []string
		for name := range globals {
			if !seen[name] {
				seen[name] = true
				added = append(added, name)
			}
		}
		sort.Strings(added)
		order = append(order, added...)
	}

	node := brick.NewComposite("")
	for _, name := range order {
		if err := node.Set(name, brick.NewLeaf("", globals[name])); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// execSegment evaluates one segment against the shared namespace. Import
// segments bind registered modules instead of executing; everything else
// runs as top-level code with the accumulated namespace predeclared.
func (b *Bridge) execSegment(thread *starlark.Thread, seg string, globals starlark.StringDict) error {
	head, rest, _ := strings.Cut(seg, "\n")
	tok := firstToken(head)

	if tok == "import" || tok == "from" {
		if err := b.bindImport(head, globals); err != nil {
			return err
		}
		if strings.TrimSpace(rest) == "" {
			return nil
		}
		seg = rest
	}

	result, err := starlark.ExecFile(thread, "brick.star", seg, globals)
	if err != nil {
		return err
	}
	for name, val := range result {
		globals[name] = val
	}
	return nil
}

// bindImport resolves "import m", "import m as alias" and
// "from m import a, b" against the registered module set.
func (b *Bridge) bindImport(line string, globals starlark.StringDict) error {
	fields := strings.Fields(line)
	switch {
	case fields[0] == "import" && len(fields) == 2:
		mod, ok := b.modules[fields[1]]
		if !ok {
			return fmt.Errorf("module %q is not registered", fields[1])
		}
		globals[fields[1]] = mod
		return nil
	case fields[0] == "import" && len(fields) == 4 && fields[2] == "as":
		mod, ok := b.modules[fields[1]]
		if !ok {
			return fmt.Errorf("module %q is not registered", fields[1])
		}
		globals[fields[3]] = mod
		return nil
	case fields[0] == "from" && len(fields) >= 4 && fields[2] == "import":
		mod, ok := b.modules[fields[1]]
		if !ok {
			return fmt.Errorf("module %q is not registered", fields[1])
		}
		for _, name := range strings.Split(strings.Join(fields[3:], ""), ",") {
			if name == "" {
				continue
			}
			member, err := mod.Attr(name)
			if err != nil || member == nil {
				return fmt.Errorf("module %q has no member %q", fields[1], name)
			}
			globals[name] = member
		}
		return nil
	}
	return fmt.Errorf("unsupported import form %q", line)
}

// Instantiate resolves typeName from the module registered under
// modulePath and constructs it, passing args as keyword arguments when
// supplied. The result stays an opaque interpreter value so methods can
// be invoked on it later.
func (b *Bridge) Instantiate(typeName, modulePath string, args *brick.Node) (*brick.Node, error) {
	mod, ok := b.modules[modulePath]
	if !ok {
		return nil, fmt.Errorf("%w: module %q is not registered", ErrExecution, modulePath)
	}
	ctor, err := mod.Attr(typeName)
	if err != nil || ctor == nil {
		return nil, fmt.Errorf("%w: %q has no type %q", ErrExecution, modulePath, typeName)
	}

	kwargs, err := b.kwargs(args)
	if err != nil {
		return nil, err
	}

	result, err := starlark.Call(b.thread("instantiate"), ctor, nil, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExecution, evalMessage(err))
	}
	return brick.NewLeaf("", result), nil
}

// Invoke resolves the named member on target and calls it. A composite
// target supplies the callable as the child leaf named name; a leaf
// target supplies it as an attribute of its payload. The call is tried
// with keyword arguments first and falls back to a positional call in
// mapping iteration order on a call-shape mismatch. The fallback
// reorders arguments by iteration order, which only works when that
// order matches the parameter order.
func (b *Bridge) Invoke(target *brick.Node, name string, args *brick.Node) (*brick.Node, error) {
	fn, err := b.resolveCallable(target, name)
	if err != nil {
		return nil, err
	}

	kwargs, err := b.kwargs(args)
	if err != nil {
		return nil, err
	}

	thread := b.thread("invoke")
	result, err := starlark.Call(thread, fn, nil, kwargs)
	if err != nil && len(kwargs) > 0 && isCallShapeError(err) {
		positional := make(starlark.Tuple, 0, len(kwargs))
		for _, kw := range kwargs {
			positional = append(positional, kw[1])
		}
		result, err = starlark.Call(thread, fn, positional, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExecution, evalMessage(err))
	}
	return wrapResult(name, result), nil
}

func (b *Bridge) resolveCallable(target *brick.Node, name string) (starlark.Value, error) {
	if !target.IsLeaf() {
		child, ok := target.Child(name)
		if !ok {
			return nil, fmt.Errorf("%w: no function %q", ErrExecution, name)
		}
		fn, ok := child.Value().(starlark.Value)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not callable", ErrExecution, name)
		}
		return fn, nil
	}

	obj, ok := target.Value().(starlark.Value)
	if !ok {
		return nil, fmt.Errorf("%w: target holds no interpreter value", ErrExecution)
	}
	attrs, ok := obj.(starlark.HasAttrs)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no members", ErrExecution, obj.Type())
	}
	member, err := attrs.Attr(name)
	if err != nil || member == nil {
		return nil, fmt.Errorf("%w: %s has no member %q", ErrExecution, obj.Type(), name)
	}
	return member, nil
}

// kwargs serializes an args composite into keyword-argument pairs in
// child insertion order, applying the external typed coercion to each
// value. nil args yields no kwargs.
func (b *Bridge) kwargs(args *brick.Node) ([]starlark.Tuple, error) {
	if args == nil {
		return nil, nil
	}
	if args.IsLeaf() {
		return nil, fmt.Errorf("%w: arguments must be a named collection", ErrExecution)
	}

	kwargs := make([]starlark.Tuple, 0, args.Len())
	for _, key := range args.Keys() {
		child, _ := args.Child(key)
		var payload any
		if child.IsLeaf() {
			payload = child.Value()
		} else {
			payload = child.Serialize()
		}
		val, err := b.toStarlark(payload)
		if err != nil {
			return nil, err
		}
		kwargs = append(kwargs, starlark.Tuple{starlark.String(key), val})
	}
	return kwargs, nil
}

// wrapResult converts a call result into a tree: mappings become
// composites keyed by their own keys, recursively, so path lookup works
// into nested results; sequences become composites with synthetic
// "{name}_res_{i}" keys; anything else a single unnamed leaf.
func wrapResult(name string, result starlark.Value) *brick.Node {
	switch val := result.(type) {
	case *starlark.Dict:
		return dictNode(val)
	case *starlark.List:
		node := brick.NewComposite("")
		for i := 0; i < val.Len(); i++ {
			_ = node.Set(fmt.Sprintf("%s_res_%d", name, i+1), brick.NewLeaf("", fromStarlark(val.Index(i))))
		}
		return node
	case starlark.Tuple:
		node := brick.NewComposite("")
		for i, e := range val {
			_ = node.Set(fmt.Sprintf("%s_res_%d", name, i+1), brick.NewLeaf("", fromStarlark(e)))
		}
		return node
	}
	return brick.NewLeaf("", fromStarlark(result))
}

// dictNode converts a mapping into a composite, descending into nested
// mappings so every dict level stays addressable by path.
func dictNode(d *starlark.Dict) *brick.Node {
	node := brick.NewComposite("")
	for _, item := range d.Items() {
		if sub, ok := item[1].(*starlark.Dict); ok {
			_ = node.Set(keyString(item[0]), dictNode(sub))
			continue
		}
		_ = node.Set(keyString(item[0]), brick.NewLeaf("", fromStarlark(item[1])))
	}
	return node
}

// isCallShapeError distinguishes a keyword-call signature mismatch from
// a failure inside the function body, so only the former triggers the
// positional retry.
func isCallShapeError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "keyword argument") ||
		strings.Contains(msg, "unexpected keyword") ||
		strings.Contains(msg, "does not accept keyword arguments")
}

// evalMessage flattens interpreter errors to their message text,
// dropping backtrace noise.
func evalMessage(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Msg
	}
	return err.Error()
}
