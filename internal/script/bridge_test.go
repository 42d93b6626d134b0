package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/fyrsmithlabs/brickd/internal/brick"
)

func testModule() *starlarkstruct.Module {
	sub := starlark.NewBuiltin("sub", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x, y starlark.Int
		if err := starlark.UnpackPositionalArgs("sub", args, kwargs, 2, &x, &y); err != nil {
			return nil, err
		}
		return x.Sub(y), nil
	})
	point := starlark.NewBuiltin("Point", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x, y starlark.Value
		if err := starlark.UnpackArgs("Point", args, kwargs, "x", &x, "y", &y); err != nil {
			return nil, err
		}
		return starlarkstruct.FromStringDict(starlark.String("Point"), starlark.StringDict{
			"x": x,
			"y": y,
		}), nil
	})
	return &starlarkstruct.Module{
		Name: "calc",
		Members: starlark.StringDict{
			"sub":   sub,
			"Point": point,
			"pi":    starlark.Float(3.14159),
		},
	}
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b := NewBridge(nil)
	b.RegisterModule(testModule())
	return b
}

func invokeNoArgs(t *testing.T, b *Bridge, defined *brick.Node, name string) *brick.Node {
	t.Helper()
	result, err := b.Invoke(defined, name, nil)
	require.NoError(t, err)
	return result
}

func TestDefineFunctions_SimpleFunction(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{"def f():", "    return 42"})
	require.NoError(t, err)

	child, ok := defined.Child("f")
	require.True(t, ok, "namespace should contain f")
	_, isCallable := child.Value().(starlark.Callable)
	assert.True(t, isCallable, "f should be callable")

	result := invokeNoArgs(t, b, defined, "f")
	assert.True(t, result.IsLeaf())
	assert.Equal(t, int64(42), result.Value())
}

func TestDefineFunctions_DiscardsPreamble(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		"this line is preamble and never runs",
		"def g():",
		"    return 1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, defined.Len())
}

func TestDefineFunctions_SanitizesCells(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		nil,
		"def h(x):",
		"    return x + 1",
		"nan",
		"def k():",
		"    return h(9)",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, defined.Len())

	result := invokeNoArgs(t, b, defined, "k")
	assert.Equal(t, int64(10), result.Value())
}

func TestDefineFunctions_SyntheticBodyForBareHeader(t *testing.T) {
	b := newTestBridge(t)

	// An unterminated block header must still evaluate.
	defined, err := b.DefineFunctions([]any{"def stub():"})
	require.NoError(t, err)

	result := invokeNoArgs(t, b, defined, "stub")
	assert.Nil(t, result.Value())
}

func TestDefineFunctions_DefinitionOrderPreserved(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		"def zebra():",
		"    return 1",
		"def alpha():",
		"    return 2",
		"def mid():",
		"    return 3",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra", "alpha", "mid"}, defined.Keys())
}

func TestSanitizeLine(t *testing.T) {
	tests := []struct {
		cell any
		want string
	}{
		{nil, ""},
		{"nan", ""},
		{"NaN", ""},
		{"   ", ""},
		{"null", "null"},
		{"    return x", "    return x"},
	}
	for _, tt := range tests {
		if got := sanitizeLine(tt.cell); got != tt.want {
			t.Errorf("sanitizeLine(%v) = %q, want %q", tt.cell, got, tt.want)
		}
	}
}

func TestDefineFunctions_ImportBindsRegisteredModule(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		"from calc import pi",
		"def area(r):",
		"    return pi * r * r",
	})
	require.NoError(t, err)

	args := brick.NewComposite("")
	require.NoError(t, args.Set("r", brick.NewLeaf("", 2.5)))
	result, err := b.Invoke(defined, "area", args)
	require.NoError(t, err)
	assert.InDelta(t, 3.14159*2.5*2.5, result.Value().(float64), 1e-9)
}

func TestDefineFunctions_UnknownModule(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.DefineFunctions([]any{"import os"})
	require.ErrorIs(t, err, ErrExecution)
}

func TestDefineFunctions_SyntaxError(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.DefineFunctions([]any{"def broken(:", "    return 1"})
	require.ErrorIs(t, err, ErrExecution)
}

func TestInvoke_MappingResult(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		"def quote():",
		"    return {\"bid\": 99, \"ask\": 101}",
	})
	require.NoError(t, err)

	result := invokeNoArgs(t, b, defined, "quote")
	require.False(t, result.IsLeaf())
	assert.Equal(t, []string{"bid", "ask"}, result.Keys())
	bid, _ := result.Child("bid")
	assert.Equal(t, int64(99), bid.Value())
}

func TestInvoke_NestedMappingResultIsAddressable(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		"def book():",
		"    return {\"curve\": {\"rate\": 0.05}, \"ccy\": \"usd\"}",
	})
	require.NoError(t, err)

	result := invokeNoArgs(t, b, defined, "book")
	curve, ok := result.Child("curve")
	require.True(t, ok)
	require.False(t, curve.IsLeaf(), "nested mapping must become a composite")

	rate, err := result.Get([]string{"curve", "rate"})
	require.NoError(t, err, "nested result must stay addressable by path")
	assert.Equal(t, 0.05, rate.Value())

	ccy, ok := result.Child("ccy")
	require.True(t, ok)
	assert.Equal(t, "usd", ccy.Value())
}

func TestInvoke_SequenceResult(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		"def pair():",
		"    return [7, 8]",
	})
	require.NoError(t, err)

	result := invokeNoArgs(t, b, defined, "pair")
	require.False(t, result.IsLeaf())
	assert.Equal(t, []string{"pair_res_1", "pair_res_2"}, result.Keys())
}

func TestInvoke_KeywordArguments(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		"def scale(value, factor):",
		"    return value * factor",
	})
	require.NoError(t, err)

	args := brick.NewComposite("")
	require.NoError(t, args.Set("factor", brick.NewLeaf("", int64(3))))
	require.NoError(t, args.Set("value", brick.NewLeaf("", int64(5))))

	result, err := b.Invoke(defined, "scale", args)
	require.NoError(t, err)
	assert.Equal(t, int64(15), result.Value())
}

func TestInvoke_PositionalFallback(t *testing.T) {
	b := newTestBridge(t)

	// calc.sub only accepts positional arguments; the keyword call is
	// rejected and retried positionally in insertion order.
	target := brick.NewLeaf("", testModule())
	args := brick.NewComposite("")
	require.NoError(t, args.Set("x", brick.NewLeaf("", int64(10))))
	require.NoError(t, args.Set("y", brick.NewLeaf("", int64(4))))

	result, err := b.Invoke(target, "sub", args)
	require.NoError(t, err)
	assert.Equal(t, int64(6), result.Value())
}

func TestInvoke_MissingMember(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{"def f():", "    return 1"})
	require.NoError(t, err)

	_, err = b.Invoke(defined, "nope", nil)
	require.ErrorIs(t, err, ErrExecution)
}

func TestInvoke_ErrorInsideFunctionNotRetried(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		"def boom(x):",
		"    return x + \"\"",
	})
	require.NoError(t, err)

	args := brick.NewComposite("")
	require.NoError(t, args.Set("x", brick.NewLeaf("", int64(1))))
	_, err = b.Invoke(defined, "boom", args)
	require.ErrorIs(t, err, ErrExecution)
}

func TestInstantiate_FromRegisteredModule(t *testing.T) {
	b := newTestBridge(t)

	args := brick.NewComposite("")
	require.NoError(t, args.Set("x", brick.NewLeaf("", int64(1))))
	require.NoError(t, args.Set("y", brick.NewLeaf("", int64(2))))

	node, err := b.Instantiate("Point", "calc", args)
	require.NoError(t, err)
	require.True(t, node.IsLeaf())

	// Members of the instance stay invokable through the leaf.
	obj, ok := node.Value().(starlark.HasAttrs)
	require.True(t, ok)
	x, err := obj.Attr("x")
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(1), x)
}

func TestInstantiate_UnknownType(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.Instantiate("Ghost", "calc", nil)
	require.ErrorIs(t, err, ErrExecution)
}

func TestInstantiate_UnknownModule(t *testing.T) {
	b := newTestBridge(t)
	_, err := b.Instantiate("Thing", "missing", nil)
	require.ErrorIs(t, err, ErrExecution)
}

func TestExternalCoercion(t *testing.T) {
	b := newTestBridge(t)

	defined, err := b.DefineFunctions([]any{
		"def typed(flag, count, marker):",
		"    return [flag, count, marker]",
	})
	require.NoError(t, err)

	args := brick.NewComposite("")
	require.NoError(t, args.Set("flag", brick.NewLeaf("", "True")))
	require.NoError(t, args.Set("count", brick.NewLeaf("", 7.0)))
	require.NoError(t, args.Set("marker", brick.NewLeaf("", "calc.pi")))

	result, err := b.Invoke(defined, "typed", args)
	require.NoError(t, err)

	flag, _ := result.Child("typed_res_1")
	assert.Equal(t, true, flag.Value())
	count, _ := result.Child("typed_res_2")
	assert.Equal(t, int64(7), count.Value())
	marker, _ := result.Child("typed_res_3")
	assert.InDelta(t, 3.14159, marker.Value().(float64), 1e-9)
}
