package capnweb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capnweb-go/capnweb/plan"
)

func TestBaseRpcTargetFlatMethod(t *testing.T) {
	target := NewBaseRpcTarget(&InvokeContext{Export: func(any) []any { return nil }})
	target.Method("greet", func(_ *InvokeContext, args []any) (any, error) {
		return "hello " + args[0].(string), nil
	})

	v, err := target.Dispatch(plan.Method{"greet"}, []any{"world"})
	require.NoError(t, err)
	require.Equal(t, "hello world", v)
}

func TestBaseRpcTargetNestedSelector(t *testing.T) {
	ctx := &InvokeContext{Export: func(any) []any { return nil }}
	root := NewBaseRpcTarget(ctx)
	account := NewBaseRpcTarget(ctx)
	account.Method("close", func(_ *InvokeContext, args []any) (any, error) {
		return "closed", nil
	})
	root.Nested("account", account)

	v, err := root.Dispatch(plan.Method{"account", "close"}, nil)
	require.NoError(t, err)
	require.Equal(t, "closed", v)
}

func TestBaseRpcTargetUnknownMethodIsNotFound(t *testing.T) {
	target := NewBaseRpcTarget(&InvokeContext{Export: func(any) []any { return nil }})
	_, err := target.Dispatch(plan.Method{"nope"}, nil)
	require.Error(t, err)
}

func TestBaseRpcTargetExportAllocatorWiresThroughSession(t *testing.T) {
	root := NewBaseRpcTarget(nil)
	s := NewSession(root)
	root.SetContext(s.Context())
	root.Method("makeCounter", func(ctx *InvokeContext, args []any) (any, error) {
		return ctx.Export(0), nil
	})

	require.NoError(t, s.Inject([]byte(`["push", [["import", 1], "makeCounter", []]]`)))
	require.NoError(t, s.Inject([]byte(`["pull", 1]`)))
	frames := s.Drain()
	require.Len(t, frames, 1)
	require.Contains(t, string(frames[0]), `"export"`)
}
