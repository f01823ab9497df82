package planrunner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capnweb-go/capnweb/plan"
	"github.com/capnweb-go/capnweb/wire"
)

// fakeDeps is a Deps backed by a fixed slot table, for tests that don't need
// lazy resolution.
type fakeDeps struct {
	slots map[int]*Slot
}

func (f fakeDeps) Resolve(cid int) (*Slot, error) {
	s, ok := f.slots[cid]
	if !ok {
		return nil, wire.NewError(wire.BadRequest, "unknown cid", nil)
	}
	return s, nil
}

// fakeCaps resolves every Cap to its ID as a handle and records invocations.
type fakeCaps struct {
	calls []string
}

func (f *fakeCaps) ResolveCap(c plan.Cap) (any, *wire.Error) {
	return c.ID, nil
}

func (f *fakeCaps) Invoke(target any, method plan.Method, args []any) (any, error) {
	f.calls = append(f.calls, method[0])
	switch method[0] {
	case "add":
		return args[0].(float64) + args[1].(float64), nil
	case "multiply":
		return args[0].(float64) * args[1].(float64), nil
	default:
		return nil, wire.NewError(wire.NotFound, "no such method", nil)
	}
}

func TestEvalExprLiteral(t *testing.T) {
	v, werr := EvalExpr(plan.Literal{Value: "hi"}, fakeDeps{}, &fakeCaps{})
	require.Nil(t, werr)
	require.Equal(t, "hi", v)
}

func TestEvalExprRefWalksPath(t *testing.T) {
	deps := fakeDeps{slots: map[int]*Slot{
		0: {State: Done, Value: map[string]any{"x": 42.0}},
	}}
	v, werr := EvalExpr(plan.Ref{CID: 0, Path: []any{"x"}}, deps, &fakeCaps{})
	require.Nil(t, werr)
	require.Equal(t, 42.0, v)
}

func TestEvalExprRefToFailedSlotPropagatesError(t *testing.T) {
	inner := wire.NewError(wire.BadRequest, "boom", nil)
	deps := fakeDeps{slots: map[int]*Slot{
		0: {State: Failed, Err: inner},
	}}
	_, werr := EvalExpr(plan.Ref{CID: 0}, deps, &fakeCaps{})
	require.Same(t, inner, werr)
}

func TestEvalCallAddsArgPathExactlyOnce(t *testing.T) {
	inner := wire.NewError(wire.BadRequest, "boom", nil)
	deps := fakeDeps{slots: map[int]*Slot{
		0: {State: Failed, Err: inner},
	}}
	caps := &fakeCaps{}
	c := plan.Call{
		Target: plan.Cap{ID: 1, Import: false},
		Method: plan.Method{"add"},
		Args:   []plan.Expr{plan.Literal{Value: 1.0}, plan.Ref{CID: 0}},
	}
	_, werr := EvalCall(c, deps, caps, caps.Invoke)
	require.NotNil(t, werr)
	require.Empty(t, caps.calls, "call must not dispatch when an argument errors")
	data, ok := werr.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, []any{1.0}, data["argPath"])

	// Re-wrapping the same error at a different argument index must not
	// stack a second argPath.
	again := werr.WithArgPath([]any{99.0})
	require.Same(t, werr, again)
}

func TestEvalCallDispatchesOnceArgsResolve(t *testing.T) {
	deps := fakeDeps{slots: map[int]*Slot{
		0: {State: Done, Value: 3.0},
	}}
	caps := &fakeCaps{}
	c := plan.Call{
		Target: plan.Cap{ID: 1, Import: false},
		Method: plan.Method{"add"},
		Args:   []plan.Expr{plan.Literal{Value: 5.0}, plan.Ref{CID: 0}},
	}
	v, werr := EvalCall(c, deps, caps, caps.Invoke)
	require.Nil(t, werr)
	require.Equal(t, 8.0, v)
	require.Equal(t, []string{"add"}, caps.calls)
}

func TestEvalRemapRunsNestedScopeAndReturnsResult(t *testing.T) {
	// remap(source=10, captures=[4], ops=[call add(ref(0), ref(1))], result=ref(2))
	r := plan.Remap{
		Source:   plan.Literal{Value: 10.0},
		Captures: []plan.Expr{plan.Literal{Value: 4.0}},
		Ops: []plan.Call{
			{
				Target: plan.Cap{ID: 1},
				Method: plan.Method{"add"},
				Args:   []plan.Expr{plan.Ref{CID: 0}, plan.Ref{CID: 1}},
				Index:  2,
			},
		},
		Result: plan.Ref{CID: 2},
	}
	caps := &fakeCaps{}
	v, werr := EvalExpr(r, fakeDeps{}, caps)
	require.Nil(t, werr)
	require.Equal(t, 14.0, v)
}

func TestEvalRemapOpsCannotSeeOuterScope(t *testing.T) {
	outerDeps := fakeDeps{slots: map[int]*Slot{5: {State: Done, Value: 999.0}}}
	r := plan.Remap{
		Source:   plan.Literal{Value: 1.0},
		Captures: nil,
		Ops: []plan.Call{
			{
				Target: plan.Cap{ID: 1},
				Method: plan.Method{"add"},
				// CID 5 does not exist in the remap's own scope, even though
				// it resolves fine in outerDeps.
				Args:  []plan.Expr{plan.Ref{CID: 0}, plan.Ref{CID: 5}},
				Index: 1,
			},
		},
		Result: plan.Ref{CID: 1},
	}
	caps := &fakeCaps{}
	_, werr := EvalExpr(r, outerDeps, caps)
	require.NotNil(t, werr)
}
