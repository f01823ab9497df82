// Package planrunner evaluates a plan.Plan against live session state: it
// resolves Literal/Cap/Ref/Remap expressions, dispatches Calls against a
// caller-supplied invoker, and applies the single-wrap data.argPath error
// propagation policy of spec.md §7 at the point an argument is consumed.
//
// The package knows nothing about wire framing, transports or tables; it is
// driven entirely through the small Deps/Caps/Invoke seams below, which the
// session engine (package capnweb) implements against its own state. That
// keeps the evaluator itself table-driven and unit-testable with fakes.
package planrunner

import (
	"github.com/capnweb-go/capnweb/plan"
	"github.com/capnweb-go/capnweb/wire"
)

// SlotState is the lifecycle of one call's result within a growing Plan.
type SlotState int

const (
	Pending SlotState = iota
	Done
	Failed
)

// Slot holds the outcome of one call once it stops being Pending.
type Slot struct {
	State SlotState
	Value any
	Err   *wire.Error

	// Emitted records whether the session has already sent a resolve/reject
	// frame for this slot's CID, so a repeat pull of an already-delivered
	// result is a no-op rather than a second emission (spec.md §8 Testable
	// Property 3: at-most-once resolution). The session sets this, not this
	// package — Slot just carries the bit so it lives alongside State/Value.
	Emitted bool
}

// Deps resolves a call-index Ref to its Slot, recursively evaluating the
// dependency first if it is still Pending. Implementations must detect and
// reject cycles; plan.Plan.Validate already rejects the common case
// (non-topological Refs) before a Plan reaches the runner.
type Deps interface {
	Resolve(cid int) (*Slot, error)
}

// Caps resolves a capability reference to a handle opaque to this package.
// It is also where an implementation accounts for the refcount increment
// spec.md invariant 2 requires for every occurrence of a Cap on the wire.
type Caps interface {
	ResolveCap(c plan.Cap) (handle any, werr *wire.Error)
}

// Invoke dispatches method on a resolved target handle with already-resolved
// argument values, synchronously. A non-nil error is classified through
// wire.ToError by EvalCall.
type Invoke func(target any, method plan.Method, args []any) (any, error)

// EvalExpr resolves e to a concrete value. EvalExpr itself never adds an
// argPath annotation (an error taken from a failed slot keeps whatever
// annotation it already carries); only EvalCall's argument loop adds one,
// since only it knows which argument position failed.
func EvalExpr(e plan.Expr, deps Deps, caps Caps) (any, *wire.Error) {
	switch x := e.(type) {
	case nil:
		return nil, nil
	case plan.Literal:
		return x.Value, nil
	case plan.Cap:
		handle, werr := caps.ResolveCap(x)
		return handle, werr
	case plan.Ref:
		slot, err := deps.Resolve(x.CID)
		if err != nil {
			return nil, wire.ToError(err)
		}
		if slot.State == Failed {
			return nil, slot.Err
		}
		v, err := wire.Walk(slot.Value, x.Path)
		if err != nil {
			return nil, wire.ToError(err)
		}
		return v, nil
	case plan.Remap:
		return evalRemap(x, deps, caps)
	default:
		return nil, wire.NewError(wire.Internal, "planrunner: unknown expr type", nil)
	}
}

// EvalCall resolves a Call's target and arguments and dispatches it through
// invoke. An argument that resolves to an error stops the call short of
// dispatch and yields a result error wrapped exactly once with the failing
// argument's index under data.argPath (spec.md §7); a target resolution
// error is returned as-is, since it is not an argument failure.
func EvalCall(c plan.Call, deps Deps, caps Caps, invoke Invoke) (any, *wire.Error) {
	target, werr := EvalExpr(c.Target, deps, caps)
	if werr != nil {
		return nil, werr
	}
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		v, werr := EvalExpr(a, deps, caps)
		if werr != nil {
			return nil, werr.WithArgPath([]any{float64(i)})
		}
		args[i] = v
	}
	result, err := invoke(target, c.Method, args)
	if err != nil {
		return nil, wire.ToError(err)
	}
	return result, nil
}

// remapSlots is a private Deps over a Remap's own closed index space: 0 is
// the resolved source, 1..N are the resolved captures, and N+1+k is op k's
// result, filled in as each op runs.
type remapSlots struct {
	slots []*Slot
}

func (r *remapSlots) Resolve(cid int) (*Slot, error) {
	if cid < 0 || cid >= len(r.slots) || r.slots[cid] == nil {
		return nil, wire.NewError(wire.Protocol, "planrunner: ref to an op outside the remap scope", nil)
	}
	return r.slots[cid], nil
}

func evalRemap(x plan.Remap, deps Deps, caps Caps) (any, *wire.Error) {
	source, werr := EvalExpr(x.Source, deps, caps)
	if werr != nil {
		return nil, werr
	}
	captures := make([]any, len(x.Captures))
	for i, c := range x.Captures {
		v, werr := EvalExpr(c, deps, caps)
		if werr != nil {
			return nil, werr
		}
		captures[i] = v
	}

	total := 1 + len(captures) + len(x.Ops)
	local := &remapSlots{slots: make([]*Slot, total)}
	local.slots[0] = &Slot{State: Done, Value: source}
	for i, v := range captures {
		local.slots[1+i] = &Slot{State: Done, Value: v}
	}

	// Ops invoke against the same Caps (capability tables are session-wide)
	// but must resolve their own Refs purely within the remap's local scope,
	// never reaching back into the enclosing Plan's call indices.
	identityInvoke := func(target any, method plan.Method, args []any) (any, error) {
		return invokeViaCaps(caps, target, method, args)
	}
	for i, op := range x.Ops {
		v, werr := EvalCall(op, local, caps, identityInvoke)
		idx := 1 + len(captures) + i
		if werr != nil {
			local.slots[idx] = &Slot{State: Failed, Err: werr}
		} else {
			local.slots[idx] = &Slot{State: Done, Value: v}
		}
	}
	return EvalExpr(x.Result, local, caps)
}

// invokeViaCaps lets a Remap's ops dispatch without the session needing to
// expose its Invoke function separately; Caps implementations that also
// have an Invoke(target, method, args) method are used directly, otherwise
// an unimplemented error is
// returned — a Remap whose ops never call anything (pure data reshaping)
// never reaches this path.
func invokeViaCaps(caps Caps, target any, method plan.Method, args []any) (any, error) {
	if inv, ok := caps.(interface {
		Invoke(target any, method plan.Method, args []any) (any, error)
	}); ok {
		return inv.Invoke(target, method, args)
	}
	return nil, wire.NewError(wire.Unimplemented, "planrunner: remap ops require an Invoker-capable Caps", nil)
}
