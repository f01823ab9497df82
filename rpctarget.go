package capnweb

import (
	"fmt"
	"sync"

	"github.com/capnweb-go/capnweb/plan"
	"github.com/capnweb-go/capnweb/wire"
)

// Host is the binding surface between the protocol runtime and application
// objects: given a method selector (a property-access path followed by the
// final method name, spec.md §4.7) and already-resolved arguments, it
// invokes the matching method and returns the result, or a NOT_FOUND error
// if no such path/method exists.
type Host interface {
	Dispatch(path plan.Method, args []any) (any, error)
}

// InvokeContext is passed to a registered handler so it can mint fresh
// capabilities for values it returns, via the session's export allocator
// (spec.md §4.7 "the host receives an export-allocation callback").
type InvokeContext struct {
	// Export allocates a new export table entry for handle and returns the
	// wire value a caller can use to address it: ["export", id].
	Export func(handle any) []any
}

// HandlerFunc is a registered method body: already-resolved arguments in,
// a result value (or export-tagged capability) or error out.
type HandlerFunc func(ctx *InvokeContext, args []any) (any, error)

// ContextualHost is a Host that can be rebound to a Session's InvokeContext
// after construction. SetupRpcEndpoint needs this two-phase handshake
// because a fresh Host must exist for NewSession to export as the session's
// bootstrap capability, but that same Host's handlers need the export
// allocator NewSession only produces once the Session exists.
type ContextualHost interface {
	Host
	SetContext(ctx *InvokeContext)
}

// BaseRpcTarget is a convenience Host implementation built from registered
// named methods and nested sub-targets, generalizing a flat method map into
// the path-based selector spec.md §4.7 requires: selector ["a","b","c"]
// navigates attribute .a, then .b, then calls method .c.
type BaseRpcTarget struct {
	mu      sync.RWMutex
	methods map[string]HandlerFunc
	nested  map[string]Host
	ctx     *InvokeContext
}

// NewBaseRpcTarget creates an empty target. ctx is passed to every handler
// registered on this target with Method; a target registered with Nested
// dispatches with its own context, not this one.
func NewBaseRpcTarget(ctx *InvokeContext) *BaseRpcTarget {
	return &BaseRpcTarget{
		methods: make(map[string]HandlerFunc),
		nested:  make(map[string]Host),
		ctx:     ctx,
	}
}

// SetContext rebinds the InvokeContext every handler registered on this
// target sees; nested targets are not rebound. This lets a target
// be constructed before the Session that will host it exists — a server
// builds the target, constructs the Session around it, then calls
// SetContext(session.Context()) once the session's export allocator is
// available, instead of the two needing each other up front.
func (t *BaseRpcTarget) SetContext(ctx *InvokeContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx = ctx
}

// Method registers a callable leaf.
func (t *BaseRpcTarget) Method(name string, handler HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.methods[name] = handler
}

// Nested registers a sub-target reachable by attribute name, letting a
// selector like ["account", "close"] navigate .account before dispatching
// .close against the nested target.
func (t *BaseRpcTarget) Nested(name string, target Host) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nested[name] = target
}

// Dispatch implements Host.
func (t *BaseRpcTarget) Dispatch(path plan.Method, args []any) (any, error) {
	if len(path) == 0 {
		return nil, wire.NewError(wire.BadRequest, "empty method selector", nil)
	}
	if len(path) > 1 {
		t.mu.RLock()
		sub, ok := t.nested[path[0]]
		t.mu.RUnlock()
		if !ok {
			return nil, wire.NewError(wire.NotFound, fmt.Sprintf("no such attribute: %s", path[0]), nil)
		}
		return sub.Dispatch(path[1:], args)
	}
	t.mu.RLock()
	handler, ok := t.methods[path[0]]
	t.mu.RUnlock()
	if !ok {
		return nil, wire.NewError(wire.NotFound, fmt.Sprintf("method not found: %s", path[0]), nil)
	}
	return handler(t.ctx, args)
}
