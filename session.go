package capnweb

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/capnweb-go/capnweb/plan"
	"github.com/capnweb-go/capnweb/planrunner"
	"github.com/capnweb-go/capnweb/tables"
	"github.com/capnweb-go/capnweb/wire"
)

// State is the Session lifecycle of spec.md §4.5: open -> running ->
// closing -> closed.
type State int

const (
	StateOpen State = iota
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// bootstrapExportID is the conventional export ID of a session's root Host
// object, pre-introduced at open so the peer's very first push can address
// it as ["import", 1] without a prior handshake message.
const bootstrapExportID = 1

// RemoteCap marks an import-table handle for a capability the peer hosts.
// Calling a method on one requires bouncing the invocation back across the
// wire to its owner; this implementation supports that only as the target
// of a caller-issued Call (outgoing push), not as a target reached while
// evaluating a plan the peer pushed to us — see DESIGN.md for the scope
// note on nested callee-side remote dispatch.
type RemoteCap struct {
	ID int
}

// outgoingResult tracks one call this Session itself pushed to the peer,
// keyed by the CID we assigned it.
type outgoingResult struct {
	state planrunner.SlotState
	value any
	err   *wire.Error
}

// Session implements the protocol engine of spec.md §4.5/§4.6: it accepts
// inbound wire frames, evaluates calls the peer pushes to it against a
// Host, and lets the local application push its own calls to the peer. A
// single mutex serializes all state, matching the "single-threaded
// cooperative" model spec.md §5 describes as sufficient and correct — there
// is deliberately no per-call goroutine or blocking wait inside Session.
type Session struct {
	mu    sync.Mutex
	id    uuid.UUID
	state State
	host  Host

	imports *tables.Table // capabilities the peer has exported to us
	exports *tables.Table // capabilities/values we have exported to the peer

	plan  plan.Plan
	slots []*planrunner.Slot

	nextExportID    int
	nextOutgoingCID int
	outgoing        map[int]*outgoingResult

	outbox [][]byte
}

// NewSession opens a session bound to host, pre-exporting host itself at
// bootstrapExportID so the peer can reach it immediately.
func NewSession(host Host) *Session {
	s := &Session{
		id:              uuid.New(),
		state:           StateOpen,
		host:            host,
		nextExportID:    bootstrapExportID + 1,
		nextOutgoingCID: 1,
		outgoing:        make(map[int]*outgoingResult),
	}
	// CID 0 is reserved (spec.md Open Question, resolved in DESIGN.md): seed
	// both the callee plan and its slots with a dead entry at index 0 so
	// real calls are numbered starting at 1 on both sides of the session.
	s.plan.Calls = []plan.Call{{}}
	s.slots = []*planrunner.Slot{{
		State: planrunner.Failed,
		Err:   wire.NewError(wire.Protocol, "call id 0 is reserved", nil),
	}}
	s.exports = tables.New(func(id int, handle any) {
		log.Printf("session %s: export %d disposed", s.id, id)
	})
	s.imports = tables.New(func(id int, handle any) {
		log.Printf("session %s: import %d disposed", s.id, id)
	})
	if _, err := s.exports.Introduce(bootstrapExportID, hostHandle{host}); err != nil {
		panic(fmt.Sprintf("capnweb: bootstrap export collision: %v", err))
	}
	s.state = StateRunning
	return s
}

// ID is the session's opaque identity (spec.md §4.6), useful for logging
// and for a transport that must correlate this Session with a connection.
func (s *Session) ID() uuid.UUID { return s.id }

// hostHandle wraps a Host so it can sit in the exports table alongside
// plain application values without the table needing to know about Host.
type hostHandle struct{ h Host }

// Inject feeds one decoded frame of peer input into the session. It never
// blocks: a call that cannot yet complete simply stays Pending until a
// later pull resolves its dependencies.
//
// A frame that fails to decode — unknown tag, wrong arity, malformed
// argument — carries a PROTOCOL-kind error, and spec.md §4.5/§7 scenario S3
// makes that session-fatal: Inject enqueues exactly one abort frame and
// tears the session down rather than merely rejecting the one bad frame.
// Once the session has entered closing/closed, Inject is a silent no-op so a
// transport can keep feeding it whatever frames already arrived in the same
// read without special-casing them.
func (s *Session) Inject(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateClosing {
		return nil
	}
	msg, err := wire.DecodeFrame(frame)
	if err != nil {
		s.abortLocked(wire.ToError(err))
		return err
	}
	switch msg.Tag {
	case wire.Push:
		s.handlePushLocked(msg.Args[0])
	case wire.Pull:
		cid, _ := wire.AsID(msg.Args[0])
		s.handlePullLocked(cid)
	case wire.Resolve:
		cid, _ := wire.AsID(msg.Args[0])
		s.handleResolveLocked(cid, msg.Args[1], nil)
	case wire.Reject:
		cid, _ := wire.AsID(msg.Args[0])
		werr, _ := wire.ErrorFromValue(msg.Args[1])
		s.handleResolveLocked(cid, nil, werr)
	case wire.Release:
		id, _ := wire.AsID(msg.Args[0])
		refcount, _ := wire.AsID(msg.Args[1])
		s.handleReleaseLocked(id, refcount)
	case wire.Abort:
		s.handleAbortLocked(msg.Args[0])
	}
	return nil
}

// Drain returns and clears every frame queued for the peer since the last
// Drain call. A transport adapter calls this after each Inject (and after
// local Call/Pull) to learn what to write out.
func (s *Session) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outbox
	s.outbox = nil
	return out
}

// abortLocked sends exactly one abort frame carrying werr and tears the
// session down, per spec.md §4.5/§7 scenario S3: a PROTOCOL error ends the
// session, it doesn't just fail the one frame that caused it.
func (s *Session) abortLocked(werr *wire.Error) {
	s.enqueueLocked(wire.Abort, werr.AsValue())
	s.teardownLocked()
}

func (s *Session) enqueueLocked(tag string, args ...any) {
	b, err := wire.EncodeFrame(wire.Message{Tag: tag, Args: args})
	if err != nil {
		log.Printf("session %s: failed to encode %s frame: %v", s.id, tag, err)
		return
	}
	s.outbox = append(s.outbox, b)
}

// handlePushLocked appends the peer's call at the next implicit CID
// (spec.md §4.1: CIDs are assigned sequentially within the sender's
// namespace, starting at 1, and are not carried on the wire).
func (s *Session) handlePushLocked(raw any) {
	idx := len(s.plan.Calls)
	call, err := plan.DecodeCall(raw, idx)
	if err != nil {
		s.plan.Calls = append(s.plan.Calls, plan.Call{Index: idx})
		s.slots = append(s.slots, &planrunner.Slot{State: planrunner.Failed, Err: wire.ToError(err)})
		return
	}
	s.plan.Calls = append(s.plan.Calls, call)
	s.slots = append(s.slots, &planrunner.Slot{State: planrunner.Pending})
	if verr := s.plan.Validate(); verr != nil {
		s.slots[idx] = &planrunner.Slot{State: planrunner.Failed, Err: wire.ToError(verr)}
	}
}

// handlePullLocked resolves cid (recursively resolving any dependency that
// is still Pending) and enqueues the matching resolve/reject frame. A
// second pull of a CID already delivered is a no-op: spec.md §8 Testable
// Property 3 requires at-most-once resolution, so the slot's Emitted bit
// (set here, the first and only time a result is sent) stands in for the
// teacher's delete-the-cached-result-on-pull trick.
func (s *Session) handlePullLocked(cid int) {
	slot, err := s.resolveCalleeSlotLocked(cid)
	if err != nil {
		s.enqueueLocked(wire.Reject, float64(cid), wire.ToError(err).AsValue())
		return
	}
	if slot.Emitted {
		return
	}
	slot.Emitted = true
	if slot.State == planrunner.Failed {
		s.enqueueLocked(wire.Reject, float64(cid), slot.Err.AsValue())
		return
	}
	s.enqueueLocked(wire.Resolve, float64(cid), slot.Value)
}

// resolveCalleeSlotLocked is planrunner.Deps.Resolve for the plan of calls
// the peer has pushed to us, evaluated lazily and memoized in s.slots.
func (s *Session) resolveCalleeSlotLocked(cid int) (*planrunner.Slot, error) {
	if cid < 0 || cid >= len(s.slots) {
		return nil, wire.NewError(wire.BadRequest, fmt.Sprintf("unknown call id %d", cid), nil)
	}
	slot := s.slots[cid]
	if slot.State != planrunner.Pending {
		return slot, nil
	}
	call := s.plan.Calls[cid]
	caps := sessionCaps{s: s}
	value, werr := planrunner.EvalCall(call, calleeDeps{s: s}, caps, caps.Invoke)
	if werr != nil {
		slot.State = planrunner.Failed
		slot.Err = werr
	} else {
		slot.State = planrunner.Done
		slot.Value = value
	}
	return slot, nil
}

type calleeDeps struct{ s *Session }

func (d calleeDeps) Resolve(cid int) (*planrunner.Slot, error) {
	return d.s.resolveCalleeSlotLocked(cid)
}

// sessionCaps adapts Session's tables to planrunner.Caps, and also serves
// as the planrunner.Invoke function for locally-hosted targets.
type sessionCaps struct{ s *Session }

func (c sessionCaps) ResolveCap(cap plan.Cap) (any, *wire.Error) {
	s := c.s
	if cap.Import {
		if handle, ok := s.imports.Lookup(cap.ID); ok {
			_ = s.imports.Acquire(cap.ID, 1)
			return handle, nil
		}
		handle := RemoteCap{ID: cap.ID}
		if _, err := s.imports.Introduce(cap.ID, handle); err != nil {
			return nil, wire.NewError(wire.Protocol, err.Error(), nil)
		}
		return handle, nil
	}
	handle, ok := s.exports.Lookup(cap.ID)
	if !ok {
		return nil, wire.NewError(wire.BadRequest, fmt.Sprintf("unknown export id %d", cap.ID), nil)
	}
	_ = s.exports.Acquire(cap.ID, 1)
	return handle, nil
}

func (c sessionCaps) Invoke(target any, method plan.Method, args []any) (any, error) {
	switch t := target.(type) {
	case hostHandle:
		return t.h.Dispatch(method, args)
	case Host:
		return t.Dispatch(method, args)
	case RemoteCap:
		return nil, wire.NewError(wire.Unimplemented,
			"calling a peer-hosted capability from within a plan the peer pushed to us is not supported", nil)
	default:
		return nil, wire.NewError(wire.NotFound, fmt.Sprintf("target %T is not callable", target), nil)
	}
}

// handleResolveLocked applies an incoming resolve/reject to one of our own
// outgoing calls.
func (s *Session) handleResolveLocked(cid int, value any, werr *wire.Error) {
	res, ok := s.outgoing[cid]
	if !ok {
		log.Printf("session %s: resolve/reject for unknown outgoing call %d", s.id, cid)
		return
	}
	if werr != nil {
		res.state = planrunner.Failed
		res.err = werr
	} else {
		res.state = planrunner.Done
		res.value = value
	}
}

// handleReleaseLocked applies a peer's release of one of our exports
// (spec.md §4.2: release addresses the sender's import id, which is always
// one of our own prior exports).
func (s *Session) handleReleaseLocked(id, refcount int) {
	if _, err := s.exports.Release(id, refcount); err != nil {
		log.Printf("session %s: release %d by %d: %v", s.id, id, refcount, err)
	}
}

func (s *Session) handleAbortLocked(errValue any) {
	werr, _ := wire.ErrorFromValue(errValue)
	if werr != nil {
		log.Printf("session %s: aborted by peer: %s", s.id, werr.Error())
	} else {
		log.Printf("session %s: aborted by peer", s.id)
	}
	s.teardownLocked()
}

// AllocateExport mints a fresh export id bound to handle (spec.md §4.7's
// allocator callback) and returns the wire value a caller addresses it
// with. It takes the session lock, so it is for code running outside
// message dispatch; a host handler, which runs inside Inject with the lock
// already held, allocates through Context().Export instead.
func (s *Session) AllocateExport(handle any) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateExportLocked(handle)
}

func (s *Session) allocateExportLocked(handle any) []any {
	id := s.nextExportID
	s.nextExportID++
	if _, err := s.exports.Introduce(id, handle); err != nil {
		panic(fmt.Sprintf("capnweb: export id collision: %v", err))
	}
	return wire.Export(id)
}

// Context returns an InvokeContext bound to this session's export
// allocator, for constructing a Host via NewBaseRpcTarget. Its Export does
// not take the session lock: handlers call it during dispatch, while
// Inject already holds that lock.
func (s *Session) Context() *InvokeContext {
	return &InvokeContext{Export: s.allocateExportLocked}
}

// Call pushes a new call to the peer and returns the CID the result will be
// addressed by. target selects the peer capability: Import:true addresses
// something the peer hosts — its bootstrap object at ID 1, or a capability
// it exported to us earlier — since the peer, as receiver of this message,
// is who EncodeExpr's Cap direction then tags "import". args may reference
// earlier calls we pushed on this same Session via plan.Ref.
func (s *Session) Call(target plan.Cap, method plan.Method, args []plan.Expr) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cid := s.nextOutgoingCID
	s.nextOutgoingCID++
	call := plan.Call{Target: target, Method: method, Args: args, Index: cid}
	s.outgoing[cid] = &outgoingResult{state: planrunner.Pending}
	s.enqueueLocked(wire.Push, plan.EncodeCall(call))
	return cid
}

// Pull requests delivery of cid's result from the peer.
func (s *Session) Pull(cid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(wire.Pull, float64(cid))
}

// Result reports the current state of a call we pushed via Call. ready is
// false until the matching resolve/reject has been Injected.
func (s *Session) Result(cid int) (value any, werr *wire.Error, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.outgoing[cid]
	if !ok || res.state == planrunner.Pending {
		return nil, nil, false
	}
	return res.value, res.err, true
}

// Release tells the peer we are done with one of our imports.
func (s *Session) Release(id, refcount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.imports.Release(id, refcount)
	s.enqueueLocked(wire.Release, float64(id), float64(refcount))
}

// Close transitions the session through closing to closed, tearing down
// both reference tables in the deterministic descending-ID order spec.md
// §4.2/§8 (S6) requires.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

func (s *Session) teardownLocked() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosing
	s.exports.Close()
	s.imports.Close()
	s.state = StateClosed
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
