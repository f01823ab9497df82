package capnweb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capnweb-go/capnweb/plan"
)

func newArithmeticHost() Host {
	t := NewBaseRpcTarget(&InvokeContext{Export: func(any) []any { return nil }})
	t.Method("add", func(_ *InvokeContext, args []any) (any, error) {
		return args[0].(float64) + args[1].(float64), nil
	})
	t.Method("multiply", func(_ *InvokeContext, args []any) (any, error) {
		return args[0].(float64) * args[1].(float64), nil
	})
	return t
}

// TestScenarioS1PipelinedArithmetic mirrors spec.md §8 S1: three pushes (the
// first an inert placeholder), then a single pull of the last, which must
// transitively resolve the one it depends on without a separate pull.
func TestScenarioS1PipelinedArithmetic(t *testing.T) {
	s := NewSession(newArithmeticHost())

	require.NoError(t, s.Inject([]byte(`["push", ["pipeline", 0, []]]`)))
	require.NoError(t, s.Inject([]byte(`["push", [["import", 1], "add", [5, 3]]]`)))
	require.NoError(t, s.Inject([]byte(`["push", [["import", 1], "multiply", [["promise", 2], 4]]]`)))
	require.NoError(t, s.Inject([]byte(`["pull", 3]`)))

	frames := s.Drain()
	require.Len(t, frames, 1)
	require.Equal(t, `["resolve",3,32]`+"\n", string(frames[0]))
}

func TestPullOfUnknownCallIsRejectedWithBadRequest(t *testing.T) {
	s := NewSession(newArithmeticHost())
	require.NoError(t, s.Inject([]byte(`["pull", 1]`)))
	frames := s.Drain()
	require.Len(t, frames, 1)
	require.Contains(t, string(frames[0]), `"reject"`)
	require.Contains(t, string(frames[0]), `"BAD_REQUEST"`)
}

func TestPullOfReservedCidZeroIsRejected(t *testing.T) {
	s := NewSession(newArithmeticHost())
	require.NoError(t, s.Inject([]byte(`["pull", 0]`)))
	frames := s.Drain()
	require.Len(t, frames, 1)
	require.Contains(t, string(frames[0]), `"reject"`)
}

func TestUnknownMethodIsNotFound(t *testing.T) {
	s := NewSession(newArithmeticHost())
	require.NoError(t, s.Inject([]byte(`["push", [["import", 1], "divide", [4, 2]]]`)))
	require.NoError(t, s.Inject([]byte(`["pull", 1]`)))
	frames := s.Drain()
	require.Len(t, frames, 1)
	require.Contains(t, string(frames[0]), `"NOT_FOUND"`)
}

func TestArgumentErrorWrapsWithArgPathOnce(t *testing.T) {
	s := NewSession(newArithmeticHost())
	require.NoError(t, s.Inject([]byte(`["push", [["import", 1], "divide", [1, 2]]]`))) // call 1: unknown method -> error
	require.NoError(t, s.Inject([]byte(`["push", [["import", 1], "add", [["promise", 1], 9]]]`))) // call 2: depends on failed call 1
	require.NoError(t, s.Inject([]byte(`["pull", 2]`)))
	frames := s.Drain()
	require.Len(t, frames, 1)
	require.Contains(t, string(frames[0]), `"argPath"`)
	require.Contains(t, string(frames[0]), `[0]`)
}

// TestScenarioS3MalformedFrameAbortsSession mirrors spec.md §8 S3: a
// PROTOCOL-kind decode error is session-fatal, not just a rejected frame —
// exactly one abort is emitted, the session closes, and it silently ignores
// everything injected afterward.
func TestScenarioS3MalformedFrameAbortsSession(t *testing.T) {
	s := NewSession(newArithmeticHost())

	err := s.Inject([]byte(`["bogus-tag", 1]`))
	require.Error(t, err)

	frames := s.Drain()
	require.Len(t, frames, 1)
	require.Contains(t, string(frames[0]), `"abort"`)
	require.Contains(t, string(frames[0]), `"PROTOCOL"`)
	require.Equal(t, StateClosed, s.State())

	require.NoError(t, s.Inject([]byte(`["pull", 0]`)))
	require.Empty(t, s.Drain())
}

// TestRepeatPullIsAtMostOnceResolution covers spec.md §8 Testable Property
// 3: the set of emitted resolve/reject frames for a CID has size <= 1, so a
// second pull of an already-delivered result must not re-emit it.
func TestRepeatPullIsAtMostOnceResolution(t *testing.T) {
	s := NewSession(newArithmeticHost())
	require.NoError(t, s.Inject([]byte(`["push", [["import", 1], "add", [5, 3]]]`)))

	require.NoError(t, s.Inject([]byte(`["pull", 1]`)))
	first := s.Drain()
	require.Len(t, first, 1)
	require.Contains(t, string(first[0]), `"resolve"`)

	require.NoError(t, s.Inject([]byte(`["pull", 1]`)))
	require.Empty(t, s.Drain())
}

func TestTwoSessionsCallerAndCallee(t *testing.T) {
	callee := NewSession(newArithmeticHost())
	caller := NewSession(newArithmeticHost()) // caller's own host is unused here

	cid := caller.Call(plan.Cap{ID: 1, Import: true}, plan.Method{"add"},
		[]plan.Expr{plan.Literal{Value: 10.0}, plan.Literal{Value: 32.0}})
	caller.Pull(cid)

	for _, frame := range caller.Drain() {
		require.NoError(t, callee.Inject(frame))
	}
	for _, frame := range callee.Drain() {
		require.NoError(t, caller.Inject(frame))
	}

	value, werr, ready := caller.Result(cid)
	require.True(t, ready)
	require.Nil(t, werr)
	require.Equal(t, 42.0, value)
}
