package tables

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntroduceThenAcquireAccumulatesRefcount(t *testing.T) {
	tb := New(nil)
	e, err := tb.Introduce(7, "handle-7")
	require.NoError(t, err)
	require.Equal(t, 1, e.Refcount)

	// Three more occurrences on the wire (spec.md S2).
	require.NoError(t, tb.Acquire(7, 3))
	h, ok := tb.Lookup(7)
	require.True(t, ok)
	require.Equal(t, "handle-7", h)
}

func TestReleaseDisposesExactlyOnceAtZero(t *testing.T) {
	var disposedIDs []int
	var disposedHandles []any
	tb := New(func(id int, handle any) {
		disposedIDs = append(disposedIDs, id)
		disposedHandles = append(disposedHandles, handle)
	})
	_, err := tb.Introduce(7, "handle-7")
	require.NoError(t, err)
	require.NoError(t, tb.Acquire(7, 3)) // refcount now 4, per spec S2

	disposed, err := tb.Release(7, 4)
	require.NoError(t, err)
	require.True(t, disposed)
	require.Equal(t, []int{7}, disposedIDs)
	require.Equal(t, []any{"handle-7"}, disposedHandles)

	_, ok := tb.Lookup(7)
	require.False(t, ok)
}

func TestReleasePartialDoesNotDispose(t *testing.T) {
	disposals := 0
	tb := New(func(int, any) { disposals++ })
	_, err := tb.Introduce(1, "h")
	require.NoError(t, err)
	require.NoError(t, tb.Acquire(1, 2)) // refcount 3

	disposed, err := tb.Release(1, 2)
	require.NoError(t, err)
	require.False(t, disposed)
	require.Zero(t, disposals)

	disposed, err = tb.Release(1, 1)
	require.NoError(t, err)
	require.True(t, disposed)
	require.Equal(t, 1, disposals)
}

func TestIntroduceCollisionWithDifferentHandleIsError(t *testing.T) {
	tb := New(nil)
	_, err := tb.Introduce(1, "a")
	require.NoError(t, err)
	_, err = tb.Introduce(1, "b")
	require.Error(t, err)
}

func TestReleaseBelowZeroIsError(t *testing.T) {
	tb := New(nil)
	_, err := tb.Introduce(1, "a")
	require.NoError(t, err)
	_, err = tb.Release(1, 5)
	require.Error(t, err)
}

func TestCloseDisposesInDescendingIDOrder(t *testing.T) {
	var order []int
	tb := New(func(id int, _ any) { order = append(order, id) })
	for _, id := range []int{1, 2, 3} {
		_, err := tb.Introduce(id, id)
		require.NoError(t, err)
	}
	disposed := tb.Close()
	require.Equal(t, []int{3, 2, 1}, disposed)
	require.Equal(t, []int{3, 2, 1}, order)
	require.Equal(t, 0, tb.Len())
}

func TestCloseDisposerReleasingOtherIDsDoesNotResurrect(t *testing.T) {
	var order []int
	var tb *Table
	tb = New(func(id int, _ any) {
		order = append(order, id)
		if id == 3 {
			// Disposer-triggered release during teardown (permitted by
			// spec.md §4.2); must not resurrect an id already destroyed.
			_, _ = tb.Release(2, 1)
		}
	})
	for _, id := range []int{1, 2, 3} {
		_, err := tb.Introduce(id, id)
		require.NoError(t, err)
	}
	disposed := tb.Close()
	require.Equal(t, []int{3, 2, 1}, disposed)
	require.Equal(t, []int{3, 2, 1}, order)
}
