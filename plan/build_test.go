package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capnweb-go/capnweb/wire"
)

func TestDecodeCallMatchesScenarioS1(t *testing.T) {
	// ["import", 1], "add", [5, 3] — spec.md §8 S1, call #2.
	raw := []any{[]any{"import", 1.0}, "add", []any{5.0, 3.0}}
	c, err := DecodeCall(raw, 1)
	require.NoError(t, err)
	require.Equal(t, Cap{ID: 1, Import: false}, c.Target)
	require.Equal(t, Method{"add"}, c.Method)
	require.Equal(t, []Expr{Literal{Value: 5.0}, Literal{Value: 3.0}}, c.Args)
}

func TestDecodeCallWithPromiseAndPipelineArgs(t *testing.T) {
	// ["import", 1], "multiply", [["promise", 2], 4] — S1, call #3.
	raw := []any{[]any{"import", 1.0}, "multiply", []any{[]any{"promise", 2.0}, 4.0}}
	c, err := DecodeCall(raw, 2)
	require.NoError(t, err)
	require.Equal(t, []Expr{Ref{CID: 2}, Literal{Value: 4.0}}, c.Args)

	again := []any{[]any{"import", 1.0}, "get", []any{[]any{"pipeline", 2.0, []any{"field"}}}}
	c2, err := DecodeCall(again, 3)
	require.NoError(t, err)
	require.Equal(t, []Expr{Ref{CID: 2, Path: []any{"field"}}}, c2.Args)
}

func TestDecodeExprRejectsUnknownTag(t *testing.T) {
	_, err := DecodeExpr([]any{"bogus", 1.0})
	require.Error(t, err)
	werr, ok := err.(*wire.Error)
	require.True(t, ok)
	require.Equal(t, wire.Protocol, werr.Kind)
}

func TestEncodeExprRoundTripsLiteralsAndRefs(t *testing.T) {
	exprs := []Expr{
		Literal{Value: "hi"},
		Ref{CID: 2},
		Ref{CID: 2, Path: []any{"field", 0.0}},
	}
	for _, e := range exprs {
		wireVal := EncodeExpr(e)
		back, err := DecodeExpr(wireVal)
		require.NoError(t, err)
		require.Equal(t, e, back)
	}
}

func TestEncodeExprCapFlipsDirectionOnReEmission(t *testing.T) {
	// A capability the peer hosts (Import=true, one of our imports) goes
	// back out tagged "import" (receiver-hosts); one we host ourselves
	// (Import=false, one of our exports) goes out tagged "export".
	require.Equal(t, []any{"import", 4.0}, EncodeExpr(Cap{ID: 4, Import: true}))
	require.Equal(t, []any{"export", 1.0}, EncodeExpr(Cap{ID: 1, Import: false}))
}

func TestDecodeRemapNestedOpsIndexing(t *testing.T) {
	// remap(source=["import",1], captures=[5], ops=[[cap(1), "add", [ref(0), ref(1)]]], result=ref(2))
	raw := []any{
		"remap",
		[]any{"import", 1.0},
		[]any{5.0},
		[]any{
			[]any{[]any{"import", 1.0}, "add", []any{[]any{"promise", 0.0}, []any{"promise", 1.0}}},
		},
		[]any{"promise", 2.0},
	}
	e, err := DecodeExpr(raw)
	require.NoError(t, err)
	r, ok := e.(Remap)
	require.True(t, ok)
	require.Len(t, r.Ops, 1)
	require.Equal(t, 2, r.Ops[0].Index)
	require.Equal(t, Ref{CID: 2}, r.Result)
}
