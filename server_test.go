package capnweb

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newEchoHost() ContextualHost {
	t := NewBaseRpcTarget(nil)
	t.Method("echo", func(_ *InvokeContext, args []any) (any, error) {
		return args[0], nil
	})
	return t
}

// TestSetupRpcEndpointBatchProfile exercises the POST transport profile end
// to end: a body of newline-separated push/pull frames in, the matching
// resolve frame out, joined the same way.
func TestSetupRpcEndpointBatchProfile(t *testing.T) {
	e := SetupEchoServer()
	SetupRpcEndpoint(e, "/api", newEchoHost)

	body := strings.Join([]string{
		`["push", [["import", 1], "echo", ["hi"]]]`,
		`["pull", 1]`,
	}, "\n")
	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `["resolve",1,"hi"]`, rec.Body.String())
}

// TestSetupRpcEndpointPerRequestExportAllocator confirms each POST request
// gets its own Session, so a handler's ctx.Export always mints into that
// request's own export table rather than a shared one left over from a
// previous request.
func TestSetupRpcEndpointPerRequestExportAllocator(t *testing.T) {
	e := SetupEchoServer()
	newHost := func() ContextualHost {
		target := NewBaseRpcTarget(nil)
		target.Method("makeCounter", func(ctx *InvokeContext, _ []any) (any, error) {
			return ctx.Export(0), nil
		})
		return target
	}
	SetupRpcEndpoint(e, "/api", newHost)

	for i := 0; i < 2; i++ {
		body := strings.Join([]string{
			`["push", [["import", 1], "makeCounter", []]]`,
			`["pull", 1]`,
		}, "\n")
		req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		// Every request's session starts fresh, so the minted export id is
		// always 2 (1 is the bootstrap host), never incrementing across requests.
		require.Equal(t, `["resolve",1,["export",2]]`, rec.Body.String())
	}
}
