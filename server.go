package capnweb

import (
	"log"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRpcEndpoint wires both transport profiles spec.md §4.6 names for an
// HTTP-based server onto a fresh Session per connection: a WebSocket GET
// route for the full-duplex stream profile (transport_ws.go), and a POST
// route for the batch-at-a-time profile (transport_http.go).
//
// newHost is called once per connection/request, not once per server,
// because each Session needs its own bootstrap capability and its own
// export allocator. The returned host is bound to that Session's
// InvokeContext via SetContext before any message is dispatched, so
// handlers that mint capabilities through ctx.Export allocate into the
// right session's export table rather than a shared or stub one.
func SetupRpcEndpoint(e *echo.Echo, path string, newHost func() ContextualHost) {
	e.GET(path, func(c echo.Context) error {
		conn, err := UpgradeWebSocket(c.Response(), c.Request())
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return err
		}
		host := newHost()
		session := NewSession(host)
		host.SetContext(session.Context())
		return ServeWebSocket(conn, session)
	})

	e.POST(path, func(c echo.Context) error {
		host := newHost()
		session := NewSession(host)
		host.SetContext(session.Context())
		defer session.Close()
		return ServeBatch(c, session)
	})
}

// SetupEchoServer creates and configures an Echo server with common
// middleware: request logging, panic recovery, and permissive CORS for the
// bundled browser demos.
func SetupEchoServer() *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.HideBanner = true
	return e
}
