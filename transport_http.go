package capnweb

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/capnweb-go/capnweb/wire"
)

// ServeBatch implements the batch-at-a-time transport profile of spec.md
// §4.6: the entire request body is one or more newline-delimited frames,
// injected in order, with every frame the session queues in response
// flushed back newline-joined before the handler returns — there is no
// partial flush and no frame crosses the boundary outside this one
// request/response pair.
func ServeBatch(c echo.Context, session *Session) error {
	c.Response().Header().Set("Content-Type", "text/plain")
	defer c.Request().Body.Close()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		log.Printf("session %s: error reading batch body: %v", session.ID(), err)
		return echo.NewHTTPError(http.StatusInternalServerError, "error reading request body")
	}

	for _, line := range wire.SplitFrames(body) {
		if err := session.Inject([]byte(line)); err != nil {
			// Inject already queued an abort frame and closed the session
			// (spec.md §4.5/§7 S3); remaining lines in this batch would just
			// be silently dropped by Inject now, so stop feeding them.
			log.Printf("session %s: protocol error, aborting: %v", session.ID(), err)
			break
		}
	}

	var responses []string
	for _, frame := range session.Drain() {
		responses = append(responses, strings.TrimSuffix(string(frame), "\n"))
	}
	return c.String(http.StatusOK, strings.Join(responses, "\n"))
}
