package capnweb

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // demo server; production deployments should restrict this
	},
}

// ServeWebSocket drives the full-duplex stream profile of spec.md §4.6 over
// one upgraded WebSocket connection: a read pump feeds inbound frames to
// Inject, a write pump drains outbound frames after each Inject, and either
// direction failing tears down the other via the errgroup's shared context.
func ServeWebSocket(conn *websocket.Conn, session *Session) error {
	defer conn.Close()
	defer session.Close()

	g, ctx := errgroup.WithContext(context.Background())
	outbound := make(chan []byte, 16)

	g.Go(func() error {
		defer close(outbound)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("session %s: websocket read error: %v", session.ID(), err)
				}
				return nil
			}
			injectErr := session.Inject(message)
			if injectErr != nil {
				log.Printf("session %s: protocol error, aborting: %v", session.ID(), injectErr)
			}
			for _, frame := range session.Drain() {
				select {
				case outbound <- frame:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if injectErr != nil {
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case frame, ok := <-outbound:
				if !ok {
					return nil
				}
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	return g.Wait()
}

// UpgradeWebSocket upgrades an HTTP request to a WebSocket connection using
// the package's shared Upgrader.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}
