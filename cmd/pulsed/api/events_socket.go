package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/mieweb/pulse-desktop/lib/logger"
)

const eventWriteTimeout = 5 * time.Second

// HandleEventsSocket streams engine events to a UI client over a websocket.
// Each event is one JSON text frame.
func (s *ApiService) HandleEventsSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error("failed to accept events socket", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ch, cancel := s.bus.Subscribe()
	defer cancel()

	// clients never send frames; CloseRead surfaces disconnects as ctx
	// cancellation
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error("failed to encode event", "err", err, "type", ev.Type)
				continue
			}
			if err := writeWithTimeout(ctx, conn, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, typ, data)
}
