package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/handoff/internal/observe"
	"github.com/MrWong99/handoff/pkg/escalation"
)

// FrameSnapshot is the type of the first frame on a console socket.
const FrameSnapshot = "snapshot"

// writeTimeout bounds a single frame write to a console.
const writeTimeout = 10 * time.Second

// SnapshotFrame hydrates a freshly connected console with the pending queue.
// Every later frame is an [escalation.Event].
type SnapshotFrame struct {
	Type        string                   `json:"type"`
	Escalations []*escalation.Escalation `json:"escalations"`
}

// originPatterns converts allowed origins into the host patterns the
// WebSocket handshake checks against.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		out = append(out, u.Host)
	}
	return out
}

// handleConsole upgrades to a WebSocket, sends the pending snapshot and then
// relays lifecycle events until either side goes away. Frames sent by the
// client are ignored.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.origins),
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("console websocket handshake failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(ctx)

	stream, pending, err := s.orch.Connect(ctx)
	if err != nil {
		log.Error("console hydrate failed", "err", err)
		conn.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}
	defer stream.Close(context.WithoutCancel(ctx))

	log.Info("console connected", "console_id", stream.ID(), "pending", len(pending))
	defer func() {
		log.Info("console disconnected", "console_id", stream.ID(), "dropped", stream.Dropped())
	}()

	if pending == nil {
		pending = []*escalation.Escalation{}
	}
	if err := writeFrame(ctx, conn, SnapshotFrame{Type: FrameSnapshot, Escalations: pending}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "console closed")
				return
			}
			if err := writeFrame(ctx, conn, ev); err != nil {
				log.Debug("console write failed", "console_id", stream.ID(), "err", err)
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
