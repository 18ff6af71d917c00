package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/handoff/pkg/escalation"
)

// frameSnapshot is the type of the first frame on a console socket.
const frameSnapshot = "snapshot"

// maxFrameBytes bounds a single console frame. Snapshots of a long queue can
// exceed the websocket library's 32 KiB default.
const maxFrameBytes = 8 << 20

// Frame is one message from the console stream: either the initial snapshot
// of pending escalations or a lifecycle event.
type Frame struct {
	// Snapshot is set on the first frame only.
	Snapshot []*escalation.Escalation

	// Event is set on every frame after the snapshot.
	Event *escalation.Event
}

// IsSnapshot reports whether f is the hydration frame.
func (f Frame) IsSnapshot() bool { return f.Event == nil }

// Watch connects to the operator console stream and calls fn for every
// frame until ctx is cancelled, the server closes the socket or fn returns an
// error. Cancellation by ctx returns nil.
func (c *Client) Watch(ctx context.Context, fn func(Frame) error) error {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.baseURL.Path + "/ws/console"

	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return fmt.Errorf("client: dial console: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameBytes)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("client: read console frame: %w", err)
		}

		frame, err := decodeFrame(raw)
		if err != nil {
			return err
		}
		if err := fn(frame); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

func decodeFrame(raw json.RawMessage) (Frame, error) {
	var head struct {
		Type        string                   `json:"type"`
		Escalations []*escalation.Escalation `json:"escalations"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Frame{}, fmt.Errorf("client: decode console frame: %w", err)
	}
	if head.Type == frameSnapshot {
		return Frame{Snapshot: head.Escalations}, nil
	}

	var ev escalation.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Frame{}, fmt.Errorf("client: decode console event: %w", err)
	}
	if ev.Escalation == nil {
		return Frame{}, errors.New("client: console event without escalation")
	}
	return Frame{Event: &ev}, nil
}
