package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentworld/runtime/internal/eventbus"
)

// Control-plane keepalive parameters, separate from the SSE idle
// parameters since a websocket connection is expected to live for an
// entire client session rather than one turn.
const (
	wsPongWait    = 45 * time.Second
	wsPingPeriod  = (wsPongWait * 9) / 10
	wsWriteWait   = 10 * time.Second
	wsBufferBytes = 8192
)

// wsFrame is the envelope every control-plane message is wrapped in,
// one frame per eventbus channel this connection forwards.
type wsFrame struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferBytes,
	WriteBufferSize: wsBufferBytes,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ControlPlane serves a persistent websocket connection for worldID,
// forwarding ChannelWorld refresh notices and ChannelSystem notices so a
// connected client's world/agent/chat list and banner state stay current
// without polling. Unlike Connection, it never forwards ChannelSSE —
// token-level streaming stays on the per-turn SSE connection.
type ControlPlane struct {
	bus     *eventbus.Bus
	worldID string
}

// NewControlPlane builds a ControlPlane for worldID.
func NewControlPlane(bus *eventbus.Bus, worldID string) *ControlPlane {
	return &ControlPlane{bus: bus, worldID: worldID}
}

// ServeHTTP upgrades the request to a websocket and pumps refresh/system
// envelopes to the client until the connection closes or ctx is done.
func (c *ControlPlane) ServeHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	buf := make(chan eventbus.Envelope, DefaultBufferSize)
	sink := eventbus.NewChanSink(buf)
	sub := c.bus.Subscribe(c.worldID, sink)
	defer sub.Unsubscribe()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// Drain (and discard) client reads on a background goroutine purely
	// to drive the pong handler and notice a closed connection; this
	// control plane is server-push only, no client-initiated commands.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-closed:
			return nil

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}

		case env := <-buf:
			frame := controlPlaneFrame(env)
			if frame == nil {
				continue
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func controlPlaneFrame(env eventbus.Envelope) *wsFrame {
	switch env.Channel {
	case eventbus.ChannelWorld:
		return &wsFrame{
			Channel: string(env.Channel),
			Payload: map[string]string{"ref": env.WorldRef, "ref_id": env.WorldRefID, "op": env.WorldOp},
		}
	case eventbus.ChannelSystem:
		return &wsFrame{Channel: string(env.Channel), Payload: env.Event}
	default:
		return nil
	}
}
