package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/pkg/models"
)

// DefaultBufferSize is the bounded channel depth each connection uses
// to absorb bursts before dropping.
const DefaultBufferSize = 256

// qualifyingActivity reports whether sse is one of the event types
// that counts as activity extending the idle timeout.
func qualifyingActivity(sse *models.SSEEvent) bool {
	switch sse.Type {
	case models.SSEStart, models.SSEChunk, models.SSEEnd,
		models.SSEToolStart, models.SSEToolStream, models.SSEToolEnd:
		return true
	default:
		return false
	}
}

// Connection serves one client's SSE stream for a world: it subscribes
// to every channel of the world on the bus, serializes each sse, message,
// system and world-refresh envelope as a `data: <json>\n\n` frame, and
// closes when the IdleWaiter resolves or the request context is
// cancelled. Envelopes that arrive while the buffer is full are dropped
// (backpressure); a drop does not close the stream.
//
// Built on the eventbus.ChanSink backpressure idiom (bounded channel,
// drop-on-full) composing with this package's IdleWaiter; the
// write-loop/flush pattern follows the same never-block-the-publisher
// discipline ChanSink honors.
type Connection struct {
	bus     *eventbus.Bus
	worldID string
	tracker *ActivityTracker
	waiter  *IdleWaiter
}

// NewConnection builds a Connection for worldID, bound to tracker (the
// world's shared activity counter) with the default idle parameters.
func NewConnection(bus *eventbus.Bus, worldID string, tracker *ActivityTracker) *Connection {
	return &Connection{
		bus:     bus,
		worldID: worldID,
		tracker: tracker,
		waiter:  NewIdleWaiter(tracker, DefaultMainTimeout, DefaultGracePeriod),
	}
}

// Serve writes the SSE stream to w until the connection's lifetime
// resolves. w must support http.Flusher for incremental delivery; if it
// doesn't, frames are still written but may be buffered by an
// intermediary.
func (c *Connection) Serve(ctx context.Context, w io.Writer) error {
	flusher, _ := w.(http.Flusher)

	buf := make(chan eventbus.Envelope, DefaultBufferSize)
	sink := eventbus.NewChanSink(buf)
	sub := c.bus.Subscribe(c.worldID, sink)
	defer sub.Unsubscribe()

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.waiter.Wait(ctx)
	}()

	for {
		select {
		case err := <-errCh:
			return err

		case env := <-buf:
			if env.SSE != nil && qualifyingActivity(env.SSE) {
				c.waiter.Notify()
			}
			if err := writeFrame(w, env); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func writeFrame(w io.Writer, env eventbus.Envelope) error {
	var payload any
	switch env.Channel {
	case eventbus.ChannelSSE:
		payload = env.SSE
	case eventbus.ChannelMessage, eventbus.ChannelSystem:
		payload = env.Event
	case eventbus.ChannelWorld:
		payload = map[string]string{"ref": env.WorldRef, "ref_id": env.WorldRefID, "op": env.WorldOp}
	default:
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("streaming: marshal frame: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
