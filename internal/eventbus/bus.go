package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/agentworld/runtime/pkg/models"
)

// EventStore is the subset of internal/store.EventStore the bus needs to
// persist an event before publishing it. Defined here (rather than
// imported) to keep eventbus free of a dependency on internal/store.
type EventStore interface {
	SaveEvent(ctx context.Context, worldID string, event *models.StoredEvent) error
}

// Subscription is returned by Subscribe and cancels delivery when closed.
type Subscription struct {
	bus     *Bus
	worldID string
	id      uint64
}

// Unsubscribe stops delivery to the sink this subscription was created
// for. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.worldID, s.id)
}

type subscriber struct {
	id   uint64
	sink Sink
}

// Bus multiplexes events for every world in a process onto per-world
// subscriber lists, assigning each persisted event a monotonic sequence
// number scoped to its world. Built from an atomic sequence counter
// with a base()+emit() split, plus a Nop/Callback/Chan/Multi sink
// family, generalized from one sink per agent run to one subscriber
// list per world.
type Bus struct {
	store EventStore

	mu          sync.RWMutex
	seqs        map[string]*uint64       // worldID -> sequence counter
	subscribers map[string][]subscriber  // worldID -> listeners
	nextSubID   uint64
}

// New creates a Bus that persists message/system events through store
// before publishing them. store may be nil, in which case PublishMessage
// and PublishSystem skip persistence (useful for tests that only exercise
// fan-out).
func New(store EventStore) *Bus {
	return &Bus{
		store:       store,
		seqs:        make(map[string]*uint64),
		subscribers: make(map[string][]subscriber),
	}
}

func (b *Bus) seqCounter(worldID string) *uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.seqs[worldID]
	if !ok {
		c = new(uint64)
		b.seqs[worldID] = c
	}
	return c
}

// NextSeq returns the next monotonic sequence number for worldID.
func (b *Bus) NextSeq(worldID string) uint64 {
	return atomic.AddUint64(b.seqCounter(worldID), 1)
}

// EnsureSeqAtLeast advances worldID's counter to at least seq. Callers
// that write rows with store-assigned sequence numbers (chat branching,
// world import) must bump the counter afterward, or the next published
// event would collide with a row the bus never numbered.
func (b *Bus) EnsureSeqAtLeast(worldID string, seq uint64) {
	c := b.seqCounter(worldID)
	for {
		cur := atomic.LoadUint64(c)
		if cur >= seq || atomic.CompareAndSwapUint64(c, cur, seq) {
			return
		}
	}
}

// Subscribe registers sink to receive every envelope published for
// worldID, on every channel. Callers that only want one channel should
// filter inside their Sink.Emit.
func (b *Bus) Subscribe(worldID string, sink Sink) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := atomic.AddUint64(&b.nextSubID, 1)
	b.subscribers[worldID] = append(b.subscribers[worldID], subscriber{id: id, sink: sink})
	return &Subscription{bus: b, worldID: worldID, id: id}
}

func (b *Bus) unsubscribe(worldID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[worldID]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[worldID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) snapshot(worldID string) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscriber, len(b.subscribers[worldID]))
	copy(out, b.subscribers[worldID])
	return out
}

// Publish dispatches env to every subscriber of env.WorldID without
// touching the store. Used for ChannelSSE (ephemeral deltas) and
// ChannelWorld (CRUD refresh notices), neither of which is a durable row.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	for _, s := range b.snapshot(env.WorldID) {
		s.sink.Emit(ctx, env)
	}
}

// PublishMessage assigns event the next sequence number for worldID,
// persists it via the configured store, and only then fans it out on
// ChannelMessage — persist-before-emit ordering so a subscriber can never
// observe a message the store failed to durably record.
func (b *Bus) PublishMessage(ctx context.Context, worldID string, event *models.StoredEvent) error {
	return b.publishStored(ctx, worldID, ChannelMessage, event)
}

// PublishSystem is PublishMessage's counterpart for system-level notices
// (type=system rows): persisted, then fanned out on ChannelSystem.
func (b *Bus) PublishSystem(ctx context.Context, worldID string, event *models.StoredEvent) error {
	return b.publishStored(ctx, worldID, ChannelSystem, event)
}

func (b *Bus) publishStored(ctx context.Context, worldID string, ch Channel, event *models.StoredEvent) error {
	event.WorldID = worldID
	event.Seq = b.NextSeq(worldID)
	if b.store != nil {
		if err := b.store.SaveEvent(ctx, worldID, event); err != nil {
			return err
		}
	}
	b.Publish(ctx, Envelope{Channel: ch, WorldID: worldID, Event: event})
	return nil
}

// PublishSSE fans out an ephemeral streaming delta on ChannelSSE. SSE
// events are never persisted so this never touches store
// and never consumes a sequence number.
func (b *Bus) PublishSSE(ctx context.Context, worldID string, sse *models.SSEEvent) {
	b.Publish(ctx, Envelope{Channel: ChannelSSE, WorldID: worldID, SSE: sse})
}

// PublishWorldRefresh notifies subscribers that a world/agent/chat CRUD
// operation occurred, so clients can reload list state without a full
// message replay.
func (b *Bus) PublishWorldRefresh(ctx context.Context, worldID, ref, refID, op string) {
	b.Publish(ctx, Envelope{
		Channel:    ChannelWorld,
		WorldID:    worldID,
		WorldRef:   ref,
		WorldRefID: refID,
		WorldOp:    op,
	})
}
