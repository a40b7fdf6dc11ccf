// Package orchestrator implements the should-agent-respond rules, per-turn
// context preparation, and the dispatch/tool-execution loop that drives an
// agent's LLM calls in response to world events.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworld/runtime/internal/approval"
	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/internal/llm"
	"github.com/agentworld/runtime/internal/memory"
	"github.com/agentworld/runtime/internal/observability"
	"github.com/agentworld/runtime/internal/store"
	"github.com/agentworld/runtime/internal/streaming"
	"github.com/agentworld/runtime/internal/tools"
	"github.com/agentworld/runtime/pkg/models"
)

// WorldProvider is the subset of internal/manager an Orchestrator needs to
// resolve a world's current state. Defined here, rather than imported,
// so that this package does not import internal/manager.
type WorldProvider interface {
	GetWorld(ctx context.Context, worldID string) (*models.World, error)
	ListAgents(ctx context.Context, worldID string) ([]*models.Agent, error)
}

// Options bundles the dependencies an Orchestrator needs beyond the
// per-turn TurnLimits, so callers building one from internal/config have a
// single struct to fill in.
type Options struct {
	Bus      *eventbus.Bus
	Store    store.EventStore
	Memory   *memory.Manager
	Approval *approval.Checker
	Tools    *tools.Registry
	LLM      *llm.Registry
	Skills   SkillLister
	Worlds   WorldProvider

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Logger  *slog.Logger

	MaxToolIterations int

	// DisableStreaming withholds per-chunk sse:start/chunk events and
	// delivers only the final sse:end once a turn completes, for callers
	// running the serve command with `--streaming=false`. The provider call itself
	// is unaffected — llm.Provider only ever exposes Stream — this just
	// changes what the turn loop republishes to clients.
	DisableStreaming bool
}

// Orchestrator wires the should-agent-respond rules, context preparation,
// and tool-execution loop together into a runnable dispatch path.
type Orchestrator struct {
	bus      *eventbus.Bus
	store    store.EventStore
	memory   *memory.Manager
	approval *approval.Checker
	tools    *tools.Registry
	llm      *llm.Registry
	skills   SkillLister
	worlds   WorldProvider

	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger

	maxToolIterations int
	disableStreaming  bool

	trackersMu sync.Mutex
	trackers   map[string]*streaming.ActivityTracker
}

// New builds an Orchestrator from opts, applying defaults for anything
// left zero.
func New(opts Options) *Orchestrator {
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = 25
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		bus:               opts.Bus,
		store:             opts.Store,
		memory:            opts.Memory,
		approval:          opts.Approval,
		tools:             opts.Tools,
		llm:               opts.LLM,
		skills:            opts.Skills,
		worlds:            opts.Worlds,
		metrics:           opts.Metrics,
		tracer:            opts.Tracer,
		logger:            opts.Logger.With("component", "orchestrator"),
		maxToolIterations: opts.MaxToolIterations,
		disableStreaming:  opts.DisableStreaming,
		trackers:          make(map[string]*streaming.ActivityTracker),
	}
}

// TrackerFor returns the shared activity tracker for worldID, creating one
// on first use. Exposed so internal/streaming's SSE connections and this
// package's turns observe the same counter.
func (o *Orchestrator) TrackerFor(worldID string) *streaming.ActivityTracker {
	o.trackersMu.Lock()
	defer o.trackersMu.Unlock()
	t, ok := o.trackers[worldID]
	if !ok {
		t = streaming.NewActivityTracker()
		o.trackers[worldID] = t
	}
	return t
}

// Dispatch stamps, persists, and fans out event, then evaluates every
// agent in the world against the should-agent-respond rules and starts a
// turn for each one that accepts it. Agent turns run concurrently in their
// own goroutines; Dispatch returns once the triggering event itself has
// been durably recorded.
func (o *Orchestrator) Dispatch(ctx context.Context, worldID string, event *models.StoredEvent) error {
	world, err := o.worlds.GetWorld(ctx, worldID)
	if err != nil {
		return fmt.Errorf("orchestrator: load world: %w", err)
	}
	agents, err := o.worlds.ListAgents(ctx, worldID)
	if err != nil {
		return fmt.Errorf("orchestrator: list agents: %w", err)
	}

	if event.Role == models.RoleTool {
		return o.dispatchToolResult(ctx, world, agents, event)
	}

	duplicate, err := o.alreadyStored(ctx, worldID, event)
	if err != nil {
		return err
	}
	if duplicate {
		return nil
	}

	stampEvent(event, worldID)
	if event.Metadata == nil {
		event.Metadata = &models.Metadata{Direction: models.DirectionHumanToAgent}
	}
	event.Metadata.HasToolCalls = event.HasToolCalls()
	event.Metadata.IsCrossAgent = event.Metadata.Direction == models.DirectionAgentToAgent &&
		event.Metadata.RecipientAgentID != "" && event.Metadata.RecipientAgentID != event.Sender
	o.stampThread(ctx, worldID, event)
	event.Seq = o.bus.NextSeq(worldID)

	if err := o.memory.Append(ctx, worldID, event, agents, o.ownerPredicate(world)); err != nil {
		return fmt.Errorf("orchestrator: persist event: %w", err)
	}
	if o.metrics != nil {
		o.metrics.EventsStored.WithLabelValues(string(event.Type)).Inc()
	}
	o.bus.Publish(ctx, eventbus.Envelope{Channel: eventbus.ChannelMessage, WorldID: worldID, Event: event})

	for _, agent := range agents {
		verdict := Evaluate(agent, world, event)
		if verdict.Respond {
			count, err := o.countLLMCalls(ctx, worldID, event.ChatID, agent.ID)
			if err != nil {
				o.logger.Error("count llm calls", "agent", agent.ID, "error", err)
				continue
			}
			verdict = CheckTurnLimit(verdict, agent, world, count)
		}

		switch {
		case verdict.TurnLimitReached:
			o.publishTurnLimitNotice(ctx, worldID, event.ChatID, agent, world)
		case verdict.Respond:
			o.spawnTurn(world, agent, event.ChatID)
		case verdict.Owns && agent.ID != event.Sender:
			// Saved to this agent's memory without triggering a reply;
			// tell clients so the UI can show the absorbed message.
			o.bus.PublishSSE(ctx, worldID, &models.SSEEvent{
				Type: models.SSEMemoryOnly, WorldID: worldID, ChatID: event.ChatID,
				AgentName: agent.Name, MessageID: event.MessageID,
				Sender: event.Sender, Content: event.Content,
			})
		}
	}
	return nil
}

// dispatchToolResult handles an externally-submitted tool_result event (an
// approval decision or a client-side tool's answer): it's owned solely by
// the agent awaiting it, never evaluated against the should-agent-respond
// rules, and always resumes that agent's paused turn.
func (o *Orchestrator) dispatchToolResult(ctx context.Context, world *models.World, agents []*models.Agent, event *models.StoredEvent) error {
	if event.Metadata == nil {
		event.Metadata = &models.Metadata{}
	}
	agentID := event.Metadata.RecipientAgentID
	if agentID == "" {
		return fmt.Errorf("orchestrator: tool_result event missing recipient agent id")
	}
	stampEvent(event, world.ID)
	event.Seq = o.bus.NextSeq(world.ID)

	if err := o.memory.Append(ctx, world.ID, event, nil, nil); err != nil {
		return fmt.Errorf("orchestrator: persist tool result: %w", err)
	}
	o.bus.Publish(ctx, eventbus.Envelope{Channel: eventbus.ChannelMessage, WorldID: world.ID, Event: event})

	for _, agent := range agents {
		if agent.ID == agentID {
			o.spawnTurn(world, agent, event.ChatID)
			break
		}
	}
	return nil
}

// spawnTurn runs RunTurn in its own goroutine so Dispatch never blocks
// waiting on an LLM call; failures are logged since there is no caller
// left to return them to.
func (o *Orchestrator) spawnTurn(world *models.World, agent *models.Agent, chatID string) {
	go func() {
		ctx := context.Background()
		if err := o.RunTurn(ctx, world, agent, chatID); err != nil {
			o.logger.Error("run turn", "agent", agent.ID, "chat", chatID, "error", err)
		}
	}()
}

// ownerPredicate adapts Evaluate into the memory.OwnershipFunc shape:
// an event is owned by agent if it's Accept (a full turn) or one of the
// memory-only rules (mentions-other, cross-agent broadcast, turn-limit),
// and Responds carries the accept verdict so Append can mark the
// memory-only rows. An agent always owns its own sent message too:
// RuleSelf only says an agent shouldn't respond to itself, not that its
// own words should vanish from its own memory.
func (o *Orchestrator) ownerPredicate(world *models.World) memory.OwnershipFunc {
	return func(agent *models.Agent, event *models.StoredEvent) memory.Ownership {
		verdict := Evaluate(agent, world, event)
		return memory.Ownership{
			Owns:     agent.ID == event.Sender || verdict.Owns,
			Responds: verdict.Respond,
		}
	}
}

// stampThread fills Metadata.ThreadRootID/ThreadDepth: the root of the
// replyToMessageId chain, or the event itself when it starts a thread or
// the chain can't be loaded.
func (o *Orchestrator) stampThread(ctx context.Context, worldID string, event *models.StoredEvent) {
	md := event.Metadata
	if event.ReplyToMessageID == "" {
		md.ThreadRootID = event.MessageID
		md.ThreadDepth = 0
		return
	}
	events, err := o.store.GetEvents(ctx, worldID, store.GetEventsOptions{ChatID: event.ChatID})
	if err != nil {
		o.logger.Warn("load thread chain", "world", worldID, "error", err)
		md.ThreadRootID = event.MessageID
		md.ThreadDepth = 0
		return
	}
	byID := make(map[string]*models.StoredEvent, len(events))
	for _, e := range events {
		if e.MessageID != "" {
			byID[e.MessageID] = e
		}
	}
	md.ThreadRootID, md.ThreadDepth = memory.ThreadRoot(event, byID)
}

func (o *Orchestrator) alreadyStored(ctx context.Context, worldID string, event *models.StoredEvent) (bool, error) {
	if event.MessageID == "" {
		return false, nil
	}
	existing, err := o.store.GetEvents(ctx, worldID, store.GetEventsOptions{ChatID: event.ChatID})
	if err != nil {
		return false, fmt.Errorf("orchestrator: idempotency check: %w", err)
	}
	for _, e := range existing {
		if e.MessageID == event.MessageID && e.Sender == event.Sender {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) publishTurnLimitNotice(ctx context.Context, worldID, chatID string, agent *models.Agent, world *models.World) {
	notice := &models.StoredEvent{
		Type:           models.EventTypeSystem,
		ChatID:         chatID,
		Content:        fmt.Sprintf("agent '%s' has reached turn limit %d", agent.ID, agent.EffectiveLLMCallLimit(world)),
		SystemLevel:    "warn",
		SystemCategory: "turn_limit",
	}
	stampEvent(notice, worldID)
	if err := o.bus.PublishSystem(ctx, worldID, notice); err != nil {
		o.logger.Error("publish turn limit notice", "agent", agent.ID, "error", err)
	}
}

func stampEvent(event *models.StoredEvent, worldID string) {
	event.WorldID = worldID
	if event.Type == "" {
		event.Type = models.EventTypeMessage
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.MessageID == "" && event.Type == models.EventTypeMessage {
		event.MessageID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
}
