package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentworld/runtime/internal/approval"
	"github.com/agentworld/runtime/internal/eventbus"
	"github.com/agentworld/runtime/internal/manager"
	"github.com/agentworld/runtime/internal/observability"
	"github.com/agentworld/runtime/internal/orchestrator"
	"github.com/agentworld/runtime/internal/store"
	"github.com/agentworld/runtime/internal/streaming"
	"github.com/agentworld/runtime/internal/tools"
	"github.com/agentworld/runtime/internal/tools/mcp"
	"github.com/agentworld/runtime/pkg/models"
)

// httpServer wires every runtime component into a mux and owns its own
// listener lifecycle: construction is cheap and side-effect free,
// Start binds the listener, Stop drains it.
type httpServer struct {
	cfg    serverDeps
	mux    *http.ServeMux
	srv    *http.Server
	logger *slog.Logger
}

// serverDeps bundles the already-constructed runtime singletons a
// request handler needs. One instance serves every world in the process.
type serverDeps struct {
	addr         string
	manager      *manager.Manager
	orchestrator *orchestrator.Orchestrator
	bus          *eventbus.Bus
	store        store.EventStore
	hitl         *approval.HITLTable
	metrics      *observability.Metrics
	mcp          *mcp.Manager
	tools        *tools.Registry
}

func newHTTPServer(deps serverDeps, logger *slog.Logger) *httpServer {
	s := &httpServer{cfg: deps, mux: http.NewServeMux(), logger: logger}
	s.routes()
	return s
}

func (s *httpServer) routes() {
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/healthz", s.handleHealthz)

	s.mux.HandleFunc("/worlds", s.handleWorlds)
	s.mux.HandleFunc("/worlds/", s.handleWorldScoped)
}

// handleHealthz reports liveness only; readiness (provider credentials,
// storage connectivity) is surfaced via /metrics instead of blocking
// this endpoint on an external call.
func (s *httpServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWorlds serves the world collection: list and create.
func (s *httpServer) handleWorlds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		worlds, err := s.cfg.manager.ListWorlds(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, worlds)

	case http.MethodPost:
		var body struct {
			Name        string                   `json:"name"`
			Description string                   `json:"description"`
			MCPConfig   []models.MCPServerConfig `json:"mcp_config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		world, err := s.cfg.manager.CreateWorld(r.Context(), body.Name, body.Description)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if len(body.MCPConfig) > 0 {
			if _, err := s.cfg.manager.UpdateWorld(r.Context(), world.ID, func(w *models.World) {
				w.MCPConfig = body.MCPConfig
			}); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			world.MCPConfig = body.MCPConfig
			if err := s.cfg.mcp.RegisterWorld(r.Context(), world.ID, body.MCPConfig, s.cfg.tools); err != nil {
				s.logger.Warn("mcp registration failed", "world", world.ID, "error", err)
			}
		}
		writeJSON(w, http.StatusCreated, world)

	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

// handleWorldScoped dispatches every /worlds/{worldID}/... route by
// splitting the path manually rather than reaching for a router package:
// the route surface is small and flat enough that net/http's ServeMux
// plus this switch covers it without an extra dependency.
func (s *httpServer) handleWorldScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/worlds/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	worldID := parts[0]
	rest := parts[1:]

	switch {
	case worldID == "import" && len(rest) == 0:
		s.handleImport(w, r)
	case len(rest) == 0:
		s.handleWorld(w, r, worldID)
	case rest[0] == "export" && len(rest) == 1:
		s.handleExport(w, r, worldID)
	case rest[0] == "agents":
		s.handleAgents(w, r, worldID, rest[1:])
	case rest[0] == "chats":
		s.handleChats(w, r, worldID, rest[1:])
	case rest[0] == "events" && len(rest) == 1:
		s.handleDispatch(w, r, worldID)
	case rest[0] == "hitl":
		s.handleHITL(w, r, worldID, rest[1:])
	case rest[0] == "stream" && len(rest) == 1:
		s.handleSSE(w, r, worldID)
	case rest[0] == "ws" && len(rest) == 1:
		s.handleWS(w, r, worldID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *httpServer) handleWorld(w http.ResponseWriter, r *http.Request, worldID string) {
	switch r.Method {
	case http.MethodGet:
		world, err := s.cfg.manager.GetWorld(r.Context(), worldID)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, world)

	case http.MethodPatch:
		var body struct {
			Name        *string           `json:"name"`
			Description *string           `json:"description"`
			TurnLimit   *int              `json:"turn_limit"`
			Variables   map[string]string `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		world, err := s.cfg.manager.UpdateWorld(r.Context(), worldID, func(world *models.World) {
			if body.Name != nil {
				world.Name = *body.Name
			}
			if body.Description != nil {
				world.Description = *body.Description
			}
			if body.TurnLimit != nil {
				world.TurnLimit = *body.TurnLimit
			}
			if body.Variables != nil {
				world.Variables = body.Variables
			}
		})
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, world)

	case http.MethodDelete:
		if err := s.cfg.manager.DeleteWorld(r.Context(), worldID); err != nil {
			writeManagerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *httpServer) handleAgents(w http.ResponseWriter, r *http.Request, worldID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			agents, err := s.cfg.manager.ListAgents(r.Context(), worldID)
			if err != nil {
				writeManagerError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, agents)

		case http.MethodPost:
			var body struct {
				Name         string `json:"name"`
				SystemPrompt string `json:"system_prompt"`
				AutoReply    bool   `json:"auto_reply"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			agentID, err := s.cfg.manager.CreateAgent(r.Context(), worldID, body.Name, body.SystemPrompt, body.AutoReply)
			if err != nil {
				writeManagerError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]string{"id": agentID})

		default:
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
		return
	}

	agentID := rest[0]
	switch r.Method {
	case http.MethodGet:
		agent, err := s.cfg.manager.GetAgent(r.Context(), worldID, agentID)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, agent)

	case http.MethodDelete:
		if err := s.cfg.manager.DeleteAgent(r.Context(), worldID, agentID); err != nil {
			writeManagerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *httpServer) handleChats(w http.ResponseWriter, r *http.Request, worldID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			chats, err := s.cfg.manager.ListChats(r.Context(), worldID)
			if err != nil {
				writeManagerError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, chats)

		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			chat, err := s.cfg.manager.CreateChat(r.Context(), worldID, body.Name, body.Description)
			if err != nil {
				writeManagerError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, chat)

		default:
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
		return
	}

	chatID := rest[0]
	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			chat, err := s.cfg.manager.GetChat(r.Context(), worldID, chatID)
			if err != nil {
				writeManagerError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, chat)

		case http.MethodDelete:
			if err := s.cfg.manager.DeleteChat(r.Context(), worldID, chatID); err != nil {
				writeManagerError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		}
		return
	}

	switch rest[1] {
	case "branch":
		var body struct {
			MessageID string `json:"message_id"`
			Name      string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		branch, err := s.cfg.manager.BranchChat(r.Context(), worldID, chatID, body.MessageID, body.Name)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, branch)

	case "messages":
		if len(rest) < 3 {
			writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.cfg.manager.EditUserMessage(r.Context(), worldID, chatID, rest[2], body.Content); err != nil {
			writeManagerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

// handleExport returns a self-contained WorldExport snapshot suitable
// for re-import into another runtime.
func (s *httpServer) handleExport(w http.ResponseWriter, r *http.Request, worldID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	export, err := s.cfg.manager.ExportWorld(r.Context(), worldID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// handleImport registers a previously exported world, preserving its IDs
// and event log.
func (s *httpServer) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var export manager.WorldExport
	if err := json.NewDecoder(r.Body).Decode(&export); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	world, err := s.cfg.manager.ImportWorld(r.Context(), &export)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, world)
}

// handleDispatch accepts a raw StoredEvent and hands it to the
// orchestrator: a human chat message (role=user), a client-submitted
// tool_result (role=tool, including approval decisions), or a system
// note. The caller sets Role/ChatID/Content/ToolCalls/Metadata as
// appropriate; Dispatch stamps ID/Seq/CreatedAt.
func (s *httpServer) handleDispatch(w http.ResponseWriter, r *http.Request, worldID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var event models.StoredEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if event.Type == "" {
		event.Type = models.EventTypeMessage
	}
	if event.Sender == "" {
		event.Sender = "human"
	}
	if err := s.cfg.orchestrator.Dispatch(r.Context(), worldID, &event); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": event.MessageID})
}

// handleHITL returns one option-prompt by request ID (GET) and resolves
// one by request ID (POST .../resolve). It does not list pending
// prompts, and it does not check that the request belongs to worldID.
// Resolution only settles the table entry and, when
// RefreshAfterDismiss is set, nudges connected clients to reload state;
// it does not itself resubmit a tool_result — a resolver that needs the
// awaiting agent's turn to resume posts the matching tool_result to
// /worlds/{id}/events instead.
func (s *httpServer) handleHITL(w http.ResponseWriter, r *http.Request, worldID string, rest []string) {
	if len(rest) == 1 && r.Method == http.MethodGet {
		req, err := s.cfg.hitl.Get(rest[0])
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
		return
	}
	if len(rest) == 2 && rest[1] == "resolve" && r.Method == http.MethodPost {
		var body struct {
			Choice string `json:"choice"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		req, err := s.cfg.hitl.Resolve(rest[0], body.Choice)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.RefreshAfterDismiss() {
			s.cfg.bus.PublishWorldRefresh(r.Context(), worldID, "hitl", req.RequestID, "resolved")
		}
		writeJSON(w, http.StatusOK, req)
		return
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("not found"))
}

// handleSSE streams a world's message/sse/system/world-refresh envelopes
// to one client until it disconnects, the world goes idle, or the idle
// waiter's main timeout passes with no streaming activity.
func (s *httpServer) handleSSE(w http.ResponseWriter, r *http.Request, worldID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	tracker := s.cfg.orchestrator.TrackerFor(worldID)
	conn := streaming.NewConnection(s.cfg.bus, worldID, tracker)
	if err := conn.Serve(r.Context(), w); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("sse connection ended", "world", worldID, "error", err)
	}
}

// handleWS upgrades to the world/system control-plane websocket.
func (s *httpServer) handleWS(w http.ResponseWriter, r *http.Request, worldID string) {
	cp := streaming.NewControlPlane(s.cfg.bus, worldID)
	if err := cp.ServeHTTP(r.Context(), w, r); err != nil {
		s.logger.Warn("control plane connection ended", "world", worldID, "error", err)
	}
}

// Start binds the listener and serves until ctx is cancelled or Stop is
// called. When ctx is cancelled it returns nil at once, without waiting
// for the underlying Serve call to return.
func (s *httpServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.addr, err)
	}
	s.srv = &http.Server{Handler: s.mux}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(listener) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts the listener down, bounded by ctx's deadline.
func (s *httpServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeManagerError(w http.ResponseWriter, err error) {
	if errors.Is(err, manager.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if errors.Is(err, manager.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
