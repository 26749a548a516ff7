package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
	"github.com/farmwise/farmwise/go/orchestrator/internal/router"
	"github.com/farmwise/farmwise/go/orchestrator/internal/streaming"
)

// Turns runs conversation turns.
type Turns interface {
	Invoke(ctx context.Context, req router.Request) (*router.Result, error)
	Stream(ctx context.Context, req router.Request, emit func(streaming.ResponseEvent)) (*router.Result, error)
}

type AgentLister interface {
	List() []agents.Info
}

// ConversationHandler exposes the agent router over HTTP.
type ConversationHandler struct {
	turns  Turns
	agents AgentLister
	logger *zap.Logger
}

func NewConversationHandler(turns Turns, agents AgentLister, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{turns: turns, agents: agents, logger: logger}
}

// RegisterRoutes registers conversation routes on the provided mux. wrap is
// applied to the turn endpoints.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/invoke", wrap(http.HandlerFunc(h.handleInvoke)))
	mux.Handle("POST /api/v1/invoke/stream", wrap(http.HandlerFunc(h.handleStream)))
	mux.HandleFunc("GET /api/v1/agents", h.handleAgents)
}

func (h *ConversationHandler) decode(w http.ResponseWriter, r *http.Request) (router.Request, bool) {
	var req router.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, false
	}
	if req.UserWaID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return req, false
	}
	return req, true
}

func turnStatus(err error) int {
	switch {
	case errors.Is(err, router.ErrEmptyInput), errors.Is(err, agents.ErrUnknownAgent):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// handleInvoke runs a turn and returns every response at once.
// POST /api/v1/invoke
func (h *ConversationHandler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.turns.Invoke(r.Context(), req)
	if err != nil {
		h.logger.Warn("Turn failed", zap.String("user", req.UserWaID), zap.Error(err))
		writeError(w, turnStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStream runs a turn and writes each response as a Server-Sent Event.
// POST /api/v1/invoke/stream
func (h *ConversationHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	seq := 0
	res, err := h.turns.Stream(r.Context(), req, func(ev streaming.ResponseEvent) {
		seq++
		writeSSE(w, seq, "response", ev)
		flusher.Flush()
	})
	if err != nil {
		h.logger.Warn("Streamed turn failed", zap.String("user", req.UserWaID), zap.Error(err))
		writeSSE(w, seq+1, streaming.EventError, map[string]string{"error": err.Error()})
	} else {
		writeSSE(w, seq+1, streaming.EventDone, res)
	}
	flusher.Flush()
}

// GET /api/v1/agents
func (h *ConversationHandler) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": h.agents.List()})
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, id int, event string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(`{"error":"encode failed"}`)
	}
	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
}
