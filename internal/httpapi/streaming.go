package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/streaming"
)

// StreamingHandler serves live conversation events per user over SSE and
// WebSocket. The stream id is the user's WhatsApp id.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers SSE and WebSocket routes on the provided mux.
func (h *StreamingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/sse", h.handleSSE)
	mux.HandleFunc("GET /stream/ws", h.handleWS)
}

type streamQuery struct {
	id     string
	types  map[string]struct{}
	lastID uint64
}

func parseStreamQuery(r *http.Request) (streamQuery, error) {
	q := streamQuery{id: r.URL.Query().Get("stream_id"), types: map[string]struct{}{}}
	if q.id == "" {
		return q, fmt.Errorf("stream_id required")
	}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				q.types[t] = struct{}{}
			}
		}
	}
	last := r.Header.Get("Last-Event-ID")
	if last == "" {
		last = r.URL.Query().Get("last_event_id")
	}
	if last != "" {
		if n, err := strconv.ParseUint(last, 10, 64); err == nil {
			q.lastID = n
		}
	}
	return q, nil
}

func (q streamQuery) wants(ev streaming.Event) bool {
	if len(q.types) == 0 {
		return true
	}
	_, ok := q.types[ev.Type]
	return ok
}

// handleSSE streams events via Server-Sent Events.
// GET /stream/sse?stream_id=<wa_id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	q, err := parseStreamQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	setSSEHeaders(w)

	ch := h.mgr.Subscribe(q.id, 256)
	defer h.mgr.Unsubscribe(q.id, ch)

	fmt.Fprintf(w, ": connected to stream %s\n\n", q.id)
	if q.lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(q.id, q.lastID) {
			if q.wants(ev) {
				writeSSE(w, int(ev.Seq), ev.Type, ev)
			}
		}
	}
	flusher.Flush()

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected", zap.String("stream_id", q.id))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if q.wants(ev) {
				writeSSE(w, int(ev.Seq), ev.Type, ev)
				flusher.Flush()
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
