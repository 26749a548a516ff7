package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event types published for a conversation stream.
const (
	EventAgentUpdated = "agent_updated"
	EventToolCalled   = "tool_called"
	EventHandoff      = "handoff"
	EventMessage      = "message"
	EventAudio        = "audio"
	EventError        = "error"
	EventDone         = "done"
)

// Event is a streaming event used by the SSE and WebSocket feeds.
type Event struct {
	StreamID  string    `json:"stream_id"`
	Type      string    `json:"type"`
	Agent     string    `json:"agent,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// DefaultCapacity is the replay depth kept per stream.
const DefaultCapacity = 256

// DefaultIdleTTL is how long a stream without subscribers keeps its replay
// history after the last publish.
const DefaultIdleTTL = 30 * time.Minute

// Manager provides in-memory pub/sub for conversation events. A stream is
// usually one user's WhatsApp id.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-stream ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
	idleTTL  time.Duration
	now      func() time.Time
}

// NewManager creates a manager keeping capacity events per stream.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		idleTTL:     DefaultIdleTTL,
		now:         time.Now,
	}
}

// SetIdleTTL changes how long idle streams are retained. Non-positive
// values are ignored.
func (m *Manager) SetIdleTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.idleTTL = ttl
	m.mu.Unlock()
}

// EvictIdle drops the history of streams that have no subscribers and have
// not been published to within the idle TTL. It returns the number evicted.
func (m *Manager) EvictIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.idleTTL)
	n := 0
	for id, rg := range m.history {
		if len(m.subscribers[id]) > 0 || rg.lastPublish.After(cutoff) {
			continue
		}
		delete(m.history, id)
		n++
	}
	return n
}

// Run evicts idle streams every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

// Streams returns the number of streams holding replay history.
func (m *Manager) Streams() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// Subscribe adds a subscriber channel for a stream; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(streamID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[streamID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[streamID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(streamID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[streamID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, streamID)
		}
	}
}

// Publish sends an event to all subscribers of streamID (non-blocking).
// Slow subscribers miss events and can catch up with ReplaySince.
func (m *Manager) Publish(streamID string, evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rg := m.history[streamID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[streamID] = rg
	}
	now := m.now()
	rg.nextSeq++
	rg.lastPublish = now
	evt.StreamID = streamID
	evt.Seq = rg.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = now
	}
	rg.push(evt)
	for ch := range m.subscribers[streamID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(streamID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[streamID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ring is a bounded ring buffer of events. Its backing slice grows on
// demand up to capacity.
type ring struct {
	buf         []Event
	capacity    int
	start       int
	nextSeq     uint64
	lastPublish time.Time
}

func newRing(capacity int) *ring { return &ring{capacity: capacity} }

func (r *ring) push(e Event) {
	if r.capacity <= 0 {
		return
	}
	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, e)
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if len(r.buf) == 0 {
		return nil
	}
	out := make([]Event, 0, len(r.buf))
	for i := 0; i < len(r.buf); i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
