// Package streaming turns the event stream of an agent run into messages a
// user can be sent, and fans conversation events out to live subscribers.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
)

// Markers of the content field inside the structured output. The model
// writes "content" first, so everything between the markers is the
// JSON-escaped message text.
const (
	startToken   = `"content":"`
	endToken     = `","actions":`
	messageBreak = `\n\n`
)

// ResponseEvent is one deliverable of a turn. Exactly one of Text and Audio
// is set. HasMore is false on the last deliverable.
type ResponseEvent struct {
	Text    *response.Text  `json:"text,omitempty"`
	Audio   *response.Audio `json:"audio,omitempty"`
	HasMore bool            `json:"has_more"`
}

// Synthesizer turns the final answer into a voice note.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*response.Audio, error)
}

// Assembler re-batches raw model deltas into messages split at paragraph
// breaks. The final structured answer is emitted with its content replaced
// by the last paragraph, since the earlier ones were already delivered.
//
// An Assembler serves a single turn and is not safe for concurrent use.
type Assembler struct {
	ctx      context.Context
	emit     func(ResponseEvent)
	tts      Synthesizer
	voice    bool
	mgr      *Manager
	streamID string
	logger   *zap.Logger

	buf       strings.Builder
	inContent bool
	// pending is the content after the last break, once the field closed.
	pending string
	closed  bool
	agent   string
	err     error
}

type AssemblerConfig struct {
	// Voice requests a synthesised voice note after the text.
	Voice bool
	TTS   Synthesizer
	// Manager and StreamID, when set, receive a copy of every event.
	Manager  *Manager
	StreamID string
}

func NewAssembler(ctx context.Context, cfg AssemblerConfig, emit func(ResponseEvent), logger *zap.Logger) *Assembler {
	if emit == nil {
		emit = func(ResponseEvent) {}
	}
	return &Assembler{
		ctx:      ctx,
		emit:     emit,
		tts:      cfg.TTS,
		voice:    cfg.Voice && cfg.TTS != nil,
		mgr:      cfg.Manager,
		streamID: cfg.StreamID,
		logger:   logger,
	}
}

// Sink adapts the assembler to a runner sink.
func (a *Assembler) Sink() agents.Sink {
	return a.Handle
}

// Err returns the first error met while handling events.
func (a *Assembler) Err() error { return a.err }

// Handle consumes one run event.
func (a *Assembler) Handle(ev agents.Event) {
	switch e := ev.(type) {
	case agents.RawDeltaEvent:
		a.onDelta(e.Delta)
	case agents.AgentUpdatedEvent:
		a.agent = e.Agent
		a.publish(EventAgentUpdated, "")
	case agents.RunItemEvent:
		switch item := e.Item.(type) {
		case agents.MessageOutputItem:
			if e.Name == agents.EventMessageOutputCreated {
				a.onFinal(item)
			}
		case agents.ToolCallItem:
			a.publish(EventToolCalled, item.Name)
		case agents.HandoffOutputItem:
			a.publish(EventHandoff, item.Source+" -> "+item.Target)
		}
	}
}

func (a *Assembler) onDelta(delta string) {
	if a.closed {
		return
	}
	a.buf.WriteString(delta)
	acc := a.buf.String()

	if !a.inContent {
		i := strings.Index(acc, startToken)
		if i < 0 {
			return
		}
		a.inContent = true
		acc = acc[i+len(startToken):]
	}

	end := strings.Index(acc, endToken)
	content := acc
	if end >= 0 {
		content = acc[:end]
	}
	for {
		i := strings.Index(content, messageBreak)
		if i < 0 {
			break
		}
		a.deliverChunk(content[:i])
		content = content[i+len(messageBreak):]
	}

	a.buf.Reset()
	if end >= 0 {
		a.pending = content
		a.inContent = false
		a.closed = true
		return
	}
	a.buf.WriteString(content)
}

func (a *Assembler) deliverChunk(raw string) {
	text := unescape(raw)
	if strings.TrimSpace(text) == "" {
		return
	}
	a.send(ResponseEvent{Text: &response.Text{Content: text}, HasMore: true})
}

func (a *Assembler) onFinal(item agents.MessageOutputItem) {
	var out response.Text
	if err := json.Unmarshal([]byte(item.Text), &out); err != nil {
		a.fail(fmt.Errorf("%w: %v", agents.ErrMalformedOutput, err))
		return
	}
	full := out.Content

	switch {
	case a.closed:
		out.Content = unescape(a.pending)
	case a.inContent:
		out.Content = unescape(a.buf.String())
	}
	// A reply ending in a paragraph break leaves nothing for the final message.
	if strings.TrimSpace(out.Content) != "" || !bare(out) {
		a.send(ResponseEvent{Text: &out, HasMore: a.voice})
	}
	a.reset()

	if !a.voice {
		return
	}
	audio, err := a.tts.Synthesize(a.ctx, full)
	if err != nil {
		a.fail(fmt.Errorf("text to speech: %w", err))
		return
	}
	a.send(ResponseEvent{Audio: audio, HasMore: false})
}

func bare(t response.Text) bool {
	return len(t.Actions) == 0 && len(t.Buttons) == 0 && t.SectionList == nil
}

// reset prepares for another message output in the same run.
func (a *Assembler) reset() {
	a.buf.Reset()
	a.inContent = false
	a.closed = false
	a.pending = ""
}

func (a *Assembler) send(ev ResponseEvent) {
	if ev.Audio != nil {
		metrics.StreamMessages.WithLabelValues("audio").Inc()
		a.publish(EventAudio, ev.Audio.MimeType)
	} else {
		metrics.StreamMessages.WithLabelValues("text").Inc()
		a.publish(EventMessage, ev.Text.Content)
	}
	a.emit(ev)
}

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = err
	}
	a.logger.Warn("Response assembly failed", zap.String("agent", a.agent), zap.Error(err))
	a.publish(EventError, err.Error())
}

func (a *Assembler) publish(typ, msg string) {
	if a.mgr == nil || a.streamID == "" {
		return
	}
	a.mgr.Publish(a.streamID, Event{Type: typ, Agent: a.agent, Message: msg})
}

// unescape decodes a JSON string body. Text that is not valid JSON string
// content is returned unchanged.
func unescape(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &s); err != nil {
		return raw
	}
	return s
}
