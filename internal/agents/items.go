package agents

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnpairedItem is returned by ValidateItems when a call has no matching
// output or an output has no call.
var ErrUnpairedItem = errors.New("unpaired conversation item")

// ItemKind tags the variants of Item on the wire.
type ItemKind string

const (
	KindUserMessage    ItemKind = "user_message"
	KindMessageOutput  ItemKind = "message_output"
	KindToolCall       ItemKind = "tool_call"
	KindToolCallOutput ItemKind = "tool_call_output"
	KindHandoffCall    ItemKind = "handoff_call"
	KindHandoffOutput  ItemKind = "handoff_output"
	KindReasoning      ItemKind = "reasoning"
)

// Item is one entry of a conversation history. The set of implementations is
// closed; every switch over it lists all variants.
type Item interface {
	Kind() ItemKind
	item()
}

// UserMessageItem is a user turn. Image is a data URL or empty.
type UserMessageItem struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

// MessageOutputItem is an assistant message. Text holds the raw structured
// output as produced by the model.
type MessageOutputItem struct {
	Agent string `json:"agent"`
	Text  string `json:"text"`
}

type ToolCallItem struct {
	Agent     string `json:"agent"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCallOutputItem struct {
	Agent  string `json:"agent"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// HandoffCallItem is the model asking to transfer to Target.
type HandoffCallItem struct {
	Agent  string `json:"agent"`
	CallID string `json:"call_id"`
	Tool   string `json:"tool"`
	Target string `json:"target"`
}

// HandoffOutputItem records a completed transfer.
type HandoffOutputItem struct {
	CallID string `json:"call_id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type ReasoningItem struct {
	Agent   string `json:"agent"`
	Summary string `json:"summary"`
}

func (UserMessageItem) Kind() ItemKind    { return KindUserMessage }
func (MessageOutputItem) Kind() ItemKind  { return KindMessageOutput }
func (ToolCallItem) Kind() ItemKind       { return KindToolCall }
func (ToolCallOutputItem) Kind() ItemKind { return KindToolCallOutput }
func (HandoffCallItem) Kind() ItemKind    { return KindHandoffCall }
func (HandoffOutputItem) Kind() ItemKind  { return KindHandoffOutput }
func (ReasoningItem) Kind() ItemKind      { return KindReasoning }

func (UserMessageItem) item()    {}
func (MessageOutputItem) item()  {}
func (ToolCallItem) item()       {}
func (ToolCallOutputItem) item() {}
func (HandoffCallItem) item()    {}
func (HandoffOutputItem) item()  {}
func (ReasoningItem) item()      {}

type envelope struct {
	Type ItemKind        `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalItems encodes a history as a JSON array of tagged envelopes.
func MarshalItems(items []Item) ([]byte, error) {
	out := make([]envelope, 0, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return nil, fmt.Errorf("marshal %s item: %w", it.Kind(), err)
		}
		out = append(out, envelope{Type: it.Kind(), Data: data})
	}
	return json.Marshal(out)
}

// UnmarshalItems decodes the output of MarshalItems.
func UnmarshalItems(b []byte) ([]Item, error) {
	var raw []envelope
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	items := make([]Item, 0, len(raw))
	for i, env := range raw {
		it, err := decodeItem(env)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, it)
	}
	return items, nil
}

func decodeItem(env envelope) (Item, error) {
	switch env.Type {
	case KindUserMessage:
		var v UserMessageItem
		return v, json.Unmarshal(env.Data, &v)
	case KindMessageOutput:
		var v MessageOutputItem
		return v, json.Unmarshal(env.Data, &v)
	case KindToolCall:
		var v ToolCallItem
		return v, json.Unmarshal(env.Data, &v)
	case KindToolCallOutput:
		var v ToolCallOutputItem
		return v, json.Unmarshal(env.Data, &v)
	case KindHandoffCall:
		var v HandoffCallItem
		return v, json.Unmarshal(env.Data, &v)
	case KindHandoffOutput:
		var v HandoffOutputItem
		return v, json.Unmarshal(env.Data, &v)
	case KindReasoning:
		var v ReasoningItem
		return v, json.Unmarshal(env.Data, &v)
	}
	return nil, fmt.Errorf("unknown item type %q", env.Type)
}

// ValidateItems checks that every tool call has exactly one output and every
// handoff call has exactly one handoff output naming the same source and
// target.
func ValidateItems(items []Item) error {
	toolCalls := map[string]int{}
	toolOutputs := map[string]int{}
	handoffs := map[string]HandoffCallItem{}
	handoffOutputs := map[string]int{}

	for _, it := range items {
		switch v := it.(type) {
		case ToolCallItem:
			toolCalls[v.CallID]++
		case ToolCallOutputItem:
			toolOutputs[v.CallID]++
		case HandoffCallItem:
			if _, dup := handoffs[v.CallID]; dup {
				return fmt.Errorf("%w: duplicate handoff call %s", ErrUnpairedItem, v.CallID)
			}
			handoffs[v.CallID] = v
		case HandoffOutputItem:
			call, ok := handoffs[v.CallID]
			if !ok {
				return fmt.Errorf("%w: handoff output %s without call", ErrUnpairedItem, v.CallID)
			}
			if call.Agent != v.Source || call.Target != v.Target {
				return fmt.Errorf("%w: handoff %s is %s->%s but output says %s->%s",
					ErrUnpairedItem, v.CallID, call.Agent, call.Target, v.Source, v.Target)
			}
			handoffOutputs[v.CallID]++
		case UserMessageItem, MessageOutputItem, ReasoningItem:
		}
	}

	for id, n := range toolCalls {
		if n != 1 || toolOutputs[id] != 1 {
			return fmt.Errorf("%w: tool call %s has %d calls and %d outputs", ErrUnpairedItem, id, n, toolOutputs[id])
		}
	}
	for id := range toolOutputs {
		if toolCalls[id] == 0 {
			return fmt.Errorf("%w: tool output %s without call", ErrUnpairedItem, id)
		}
	}
	for id := range handoffs {
		if handoffOutputs[id] != 1 {
			return fmt.Errorf("%w: handoff call %s has %d outputs", ErrUnpairedItem, id, handoffOutputs[id])
		}
	}
	return nil
}
