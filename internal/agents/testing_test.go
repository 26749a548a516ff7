package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// scriptedModel replays canned responses and records the requests it saw.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []func(ModelRequest) (*ModelResponse, error)
	requests []ModelRequest
}

func (m *scriptedModel) Stream(_ context.Context, req ModelRequest, onDelta func(string)) (*ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.requests) > len(m.steps) {
		return nil, fmt.Errorf("unexpected model call %d", len(m.requests))
	}
	resp, err := m.steps[len(m.requests)-1](req)
	if err != nil {
		return nil, err
	}
	if onDelta != nil && resp.Text != "" {
		for i := 0; i < len(resp.Text); i += 7 {
			end := i + 7
			if end > len(resp.Text) {
				end = len(resp.Text)
			}
			onDelta(resp.Text[i:end])
		}
	}
	return resp, nil
}

func reply(content string) func(ModelRequest) (*ModelResponse, error) {
	b, _ := json.Marshal(map[string]interface{}{"content": content, "actions": []string{}, "buttons": []interface{}{}, "section_list": nil})
	return func(ModelRequest) (*ModelResponse, error) { return &ModelResponse{Text: string(b)}, nil }
}

func call(id, name, args string) func(ModelRequest) (*ModelResponse, error) {
	return func(ModelRequest) (*ModelResponse, error) {
		return &ModelResponse{ToolCalls: []ToolCall{{CallID: id, Name: name, Arguments: args}}}, nil
	}
}

func instructions(text string) func(UserContext) string {
	return func(u UserContext) string { return text + "\n" + u.Profile() }
}
