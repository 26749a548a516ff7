package agents

import (
	"encoding/json"

	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
)

// HandoffFilter rewrites the history passed to the receiving agent.
type HandoffFilter func([]Item) []Item

// Compose applies filters left to right.
func Compose(filters ...HandoffFilter) HandoffFilter {
	return func(items []Item) []Item {
		for _, f := range filters {
			if f != nil {
				items = f(items)
			}
		}
		return items
	}
}

// RemoveWhatsAppInteractivity reduces structured assistant messages to their
// content so the next agent does not copy buttons or lists it did not build.
// Messages that are not structured output are kept as they are.
func RemoveWhatsAppInteractivity(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if m, ok := it.(MessageOutputItem); ok {
			var r response.Text
			if err := json.Unmarshal([]byte(m.Text), &r); err == nil {
				m.Text = r.Content
			}
			it = m
		}
		out = append(out, it)
	}
	return out
}

// RemoveImages drops image attachments from user messages.
func RemoveImages(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if m, ok := it.(UserMessageItem); ok && m.Image != "" {
			m.Image = ""
			if m.Text == "" {
				continue
			}
			it = m
		}
		out = append(out, it)
	}
	return out
}

// RemoveAllTools drops tool and handoff items. Reasoning traces go too since
// they refer to calls the receiving agent cannot see.
func RemoveAllTools(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		switch it.(type) {
		case ToolCallItem, ToolCallOutputItem, HandoffCallItem, HandoffOutputItem, ReasoningItem:
			continue
		case UserMessageItem, MessageOutputItem:
		}
		out = append(out, it)
	}
	return out
}
