package whatsapp

import (
	"context"
	"strings"

	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
)

// Cloud API limits for interactive messages.
const (
	maxButtons         = 3
	maxButtonTitle     = 20
	maxListButtonTitle = 20
	maxSectionTitle    = 24
	maxRowTitle        = 24
	maxSections        = 10
	maxRows            = 10
)

// Outbound is a rendered reply: either plain text or an interactive payload.
type Outbound struct {
	Text        string
	Interactive map[string]interface{}
}

// ConvertMarkdown maps common markdown emphasis to WhatsApp's.
func ConvertMarkdown(s string) string {
	return strings.NewReplacer("**", "*", "__", "_").Replace(s)
}

// Render picks the WhatsApp message type for an agent response. A location
// request wins over a section list, which wins over buttons.
func Render(r response.Text) Outbound {
	body := ConvertMarkdown(r.Content)

	switch {
	case r.HasAction(response.ActionRequestLocation):
		return Outbound{Interactive: map[string]interface{}{
			"type":   "location_request_message",
			"body":   map[string]string{"text": r.Content},
			"action": map[string]string{"name": "send_location"},
		}}

	case r.SectionList != nil && len(r.SectionList.Sections) > 0:
		var sections []map[string]interface{}
		for i, s := range r.SectionList.Sections {
			if i == maxSections {
				break
			}
			var rows []map[string]string
			for j, row := range s.Rows {
				if j == maxRows {
					break
				}
				rows = append(rows, map[string]string{"id": row.CallbackData, "title": clip(row.Title, maxRowTitle)})
			}
			sections = append(sections, map[string]interface{}{"title": clip(s.Title, maxSectionTitle), "rows": rows})
		}
		return Outbound{Interactive: map[string]interface{}{
			"type": "list",
			"body": map[string]string{"text": body},
			"action": map[string]interface{}{
				"button":   clip(r.SectionList.ButtonTitle, maxListButtonTitle),
				"sections": sections,
			},
		}}

	case len(r.Buttons) > 0:
		var buttons []map[string]interface{}
		for i, b := range r.Buttons {
			if i == maxButtons {
				break
			}
			buttons = append(buttons, map[string]interface{}{
				"type":  "reply",
				"reply": map[string]string{"id": b.CallbackData, "title": clip(b.Title, maxButtonTitle)},
			})
		}
		return Outbound{Interactive: map[string]interface{}{
			"type":   "button",
			"body":   map[string]string{"text": body},
			"action": map[string]interface{}{"buttons": buttons},
		}}
	}

	return Outbound{Text: body}
}

// Deliver renders r and sends it to the user.
func (c *Client) Deliver(ctx context.Context, to string, r response.Text) (string, error) {
	out := Render(r)
	if out.Interactive != nil {
		return c.SendInteractive(ctx, to, out.Interactive)
	}
	return c.SendText(ctx, to, out.Text)
}

// clip truncates to n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
