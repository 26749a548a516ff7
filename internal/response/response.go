// Package response holds the structured output contract of a conversation
// turn, shared by the agents, the streaming assembler and the WhatsApp
// renderer.
package response

import (
	"encoding/json"
	"fmt"
)

// Action is a client-side action the agent asks for.
type Action string

const (
	ActionRequestLocation Action = "request_location"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionRequestLocation:
		return true
	}
	return false
}

func (a *Action) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if !Action(s).Valid() {
		return fmt.Errorf("unknown action %q", s)
	}
	*a = Action(s)
	return nil
}

type Button struct {
	Title        string `json:"title"`
	CallbackData string `json:"callback_data"`
}

type SectionRow struct {
	Title        string `json:"title"`
	CallbackData string `json:"callback_data"`
}

type Section struct {
	Title string       `json:"title"`
	Rows  []SectionRow `json:"rows"`
}

type SectionList struct {
	ButtonTitle string    `json:"button_title"`
	Sections    []Section `json:"sections"`
}

// Text is the agents' output type. Field order matters: the streaming
// assembler relies on "content" being emitted before "actions".
type Text struct {
	Content     string       `json:"content"`
	Actions     []Action     `json:"actions"`
	Buttons     []Button     `json:"buttons"`
	SectionList *SectionList `json:"section_list"`
}

// HasAction reports whether the response requests a.
func (t Text) HasAction(a Action) bool {
	for _, x := range t.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// Audio is a synthesised voice note for a turn.
type Audio struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// Input is one user turn. At most a subset of the fields is set.
type Input struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"` // base64 or data URL
	Voice bool   `json:"voice,omitempty"`
}
