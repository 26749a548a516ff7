package agents

import (
	"context"
	"errors"
	"fmt"
)

// OutputSchemaName names the structured output format sent to the model.
const OutputSchemaName = "WhatsappResponse"

// ErrMalformedOutput is returned when the final model output does not match
// the response contract.
var ErrMalformedOutput = errors.New("malformed agent output")

// ToolSpec describes a callable function to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ModelRequest is one model call within a run.
type ModelRequest struct {
	Model        string
	Agent        string
	Instructions string
	Input        []Item
	Tools        []ToolSpec
	// OutputSchema is the strict JSON schema of the final answer.
	OutputSchema map[string]interface{}
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// ModelResponse is the accumulated result of one model call.
type ModelResponse struct {
	ID        string
	Text      string
	ToolCalls []ToolCall
	Reasoning string
}

// Model produces the next assistant step. onDelta receives text deltas as
// they stream in; it may be nil.
type Model interface {
	Stream(ctx context.Context, req ModelRequest, onDelta func(string)) (*ModelResponse, error)
}

// ProviderError wraps a failure of the model provider during a run.
type ProviderError struct {
	Agent string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("model provider failed for %s: %v", e.Agent, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// OutputSchema is the strict schema of response.Text.
func OutputSchema() map[string]interface{} {
	str := func() map[string]interface{} { return map[string]interface{}{"type": "string"} }
	button := ObjectSchema(map[string]interface{}{"title": str(), "callback_data": str()})
	row := ObjectSchema(map[string]interface{}{"title": str(), "callback_data": str()})
	section := ObjectSchema(map[string]interface{}{
		"title": str(),
		"rows":  map[string]interface{}{"type": "array", "items": row},
	})
	sectionList := ObjectSchema(map[string]interface{}{
		"button_title": str(),
		"sections":     map[string]interface{}{"type": "array", "items": section},
	})
	sectionList["type"] = []interface{}{"object", "null"}

	return ObjectSchema(map[string]interface{}{
		"content": map[string]interface{}{
			"type":        "string",
			"description": "The message shown to the user. Separate messages with a blank line.",
		},
		"actions": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string", "enum": []interface{}{"request_location"}},
		},
		"buttons":      map[string]interface{}{"type": "array", "items": button},
		"section_list": sectionList,
	})
}
