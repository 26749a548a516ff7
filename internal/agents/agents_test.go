package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testTools(t *testing.T) *Tools {
	t.Helper()
	tools, err := NewTools(Tool{
		Name:        "elevation",
		Description: "Fetch the elevation in metres for a given location.",
		Parameters: ObjectSchema(map[string]interface{}{
			"latitude":  map[string]interface{}{"type": "number"},
			"longitude": map[string]interface{}{"type": "number"},
		}),
		Func: func(_ context.Context, _ UserContext, args json.RawMessage) (interface{}, error) {
			var in struct{ Latitude, Longitude float64 }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			if in.Latitude == 0 {
				return nil, errors.New("upstream unavailable")
			}
			return 1650.0, nil
		},
	})
	require.NoError(t, err)
	return tools
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	toTriage := Compose(RemoveWhatsAppInteractivity, RemoveImages, RemoveAllTools)
	toOther := Compose(RemoveWhatsAppInteractivity, RemoveAllTools)
	r, err := NewRegistry("Triage Agent", testTools(t),
		&Agent{Name: "Triage Agent", Instructions: instructions("triage"), Handoffs: []string{"Maize Variety Selector", "Soil advisor"}, InputFilter: toTriage},
		&Agent{Name: "Maize Variety Selector", Instructions: instructions("maize"), Tools: []string{"elevation"}, Handoffs: []string{"Triage Agent"}, InputFilter: toOther},
		&Agent{Name: "Soil advisor", Instructions: instructions("soil"), Handoffs: []string{"Triage Agent"}, InputFilter: toOther},
	)
	require.NoError(t, err)
	return r
}

func TestItemsRoundTrip(t *testing.T) {
	items := []Item{
		UserMessageItem{Text: "Which maize should I plant?"},
		HandoffCallItem{Agent: "Triage Agent", CallID: "c1", Tool: "transfer_to_maize_variety_selector", Target: "Maize Variety Selector"},
		HandoffOutputItem{CallID: "c1", Source: "Triage Agent", Target: "Maize Variety Selector"},
		ToolCallItem{Agent: "Maize Variety Selector", CallID: "c2", Name: "elevation", Arguments: `{"latitude":-1,"longitude":36}`},
		ToolCallOutputItem{Agent: "Maize Variety Selector", CallID: "c2", Output: "1650"},
		ReasoningItem{Agent: "Maize Variety Selector", Summary: "need growing period"},
		MessageOutputItem{Agent: "Maize Variety Selector", Text: `{"content":"Try DK 8031"}`},
	}
	require.NoError(t, ValidateItems(items))

	b, err := MarshalItems(items)
	require.NoError(t, err)
	back, err := UnmarshalItems(b)
	require.NoError(t, err)
	assert.Equal(t, items, back)

	_, err = UnmarshalItems([]byte(`[{"type":"mystery","data":{}}]`))
	assert.Error(t, err)
}

func TestValidateItemsPairing(t *testing.T) {
	cases := map[string][]Item{
		"tool call without output": {ToolCallItem{CallID: "a", Name: "elevation"}},
		"output without call":      {ToolCallOutputItem{CallID: "a"}},
		"handoff without output":   {HandoffCallItem{Agent: "A", CallID: "h", Target: "B"}},
		"handoff output mismatch": {
			HandoffCallItem{Agent: "A", CallID: "h", Target: "B"},
			HandoffOutputItem{CallID: "h", Source: "A", Target: "C"},
		},
		"duplicate output": {
			ToolCallItem{CallID: "a"}, ToolCallOutputItem{CallID: "a"}, ToolCallOutputItem{CallID: "a"},
		},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateItems(items), ErrUnpairedItem)
		})
	}
}

func TestRegistryValidation(t *testing.T) {
	tools := testTools(t)
	triage := &Agent{Name: "Triage Agent", Instructions: instructions("t"), Handoffs: []string{"Soil advisor"}}

	_, err := NewRegistry("Triage Agent", tools, triage, &Agent{Name: "Soil advisor", Instructions: instructions("s")})
	require.Error(t, err, "soil advisor cannot hand back")
	assert.Contains(t, err.Error(), "Soil advisor")

	_, err = NewRegistry("Triage Agent", tools, triage, triage)
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewRegistry("Triage Agent", tools,
		&Agent{Name: "Triage Agent", Instructions: instructions("t"), Tools: []string{"soil_properties"}})
	assert.ErrorContains(t, err, "unknown tool")

	_, err = NewRegistry("Triage Agent", tools,
		&Agent{Name: "Triage Agent", Instructions: instructions("t"), Handoffs: []string{"Ghost"}})
	assert.ErrorContains(t, err, "Ghost")
}

func TestRegistryResolve(t *testing.T) {
	r := testRegistry(t)

	a, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "Triage Agent", a.Name)

	a, err = r.Resolve("Maize Variety Selector")
	require.NoError(t, err)
	assert.Equal(t, "Maize Variety Selector", a.Name)

	_, err = r.Resolve("Weather Agent")
	assert.ErrorIs(t, err, ErrUnknownAgent)

	assert.True(t, r.CanHandoff("Triage Agent", "Soil advisor"))
	assert.False(t, r.CanHandoff("Soil advisor", "Maize Variety Selector"))
	assert.Len(t, r.List(), 3)
}

func TestHandoffToolName(t *testing.T) {
	assert.Equal(t, "transfer_to_maize_variety_selector", HandoffToolName("Maize Variety Selector"))
	assert.Equal(t, "transfer_to_crop_pathogen_diagnosis_agent", HandoffToolName("Crop Pathogen Diagnosis Agent"))
	assert.Equal(t, "transfer_to_soil_advisor", HandoffToolName("Soil advisor!"))
}

func TestStrictSchema(t *testing.T) {
	assert.NoError(t, ValidateStrictSchema(OutputSchema()))

	loose := map[string]interface{}{
		"type":                 "object",
		"properties":           map[string]interface{}{"a": map[string]interface{}{"type": "string"}},
		"required":             []string{},
		"additionalProperties": false,
	}
	assert.ErrorContains(t, ValidateStrictSchema(loose), "must be required")

	open := ObjectSchema(map[string]interface{}{"a": map[string]interface{}{"type": "string"}})
	open["additionalProperties"] = true
	assert.ErrorContains(t, ValidateStrictSchema(open), "additionalProperties")

	nested := ObjectSchema(map[string]interface{}{
		"rows": map[string]interface{}{"type": "array", "items": map[string]interface{}{
			"type": "object", "properties": map[string]interface{}{"x": map[string]interface{}{"type": "string"}},
		}},
	})
	assert.Error(t, ValidateStrictSchema(nested))

	_, err := NewTools(Tool{Name: "bad", Parameters: loose, Func: func(context.Context, UserContext, json.RawMessage) (interface{}, error) { return nil, nil }})
	assert.Error(t, err)
}

func TestToolAllowList(t *testing.T) {
	r := testRegistry(t)
	triage, _ := r.Resolve("")
	_, err := r.Tools().Call(context.Background(), triage, "elevation", UserContext{}, json.RawMessage(`{"latitude":1,"longitude":2}`))
	assert.ErrorIs(t, err, ErrToolNotAllowed)

	maize, _ := r.Resolve("Maize Variety Selector")
	out, err := r.Tools().Call(context.Background(), maize, "elevation", UserContext{}, json.RawMessage(`{"latitude":1,"longitude":2}`))
	require.NoError(t, err)
	assert.Equal(t, 1650.0, out)
}

func TestFilters(t *testing.T) {
	history := []Item{
		UserMessageItem{Text: "look", Image: "data:image/png;base64,AAA"},
		UserMessageItem{Image: "data:image/png;base64,BBB"},
		MessageOutputItem{Agent: "Triage Agent", Text: `{"content":"Pick one","actions":[],"buttons":[{"title":"Maize","callback_data":"maize"}],"section_list":null}`},
		MessageOutputItem{Agent: "Triage Agent", Text: "plain words"},
		ToolCallItem{CallID: "1", Name: "elevation"},
		ToolCallOutputItem{CallID: "1", Output: "1650"},
		HandoffCallItem{Agent: "Triage Agent", CallID: "2", Target: "Soil advisor"},
		HandoffOutputItem{CallID: "2", Source: "Triage Agent", Target: "Soil advisor"},
	}

	got := Compose(RemoveWhatsAppInteractivity, RemoveImages, RemoveAllTools)(history)
	assert.Equal(t, []Item{
		UserMessageItem{Text: "look"},
		MessageOutputItem{Agent: "Triage Agent", Text: "Pick one"},
		MessageOutputItem{Agent: "Triage Agent", Text: "plain words"},
	}, got)

	// Filters never mutate their input.
	assert.Equal(t, "data:image/png;base64,AAA", history[0].(UserMessageItem).Image)
}

func TestRunFinalOutput(t *testing.T) {
	model := &scriptedModel{steps: []func(ModelRequest) (*ModelResponse, error){reply("Hello Wanjiru")}}
	runner := NewRunner(testRegistry(t), model, RunnerConfig{DefaultModel: "gpt-4.1"}, zap.NewNop())

	var deltas strings.Builder
	var updated []string
	res, err := runner.Run(context.Background(), RunInput{
		Input: UserMessageItem{Text: "Hi"},
		User:  UserContext{ContactID: 7, Name: "Wanjiru"},
	}, func(e Event) {
		switch ev := e.(type) {
		case RawDeltaEvent:
			deltas.WriteString(ev.Delta)
		case AgentUpdatedEvent:
			updated = append(updated, ev.Agent)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, "Triage Agent", res.LastAgent)
	assert.Equal(t, "Hello Wanjiru", res.FinalOutput.Content)
	assert.Equal(t, res.RawOutput, deltas.String())
	assert.Equal(t, []string{"Triage Agent"}, updated)
	require.Len(t, model.requests, 1)
	assert.Equal(t, "gpt-4.1", model.requests[0].Model)
	assert.Contains(t, model.requests[0].Instructions, `name="Wanjiru"`)
	assert.Len(t, model.requests[0].Tools, 2, "one transfer tool per handoff")
}

func TestRunToolThenHandoffPersistsLastAgent(t *testing.T) {
	model := &scriptedModel{steps: []func(ModelRequest) (*ModelResponse, error){
		call("h1", "transfer_to_maize_variety_selector", `{}`),
		call("t1", "elevation", `{"latitude":-0.4,"longitude":36.9}`),
		reply("Plant DK 8031"),
	}}
	runner := NewRunner(testRegistry(t), model, RunnerConfig{}, zap.NewNop())

	var events []string
	res, err := runner.Run(context.Background(), RunInput{
		History: []Item{
			UserMessageItem{Text: "hello"},
			MessageOutputItem{Agent: "Triage Agent", Text: `{"content":"Hi! What can I do?","actions":[],"buttons":[],"section_list":null}`},
		},
		Input: UserMessageItem{Text: "Which maize variety?"},
	}, func(e Event) {
		if ev, ok := e.(RunItemEvent); ok {
			events = append(events, ev.Name)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, "Maize Variety Selector", res.LastAgent)
	assert.Equal(t, []string{EventHandoffRequested, EventHandoffOccurred, EventToolCalled, EventToolOutput, EventMessageOutputCreated}, events)
	require.NoError(t, ValidateItems(res.Items))
	require.NoError(t, ValidateItems(res.NewItems))

	// The handoff filter stripped the transfer and the interactive JSON.
	second := model.requests[1]
	assert.Equal(t, "Maize Variety Selector", second.Agent)
	for _, it := range second.Input {
		_, isHandoff := it.(HandoffCallItem)
		assert.False(t, isHandoff)
	}
	assert.Equal(t, MessageOutputItem{Agent: "Triage Agent", Text: "Hi! What can I do?"}, second.Input[1])

	third := model.requests[2]
	out := third.Input[len(third.Input)-1].(ToolCallOutputItem)
	assert.Equal(t, "1650", out.Output)
}

func TestRunRejectsUndeclaredHandoff(t *testing.T) {
	model := &scriptedModel{steps: []func(ModelRequest) (*ModelResponse, error){
		call("h1", "transfer_to_soil_advisor", `{}`),
		reply("Let me take you back to the menu."),
	}}
	runner := NewRunner(testRegistry(t), model, RunnerConfig{}, zap.NewNop())

	res, err := runner.Run(context.Background(), RunInput{Agent: "Maize Variety Selector", Input: UserMessageItem{Text: "soil?"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Maize Variety Selector", res.LastAgent)

	out := model.requests[1].Input[len(model.requests[1].Input)-1].(ToolCallOutputItem)
	assert.Contains(t, out.Output, "cannot transfer to Soil advisor")
	assert.Contains(t, out.Output, "transfer_to_triage_agent")
}

func TestRunToolErrorIsReportedToModel(t *testing.T) {
	model := &scriptedModel{steps: []func(ModelRequest) (*ModelResponse, error){
		call("t1", "elevation", `{"latitude":0,"longitude":0}`),
		reply("Sorry, I could not get the elevation."),
	}}
	runner := NewRunner(testRegistry(t), model, RunnerConfig{}, zap.NewNop())

	_, err := runner.Run(context.Background(), RunInput{Agent: "Maize Variety Selector", Input: UserMessageItem{Text: "elevation"}}, nil)
	require.NoError(t, err)
	out := model.requests[1].Input[len(model.requests[1].Input)-1].(ToolCallOutputItem)
	assert.Contains(t, out.Output, "upstream unavailable")
}

func TestRunErrors(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		model := &scriptedModel{steps: []func(ModelRequest) (*ModelResponse, error){
			func(ModelRequest) (*ModelResponse, error) { return nil, errors.New("503 from provider") },
		}}
		_, err := NewRunner(testRegistry(t), model, RunnerConfig{}, zap.NewNop()).
			Run(context.Background(), RunInput{Input: UserMessageItem{Text: "hi"}}, nil)
		var perr *ProviderError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "Triage Agent", perr.Agent)
	})

	t.Run("max turns", func(t *testing.T) {
		loop := call("t", "elevation", `{"latitude":1,"longitude":1}`)
		model := &scriptedModel{steps: []func(ModelRequest) (*ModelResponse, error){loop, loop}}
		_, err := NewRunner(testRegistry(t), model, RunnerConfig{MaxTurns: 2}, zap.NewNop()).
			Run(context.Background(), RunInput{Agent: "Maize Variety Selector", Input: UserMessageItem{Text: "hi"}}, nil)
		assert.ErrorIs(t, err, ErrMaxTurnsExceeded)
	})

	t.Run("malformed output", func(t *testing.T) {
		model := &scriptedModel{steps: []func(ModelRequest) (*ModelResponse, error){
			func(ModelRequest) (*ModelResponse, error) { return &ModelResponse{Text: "not json"}, nil },
		}}
		_, err := NewRunner(testRegistry(t), model, RunnerConfig{}, zap.NewNop()).
			Run(context.Background(), RunInput{Input: UserMessageItem{Text: "hi"}}, nil)
		assert.ErrorIs(t, err, ErrMalformedOutput)
	})

	t.Run("unknown starting agent", func(t *testing.T) {
		_, err := NewRunner(testRegistry(t), &scriptedModel{}, RunnerConfig{}, zap.NewNop()).
			Run(context.Background(), RunInput{Agent: "Nobody"}, nil)
		assert.ErrorIs(t, err, ErrUnknownAgent)
	})
}
