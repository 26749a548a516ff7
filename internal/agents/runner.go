package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
)

var ErrMaxTurnsExceeded = errors.New("max turns exceeded")

const defaultMaxTurns = 10

// RunInput is one user turn.
type RunInput struct {
	// Agent starts the run; empty means the default agent.
	Agent   string
	History []Item
	Input   UserMessageItem
	User    UserContext
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	// Items is the conversation to resume from on the next turn, after any
	// handoff filters were applied.
	Items []Item
	// NewItems are the items produced during this run, unfiltered.
	NewItems    []Item
	LastAgent   string
	FinalOutput response.Text
	RawOutput   string
}

type RunnerConfig struct {
	DefaultModel string
	MaxTurns     int
	Hooks        RunHooks
}

// Runner drives agents until one of them produces a final answer.
type Runner struct {
	registry *Registry
	model    Model
	cfg      RunnerConfig
	hooks    RunHooks
	logger   *zap.Logger
	// handoffTools maps every transfer_to_* name to its agent.
	handoffTools map[string]string
}

func NewRunner(registry *Registry, model Model, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	hooks := cfg.Hooks
	if hooks == nil {
		hooks = NewLoggingHooks(logger)
	}
	r := &Runner{registry: registry, model: model, cfg: cfg, hooks: hooks, logger: logger, handoffTools: map[string]string{}}
	for _, name := range registry.order {
		r.handoffTools[HandoffToolName(name)] = name
	}
	return r
}

func (r *Runner) Registry() *Registry { return r.registry }

// Run executes a turn. Events are delivered to sink in order; sink may be nil.
func (r *Runner) Run(ctx context.Context, in RunInput, sink Sink) (*RunResult, error) {
	agent, err := r.registry.Resolve(in.Agent)
	if err != nil {
		return nil, err
	}

	conversation := append(append([]Item(nil), in.History...), in.Input)
	var newItems []Item
	add := func(items ...Item) {
		conversation = append(conversation, items...)
		newItems = append(newItems, items...)
	}

	r.hooks.OnAgentStart(ctx, agent.Name)
	sink.emit(AgentUpdatedEvent{Agent: agent.Name})

	for turn := 0; turn < r.cfg.MaxTurns; turn++ {
		req := r.buildRequest(agent, in.User, conversation)
		resp, err := r.model.Stream(ctx, req, func(delta string) {
			sink.emit(RawDeltaEvent{Agent: agent.Name, Delta: delta})
		})
		if err != nil {
			return nil, &ProviderError{Agent: agent.Name, Err: err}
		}

		if resp.Reasoning != "" {
			item := ReasoningItem{Agent: agent.Name, Summary: resp.Reasoning}
			add(item)
			sink.emit(RunItemEvent{Name: EventReasoningCreated, Item: item})
		}

		if len(resp.ToolCalls) == 0 {
			var out response.Text
			if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
				return nil, fmt.Errorf("%w from %s: %v", ErrMalformedOutput, agent.Name, err)
			}
			item := MessageOutputItem{Agent: agent.Name, Text: resp.Text}
			add(item)
			sink.emit(RunItemEvent{Name: EventMessageOutputCreated, Item: item})
			r.hooks.OnAgentEnd(ctx, agent.Name, resp.Text)
			return &RunResult{
				Items:       conversation,
				NewItems:    newItems,
				LastAgent:   agent.Name,
				FinalOutput: out,
				RawOutput:   resp.Text,
			}, nil
		}

		next, calls, outputs := r.executeCalls(ctx, agent, in.User, resp.ToolCalls, sink)
		add(calls...)
		add(outputs...)

		if next != nil {
			r.hooks.OnHandoff(ctx, agent.Name, next.Name)
			if next.InputFilter != nil {
				conversation = next.InputFilter(conversation)
			}
			agent = next
			r.hooks.OnAgentStart(ctx, agent.Name)
			sink.emit(AgentUpdatedEvent{Agent: agent.Name})
		}
	}
	return nil, fmt.Errorf("%w (%d) in %s", ErrMaxTurnsExceeded, r.cfg.MaxTurns, agent.Name)
}

// executeCalls runs the tool calls of one model response. Calls are returned
// before outputs so the model sees them grouped. Only the first legal handoff
// is taken.
func (r *Runner) executeCalls(ctx context.Context, agent *Agent, user UserContext, toolCalls []ToolCall, sink Sink) (*Agent, []Item, []Item) {
	var (
		next    *Agent
		calls   []Item
		outputs []Item
		handoff *HandoffOutputItem
	)

	reject := func(tc ToolCall, msg string) {
		call := ToolCallItem{Agent: agent.Name, CallID: tc.CallID, Name: tc.Name, Arguments: tc.Arguments}
		calls = append(calls, call)
		sink.emit(RunItemEvent{Name: EventToolCalled, Item: call})
		out := ToolCallOutputItem{Agent: agent.Name, CallID: tc.CallID, Output: msg}
		outputs = append(outputs, out)
		sink.emit(RunItemEvent{Name: EventToolOutput, Item: out})
	}

	for _, tc := range toolCalls {
		if target, isHandoff := r.handoffTools[tc.Name]; isHandoff {
			switch {
			case !r.registry.CanHandoff(agent.Name, target):
				r.logger.Warn("Rejected undeclared handoff", zap.String("from", agent.Name), zap.String("to", target))
				metrics.AgentHandoffs.WithLabelValues(agent.Name, target, "rejected").Inc()
				reject(tc, fmt.Sprintf("Error: %s cannot transfer to %s. Available transfers: %s",
					agent.Name, target, strings.Join(r.handoffNames(agent), ", ")))
			case next != nil:
				reject(tc, "Multiple handoffs detected, ignoring this one.")
			default:
				next, _ = r.registry.Resolve(target)
				call := HandoffCallItem{Agent: agent.Name, CallID: tc.CallID, Tool: tc.Name, Target: target}
				calls = append(calls, call)
				sink.emit(RunItemEvent{Name: EventHandoffRequested, Item: call})
				handoff = &HandoffOutputItem{CallID: tc.CallID, Source: agent.Name, Target: target}
			}
			continue
		}

		call := ToolCallItem{Agent: agent.Name, CallID: tc.CallID, Name: tc.Name, Arguments: tc.Arguments}
		calls = append(calls, call)
		sink.emit(RunItemEvent{Name: EventToolCalled, Item: call})

		r.hooks.OnToolStart(ctx, agent.Name, tc.Name)
		result, err := r.registry.tools.Call(ctx, agent, tc.Name, user, json.RawMessage(tc.Arguments))
		text := toolOutputText(result, err)
		r.hooks.OnToolEnd(ctx, agent.Name, tc.Name, text, err)

		out := ToolCallOutputItem{Agent: agent.Name, CallID: tc.CallID, Output: text}
		outputs = append(outputs, out)
		sink.emit(RunItemEvent{Name: EventToolOutput, Item: out})
	}

	if handoff != nil {
		outputs = append(outputs, *handoff)
		sink.emit(RunItemEvent{Name: EventHandoffOccurred, Item: *handoff})
	}
	return next, calls, outputs
}

func (r *Runner) buildRequest(agent *Agent, user UserContext, conversation []Item) ModelRequest {
	model := agent.Model
	if model == "" {
		model = r.cfg.DefaultModel
	}
	req := ModelRequest{
		Model:        model,
		Agent:        agent.Name,
		Instructions: agent.Instructions(user),
		Input:        conversation,
		OutputSchema: OutputSchema(),
	}
	for _, name := range agent.Tools {
		tool, _ := r.registry.tools.Get(name)
		req.Tools = append(req.Tools, ToolSpec{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters})
	}
	for _, target := range agent.Handoffs {
		t, _ := r.registry.Resolve(target)
		req.Tools = append(req.Tools, ToolSpec{
			Name:        HandoffToolName(target),
			Description: fmt.Sprintf("Handoff to the %s agent to handle the request. %s", target, t.HandoffDescription),
			Parameters:  ObjectSchema(map[string]interface{}{}),
		})
	}
	return req
}

func (r *Runner) handoffNames(agent *Agent) []string {
	names := make([]string, 0, len(agent.Handoffs))
	for _, h := range agent.Handoffs {
		names = append(names, HandoffToolName(h))
	}
	sort.Strings(names)
	return names
}

func toolOutputText(result interface{}, err error) string {
	if err != nil {
		return "An error occurred while running the tool. Please try again. Error: " + err.Error()
	}
	switch v := result.(type) {
	case string:
		return v
	case nil:
		return "null"
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}
