package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
)

var _ agents.Model = (*Client)(nil)

// Stream runs one chat completion for an agent step, forwarding content
// deltas to onDelta and returning the accumulated message.
func (c *Client) Stream(ctx context.Context, req agents.ModelRequest, onDelta func(string)) (*agents.ModelResponse, error) {
	model := req.Model
	if model == "" {
		model = c.agentModel
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toMessages(req.Instructions, req.Input),
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
				Strict:      openai.Bool(true),
			},
		})
	}
	if len(params.Tools) > 0 {
		params.ParallelToolCalls = openai.Bool(true)
	}
	if req.OutputSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   agents.OutputSchemaName,
					Schema: req.OutputSchema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if onDelta != nil && len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onDelta(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion for %s", ErrMalformed, req.Agent)
	}

	msg := acc.Choices[0].Message
	if msg.Refusal != "" {
		return nil, fmt.Errorf("%w: model refused: %s", ErrMalformed, msg.Refusal)
	}
	out := &agents.ModelResponse{ID: acc.ID, Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, agents.ToolCall{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	c.logger.Debug("Agent step completed",
		zap.String("agent", req.Agent),
		zap.String("model", model),
		zap.Int("tool_calls", len(out.ToolCalls)),
		zap.Int64("total_tokens", acc.Usage.TotalTokens),
	)
	return out, nil
}

// toMessages converts a run history into chat messages. Consecutive tool and
// handoff calls share one assistant message so that their outputs follow it.
func toMessages(instructions string, items []agents.Item) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(items)+1)
	if instructions != "" {
		msgs = append(msgs, openai.SystemMessage(instructions))
	}

	var pending []openai.ChatCompletionMessageToolCallParam
	flush := func() {
		if len(pending) == 0 {
			return
		}
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
			OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: pending},
		})
		pending = nil
	}
	toolCall := func(id, name, args string) {
		pending = append(pending, openai.ChatCompletionMessageToolCallParam{
			ID: id,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      name,
				Arguments: args,
			},
		})
	}

	for _, it := range items {
		switch v := it.(type) {
		case agents.ToolCallItem:
			toolCall(v.CallID, v.Name, v.Arguments)
			continue
		case agents.HandoffCallItem:
			toolCall(v.CallID, v.Tool, "{}")
			continue
		}
		flush()

		switch v := it.(type) {
		case agents.UserMessageItem:
			msgs = append(msgs, userMessage(v))
		case agents.MessageOutputItem:
			msgs = append(msgs, openai.AssistantMessage(v.Text))
		case agents.ToolCallOutputItem:
			msgs = append(msgs, openai.ToolMessage(v.Output, v.CallID))
		case agents.HandoffOutputItem:
			b, _ := json.Marshal(map[string]string{"assistant": v.Target})
			msgs = append(msgs, openai.ToolMessage(string(b), v.CallID))
		case agents.ReasoningItem:
			// chat completions take no reasoning input
		}
	}
	flush()
	return msgs
}

func userMessage(m agents.UserMessageItem) openai.ChatCompletionMessageParamUnion {
	if m.Image == "" {
		return openai.UserMessage(m.Text)
	}
	var parts []openai.ChatCompletionContentPartUnionParam
	if m.Text != "" {
		parts = append(parts, openai.TextContentPart(m.Text))
	}
	parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: m.Image}))
	return openai.UserMessage(parts)
}
