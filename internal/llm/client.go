// Package llm adapts the OpenAI API to the agent runner and to the
// summarisation activities used by the weather and pest alert workflows.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/interceptors"
)

// ErrMalformed is returned when the provider answers with output that does
// not match the requested schema.
var ErrMalformed = errors.New("malformed model output")

// Client is the OpenAI backed model provider.
type Client struct {
	client       *openai.Client
	agentModel   string
	summaryModel string
	speechModel  string
	speechVoice  string
	logger       *zap.Logger
}

func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{
			Timeout:   timeout,
			Transport: interceptors.NewActivityRoundTripper(nil),
		}),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &Client{
		client:       &client,
		agentModel:   orDefault(cfg.AgentModel, "gpt-4.1"),
		summaryModel: orDefault(cfg.SummaryModel, "gpt-4.1-nano"),
		speechModel:  orDefault(cfg.SpeechModel, "gpt-4o-mini-tts"),
		speechVoice:  orDefault(cfg.SpeechVoice, "alloy"),
		logger:       logger,
	}
}

// AgentModel is the model used for agents that do not name one.
func (c *Client) AgentModel() string { return c.agentModel }

// IsTemporary reports whether a failed call may succeed when repeated:
// network errors, 5xx and 429.
func IsTemporary(err error) bool {
	if err == nil || errors.Is(err, ErrMalformed) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// parse runs a non-streaming completion constrained to schema and decodes
// the answer into out.
func (c *Client) parse(ctx context.Context, model, name, prompt string, schema map[string]interface{}, out interface{}) error {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%s completion: %w", name, err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: %s: no choices", ErrMalformed, name)
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return fmt.Errorf("%w: %s refused: %s", ErrMalformed, name, msg.Refusal)
	}
	if err := json.Unmarshal([]byte(msg.Content), out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	c.logger.Debug("Structured completion",
		zap.String("schema", name),
		zap.String("model", model),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
	)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
