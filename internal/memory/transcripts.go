package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
)

var ErrTranscriptNotFound = errors.New("transcript not found")

// Transcripts stores the conversation items of the last turn so the next
// turn can resume from a continuation token instead of the full history.
type Transcripts struct {
	client      *redis.Client
	environment string
	ttl         time.Duration
}

// NewTranscripts uses ttl for every stored transcript. It must be at least
// the session TTL so a live session never points at an expired transcript.
func NewTranscripts(client *redis.Client, environment string, ttl time.Duration) *Transcripts {
	if environment == "" {
		environment = "dev"
	}
	return &Transcripts{client: client, environment: environment, ttl: ttl}
}

func (t *Transcripts) key(token string) string {
	return fmt.Sprintf("%s:transcript:%s", t.environment, token)
}

// Save stores items under a new continuation token.
func (t *Transcripts) Save(ctx context.Context, items []agents.Item) (string, error) {
	b, err := agents.MarshalItems(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode transcript: %w", err)
	}
	token := uuid.New().String()
	if err := t.client.Set(ctx, t.key(token), b, t.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}
	return token, nil
}

// Load returns the items stored under token.
func (t *Transcripts) Load(ctx context.Context, token string) ([]agents.Item, error) {
	b, err := t.client.Get(ctx, t.key(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTranscriptNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	items, err := agents.UnmarshalItems(b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return items, nil
}

// Delete drops a transcript. Missing tokens are ignored.
func (t *Transcripts) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return t.client.Del(ctx, t.key(token)).Err()
}
