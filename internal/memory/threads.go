// Package memory stores what the assistant remembers about a user between
// sessions: conversation threads with a rolling window of user messages, and
// the model input of the last turn keyed by a continuation token.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NoHistory is the context of a thread without user messages.
const NoHistory = "No conversation history yet."

var ErrThreadNotFound = errors.New("thread not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one line of a thread.
type Message struct {
	Role      Role      `json:"role"`
	Name      string    `json:"name,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type ThreadsConfig struct {
	Environment string
	// TTL applies to the whole thread and is refreshed on every write.
	TTL time.Duration
	// MaxMessages caps the stored window.
	MaxMessages int64
	// ContextMessages is how many recent messages Context summarises.
	ContextMessages int64
}

// Threads keeps conversation threads in Redis.
type Threads struct {
	client *redis.Client
	cfg    ThreadsConfig
	logger *zap.Logger
}

func NewThreads(client *redis.Client, cfg ThreadsConfig, logger *zap.Logger) *Threads {
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 50
	}
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = 10
	}
	return &Threads{client: client, cfg: cfg, logger: logger}
}

func (t *Threads) metaKey(threadID string) string {
	return fmt.Sprintf("%s:thread:%s:meta", t.cfg.Environment, threadID)
}

func (t *Threads) messagesKey(threadID string) string {
	return fmt.Sprintf("%s:thread:%s:messages", t.cfg.Environment, threadID)
}

// CreateThread creates an empty thread for userID and returns its id. The
// thread exists once this returns without error.
func (t *Threads) CreateThread(ctx context.Context, userID string) (string, error) {
	threadID := "thread_" + uuid.New().String()
	if err := t.client.Set(ctx, t.metaKey(threadID), userID, t.cfg.TTL).Err(); err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	t.logger.Debug("Created thread", zap.String("thread_id", threadID), zap.String("user", userID))
	return threadID, nil
}

// AddMessages appends the user messages of msgs to the thread. Assistant
// messages are not remembered.
func (t *Threads) AddMessages(ctx context.Context, threadID string, msgs ...Message) error {
	exists, err := t.client.Exists(ctx, t.metaKey(threadID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check thread: %w", err)
	}
	if exists == 0 {
		return ErrThreadNotFound
	}

	var values []interface{}
	for _, m := range msgs {
		if m.Role != RoleUser || strings.TrimSpace(m.Content) == "" {
			continue
		}
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, b)
	}
	if len(values) == 0 {
		return nil
	}

	key := t.messagesKey(threadID)
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, -t.cfg.MaxMessages, -1)
		pipe.Expire(ctx, key, t.cfg.TTL)
		pipe.Expire(ctx, t.metaKey(threadID), t.cfg.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add messages: %w", err)
	}
	return nil
}

// Context summarises the recent user messages of a thread for the agent
// instructions.
func (t *Threads) Context(ctx context.Context, threadID string) (string, error) {
	raw, err := t.client.LRange(ctx, t.messagesKey(threadID), -t.cfg.ContextMessages, -1).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read thread: %w", err)
	}
	var b strings.Builder
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			t.logger.Warn("Skipping undecodable thread message", zap.String("thread_id", threadID), zap.Error(err))
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Recent messages from this user:")
		}
		fmt.Fprintf(&b, "\n- [%s] %s", m.CreatedAt.Format("2006-01-02"), m.Content)
	}
	if b.Len() == 0 {
		return NoHistory, nil
	}
	return b.String(), nil
}
