package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/circuitbreaker"
	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
)

// DefaultTTL is used when no session timeout is configured.
const DefaultTTL = 2 * time.Hour

// Store keeps one State per user under "{environment}:session:{userWaID}".
// Every write refreshes the TTL, so an idle user starts over with a new
// thread and the default agent.
type Store struct {
	client      *circuitbreaker.RedisWrapper
	environment string
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewRedisClient connects to Redis behind a circuit breaker.
func NewRedisClient(cfg config.RedisConfig, logger *zap.Logger) (*circuitbreaker.RedisWrapper, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	client := circuitbreaker.NewRedisWrapper(redisClient, "session", logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewStore creates a session store. A non-positive ttl uses DefaultTTL.
func NewStore(client *circuitbreaker.RedisWrapper, environment string, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if environment == "" {
		environment = "dev"
	}
	return &Store{client: client, environment: environment, ttl: ttl, logger: logger, now: time.Now}
}

// Key returns the Redis key of a user's session.
func (s *Store) Key(userWaID string) string {
	return fmt.Sprintf("%s:session:%s", s.environment, userWaID)
}

// TTL is the inactivity timeout applied on every write.
func (s *Store) TTL() time.Duration { return s.ttl }

// Get returns ErrSessionNotFound on a miss and ErrInvalidSession when the
// stored value is not a State.
func (s *Store) Get(ctx context.Context, userWaID string) (*State, error) {
	data, err := s.client.Get(ctx, s.Key(userWaID))
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		s.logger.Warn("Discarding undecodable session", zap.String("user", userWaID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if state.CurrentAgent == "" || state.ThreadID == "" {
		return nil, fmt.Errorf("%w: missing agent or thread", ErrInvalidSession)
	}
	return &state, nil
}

// Set writes state and refreshes the TTL.
func (s *Store) Set(ctx context.Context, userWaID string, state *State) error {
	if state == nil {
		return fmt.Errorf("session is nil")
	}
	state.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, s.Key(userWaID), data, s.ttl); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes a user's session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, userWaID string) error {
	if _, err := s.client.Del(ctx, s.Key(userWaID)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.Info("Deleted session", zap.String("user", userWaID))
	return nil
}
