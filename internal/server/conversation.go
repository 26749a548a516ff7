// Package server assembles the conversational half of the platform from
// configuration: stores, the agent catalog, the model provider and the router.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
	"github.com/farmwise/farmwise/go/orchestrator/internal/agents/catalog"
	"github.com/farmwise/farmwise/go/orchestrator/internal/circuitbreaker"
	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/farmbase"
	"github.com/farmwise/farmwise/go/orchestrator/internal/llm"
	"github.com/farmwise/farmwise/go/orchestrator/internal/memory"
	"github.com/farmwise/farmwise/go/orchestrator/internal/router"
	"github.com/farmwise/farmwise/go/orchestrator/internal/session"
	"github.com/farmwise/farmwise/go/orchestrator/internal/streaming"
)

// minTranscriptTTL is the floor for continuation transcripts. Transcripts
// never expire before the session that points at them.
const minTranscriptTTL = 24 * time.Hour

const streamSweepInterval = time.Minute

func transcriptTTL(sessionTTL time.Duration) time.Duration {
	if sessionTTL > minTranscriptTTL {
		return sessionTTL
	}
	return minTranscriptTTL
}

// Conversation holds the wired router and the clients it owns.
type Conversation struct {
	Router   *router.Router
	Registry *agents.Registry
	Events   *streaming.Manager
	Store    *db.Client
	LLM      *llm.Client
	// SessionRedis backs the session store; Redis backs memory, transcripts
	// and the gateway middleware.
	SessionRedis *circuitbreaker.RedisWrapper
	Redis        *redis.Client

	closers []func() error
	logger  *zap.Logger
}

// NewConversation connects every dependency of the router. Clients opened
// before a failure are closed again.
func NewConversation(ctx context.Context, cfg *config.Features, logger *zap.Logger) (*Conversation, error) {
	c := &Conversation{logger: logger}
	if err := c.open(ctx, cfg); err != nil {
		_ = c.Close()
		return nil, err
	}
	logger.Info("Conversation router ready",
		zap.Int("agents", len(c.Registry.List())),
		zap.String("default_agent", c.Registry.Default()),
		zap.String("model", c.LLM.AgentModel()),
	)
	return c, nil
}

func (c *Conversation) open(ctx context.Context, cfg *config.Features) error {
	logger := c.logger
	var err error

	c.Store, err = db.NewClient(cfg.Postgres, db.Options{}, logger)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, c.Store.Close)
	if cfg.Postgres.Driver == "sqlite3" {
		if err = c.Store.Migrate(ctx); err != nil {
			return err
		}
	}

	c.SessionRedis, err = session.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, c.SessionRedis.Close)

	c.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	c.closers = append(c.closers, c.Redis.Close)
	if err = c.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	tools, err := catalog.NewTools(c.Store, farmbase.NewClient(cfg.Farmbase, logger))
	if err != nil {
		return fmt.Errorf("agent tools: %w", err)
	}
	c.LLM = llm.NewClient(cfg.LLM, logger)
	c.Registry, err = catalog.NewRegistry(c.LLM.AgentModel(), tools)
	if err != nil {
		return fmt.Errorf("agent registry: %w", err)
	}

	capacity := cfg.Gateway.StreamRingCapacity
	if capacity <= 0 {
		capacity = 256
	}
	c.Events = streaming.NewManager(capacity)
	c.Events.SetIdleTTL(time.Duration(cfg.Gateway.StreamIdleTTLSeconds) * time.Second)
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go c.Events.Run(janitorCtx, streamSweepInterval)
	c.closers = append(c.closers, func() error { stopJanitor(); return nil })

	c.Router = router.New(router.Deps{
		Contacts:        c.Store,
		Sessions:        session.NewStore(c.SessionRedis, cfg.Environment, cfg.Session.TTL(), logger),
		Threads:         memory.NewThreads(c.Redis, memory.ThreadsConfig{Environment: cfg.Environment}, logger),
		Transcripts:     memory.NewTranscripts(c.Redis, cfg.Environment, transcriptTTL(cfg.Session.TTL())),
		Runner:          agents.NewRunner(c.Registry, c.LLM, agents.RunnerConfig{DefaultModel: c.LLM.AgentModel(), MaxTurns: cfg.LLM.MaxTurns}, logger),
		Registry:        c.Registry,
		OnboardingAgent: catalog.OnboardingAgent,
		TTS:             c.LLM,
		Events:          c.Events,
	}, logger)

	return nil
}

// Close releases the clients in reverse order of creation.
func (c *Conversation) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
