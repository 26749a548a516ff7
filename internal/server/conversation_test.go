package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents/catalog"
	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
)

func testConfig(t *testing.T, redisAddr string) *config.Features {
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Environment = "test"
	cfg.Redis.Addr = redisAddr
	cfg.Postgres.Driver = "sqlite3"
	cfg.Postgres.Path = filepath.Join(t.TempDir(), "farmbase.db")
	cfg.LLM.APIKey = "sk-test"
	return cfg
}

func TestNewConversation(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewConversation(context.Background(), testConfig(t, mr.Addr()), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, catalog.TriageAgent, c.Registry.Default())
	_, err = c.Registry.Resolve(catalog.OnboardingAgent)
	assert.NoError(t, err)
	assert.NotNil(t, c.Router)

	contact, created, err := c.Store.GetOrCreateContact(context.Background(), "254700000001", "Achieng")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Achieng", contact.Name)
}

func TestNewConversationFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	mr.Close()
	_, err := NewConversation(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestTranscriptTTLCoversSession(t *testing.T) {
	assert.Equal(t, 24*time.Hour, transcriptTTL(30*time.Minute))
	assert.Equal(t, 72*time.Hour, transcriptTTL(72*time.Hour))
}
