package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents/catalog"
	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
	"github.com/farmwise/farmwise/go/orchestrator/internal/router"
	"github.com/farmwise/farmwise/go/orchestrator/internal/streaming"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "features.yaml")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAgentsCommand(t *testing.T) {
	out, err := run(t, "agents")
	require.NoError(t, err)
	assert.Contains(t, out, "* "+catalog.TriageAgent)
	assert.Contains(t, out, catalog.OnboardingAgent)
	assert.Contains(t, out, "handoffs:")
}

func TestAPIKeyHashCommand(t *testing.T) {
	out, err := run(t, "apikey", "hash", "fw_live_123")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("fw_live_123")))
}

func TestTokenIssueNeedsSecret(t *testing.T) {
	_, err := run(t, "token", "issue", "--subject", "ops@farmwise")
	assert.ErrorContains(t, err, "jwt_secret")

	t.Setenv("FARMWISE_AUTH_JWT_SECRET", "s3cret")
	out, err := run(t, "token", "issue", "--subject", "ops@farmwise", "--role", "admin")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
}

func TestSchedulesDryRun(t *testing.T) {
	out, err := run(t, "schedules", "sync", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "0 7 * * *")
	assert.Contains(t, out, "Africa/Nairobi")
}

func TestLoadEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maize.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- event_type: Weeding
  identifier: weed_1
  start_day: 14
  end_day: 21
  description: First weeding
- event_type: Top dressing
  identifier: top_1
  start_day: 30
  end_day: 40
  description: Apply CAN
`), 0o600))
	events, err := loadEvents(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "weed_1", events[0].Identifier)
	assert.Equal(t, 40, events[1].EndDay)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("[]"), 0o600))
	_, err = loadEvents(empty)
	assert.Error(t, err)
}

type echoTurns struct{ reqs []router.Request }

func (e *echoTurns) Stream(_ context.Context, req router.Request, emit func(streaming.ResponseEvent)) (*router.Result, error) {
	e.reqs = append(e.reqs, req)
	emit(streaming.ResponseEvent{Text: &response.Text{
		Content: "You said " + req.Input.Text,
		Buttons: []response.Button{{Title: "Yes", CallbackData: "yes"}},
	}})
	return &router.Result{Agent: catalog.TriageAgent}, nil
}

func TestChatLoop(t *testing.T) {
	logger = zaptest.NewLogger(t)
	turns := &echoTurns{}
	var out bytes.Buffer
	agent := catalog.MarketPriceAgent
	err := chatLoop(context.Background(), turns, strings.NewReader("hello\n\nprices?\n/quit\nignored\n"), &out, func(in string) router.Request {
		req := router.Request{UserWaID: "254700000001", Input: response.Input{Text: in}, Agent: agent}
		agent = ""
		return req
	})
	require.NoError(t, err)
	require.Len(t, turns.reqs, 2)
	assert.Equal(t, catalog.MarketPriceAgent, turns.reqs[0].Agent)
	assert.Empty(t, turns.reqs[1].Agent)
	assert.Contains(t, out.String(), "You said hello")
	assert.Contains(t, out.String(), "[Yes] -> yes")
	assert.Contains(t, out.String(), "["+catalog.TriageAgent+"]")
}
