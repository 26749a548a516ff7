package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
	"github.com/farmwise/farmwise/go/orchestrator/internal/circuitbreaker"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/memory"
	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
	"github.com/farmwise/farmwise/go/orchestrator/internal/session"
	"github.com/farmwise/farmwise/go/orchestrator/internal/streaming"
)

const (
	triage     = "Triage Agent"
	onboarding = "Onboarding Agent"
	maize      = "Maize Variety Selector"
	soil       = "Soil Advisory Agent"
)

type fakeContacts struct {
	mu       sync.Mutex
	contacts map[string]*db.Contact
	runs     []*db.RunResult
}

func (f *fakeContacts) GetOrCreateContact(_ context.Context, phone, name string) (*db.Contact, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[phone]; ok {
		return c, false, nil
	}
	c := &db.Contact{ID: int64(len(f.contacts) + 1), PhoneNumber: phone, Name: name}
	f.contacts[phone] = c
	return c, true, nil
}

func (f *fakeContacts) SaveRunResult(_ context.Context, r *db.RunResult) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return int64(len(f.runs)), nil
}

// scriptedModel answers each model call with the next step.
type scriptedModel struct {
	mu     sync.Mutex
	steps  []func(agents.ModelRequest) (*agents.ModelResponse, error)
	agents []string
}

func (m *scriptedModel) Stream(_ context.Context, req agents.ModelRequest, onDelta func(string)) (*agents.ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = append(m.agents, req.Agent)
	if len(m.agents) > len(m.steps) {
		return nil, fmt.Errorf("unexpected model call %d", len(m.agents))
	}
	resp, err := m.steps[len(m.agents)-1](req)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(resp.Text); i += 5 {
		end := i + 5
		if end > len(resp.Text) {
			end = len(resp.Text)
		}
		onDelta(resp.Text[i:end])
	}
	return resp, nil
}

func reply(content string) func(agents.ModelRequest) (*agents.ModelResponse, error) {
	b, _ := json.Marshal(response.Text{Content: content, Actions: []response.Action{}, Buttons: []response.Button{}})
	return func(agents.ModelRequest) (*agents.ModelResponse, error) {
		return &agents.ModelResponse{Text: string(b)}, nil
	}
}

func handoff(to string) func(agents.ModelRequest) (*agents.ModelResponse, error) {
	return func(agents.ModelRequest) (*agents.ModelResponse, error) {
		return &agents.ModelResponse{ToolCalls: []agents.ToolCall{{CallID: "h1", Name: agents.HandoffToolName(to), Arguments: "{}"}}}, nil
	}
}

type harness struct {
	router   *Router
	model    *scriptedModel
	sessions *session.Store
	contacts *fakeContacts
	threads  *memory.Threads
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T, steps ...func(agents.ModelRequest) (*agents.ModelResponse, error)) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mr := miniredis.RunT(t)

	v8 := circuitbreaker.NewRedisWrapper(redisv8.NewClient(&redisv8.Options{Addr: mr.Addr()}), "session-test", logger)
	v9 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = v8.Close(); _ = v9.Close() })

	tools, err := agents.NewTools()
	require.NoError(t, err)
	prompt := func(u agents.UserContext) string { return u.Profile() }
	registry, err := agents.NewRegistry(triage, tools,
		&agents.Agent{Name: triage, Instructions: prompt, Handoffs: []string{onboarding, maize, soil}},
		&agents.Agent{Name: onboarding, Instructions: prompt, Handoffs: []string{triage}},
		&agents.Agent{Name: maize, Instructions: prompt, Handoffs: []string{triage}},
		&agents.Agent{Name: soil, Instructions: prompt, Handoffs: []string{triage}},
	)
	require.NoError(t, err)

	model := &scriptedModel{steps: steps}
	h := &harness{
		model:    model,
		sessions: session.NewStore(v8, "test", time.Hour, logger),
		contacts: &fakeContacts{contacts: map[string]*db.Contact{}},
		threads:  memory.NewThreads(v9, memory.ThreadsConfig{Environment: "test"}, logger),
		mr:       mr,
	}
	h.router = New(Deps{
		Contacts:        h.contacts,
		Sessions:        h.sessions,
		Threads:         h.threads,
		Transcripts:     memory.NewTranscripts(v9, "test", time.Hour),
		Runner:          agents.NewRunner(registry, model, agents.RunnerConfig{DefaultModel: "test"}, logger),
		Registry:        registry,
		OnboardingAgent: onboarding,
		Events:          streaming.NewManager(32),
	}, logger)
	return h
}

func (h *harness) onboarded(phone string) {
	h.contacts.contacts[phone] = &db.Contact{ID: 99, PhoneNumber: phone, Name: "Achieng", Onboarded: true}
}

func TestNewUserStartsWithOnboarding(t *testing.T) {
	h := newHarness(t, reply("Welcome! What is your name?"))
	ctx := context.Background()

	res, err := h.router.Invoke(ctx, Request{UserWaID: "254700000001", Input: response.Input{Text: "Hi"}})
	require.NoError(t, err)
	assert.Equal(t, onboarding, res.Agent)
	require.Len(t, res.Responses, 1)
	assert.Equal(t, "Welcome! What is your name?", res.Responses[0].Text.Content)

	state, err := h.sessions.Get(ctx, "254700000001")
	require.NoError(t, err)
	assert.Equal(t, onboarding, state.CurrentAgent)
	assert.NotEmpty(t, state.ThreadID)
	assert.NotEmpty(t, state.ContinuationToken)
	assert.True(t, h.mr.Exists("test:thread:"+state.ThreadID+":meta"))

	require.Len(t, h.contacts.runs, 1)
	assert.Equal(t, onboarding, h.contacts.runs[0].LastAgent)
	assert.Equal(t, "Hi", h.contacts.runs[0].Input)
}

func TestSessionAgentContinues(t *testing.T) {
	h := newHarness(t, reply("Plant DH04."))
	h.onboarded("254700000002")
	ctx := context.Background()
	require.NoError(t, h.sessions.Set(ctx, "254700000002", &session.State{CurrentAgent: maize, ThreadID: "thread_x"}))

	res, err := h.router.Invoke(ctx, Request{UserWaID: "254700000002", Input: response.Input{Text: "and for short rains?"}})
	require.NoError(t, err)
	assert.Equal(t, maize, res.Agent)
	assert.Equal(t, []string{maize}, h.model.agents)
}

func TestHandoffIsPersisted(t *testing.T) {
	h := newHarness(t, handoff(soil), reply("Test your soil pH first.\n\nThen add lime if below 5.5."))
	h.onboarded("254700000003")
	ctx := context.Background()

	var streamed []string
	res, err := h.router.Stream(ctx, Request{UserWaID: "254700000003", Input: response.Input{Text: "my soil is acidic"}}, func(ev streaming.ResponseEvent) {
		streamed = append(streamed, ev.Text.Content)
	})
	require.NoError(t, err)
	assert.Equal(t, soil, res.Agent)
	assert.Equal(t, []string{triage, soil}, h.model.agents)
	assert.Equal(t, []string{"Test your soil pH first.", "Then add lime if below 5.5."}, streamed)

	state, err := h.sessions.Get(ctx, "254700000003")
	require.NoError(t, err)
	assert.Equal(t, soil, state.CurrentAgent)
}

func TestOverrideWins(t *testing.T) {
	h := newHarness(t, reply("Prices today..."))
	h.onboarded("254700000004")
	ctx := context.Background()
	require.NoError(t, h.sessions.Set(ctx, "254700000004", &session.State{CurrentAgent: maize, ThreadID: "thread_y"}))

	res, err := h.router.Invoke(ctx, Request{UserWaID: "254700000004", Agent: soil, Input: response.Input{Text: "soil?"}})
	require.NoError(t, err)
	assert.Equal(t, soil, res.Agent)

	_, err = h.router.Invoke(ctx, Request{UserWaID: "254700000004", Agent: "Weather Oracle", Input: response.Input{Text: "rain?"}})
	assert.ErrorIs(t, err, agents.ErrUnknownAgent)
}

func TestProviderErrorResetsSession(t *testing.T) {
	h := newHarness(t, func(agents.ModelRequest) (*agents.ModelResponse, error) {
		return nil, errors.New("503 service unavailable")
	})
	h.onboarded("254700000005")
	ctx := context.Background()
	require.NoError(t, h.sessions.Set(ctx, "254700000005", &session.State{CurrentAgent: maize, ThreadID: "thread_z"}))

	res, err := h.router.Invoke(ctx, Request{UserWaID: "254700000005", Input: response.Input{Text: "hello"}})
	require.NoError(t, err)
	assert.True(t, res.Reset)
	require.Len(t, res.Responses, 1)
	assert.Equal(t, Apology, res.Responses[0].Text.Content)
	assert.Len(t, h.model.agents, 1)

	_, err = h.sessions.Get(ctx, "254700000005")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Empty(t, h.contacts.runs)
}

func TestExpiredSessionStartsFreshThread(t *testing.T) {
	h := newHarness(t, reply("Hello again"))
	h.onboarded("254700000006")
	ctx := context.Background()

	res, err := h.router.Invoke(ctx, Request{UserWaID: "254700000006", Input: response.Input{Text: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, triage, res.Agent)

	state, err := h.sessions.Get(ctx, "254700000006")
	require.NoError(t, err)
	text, err := h.threads.Context(ctx, state.ThreadID)
	require.NoError(t, err)
	assert.Contains(t, text, "hi")
}

func TestEmptyInputRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.router.Invoke(context.Background(), Request{UserWaID: "254700000007"})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestStoreOutageApologizes(t *testing.T) {
	h := newHarness(t)
	h.onboarded("254700000008")
	h.mr.Close()

	var streamed []streaming.ResponseEvent
	res, err := h.router.Stream(context.Background(), Request{UserWaID: "254700000008", Input: response.Input{Text: "hi"}}, func(ev streaming.ResponseEvent) {
		streamed = append(streamed, ev)
	})
	require.NoError(t, err)
	assert.True(t, res.Reset)
	require.Len(t, streamed, 1)
	assert.Equal(t, Apology, streamed[0].Text.Content)
	assert.Empty(t, h.model.agents)
	assert.Empty(t, h.contacts.runs)
}

type failingContacts struct{ fakeContacts }

func (*failingContacts) GetOrCreateContact(context.Context, string, string) (*db.Contact, bool, error) {
	return nil, false, errors.New("database is locked")
}

func TestContactFailureApologizes(t *testing.T) {
	h := newHarness(t)
	h.router.deps.Contacts = &failingContacts{}

	res, err := h.router.Invoke(context.Background(), Request{UserWaID: "254700000009", Input: response.Input{Text: "hi"}})
	require.NoError(t, err)
	assert.True(t, res.Reset)
	require.Len(t, res.Responses, 1)
	assert.Equal(t, Apology, res.Responses[0].Text.Content)
}
