// Package router runs one conversation turn: it resolves the active agent
// from the user's session, runs it, streams the answer and persists what the
// next turn needs.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/agents"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/memory"
	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
	"github.com/farmwise/farmwise/go/orchestrator/internal/session"
	"github.com/farmwise/farmwise/go/orchestrator/internal/streaming"
	"github.com/farmwise/farmwise/go/orchestrator/internal/tracing"
)

// Apology is sent when a turn fails. The session is reset so the next
// message starts a fresh thread.
const Apology = "Sorry, something went wrong on our side. Please send your message again."

var ErrEmptyInput = errors.New("message has no text or image")

type Contacts interface {
	GetOrCreateContact(ctx context.Context, phone, name string) (*db.Contact, bool, error)
	SaveRunResult(ctx context.Context, r *db.RunResult) (int64, error)
}

type Sessions interface {
	Get(ctx context.Context, userWaID string) (*session.State, error)
	Set(ctx context.Context, userWaID string, state *session.State) error
	Delete(ctx context.Context, userWaID string) error
}

type Threads interface {
	CreateThread(ctx context.Context, userID string) (string, error)
	AddMessages(ctx context.Context, threadID string, msgs ...memory.Message) error
	Context(ctx context.Context, threadID string) (string, error)
}

type Transcripts interface {
	Save(ctx context.Context, items []agents.Item) (string, error)
	Load(ctx context.Context, token string) ([]agents.Item, error)
	Delete(ctx context.Context, token string) error
}

type Runner interface {
	Run(ctx context.Context, in agents.RunInput, sink agents.Sink) (*agents.RunResult, error)
}

// Request is one inbound user message.
type Request struct {
	UserWaID string         `json:"user_id"`
	UserName string         `json:"user_name,omitempty"`
	Input    response.Input `json:"input"`
	// Agent overrides the session agent for this turn.
	Agent string `json:"agent,omitempty"`
}

// Result describes a finished turn.
type Result struct {
	Responses []streaming.ResponseEvent `json:"responses"`
	Agent     string                    `json:"agent"`
	// Reset is true when the turn failed and the session was cleared.
	Reset   bool   `json:"reset,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type Deps struct {
	Contacts    Contacts
	Sessions    Sessions
	Threads     Threads
	Transcripts Transcripts
	Runner      Runner
	Registry    *agents.Registry
	// OnboardingAgent receives new users. Empty disables the rule.
	OnboardingAgent string
	TTS             streaming.Synthesizer
	Events          *streaming.Manager
}

type Router struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

func New(deps Deps, logger *zap.Logger) *Router {
	return &Router{deps: deps, logger: logger, now: time.Now}
}

// Invoke runs a turn and returns every deliverable at once.
func (r *Router) Invoke(ctx context.Context, req Request) (*Result, error) {
	var out []streaming.ResponseEvent
	res, err := r.run(ctx, req, "invoke", func(ev streaming.ResponseEvent) { out = append(out, ev) })
	if err != nil {
		return nil, err
	}
	res.Responses = out
	return res, nil
}

// Stream runs a turn and hands each deliverable to emit as soon as it is
// assembled.
func (r *Router) Stream(ctx context.Context, req Request, emit func(streaming.ResponseEvent)) (*Result, error) {
	return r.run(ctx, req, "stream", emit)
}

// run returns an error only for bad requests. Every later failure, whether
// in storage or in the agent, resets the session and produces an apology.
func (r *Router) run(ctx context.Context, req Request, mode string, emit func(streaming.ResponseEvent)) (*Result, error) {
	start := r.now()
	defer func() {
		metrics.AgentTurnDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	if req.UserWaID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if req.Input.Text == "" && req.Input.Image == "" {
		return nil, ErrEmptyInput
	}
	if req.Agent != "" {
		if _, err := r.deps.Registry.Resolve(req.Agent); err != nil {
			return nil, err
		}
	}

	contact, created, err := r.deps.Contacts.GetOrCreateContact(ctx, req.UserWaID, req.UserName)
	if err != nil {
		return r.apologize(ctx, req.UserWaID, &session.State{}, req.Agent, "", fmt.Errorf("load contact: %w", err), emit), nil
	}

	state, fresh, err := r.loadSession(ctx, req.UserWaID)
	if err != nil {
		return r.apologize(ctx, req.UserWaID, &session.State{}, req.Agent, "", err, emit), nil
	}

	agentName := r.resolveAgent(req, state, contact, created, fresh)
	ctx, span := tracing.StartTurnSpan(ctx, req.UserWaID, agentName)
	defer span.End()
	traceID := tracing.TraceID(ctx)

	r.logger.Info("Conversation turn",
		zap.String("user", req.UserWaID),
		zap.Int64("contact_id", contact.ID),
		zap.String("agent", agentName),
		zap.Bool("new_session", fresh),
	)

	history := r.loadHistory(ctx, state)
	user := agents.UserContext{
		ContactID:   contact.ID,
		Name:        contact.Name,
		PhoneNumber: contact.PhoneNumber,
		Location:    contact.Location,
		Onboarded:   contact.Onboarded,
		Memory:      r.memoryContext(ctx, state.ThreadID),
	}

	asm := streaming.NewAssembler(ctx, streaming.AssemblerConfig{
		Voice:    req.Input.Voice,
		TTS:      r.deps.TTS,
		Manager:  r.deps.Events,
		StreamID: req.UserWaID,
	}, emit, r.logger)

	run, err := r.deps.Runner.Run(ctx, agents.RunInput{
		Agent:   agentName,
		History: history,
		Input:   agents.UserMessageItem{Text: req.Input.Text, Image: req.Input.Image},
		User:    user,
	}, asm.Sink())
	if err != nil {
		span.RecordError(err)
		return r.apologize(ctx, req.UserWaID, state, agentName, traceID, err, emit), nil
	}
	if err := asm.Err(); err != nil {
		r.logger.Warn("Turn delivered with errors", zap.String("user", req.UserWaID), zap.Error(err))
	}

	r.persist(ctx, req, contact, state, run, traceID)
	metrics.AgentTurns.WithLabelValues(run.LastAgent, "ok").Inc()
	return &Result{Agent: run.LastAgent, TraceID: traceID}, nil
}

// loadSession returns the user's session, creating a thread first when the
// session is missing or unreadable. The session itself is written only after
// the turn.
func (r *Router) loadSession(ctx context.Context, userWaID string) (*session.State, bool, error) {
	state, err := r.deps.Sessions.Get(ctx, userWaID)
	switch {
	case err == nil:
		return state, false, nil
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrInvalidSession):
	default:
		return nil, false, fmt.Errorf("load session: %w", err)
	}

	threadID, err := r.deps.Threads.CreateThread(ctx, userWaID)
	if err != nil {
		return nil, false, fmt.Errorf("create thread: %w", err)
	}
	metrics.SessionsCreated.Inc()
	return &session.State{ThreadID: threadID}, true, nil
}

// resolveAgent picks the agent that starts the turn: an explicit override,
// then the agent that ended the previous turn, then onboarding for users who
// have not been onboarded and have no session, then the default agent.
func (r *Router) resolveAgent(req Request, state *session.State, contact *db.Contact, created, fresh bool) string {
	if req.Agent != "" {
		return req.Agent
	}
	if state.CurrentAgent != "" {
		if _, err := r.deps.Registry.Resolve(state.CurrentAgent); err == nil {
			return state.CurrentAgent
		}
		r.logger.Warn("Session names an unknown agent, using default", zap.String("agent", state.CurrentAgent))
	}
	if r.deps.OnboardingAgent != "" && (created || (fresh && !contact.Onboarded)) {
		return r.deps.OnboardingAgent
	}
	return r.deps.Registry.Default()
}

func (r *Router) loadHistory(ctx context.Context, state *session.State) []agents.Item {
	if state.ContinuationToken == "" {
		return nil
	}
	items, err := r.deps.Transcripts.Load(ctx, state.ContinuationToken)
	if err != nil {
		r.logger.Warn("Continuing without transcript", zap.String("thread_id", state.ThreadID), zap.Error(err))
		return nil
	}
	return items
}

func (r *Router) memoryContext(ctx context.Context, threadID string) string {
	text, err := r.deps.Threads.Context(ctx, threadID)
	if err != nil {
		r.logger.Warn("Memory context unavailable", zap.String("thread_id", threadID), zap.Error(err))
		return memory.NoHistory
	}
	return text
}

// apologize resets the session and hands the user the apology in place of
// an answer.
func (r *Router) apologize(ctx context.Context, userWaID string, state *session.State, agentName, traceID string, cause error, emit func(streaming.ResponseEvent)) *Result {
	r.reset(ctx, userWaID, state, agentName, cause)
	emit(streaming.ResponseEvent{Text: &response.Text{Content: Apology}})
	return &Result{Agent: agentName, Reset: true, TraceID: traceID}
}

func (r *Router) reset(ctx context.Context, userWaID string, state *session.State, agentName string, cause error) {
	reason := "error"
	var perr *agents.ProviderError
	switch {
	case errors.As(cause, &perr):
		reason = "provider"
	case errors.Is(cause, agents.ErrMalformedOutput):
		reason = "malformed_output"
	case errors.Is(cause, agents.ErrMaxTurnsExceeded):
		reason = "max_turns"
	}
	r.logger.Error("Turn failed, resetting session",
		zap.String("user", userWaID),
		zap.String("agent", agentName),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	metrics.AgentTurns.WithLabelValues(agentName, "failed").Inc()
	metrics.SessionResets.WithLabelValues(reason).Inc()

	if err := r.deps.Sessions.Delete(ctx, userWaID); err != nil {
		r.logger.Error("Failed to delete session", zap.String("user", userWaID), zap.Error(err))
	}
	if state.ContinuationToken == "" {
		return
	}
	if err := r.deps.Transcripts.Delete(ctx, state.ContinuationToken); err != nil {
		r.logger.Warn("Failed to delete transcript", zap.String("user", userWaID), zap.Error(err))
	}
}

// persist stores the new session, the thread messages and the run result.
// Only the session write affects the next turn; the others are logged on
// failure.
func (r *Router) persist(ctx context.Context, req Request, contact *db.Contact, state *session.State, run *agents.RunResult, traceID string) {
	token, err := r.deps.Transcripts.Save(ctx, run.Items)
	if err != nil {
		r.logger.Error("Failed to save transcript", zap.String("user", req.UserWaID), zap.Error(err))
	}
	previous := state.ContinuationToken

	next := &session.State{CurrentAgent: run.LastAgent, ThreadID: state.ThreadID, ContinuationToken: token}
	if err := r.deps.Sessions.Set(ctx, req.UserWaID, next); err != nil {
		r.logger.Error("Failed to save session", zap.String("user", req.UserWaID), zap.Error(err))
	} else if previous != "" && previous != token {
		_ = r.deps.Transcripts.Delete(ctx, previous)
	}

	now := r.now().UTC()
	err = r.deps.Threads.AddMessages(ctx, state.ThreadID,
		memory.Message{Role: memory.RoleUser, Name: contact.Name, Content: req.Input.Text, CreatedAt: now},
		memory.Message{Role: memory.RoleAssistant, Name: run.LastAgent, Content: run.FinalOutput.Content, CreatedAt: now},
	)
	if err != nil {
		r.logger.Warn("Failed to add thread messages", zap.String("thread_id", state.ThreadID), zap.Error(err))
	}

	_, err = r.deps.Contacts.SaveRunResult(ctx, &db.RunResult{
		ContactID: contact.ID,
		Input:     req.Input.Text,
		FinalOutput: db.JSONB{
			"content":      run.FinalOutput.Content,
			"actions":      run.FinalOutput.Actions,
			"buttons":      run.FinalOutput.Buttons,
			"section_list": run.FinalOutput.SectionList,
		},
		LastAgent: run.LastAgent,
		TraceID:   traceID,
		ItemCount: len(run.Items),
		CreatedAt: now,
	})
	if err != nil {
		r.logger.Warn("Failed to save run result", zap.Int64("contact_id", contact.ID), zap.Error(err))
	}
}
