package agents

import (
	"context"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
)

// RunHooks observe the lifecycle of a run.
type RunHooks interface {
	OnAgentStart(ctx context.Context, agent string)
	OnAgentEnd(ctx context.Context, agent string, output string)
	OnHandoff(ctx context.Context, from, to string)
	OnToolStart(ctx context.Context, agent, tool string)
	OnToolEnd(ctx context.Context, agent, tool, result string, err error)
}

// LoggingHooks logs every lifecycle step and records tool and handoff metrics.
type LoggingHooks struct {
	logger *zap.Logger
}

func NewLoggingHooks(logger *zap.Logger) *LoggingHooks {
	return &LoggingHooks{logger: logger}
}

func (h *LoggingHooks) OnAgentStart(_ context.Context, agent string) {
	h.logger.Debug("Agent started", zap.String("agent", agent))
}

func (h *LoggingHooks) OnAgentEnd(_ context.Context, agent string, output string) {
	h.logger.Debug("Agent ended", zap.String("agent", agent), zap.Int("output_len", len(output)))
}

func (h *LoggingHooks) OnHandoff(_ context.Context, from, to string) {
	h.logger.Info("Handoff", zap.String("from", from), zap.String("to", to))
	metrics.AgentHandoffs.WithLabelValues(from, to, "ok").Inc()
}

func (h *LoggingHooks) OnToolStart(_ context.Context, agent, tool string) {
	h.logger.Debug("Tool started", zap.String("agent", agent), zap.String("tool", tool))
}

func (h *LoggingHooks) OnToolEnd(_ context.Context, agent, tool, result string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		h.logger.Warn("Tool failed", zap.String("agent", agent), zap.String("tool", tool), zap.Error(err))
	} else {
		h.logger.Debug("Tool ended", zap.String("agent", agent), zap.String("tool", tool), zap.Int("result_len", len(result)))
	}
	metrics.ToolCalls.WithLabelValues(agent, tool, status).Inc()
}
