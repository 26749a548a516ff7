package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Workflow metrics
	WorkflowItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_workflow_items_total",
			Help: "Per-item outcomes inside fan-out workflows (delivered, failed, skipped)",
		},
		[]string{"workflow_type", "outcome"},
	)

	WorkflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_workflows_started_total",
			Help: "Workflow start requests by result (started, attached)",
		},
		[]string{"workflow_type", "result"},
	)

	// Activity metrics
	ActivityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmwise_activity_duration_seconds",
			Help:    "Activity execution time",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"activity", "status"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_whatsapp_messages_total",
			Help: "Outbound WhatsApp messages by template and status (sent, duplicate, denied, error)",
		},
		[]string{"template", "status"},
	)

	// Schedule metrics
	ScheduleReconcile = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_schedule_reconcile_total",
			Help: "Schedule reconciliation actions (created, updated, unchanged)",
		},
		[]string{"action"},
	)

	// Conversation metrics
	AgentTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_agent_turns_total",
			Help: "Conversation turns by the agent that finished them and outcome",
		},
		[]string{"agent", "outcome"},
	)

	AgentTurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmwise_agent_turn_duration_seconds",
			Help:    "End-to-end conversation turn latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"mode"},
	)

	AgentHandoffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_agent_handoffs_total",
			Help: "Handoffs between agents",
		},
		[]string{"from", "to", "result"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_tool_calls_total",
			Help: "Agent tool invocations",
		},
		[]string{"agent", "tool", "status"},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "farmwise_sessions_created_total",
			Help: "Sessions created (new conversation thread)",
		},
	)

	SessionResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_session_resets_total",
			Help: "Sessions cleared after a failed turn",
		},
		[]string{"reason"},
	)

	// Streaming metrics
	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_stream_messages_total",
			Help: "Deliverable messages produced by the response assembler",
		},
		[]string{"type"},
	)

	// Temporal RPC metrics
	TemporalRPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmwise_temporal_rpc_duration_seconds",
			Help:    "Temporal frontend RPC latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)

	TemporalRPCBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmwise_temporal_rpc_request_bytes",
			Help:    "Temporal frontend RPC request payload size",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"method"},
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmwise_policy_decisions_total",
			Help: "Messaging policy decisions",
		},
		[]string{"decision", "mode"},
	)
)
