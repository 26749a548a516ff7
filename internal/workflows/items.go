package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
)

const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
	outcomeDenied    = "denied"
)

// countItem records a per-item outcome. Replayed history is not counted again.
func countItem(ctx workflow.Context, workflowType, outcome string) {
	if workflow.IsReplaying(ctx) {
		return
	}
	metrics.WorkflowItems.WithLabelValues(workflowType, outcome).Inc()
}
