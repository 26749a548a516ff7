package activities

import (
	"time"

	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
)

// observe records the duration and outcome of one activity execution.
// Call as: defer observe(name, time.Now(), &err).
func observe(activity string, start time.Time, err *error) {
	status := "ok"
	if err != nil && *err != nil {
		status = "error"
	}
	metrics.ActivityDuration.WithLabelValues(activity, status).Observe(time.Since(start).Seconds())
}
