package health

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/farmwise/farmwise/go/orchestrator/internal/circuitbreaker"
)

// PingChecker checks a dependency through a ping function. When a breaker is
// attached, an open breaker fails the check without touching the network.
type PingChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	ping     func(ctx context.Context) error
	breaker  *circuitbreaker.Breaker
	// slow marks a healthy ping as degraded.
	slow time.Duration
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	if p.breaker != nil && p.breaker.State() == circuitbreaker.StateOpen {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   circuitbreaker.ErrOpen.Error(),
			Message: p.name + " circuit breaker is open",
		}
	}

	start := time.Now()
	err := p.ping(ctx)
	latency := time.Since(start)
	details := map[string]interface{}{"latency_ms": latency.Milliseconds()}
	if p.breaker != nil {
		details["circuit_breaker"] = p.breaker.State().String()
	}

	switch {
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: p.name + " ping failed", Details: details}
	case p.slow > 0 && latency > p.slow:
		return CheckResult{Status: StatusDegraded, Message: p.name + " responding with high latency", Details: details}
	default:
		return CheckResult{Status: StatusHealthy, Message: p.name + " healthy", Details: details}
	}
}

// NewRedisHealthChecker checks the session Redis.
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper) *PingChecker {
	return &PingChecker{
		name:     "redis",
		critical: true,
		timeout:  5 * time.Second,
		ping:     wrapper.Ping,
		breaker:  wrapper.Breaker(),
		slow:     50 * time.Millisecond,
	}
}

// NewDatabaseHealthChecker checks PostgreSQL.
func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper) *PingChecker {
	return &PingChecker{
		name:     "database",
		critical: true,
		timeout:  5 * time.Second,
		ping:     wrapper.PingContext,
		breaker:  wrapper.Breaker(),
		slow:     100 * time.Millisecond,
	}
}

// NewTemporalHealthChecker checks the Temporal frontend.
func NewTemporalHealthChecker(c client.Client) *PingChecker {
	return &PingChecker{
		name:     "temporal",
		critical: true,
		timeout:  5 * time.Second,
		ping: func(ctx context.Context) error {
			_, err := c.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		},
	}
}

// NewCustomHealthChecker wraps an arbitrary ping. Non-critical checks only
// degrade the service.
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, critical: critical, timeout: timeout, ping: ping}
}
