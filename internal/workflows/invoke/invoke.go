// Package invoke runs single activities from workflow code with a declared
// timeout and retry policy and classifies their failures.
package invoke

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
)

// Kind classifies an activity failure as seen by the workflow.
type Kind string

const (
	Timeout      Kind = "Timeout"
	NonRetryable Kind = "NonRetryable"
	Transient    Kind = "Transient"
)

// Options declare one call's timeout and retry budget.
type Options struct {
	StartToClose time.Duration
	// MaxAttempts of 1 disables retries.
	MaxAttempts int32
	MaxInterval time.Duration
	// NonRetryableErrorTypes are application error types never retried.
	// constants.ErrorTypeNonRetryable is always included.
	NonRetryableErrorTypes []string
}

// SingleAttempt is used for side effects that must not be repeated, such as
// sending a message.
func SingleAttempt(timeout time.Duration) Options {
	return Options{StartToClose: timeout, MaxAttempts: 1}
}

// Retryable is used for idempotent reads.
func Retryable(timeout time.Duration, attempts int32, maxInterval time.Duration) Options {
	return Options{StartToClose: timeout, MaxAttempts: attempts, MaxInterval: maxInterval}
}

func (o Options) activityOptions() workflow.ActivityOptions {
	nonRetryable := append([]string{constants.ErrorTypeNonRetryable}, o.NonRetryableErrorTypes...)
	policy := &temporal.RetryPolicy{
		InitialInterval:        time.Second,
		BackoffCoefficient:     2.0,
		MaximumAttempts:        o.MaxAttempts,
		MaximumInterval:        o.MaxInterval,
		NonRetryableErrorTypes: nonRetryable,
	}
	if o.MaxInterval > 0 && o.MaxInterval < policy.InitialInterval {
		policy.InitialInterval = o.MaxInterval
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: o.StartToClose,
		RetryPolicy:         policy,
	}
}

// Error is returned by Execute for every failed activity.
type Error struct {
	Kind     Kind
	Activity string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Activity, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets callers test errors.Is(err, &invoke.Error{Kind: invoke.Timeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return (t.Kind == "" || t.Kind == e.Kind) && (t.Activity == "" || t.Activity == e.Activity)
}

// KindOf returns the classification of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// Execute runs the named activity and decodes its result into out (which
// may be nil). Failures come back as *Error.
func Execute(ctx workflow.Context, name string, o Options, out interface{}, args ...interface{}) error {
	actx := workflow.WithActivityOptions(ctx, o.activityOptions())
	err := workflow.ExecuteActivity(actx, name, args...).Get(actx, out)
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err), Activity: name, Cause: err}
}

func classify(err error) Kind {
	if temporal.IsTimeoutError(err) {
		return Timeout
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		if appErr.NonRetryable() || appErr.Type() == constants.ErrorTypeNonRetryable {
			return NonRetryable
		}
	}
	return Transient
}
