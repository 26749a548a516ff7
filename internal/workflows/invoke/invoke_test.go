package invoke

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
)

type InvokeTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *InvokeTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
}

func (s *InvokeTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func TestInvokeTestSuite(t *testing.T) {
	suite.Run(t, new(InvokeTestSuite))
}

type callResult struct {
	Value string
	Kind  Kind
}

func probeWorkflow(ctx workflow.Context, o Options) (callResult, error) {
	var out string
	err := Execute(ctx, "probe", o, &out, "in")
	return callResult{Value: out, Kind: KindOf(err)}, nil
}

func (s *InvokeTestSuite) run(o Options, fn func(ctx context.Context, in string) (string, error)) (callResult, int) {
	calls := 0
	s.env.RegisterActivityWithOptions(func(ctx context.Context, in string) (string, error) {
		calls++
		return fn(ctx, in)
	}, activity.RegisterOptions{Name: "probe"})
	s.env.RegisterWorkflow(probeWorkflow)

	s.env.ExecuteWorkflow(probeWorkflow, o)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())

	var res callResult
	s.NoError(s.env.GetWorkflowResult(&res))
	return res, calls
}

func (s *InvokeTestSuite) TestSuccessDecodesOutput() {
	res, calls := s.run(SingleAttempt(5*time.Second), func(ctx context.Context, in string) (string, error) {
		return in + "-ok", nil
	})
	s.Equal("in-ok", res.Value)
	s.Equal(Kind(""), res.Kind)
	s.Equal(1, calls)
}

func (s *InvokeTestSuite) TestNonRetryableIsNotRetried() {
	res, calls := s.run(Retryable(5*time.Second, 3, time.Second), func(ctx context.Context, in string) (string, error) {
		return "", temporal.NewNonRetryableApplicationError("bad request", constants.ErrorTypeNonRetryable, errors.New("400"))
	})
	s.Equal(NonRetryable, res.Kind)
	s.Equal(1, calls)
}

func (s *InvokeTestSuite) TestTransientRetriesUpToMaxAttempts() {
	res, calls := s.run(Retryable(5*time.Second, 3, time.Second), func(ctx context.Context, in string) (string, error) {
		return "", temporal.NewApplicationError("upstream 503", constants.ErrorTypeTransient)
	})
	s.Equal(Transient, res.Kind)
	s.Equal(3, calls)
}

func (s *InvokeTestSuite) TestSingleAttemptTransientRunsOnce() {
	res, calls := s.run(SingleAttempt(5*time.Second), func(ctx context.Context, in string) (string, error) {
		return "", errors.New("connection reset")
	})
	s.Equal(Transient, res.Kind)
	s.Equal(1, calls)
}

func TestErrorMatching(t *testing.T) {
	err := &Error{Kind: Timeout, Activity: "get_weather_forecast", Cause: errors.New("deadline")}
	wrapped := errors.Join(errors.New("contact 7"), err)

	assert.True(t, errors.Is(wrapped, &Error{Kind: Timeout}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: NonRetryable}))
	assert.Equal(t, Timeout, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	require.Contains(t, err.Error(), "get_weather_forecast")
}
