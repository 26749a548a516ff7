package control

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

// waitingWorkflow sleeps for a day, then stops at a pause point.
func waitingWorkflow(ctx workflow.Context) (string, error) {
	h := &SignalHandler{}
	h.Setup(ctx)
	if err := h.Sleep(ctx, 24*time.Hour); err != nil {
		return "", err
	}
	if err := h.CheckPausePoint(ctx, "after_sleep"); err != nil {
		return "", err
	}
	return "done", nil
}

func TestSleepCompletesWithoutSignals(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.ExecuteWorkflow(waitingWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "done", out)
}

func TestCancelInterruptsSleep(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, Request{Reason: "contact opted out", RequestedBy: "ops"})
	}, time.Hour)
	env.ExecuteWorkflow(waitingWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var canceled *temporal.CanceledError
	assert.True(t, errors.As(err, &canceled))
}

func TestPauseBlocksUntilResume(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalPause, Request{Reason: "template review"})
	}, time.Hour)
	env.RegisterDelayedCallback(func() {
		res, err := env.QueryWorkflow(QueryControlState)
		require.NoError(t, err)
		var state WorkflowControlState
		require.NoError(t, res.Get(&state))
		assert.True(t, state.IsPaused)
		assert.Equal(t, "template review", state.PauseReason)
		env.SignalWorkflow(SignalResume, Request{Reason: "approved"})
	}, 48*time.Hour)
	env.ExecuteWorkflow(waitingWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}
