package control

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// SignalHandler lets operators pause, resume and cancel a long running
// workflow. Workflows call CheckPausePoint before each side effect and Sleep
// instead of workflow.Sleep so that a cancel interrupts a pending wait.
type SignalHandler struct {
	State  *WorkflowControlState
	Logger log.Logger
}

// Setup registers the query handler and starts the signal loop.
func (h *SignalHandler) Setup(ctx workflow.Context) {
	h.State = &WorkflowControlState{}
	if h.Logger == nil {
		h.Logger = workflow.GetLogger(ctx)
	}

	_ = workflow.SetQueryHandler(ctx, QueryControlState, func() (WorkflowControlState, error) {
		return *h.State, nil
	})

	pauseCh := workflow.GetSignalChannel(ctx, SignalPause)
	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)

	workflow.Go(ctx, func(gCtx workflow.Context) {
		for {
			sel := workflow.NewSelector(gCtx)
			sel.AddReceive(pauseCh, func(c workflow.ReceiveChannel, more bool) {
				var req Request
				c.Receive(gCtx, &req)
				h.handlePause(gCtx, req)
			})
			sel.AddReceive(resumeCh, func(c workflow.ReceiveChannel, more bool) {
				var req Request
				c.Receive(gCtx, &req)
				h.handleResume(req)
			})
			sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
				var req Request
				c.Receive(gCtx, &req)
				h.handleCancel(req)
			})
			sel.Select(gCtx)
		}
	})
}

func (h *SignalHandler) handlePause(ctx workflow.Context, req Request) {
	if h.State.IsPaused {
		h.Logger.Debug("Already paused, ignoring")
		return
	}
	h.State.IsPaused = true
	h.State.PausedAt = workflow.Now(ctx)
	h.State.PauseReason = req.Reason
	h.State.PausedBy = req.RequestedBy
	h.Logger.Info("Workflow paused", "reason", req.Reason, "requested_by", req.RequestedBy)
}

func (h *SignalHandler) handleResume(req Request) {
	if !h.State.IsPaused {
		h.Logger.Debug("Not paused, ignoring resume")
		return
	}
	h.State.IsPaused = false
	h.State.PausedAt = time.Time{}
	h.State.PauseReason = ""
	h.State.PausedBy = ""
	h.Logger.Info("Workflow resumed", "reason", req.Reason, "requested_by", req.RequestedBy)
}

func (h *SignalHandler) handleCancel(req Request) {
	h.State.IsCancelled = true
	h.State.CancelReason = req.Reason
	h.State.CancelledBy = req.RequestedBy
	h.Logger.Info("Workflow cancel requested", "reason", req.Reason, "requested_by", req.RequestedBy)
}

// CheckPausePoint blocks while paused and returns a CanceledError once the
// workflow has been cancelled.
func (h *SignalHandler) CheckPausePoint(ctx workflow.Context, checkpoint string) error {
	if h.State == nil {
		return nil
	}
	if h.State.IsPaused && !h.State.IsCancelled {
		h.Logger.Info("Waiting at pause point", "checkpoint", checkpoint)
		_ = workflow.Await(ctx, func() bool {
			return !h.State.IsPaused || h.State.IsCancelled
		})
	}
	if h.State.IsCancelled {
		return temporal.NewCanceledError(fmt.Sprintf("workflow cancelled at %s: %s", checkpoint, h.State.CancelReason))
	}
	return nil
}

// Sleep waits for d and returns early with a CanceledError on cancel.
func (h *SignalHandler) Sleep(ctx workflow.Context, d time.Duration) error {
	if h.State == nil {
		return workflow.Sleep(ctx, d)
	}
	cancelled, err := workflow.AwaitWithTimeout(ctx, d, func() bool { return h.State.IsCancelled })
	if err != nil {
		return err
	}
	if cancelled {
		return temporal.NewCanceledError(fmt.Sprintf("workflow cancelled while waiting: %s", h.State.CancelReason))
	}
	return nil
}

// IsCancelled returns true if the workflow has been cancelled
func (h *SignalHandler) IsCancelled() bool {
	return h.State != nil && h.State.IsCancelled
}

// IsPaused returns true if the workflow is paused
func (h *SignalHandler) IsPaused() bool {
	return h.State != nil && h.State.IsPaused
}
