package temporal

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
	"github.com/farmwise/farmwise/go/orchestrator/internal/schedules"
)

// Handle identifies a workflow run. Attached is true when the id was already
// taken and the handle points at the earlier run.
type Handle struct {
	ID       string `json:"workflow_id"`
	RunID    string `json:"run_id"`
	Attached bool   `json:"attached"`
}

// Engine is the workflow engine adapter used by the gateway, the CLI and
// the schedule reconciler.
type Engine struct {
	client client.Client
	logger *zap.Logger
}

func NewEngine(c client.Client, logger *zap.Logger) *Engine {
	return &Engine{client: c, logger: logger}
}

func (e *Engine) Client() client.Client { return e.client }

// StartWorkflow starts workflowType under id at most once. Duplicate ids are
// rejected by the engine even after the first run has finished; in that case
// the existing run is returned with Attached set.
func (e *Engine) StartWorkflow(ctx context.Context, workflowType, id, taskQueue string, args ...interface{}) (*Handle, error) {
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflowType, args...)
	if err == nil {
		metrics.WorkflowsStarted.WithLabelValues(workflowType, "started").Inc()
		e.logger.Info("Workflow started",
			zap.String("workflow_type", workflowType),
			zap.String("workflow_id", run.GetID()),
			zap.String("run_id", run.GetRunID()),
		)
		return &Handle{ID: run.GetID(), RunID: run.GetRunID()}, nil
	}

	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if !errors.As(err, &started) {
		return nil, fmt.Errorf("start %s %s: %w", workflowType, id, err)
	}

	existing := e.client.GetWorkflow(ctx, id, started.RunId)
	metrics.WorkflowsStarted.WithLabelValues(workflowType, "attached").Inc()
	e.logger.Info("Workflow already started, attaching",
		zap.String("workflow_type", workflowType),
		zap.String("workflow_id", id),
		zap.String("run_id", existing.GetRunID()),
	)
	return &Handle{ID: id, RunID: existing.GetRunID(), Attached: true}, nil
}

// ExecuteWorkflow starts (or attaches to) the run and blocks for its result.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowType, id, taskQueue string, out interface{}, args ...interface{}) (*Handle, error) {
	h, err := e.StartWorkflow(ctx, workflowType, id, taskQueue, args...)
	if err != nil {
		return nil, err
	}
	if err := e.client.GetWorkflow(ctx, h.ID, h.RunID).Get(ctx, out); err != nil {
		return h, fmt.Errorf("workflow %s: %w", h.ID, err)
	}
	return h, nil
}

// ListSchedules returns every schedule in the namespace with the fingerprint
// kept in its note.
func (e *Engine) ListSchedules(ctx context.Context) ([]schedules.Existing, error) {
	iter, err := e.client.ScheduleClient().List(ctx, client.ScheduleListOptions{PageSize: 100})
	if err != nil {
		return nil, err
	}
	var out []schedules.Existing
	for iter.HasNext() {
		entry, err := iter.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, schedules.Existing{
			ID:          entry.ID,
			Fingerprint: schedules.FingerprintFromNote(entry.Note),
			Paused:      entry.Paused,
		})
	}
	return out, nil
}

func (e *Engine) CreateSchedule(ctx context.Context, d schedules.Definition) error {
	_, err := e.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:     d.ID,
		Spec:   specFor(d),
		Action: actionFor(d),
		Paused: d.Paused,
		Note:   schedules.Note(d.Fingerprint()),
	})
	return err
}

// UpdateSchedule replaces spec, action and state of an existing schedule.
func (e *Engine) UpdateSchedule(ctx context.Context, d schedules.Definition) error {
	handle := e.client.ScheduleClient().GetHandle(ctx, d.ID)
	return handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			spec := specFor(d)
			sched := in.Description.Schedule
			sched.Spec = &spec
			sched.Action = actionFor(d)
			if sched.State == nil {
				sched.State = &client.ScheduleState{}
			}
			sched.State.Paused = d.Paused
			sched.State.Note = schedules.Note(d.Fingerprint())
			return &client.ScheduleUpdate{Schedule: &sched}, nil
		},
	})
}

func specFor(d schedules.Definition) client.ScheduleSpec {
	return client.ScheduleSpec{
		CronExpressions: []string{d.Cron},
		TimeZoneName:    d.Timezone,
	}
}

func actionFor(d schedules.Definition) *client.ScheduleWorkflowAction {
	return &client.ScheduleWorkflowAction{
		ID:        d.WorkflowID,
		Workflow:  d.Workflow,
		TaskQueue: d.TaskQueue,
	}
}
