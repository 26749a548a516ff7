package registry

import (
	"fmt"

	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/activities"
	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/workflows"
)

// FarmwiseRegistry registers each workflow family on its own task queue.
// Every queue also gets the messaging activities its workflow calls.
type FarmwiseRegistry struct {
	config *RegistryConfig
	logger *zap.Logger
	acts   *activities.Activities
}

var _ Registry = (*FarmwiseRegistry)(nil)

// NewFarmwiseRegistry creates a new registry instance
func NewFarmwiseRegistry(config *RegistryConfig, logger *zap.Logger, acts *activities.Activities) *FarmwiseRegistry {
	if config == nil {
		config = &RegistryConfig{}
	}
	return &FarmwiseRegistry{config: config, logger: logger, acts: acts}
}

// TaskQueues lists the queues a worker should be started for.
func (r *FarmwiseRegistry) TaskQueues() []string {
	queues := []string{constants.CropCycleTaskQueue, constants.WeatherTaskQueue}
	if r.config.EnablePestAlert {
		queues = append(queues, constants.PestAlertTaskQueue)
	}
	return queues
}

// RegisterWorkflows registers the workflow served on taskQueue under its
// stable type name.
func (r *FarmwiseRegistry) RegisterWorkflows(taskQueue string, w worker.WorkflowRegistry) error {
	switch taskQueue {
	case constants.CropCycleTaskQueue:
		w.RegisterWorkflowWithOptions(workflows.CropCycleWorkflow, workflow.RegisterOptions{Name: constants.CropCycleWorkflow})
	case constants.WeatherTaskQueue:
		w.RegisterWorkflowWithOptions(workflows.WeatherForecastWorkflow, workflow.RegisterOptions{Name: constants.WeatherForecastWorkflow})
	case constants.PestAlertTaskQueue:
		w.RegisterWorkflowWithOptions(workflows.PestAlertWorkflow, workflow.RegisterOptions{Name: constants.PestAlertWorkflow})
	default:
		return fmt.Errorf("no workflows for task queue %q", taskQueue)
	}
	r.logger.Info("Registered workflows", zap.String("task_queue", taskQueue))
	return nil
}

// RegisterActivities registers the activities the queue's workflow calls.
func (r *FarmwiseRegistry) RegisterActivities(taskQueue string, w worker.ActivityRegistry) error {
	switch taskQueue {
	case constants.CropCycleTaskQueue:
		r.acts.RegisterMessaging(w)
	case constants.WeatherTaskQueue:
		r.acts.RegisterMessaging(w)
		r.acts.RegisterWeather(w)
	case constants.PestAlertTaskQueue:
		r.acts.RegisterMessaging(w)
		r.acts.RegisterPestAlert(w)
	default:
		return fmt.Errorf("no activities for task queue %q", taskQueue)
	}
	r.logger.Info("Registered activities", zap.String("task_queue", taskQueue))
	return nil
}
