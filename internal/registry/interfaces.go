package registry

import (
	"go.temporal.io/sdk/worker"
)

// WorkflowRegistrar registers the workflows served on a task queue
type WorkflowRegistrar interface {
	RegisterWorkflows(taskQueue string, w worker.WorkflowRegistry) error
}

// ActivityRegistrar registers the activities served on a task queue
type ActivityRegistrar interface {
	RegisterActivities(taskQueue string, w worker.ActivityRegistry) error
}

// Registry combines both workflow and activity registration
type Registry interface {
	WorkflowRegistrar
	ActivityRegistrar
	TaskQueues() []string
}

// RegistryConfig holds configuration for the registry
type RegistryConfig struct {
	// EnablePestAlert controls whether a worker is started for the pest alert queue
	EnablePestAlert bool
}
