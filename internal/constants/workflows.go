package constants

// Workflow type names. These are the names registered with the worker and
// referenced by schedules, so renaming one breaks running schedules.
const (
	CropCycleWorkflow       = "crop-cycle"
	WeatherForecastWorkflow = "weather-forecast"
	PestAlertWorkflow       = "pest-alert"
)

// Task queues, one per workflow family.
const (
	CropCycleTaskQueue = "CROP_CYCLE_TASK_QUEUE"
	WeatherTaskQueue   = "weather-task-queue"
	PestAlertTaskQueue = "pest-alert-task-queue"
)
