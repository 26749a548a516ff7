package schedules

import (
	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
)

const (
	DailyWeatherScheduleID = "daily-weather-forecast"
	DailyWeatherWorkflowID = "daily-weather-workflow"
	PestAlertScheduleID    = "pest-alert"
	PestAlertWorkflowID    = "pest-alert-schedule"
)

// Desired returns the schedules this deployment should have.
func Desired(cfg config.SchedulesConfig) []Definition {
	defs := []Definition{{
		ID:         DailyWeatherScheduleID,
		Cron:       cfg.WeatherCron,
		Timezone:   cfg.Timezone,
		Workflow:   constants.WeatherForecastWorkflow,
		TaskQueue:  constants.WeatherTaskQueue,
		WorkflowID: DailyWeatherWorkflowID,
	}}
	if cfg.PestAlert.Enabled {
		defs = append(defs, Definition{
			ID:         PestAlertScheduleID,
			Cron:       cfg.PestAlert.Cron,
			Timezone:   cfg.Timezone,
			Workflow:   constants.PestAlertWorkflow,
			TaskQueue:  constants.PestAlertTaskQueue,
			WorkflowID: PestAlertWorkflowID,
			Paused:     cfg.PestAlert.Paused,
		})
	}
	return defs
}
