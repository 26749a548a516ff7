package activities

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
)

// RegisterMessaging registers the activities every workflow family needs.
func (a *Activities) RegisterMessaging(w worker.ActivityRegistry) {
	w.RegisterActivityWithOptions(a.SendWhatsAppTemplate, activity.RegisterOptions{Name: constants.SendWhatsAppTemplateActivity})
	w.RegisterActivityWithOptions(a.SaveMessage, activity.RegisterOptions{Name: constants.SaveMessageActivity})
	w.RegisterActivityWithOptions(a.LogEventSent, activity.RegisterOptions{Name: constants.LogEventSentActivity})
}

// RegisterWeather registers the weather forecast activities.
func (a *Activities) RegisterWeather(w worker.ActivityRegistry) {
	w.RegisterActivityWithOptions(a.GetContactsWithLocation, activity.RegisterOptions{Name: constants.GetContactsWithLocationActivity})
	w.RegisterActivityWithOptions(a.GetWeatherForecast, activity.RegisterOptions{Name: constants.GetWeatherForecastActivity})
	w.RegisterActivityWithOptions(a.SummarizeForecast, activity.RegisterOptions{Name: constants.SummarizeForecastActivity})
}

// RegisterPestAlert registers the pest alert activities.
func (a *Activities) RegisterPestAlert(w worker.ActivityRegistry) {
	w.RegisterActivityWithOptions(a.GetRecentNotes, activity.RegisterOptions{Name: constants.GetRecentNotesActivity})
	w.RegisterActivityWithOptions(a.FindNearbyFarms, activity.RegisterOptions{Name: constants.FindNearbyFarmsActivity})
	w.RegisterActivityWithOptions(a.GenerateAlertMessage, activity.RegisterOptions{Name: constants.GenerateAlertMessageActivity})
}
