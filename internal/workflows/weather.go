package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/farmwise/farmwise/go/orchestrator/internal/activities"
	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/weather"
	"github.com/farmwise/farmwise/go/orchestrator/internal/workflows/invoke"
)

var (
	weatherContactsOptions  = invoke.Retryable(10*time.Second, 3, 2*time.Second)
	weatherForecastOptions  = invoke.Retryable(10*time.Second, 3, 2*time.Second)
	weatherSummarizeOptions = invoke.SingleAttempt(30 * time.Second)
	weatherSendOptions      = invoke.SingleAttempt(10 * time.Second)
	weatherSaveOptions      = invoke.SingleAttempt(10 * time.Second)
)

// WeatherForecastWorkflow sends every located contact a summary of their
// three day forecast. Contacts are processed one after another and a failure
// for one contact never stops the others. Only a failure to list contacts
// fails the run.
func WeatherForecastWorkflow(ctx workflow.Context) (WeatherForecastResult, error) {
	logger := workflow.GetLogger(ctx)
	var result WeatherForecastResult

	var contacts []db.Contact
	if err := invoke.Execute(ctx, constants.GetContactsWithLocationActivity, weatherContactsOptions, &contacts); err != nil {
		logger.Error("Failed to load contacts", "error", err)
		return result, err
	}
	result.Contacts = len(contacts)
	runID := workflow.GetInfo(ctx).WorkflowExecution.ID

	for _, contact := range contacts {
		messageID, denied, err := forecastForContact(ctx, runID, contact)
		switch {
		case err != nil:
			logger.Error("Weather forecast failed for contact",
				"contact_id", contact.ID,
				"kind", invoke.KindOf(err),
				"error", err,
			)
			result.Failed++
			countItem(ctx, constants.WeatherForecastWorkflow, outcomeFailed)
		case denied:
			result.Skipped++
			countItem(ctx, constants.WeatherForecastWorkflow, outcomeSkipped)
		default:
			result.Delivered++
			if messageID != "" {
				result.MessageIDs = append(result.MessageIDs, messageID)
			}
			countItem(ctx, constants.WeatherForecastWorkflow, outcomeDelivered)
		}
	}

	logger.Info("Weather forecast broadcast completed",
		"contacts", result.Contacts,
		"delivered", result.Delivered,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	return result, nil
}

func forecastForContact(ctx workflow.Context, runID string, contact db.Contact) (string, bool, error) {
	var details weather.ForecastDetails
	if err := invoke.Execute(ctx, constants.GetWeatherForecastActivity, weatherForecastOptions, &details, contact); err != nil {
		return "", false, err
	}

	var summary activities.ForecastSummary
	if err := invoke.Execute(ctx, constants.SummarizeForecastActivity, weatherSummarizeOptions, &summary, details); err != nil {
		return "", false, err
	}

	key := fmt.Sprintf("%s:%d", runID, contact.ID)
	var sent activities.SendTemplateResult
	err := invoke.Execute(ctx, constants.SendWhatsAppTemplateActivity, weatherSendOptions, &sent, activities.SendTemplateInput{
		Contact:        contact,
		Template:       constants.TemplateWeatherForecast,
		Args:           append([]string{summary.Location}, summary.Forecast...),
		IdempotencyKey: key,
	})
	if err != nil {
		return "", false, err
	}
	if sent.Denied {
		workflow.GetLogger(ctx).Warn("Forecast denied by messaging policy", "contact_id", contact.ID, "reason", sent.Reason)
		return "", true, nil
	}

	err = invoke.Execute(ctx, constants.SaveMessageActivity, weatherSaveOptions, nil, activities.SaveMessageInput{
		Contact:           contact,
		Text:              strings.Join(summary.Forecast, "\n"),
		Template:          constants.TemplateWeatherForecast,
		WhatsAppMessageID: sent.MessageID,
		IdempotencyKey:    key,
	})
	if err != nil {
		return "", false, err
	}
	return sent.MessageID, false, nil
}
