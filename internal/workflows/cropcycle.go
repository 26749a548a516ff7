package workflows

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/farmwise/farmwise/go/orchestrator/internal/activities"
	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/workflows/control"
	"github.com/farmwise/farmwise/go/orchestrator/internal/workflows/invoke"
)

var (
	cropCycleSendOptions = invoke.SingleAttempt(10 * time.Second)
	cropCycleLogOptions  = invoke.SingleAttempt(5 * time.Second)
)

// CropCycleWorkflow walks a contact through their crop calendar, sending each
// event's template when its window opens.
//
// Events are handled strictly in start_day order. An event whose window is
// open when reached is sent at once, an event whose window has closed is
// skipped, and the workflow sleeps durably until a future window opens. A
// failed send is counted and the next event is processed.
func CropCycleWorkflow(ctx workflow.Context, input CropCycleInput) (CropCycleResult, error) {
	logger := workflow.GetLogger(ctx)
	result := CropCycleResult{ContactID: input.Contact.ID, Total: len(input.Events)}

	if err := validateCropCycle(input); err != nil {
		return result, temporal.NewNonRetryableApplicationError(err.Error(), constants.ErrorTypeNonRetryable, err)
	}

	ctrl := &control.SignalHandler{Logger: logger}
	ctrl.Setup(ctx)
	_ = workflow.SetQueryHandler(ctx, QueryCropCycleProgress, func() (CropCycleResult, error) {
		return result, nil
	})

	events := make([]ScheduledEvent, len(input.Events))
	copy(events, input.Events)
	sort.SliceStable(events, func(i, j int) bool { return events[i].StartDay < events[j].StartDay })

	anchor, unit := input.PlantingDate, 24*time.Hour
	if input.DemoMode {
		anchor, unit = workflow.Now(ctx), time.Minute
	}
	runID := workflow.GetInfo(ctx).WorkflowExecution.ID

	logger.Info("Crop cycle started",
		"contact_id", input.Contact.ID,
		"events", len(events),
		"planting_date", input.PlantingDate.Format("2006-01-02"),
		"demo_mode", input.DemoMode,
	)

	for _, ev := range events {
		start, end := eventWindow(anchor, unit, ev)
		now := workflow.Now(ctx)
		if now.After(end) {
			logger.Info("Event window closed, skipping", "identifier", ev.Identifier, "window_end", end)
			result.Skipped++
			countItem(ctx, constants.CropCycleWorkflow, outcomeSkipped)
			continue
		}
		if now.Before(start) {
			logger.Info("Waiting for event window", "identifier", ev.Identifier, "start", start)
			if err := ctrl.Sleep(ctx, start.Sub(now)); err != nil {
				return result, err
			}
		}
		if err := ctrl.CheckPausePoint(ctx, ev.Identifier); err != nil {
			return result, err
		}

		var sent activities.SendTemplateResult
		err := invoke.Execute(ctx, constants.SendWhatsAppTemplateActivity, cropCycleSendOptions, &sent, activities.SendTemplateInput{
			Contact:        input.Contact,
			Template:       constants.TemplateCropCycleEvent,
			Header:         ev.Title,
			Args:           eventBody(ev),
			IdempotencyKey: runID + ":" + ev.Identifier,
		})
		if err != nil {
			logger.Error("Failed to send crop cycle event", "identifier", ev.Identifier, "kind", invoke.KindOf(err), "error", err)
			result.Failed++
			countItem(ctx, constants.CropCycleWorkflow, outcomeFailed)
			continue
		}
		if sent.Denied {
			logger.Warn("Crop cycle event denied by messaging policy", "identifier", ev.Identifier, "reason", sent.Reason)
			result.Denied++
			countItem(ctx, constants.CropCycleWorkflow, outcomeDenied)
			continue
		}
		result.Delivered++
		countItem(ctx, constants.CropCycleWorkflow, outcomeDelivered)

		err = invoke.Execute(ctx, constants.LogEventSentActivity, cropCycleLogOptions, nil, activities.LogEventSentInput{
			ContactID:       input.Contact.ID,
			EventIdentifier: ev.Identifier,
			EventTitle:      ev.Title,
		})
		if err != nil {
			logger.Warn("Failed to log sent event", "identifier", ev.Identifier, "error", err)
			continue
		}
		result.Logged++
	}

	result.Summary = fmt.Sprintf("Crop cycle workflow completed for contact %s", input.Contact.Name)
	logger.Info("Crop cycle completed",
		"contact_id", input.Contact.ID,
		"delivered", result.Delivered,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"denied", result.Denied,
	)
	return result, nil
}

func validateCropCycle(input CropCycleInput) error {
	switch {
	case input.Contact.ID == 0:
		return fmt.Errorf("crop cycle: contact id is required")
	case input.Contact.PhoneNumber == "":
		return fmt.Errorf("crop cycle: contact %d has no phone number", input.Contact.ID)
	case input.PlantingDate.IsZero():
		return fmt.Errorf("crop cycle: planting date is required")
	}
	for _, ev := range input.Events {
		if ev.Identifier == "" {
			return fmt.Errorf("crop cycle: event %q has no identifier", ev.Title)
		}
	}
	return nil
}

// eventWindow returns the inclusive send window of ev.
func eventWindow(anchor time.Time, unit time.Duration, ev ScheduledEvent) (time.Time, time.Time) {
	start := anchor.Add(time.Duration(ev.StartDay) * unit)
	end := anchor.Add(time.Duration(ev.EndDay) * unit)
	if end.Before(start) {
		end = start
	}
	return start, end
}

// eventBody fills the harvesting template: event type, crop and description.
// WhatsApp rejects newlines in template parameters.
func eventBody(ev ScheduledEvent) []string {
	crop := strings.Split(ev.Identifier, "_")[0]
	return []string{ev.EventType, crop, strings.ReplaceAll(ev.Description, "\n", "\r")}
}
