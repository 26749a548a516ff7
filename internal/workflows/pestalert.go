package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/farmwise/farmwise/go/orchestrator/internal/activities"
	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/workflows/invoke"
)

var (
	pestReadOptions = invoke.Retryable(30*time.Second, 3, 2*time.Second)
	pestSendOptions = invoke.SingleAttempt(10 * time.Second)
)

// PestAlertWorkflow warns farms near recently reported pest sightings.
//
// For every recent field note the farms within activities.DefaultAlertRadiusKm
// are found, an alert is written once per note and sent to every contact of
// those farms. Failures are logged per note or per contact and processing
// continues.
func PestAlertWorkflow(ctx workflow.Context) (string, error) {
	logger := workflow.GetLogger(ctx)

	var notes []db.Note
	if err := invoke.Execute(ctx, constants.GetRecentNotesActivity, pestReadOptions, &notes); err != nil {
		logger.Error("Failed to load recent notes", "error", err)
		return "", err
	}
	if len(notes) == 0 {
		logger.Info("No recent notes")
		return "No recent notes found", nil
	}

	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	sent := 0
	for _, note := range notes {
		n, err := alertForNote(ctx, runID, note)
		sent += n
		if err != nil {
			logger.Error("Pest alert failed for note", "note_id", note.ID, "kind", invoke.KindOf(err), "error", err)
		}
	}

	summary := fmt.Sprintf("Processed %d notes and sent %d alerts", len(notes), sent)
	logger.Info("Pest alert completed", "notes", len(notes), "alerts", sent)
	return summary, nil
}

// alertForNote returns the number of alerts delivered for note.
func alertForNote(ctx workflow.Context, runID string, note db.Note) (int, error) {
	logger := workflow.GetLogger(ctx)

	var farms []db.FarmWithContacts
	err := invoke.Execute(ctx, constants.FindNearbyFarmsActivity, pestReadOptions, &farms, activities.FindNearbyFarmsInput{
		Note:     note,
		RadiusKm: activities.DefaultAlertRadiusKm,
	})
	if err != nil {
		return 0, err
	}
	if len(farms) == 0 {
		logger.Info("No farms near note", "note_id", note.ID)
		return 0, nil
	}

	var alert activities.AlertMessage
	if err := invoke.Execute(ctx, constants.GenerateAlertMessageActivity, pestReadOptions, &alert, note); err != nil {
		return 0, err
	}
	actions := strings.Join(alert.Actions, " ")

	sent := 0
	for _, farm := range farms {
		distance := fmt.Sprintf("%.1f km", farm.DistanceKm)
		for _, contact := range farm.Contacts {
			var res activities.SendTemplateResult
			err := invoke.Execute(ctx, constants.SendWhatsAppTemplateActivity, pestSendOptions, &res, activities.SendTemplateInput{
				Contact:        contact,
				Template:       constants.TemplatePestAlert,
				Args:           []string{alert.Summary, actions, distance},
				IdempotencyKey: fmt.Sprintf("%s:%d:%d", runID, note.ID, contact.ID),
			})
			switch {
			case err != nil:
				logger.Error("Failed to send pest alert", "note_id", note.ID, "contact_id", contact.ID, "error", err)
				countItem(ctx, constants.PestAlertWorkflow, outcomeFailed)
			case res.Denied:
				logger.Info("Pest alert denied by messaging policy", "contact_id", contact.ID, "reason", res.Reason)
				countItem(ctx, constants.PestAlertWorkflow, outcomeDenied)
			default:
				sent++
				countItem(ctx, constants.PestAlertWorkflow, outcomeDelivered)
			}
		}
	}
	return sent, nil
}
