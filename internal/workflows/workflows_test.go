package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/farmwise/farmwise/go/orchestrator/internal/activities"
	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/weather"
)

type WorkflowsTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment

	sends  []activities.SendTemplateInput
	logged []activities.LogEventSentInput
	saved  []activities.SaveMessageInput
}

func TestWorkflowsTestSuite(t *testing.T) {
	suite.Run(t, new(WorkflowsTestSuite))
}

func (s *WorkflowsTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.sends, s.logged, s.saved = nil, nil, nil
}

// registerMessaging installs send, log and save stubs. Sends whose
// identifier or contact is in fail return a non-retryable error.
func (s *WorkflowsTestSuite) registerMessaging(fail map[string]bool) {
	s.env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SendTemplateInput) (*activities.SendTemplateResult, error) {
		s.sends = append(s.sends, in)
		if fail[in.IdempotencyKey[strings.Index(in.IdempotencyKey, ":")+1:]] {
			return nil, temporal.NewNonRetryableApplicationError("template rejected", constants.ErrorTypeNonRetryable, nil)
		}
		if strings.HasPrefix(in.Contact.PhoneNumber, "X") {
			return &activities.SendTemplateResult{Denied: true, Reason: "test number"}, nil
		}
		return &activities.SendTemplateResult{MessageID: fmt.Sprintf("wamid.%d.%d", in.Contact.ID, len(s.sends))}, nil
	}, activity.RegisterOptions{Name: constants.SendWhatsAppTemplateActivity})

	s.env.RegisterActivityWithOptions(func(ctx context.Context, in activities.LogEventSentInput) error {
		s.logged = append(s.logged, in)
		return nil
	}, activity.RegisterOptions{Name: constants.LogEventSentActivity})

	s.env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SaveMessageInput) error {
		s.saved = append(s.saved, in)
		return nil
	}, activity.RegisterOptions{Name: constants.SaveMessageActivity})
}

var farmer = db.Contact{ID: 7, Name: "Wanjiku", PhoneNumber: "254700000007", Location: "-1.28,36.82"}

func (s *WorkflowsTestSuite) TestCropCycleOrdersWindowsAndContinuesAfterFailure() {
	start := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	s.env.SetStartTime(start)
	s.registerMessaging(map[string]bool{"maize_weeding": true})

	planting := start.Add(-48 * time.Hour)
	input := CropCycleInput{
		Contact:      farmer,
		PlantingDate: planting,
		Events: []ScheduledEvent{
			{EventType: "Harvest", Title: "Harvest", StartDay: 5, EndDay: 6, Identifier: "maize_harvest"},
			{EventType: "Planting", Title: "Plant", StartDay: 0, EndDay: 1, Identifier: "maize_planting"},
			{EventType: "Fertilizer", Title: "Top dress", StartDay: 1, EndDay: 3, Identifier: "maize_topdress", Description: "Apply CAN\nKeep dry"},
			{EventType: "Weeding", Title: "Weed", StartDay: 3, EndDay: 4, Identifier: "maize_weeding"},
			{EventType: "Storage", Title: "Store", StartDay: 5, EndDay: 7, Identifier: "maize_storage"},
		},
	}
	s.env.ExecuteWorkflow(CropCycleWorkflow, input)

	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	var result CropCycleResult
	s.NoError(s.env.GetWorkflowResult(&result))

	s.Equal(CropCycleResult{
		ContactID: 7, Total: 5, Delivered: 3, Failed: 1, Skipped: 1, Logged: 3,
		Summary: "Crop cycle workflow completed for contact Wanjiku",
	}, result)

	var order []string
	for _, in := range s.sends {
		order = append(order, in.Header)
	}
	s.Equal([]string{"Top dress", "Weed", "Harvest", "Store"}, order)

	first := s.sends[0]
	s.Equal(constants.TemplateCropCycleEvent, first.Template)
	s.Equal([]string{"Fertilizer", "maize", "Apply CAN\rKeep dry"}, first.Args)
	s.True(strings.HasSuffix(first.IdempotencyKey, ":maize_topdress"))

	s.Len(s.logged, 3)
	s.Equal("maize_harvest", s.logged[1].EventIdentifier)
	s.False(s.env.Now().Before(planting.Add(5 * 24 * time.Hour)))
}

func (s *WorkflowsTestSuite) TestCropCycleDemoModeUsesMinutes() {
	start := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	s.env.SetStartTime(start)
	s.registerMessaging(nil)

	s.env.ExecuteWorkflow(CropCycleWorkflow, CropCycleInput{
		Contact:      farmer,
		PlantingDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DemoMode:     true,
		Events: []ScheduledEvent{
			{Title: "Later", StartDay: 2, EndDay: 3, Identifier: "beans_later"},
			{Title: "Now", StartDay: 0, EndDay: 1, Identifier: "beans_now"},
		},
	})

	s.NoError(s.env.GetWorkflowError())
	var result CropCycleResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(2, result.Delivered)
	s.Zero(result.Skipped)
	s.True(s.env.Now().Before(start.Add(time.Hour)))
}

func (s *WorkflowsTestSuite) TestCropCycleCountsDeniedContacts() {
	s.registerMessaging(nil)
	contact := farmer
	contact.PhoneNumber = "X254700000000"

	s.env.ExecuteWorkflow(CropCycleWorkflow, CropCycleInput{
		Contact:      contact,
		PlantingDate: time.Now().UTC(),
		DemoMode:     true,
		Events:       []ScheduledEvent{{Title: "Now", Identifier: "beans_now"}},
	})

	var result CropCycleResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(1, result.Denied)
	s.Zero(result.Delivered)
	s.Empty(s.logged)
}

func (s *WorkflowsTestSuite) TestCropCycleRejectsInvalidInput() {
	s.registerMessaging(nil)
	s.env.ExecuteWorkflow(CropCycleWorkflow, CropCycleInput{Contact: db.Contact{ID: 3}, PlantingDate: time.Now()})

	err := s.env.GetWorkflowError()
	s.Error(err)
	var appErr *temporal.ApplicationError
	s.True(errors.As(err, &appErr))
	s.Equal(constants.ErrorTypeNonRetryable, appErr.Type())
	s.Empty(s.sends)
}

func (s *WorkflowsTestSuite) registerWeather(contacts []db.Contact, failing int64, attempts *int) {
	s.env.RegisterActivityWithOptions(func(ctx context.Context) ([]db.Contact, error) {
		return contacts, nil
	}, activity.RegisterOptions{Name: constants.GetContactsWithLocationActivity})

	s.env.RegisterActivityWithOptions(func(ctx context.Context, c db.Contact) (*weather.ForecastDetails, error) {
		if c.ID == failing {
			*attempts++
			return nil, temporal.NewApplicationError("provider unavailable", constants.ErrorTypeTransient)
		}
		return &weather.ForecastDetails{Location: c.Name + " town", HourlyDescriptions: []string{"Sunny"}}, nil
	}, activity.RegisterOptions{Name: constants.GetWeatherForecastActivity})

	s.env.RegisterActivityWithOptions(func(ctx context.Context, f weather.ForecastDetails) (*activities.ForecastSummary, error) {
		return &activities.ForecastSummary{Location: f.Location, Forecast: []string{"Mon: sunny", "Tue: rain"}}, nil
	}, activity.RegisterOptions{Name: constants.SummarizeForecastActivity})
}

func (s *WorkflowsTestSuite) TestWeatherForecastContinuesPastFailingContact() {
	contacts := []db.Contact{
		{ID: 1, Name: "Nyeri", PhoneNumber: "254700000001", Location: "-0.42,36.95"},
		{ID: 2, Name: "Embu", PhoneNumber: "254700000002", Location: "-0.53,37.45"},
		{ID: 3, Name: "Meru", PhoneNumber: "254700000003", Location: "0.05,37.65"},
	}
	attempts := 0
	s.registerWeather(contacts, 2, &attempts)
	s.registerMessaging(nil)

	s.env.ExecuteWorkflow(WeatherForecastWorkflow)

	s.NoError(s.env.GetWorkflowError())
	var result WeatherForecastResult
	s.NoError(s.env.GetWorkflowResult(&result))
	s.Equal(3, result.Contacts)
	s.Equal(2, result.Delivered)
	s.Equal(1, result.Failed)
	s.Len(result.MessageIDs, 2)
	s.Equal(3, attempts)

	s.Require().Len(s.sends, 2)
	s.Equal([]string{"Nyeri town", "Mon: sunny", "Tue: rain"}, s.sends[0].Args)
	s.Equal(int64(3), s.sends[1].Contact.ID)

	s.Require().Len(s.saved, 2)
	s.Equal("Mon: sunny\nTue: rain", s.saved[0].Text)
	s.Equal(s.sends[0].IdempotencyKey, s.saved[0].IdempotencyKey)
}

func (s *WorkflowsTestSuite) TestWeatherForecastFailsWhenContactsUnavailable() {
	s.env.RegisterActivityWithOptions(func(ctx context.Context) ([]db.Contact, error) {
		return nil, temporal.NewApplicationError("database down", constants.ErrorTypeTransient)
	}, activity.RegisterOptions{Name: constants.GetContactsWithLocationActivity})

	s.env.ExecuteWorkflow(WeatherForecastWorkflow)

	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func (s *WorkflowsTestSuite) registerPest(notes []db.Note, farms map[int64][]db.FarmWithContacts) {
	s.env.RegisterActivityWithOptions(func(ctx context.Context) ([]db.Note, error) {
		return notes, nil
	}, activity.RegisterOptions{Name: constants.GetRecentNotesActivity})

	s.env.RegisterActivityWithOptions(func(ctx context.Context, in activities.FindNearbyFarmsInput) ([]db.FarmWithContacts, error) {
		return farms[in.Note.ID], nil
	}, activity.RegisterOptions{Name: constants.FindNearbyFarmsActivity})

	s.env.RegisterActivityWithOptions(func(ctx context.Context, n db.Note) (*activities.AlertMessage, error) {
		return &activities.AlertMessage{Summary: "Fall armyworm reported nearby.", Actions: []string{"Scout fields.", "Spray early."}}, nil
	}, activity.RegisterOptions{Name: constants.GenerateAlertMessageActivity})
}

func (s *WorkflowsTestSuite) TestPestAlertSendsToNearbyContacts() {
	notes := []db.Note{{ID: 11, Text: "armyworm on maize", FarmID: 1}, {ID: 12, Text: "aphids", FarmID: 2}}
	farms := map[int64][]db.FarmWithContacts{
		11: {
			{FarmID: 3, FarmName: "Kiambu", DistanceKm: 1.26, Contacts: []db.Contact{
				{ID: 31, PhoneNumber: "254700000031"},
				{ID: 32, PhoneNumber: "X254700000032"},
			}},
			{FarmID: 4, FarmName: "Limuru", DistanceKm: 4, Contacts: []db.Contact{{ID: 41, PhoneNumber: "254700000041"}}},
		},
	}
	s.registerPest(notes, farms)
	s.registerMessaging(nil)

	s.env.ExecuteWorkflow(PestAlertWorkflow)

	s.NoError(s.env.GetWorkflowError())
	var out string
	s.NoError(s.env.GetWorkflowResult(&out))
	s.Equal("Processed 2 notes and sent 2 alerts", out)

	s.Require().Len(s.sends, 3)
	s.Equal(constants.TemplatePestAlert, s.sends[0].Template)
	s.Equal([]string{"Fall armyworm reported nearby.", "Scout fields. Spray early.", "1.3 km"}, s.sends[0].Args)
	s.True(strings.HasSuffix(s.sends[0].IdempotencyKey, ":11:31"))
}

func (s *WorkflowsTestSuite) TestPestAlertWithoutNotes() {
	s.registerPest(nil, nil)
	s.registerMessaging(nil)

	s.env.ExecuteWorkflow(PestAlertWorkflow)

	var out string
	s.NoError(s.env.GetWorkflowResult(&out))
	s.Equal("No recent notes found", out)
	s.Empty(s.sends)
}

func TestWorkflowIDs(t *testing.T) {
	day := time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "crop-cycle-42-20250301", CropCycleWorkflowID(42, day))
	assert.Equal(t, "weather-forecast-20250301", WeatherForecastWorkflowID(day))
	assert.Equal(t, "pest-alert-20250301", PestAlertWorkflowID(day))
}

func TestEventWindowClampsReversedRange(t *testing.T) {
	anchor := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	start, end := eventWindow(anchor, 24*time.Hour, ScheduledEvent{StartDay: 4, EndDay: 2})
	require.Equal(t, anchor.Add(96*time.Hour), start)
	assert.Equal(t, start, end)
}
