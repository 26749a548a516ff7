package workflows

import (
	"fmt"
	"time"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
)

// ScheduledEvent is one entry of a crop calendar. StartDay and EndDay are
// offsets from the planting date.
type ScheduledEvent struct {
	EventType        string   `json:"event_type" yaml:"event_type"`
	EventCategory    string   `json:"event_category" yaml:"event_category"`
	Title            string   `json:"title" yaml:"title"`
	StartDay         int      `json:"start_day" yaml:"start_day"`
	EndDay           int      `json:"end_day" yaml:"end_day"`
	Identifier       string   `json:"identifier" yaml:"identifier"`
	Nutshell         string   `json:"nutshell,omitempty" yaml:"nutshell,omitempty"`
	Description      string   `json:"description" yaml:"description"`
	ImageList        []string `json:"image_list,omitempty" yaml:"image_list,omitempty"`
	PreventPathogens []string `json:"prevent_pathogens,omitempty" yaml:"prevent_pathogens,omitempty"`
}

// CropCycleInput starts a crop-cycle run for one contact.
type CropCycleInput struct {
	Contact      db.Contact       `json:"contact"`
	PlantingDate time.Time        `json:"planting_date"`
	Events       []ScheduledEvent `json:"events"`
	// DemoMode counts event offsets in minutes from the workflow start.
	DemoMode bool `json:"demo_mode,omitempty"`
}

// CropCycleWorkflowID is the run id of a contact's crop cycle. Starting the
// same cycle twice attaches to the existing run.
func CropCycleWorkflowID(contactID int64, plantingDate time.Time) string {
	return fmt.Sprintf("%s-%d-%s", constants.CropCycleWorkflow, contactID, plantingDate.Format("20060102"))
}

// WeatherForecastWorkflowID is the id of a manually triggered forecast run.
func WeatherForecastWorkflowID(day time.Time) string {
	return fmt.Sprintf("%s-%s", constants.WeatherForecastWorkflow, day.Format("20060102"))
}

// PestAlertWorkflowID is the id of a manually triggered pest alert run.
func PestAlertWorkflowID(day time.Time) string {
	return fmt.Sprintf("%s-%s", constants.PestAlertWorkflow, day.Format("20060102"))
}

// CropCycleResult summarises a crop-cycle run.
type CropCycleResult struct {
	ContactID int64 `json:"contact_id"`
	Total     int   `json:"total"`
	Delivered int   `json:"delivered"`
	Failed    int   `json:"failed"`
	// Skipped events had a window that closed before the workflow reached them.
	Skipped int `json:"skipped"`
	// Denied events were refused by the messaging policy.
	Denied  int    `json:"denied"`
	Logged  int    `json:"logged"`
	Summary string `json:"summary"`
}

// QueryCropCycleProgress returns the CropCycleResult accumulated so far.
const QueryCropCycleProgress = "crop_cycle_progress_v1"

// WeatherForecastResult summarises a forecast broadcast.
type WeatherForecastResult struct {
	Contacts   int      `json:"contacts"`
	Delivered  int      `json:"delivered"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	MessageIDs []string `json:"message_ids,omitempty"`
}
