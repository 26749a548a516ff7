package activities

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
)

const (
	// RecentNotesWindow is how far back get_recent_notes looks.
	RecentNotesWindow = time.Hour
	// DefaultAlertRadiusKm bounds the farms alerted about a note.
	DefaultAlertRadiusKm = 5.0
)

// GetRecentNotes returns the field notes written within RecentNotesWindow.
func (a *Activities) GetRecentNotes(ctx context.Context) (notes []db.Note, err error) {
	defer observe(constants.GetRecentNotesActivity, time.Now(), &err)

	notes, err = a.store.RecentNotes(ctx, a.now().Add(-RecentNotesWindow))
	if err != nil {
		return nil, classify(err)
	}
	a.logger.Info("Loaded recent notes", zap.Int("count", len(notes)))
	return notes, nil
}

// FindNearbyFarms returns the farms around the note's location that have at
// least one contact with a phone number, excluding the note's own farm.
func (a *Activities) FindNearbyFarms(ctx context.Context, in FindNearbyFarmsInput) (farms []db.FarmWithContacts, err error) {
	defer observe(constants.FindNearbyFarmsActivity, time.Now(), &err)

	if in.Note.Latitude == nil || in.Note.Longitude == nil {
		return nil, NonRetryable(fmt.Errorf("note %d has no location", in.Note.ID))
	}
	radius := in.RadiusKm
	if radius <= 0 {
		radius = DefaultAlertRadiusKm
	}
	farms, err = a.store.FarmsNear(ctx, *in.Note.Latitude, *in.Note.Longitude, radius, in.Note.FarmID)
	if err != nil {
		return nil, classify(err)
	}
	return farms, nil
}

// GenerateAlertMessage drafts the alert sent to farms near the note.
func (a *Activities) GenerateAlertMessage(ctx context.Context, note db.Note) (msg *AlertMessage, err error) {
	defer observe(constants.GenerateAlertMessageActivity, time.Now(), &err)

	msg, err = a.writer.GenerateAlert(ctx, note)
	if err != nil {
		return nil, classify(err)
	}
	return msg, nil
}
