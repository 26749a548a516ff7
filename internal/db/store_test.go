package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSQLite(t *testing.T) *Client {
	t.Helper()
	raw, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	raw.SetMaxOpenConns(1)
	c := NewFromDB(raw, Options{Workers: 1}, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Migrate(context.Background()))
	return c
}

func newMock(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	c := NewFromDB(sqlx.NewDb(mockDB, "postgres"), Options{Workers: 1}, zap.NewNop())
	t.Cleanup(func() {
		mock.ExpectClose()
		_ = c.Close()
	})
	return c, mock
}

func strPtr(s string) *string { return &s }

func TestLogEventSentIsIdempotent(t *testing.T) {
	c := newSQLite(t)
	ctx := context.Background()

	ct, created, err := c.GetOrCreateContact(ctx, "+254700000001", "Wanjiru")
	require.NoError(t, err)
	require.True(t, created)

	first, err := c.LogEventSent(ctx, ct.ID, "planting_01", "Planting")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := c.LogEventSent(ctx, ct.ID, "planting_01", "Planting")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := c.LogEventSent(ctx, ct.ID, "weeding_01", "Weeding")
	require.NoError(t, err)
	assert.True(t, other)
}

func TestSaveMessageDeduplicatesOnIdempotencyKey(t *testing.T) {
	c := newSQLite(t)
	ctx := context.Background()

	ct, _, err := c.GetOrCreateContact(ctx, "+254700000002", "Otieno")
	require.NoError(t, err)

	m := &Message{ContactID: ct.ID, Direction: Outbound, Text: "Sunny", Template: "weather_forecast", IdempotencyKey: strPtr("weather-forecast-20250301:7")}
	id, inserted, err := c.SaveMessage(ctx, m)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &Message{ContactID: ct.ID, Direction: Outbound, Text: "Sunny", Template: "weather_forecast", IdempotencyKey: strPtr("weather-forecast-20250301:7")}
	id2, inserted, err := c.SaveMessage(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id, id2)

	got, err := c.MessageByIdempotencyKey(ctx, "weather-forecast-20250301:7")
	require.NoError(t, err)
	assert.Equal(t, "Sunny", got.Text)
	assert.Equal(t, Outbound, got.Direction)

	_, err = c.MessageByIdempotencyKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.UpdateMessageText(ctx, id, "Sunny, light showers on Tuesday"))
	got, err = c.MessageByIdempotencyKey(ctx, "weather-forecast-20250301:7")
	require.NoError(t, err)
	assert.Equal(t, "Sunny, light showers on Tuesday", got.Text)
	assert.ErrorIs(t, c.UpdateMessageText(ctx, 9999, "x"), ErrNotFound)
}

func TestContactLifecycle(t *testing.T) {
	c := newSQLite(t)
	ctx := context.Background()

	ct, created, err := c.GetOrCreateContact(ctx, "+254700000003", "")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := c.GetOrCreateContact(ctx, "+254700000003", "ignored")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ct.ID, again.ID)

	onboarded := true
	updated, err := c.UpdateContact(ctx, ct.ID, ContactUpdate{Name: strPtr("Akinyi"), Location: strPtr("-1.2921,36.8219"), Onboarded: &onboarded})
	require.NoError(t, err)
	assert.Equal(t, "Akinyi", updated.Name)
	assert.True(t, updated.Onboarded)

	_, err = c.UpdateContact(ctx, ct.ID, ContactUpdate{Location: strPtr("north of the river")})
	assert.Error(t, err)

	_, err = c.UpdateContact(ctx, 9999, ContactUpdate{Name: strPtr("Nobody")})
	assert.ErrorIs(t, err, ErrNotFound)

	located, err := c.ContactsWithLocation(ctx)
	require.NoError(t, err)
	require.Len(t, located, 1)
	lat, lon, ok := located[0].LatLon()
	assert.True(t, ok)
	assert.InDelta(t, -1.2921, lat, 1e-9)
	assert.InDelta(t, 36.8219, lon, 1e-9)
}

func TestFarmsNearAndRecentNotes(t *testing.T) {
	c := newSQLite(t)
	ctx := context.Background()
	db := c.Wrapper().DB()

	// Two farms ~1.1km apart, one ~50km away and one nearby without contacts.
	db.MustExec(`INSERT INTO farm (id, farm_name, latitude, longitude) VALUES (1, 'Source', -1.000, 36.000)`)
	db.MustExec(`INSERT INTO farm (id, farm_name, latitude, longitude) VALUES (2, 'Neighbour', -1.010, 36.000)`)
	db.MustExec(`INSERT INTO farm (id, farm_name, latitude, longitude) VALUES (3, 'Far', -1.450, 36.000)`)
	db.MustExec(`INSERT INTO farm (id, farm_name, latitude, longitude) VALUES (4, 'Unstaffed', -1.005, 36.000)`)
	db.MustExec(`INSERT INTO contact (id, name, phone_number) VALUES (10, 'Owner', '+254711000010')`)
	db.MustExec(`INSERT INTO contact (id, name, phone_number) VALUES (11, 'Near', '+254711000011')`)
	db.MustExec(`INSERT INTO contact (id, name, phone_number) VALUES (12, 'NoPhone', NULL)`)
	db.MustExec(`INSERT INTO contact (id, name, phone_number) VALUES (13, 'Away', '+254711000013')`)
	db.MustExec(`INSERT INTO farm_contact (farm_id, contact_id) VALUES (1, 10), (2, 11), (2, 12), (3, 13)`)

	now := time.Now().UTC()
	db.MustExec(`INSERT INTO note (farm_id, note_text, tags, created_at) VALUES (1, 'Fall armyworm on maize', 'pest', ?)`, now.Add(-10*time.Minute))
	db.MustExec(`INSERT INTO note (farm_id, note_text, tags, created_at) VALUES (1, 'Old note', 'pest', ?)`, now.Add(-3*time.Hour))

	notes, err := c.RecentNotes(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Fall armyworm on maize", notes[0].Text)
	assert.Equal(t, "Source", notes[0].FarmName)
	require.NotNil(t, notes[0].Latitude)
	assert.InDelta(t, -1.0, *notes[0].Latitude, 1e-9)

	farms, err := c.FarmsNear(ctx, *notes[0].Latitude, *notes[0].Longitude, 5, notes[0].FarmID)
	require.NoError(t, err)
	require.Len(t, farms, 1)
	assert.Equal(t, int64(2), farms[0].FarmID)
	assert.InDelta(t, 1.11, farms[0].DistanceKm, 0.02)
	require.Len(t, farms[0].Contacts, 1)
	assert.Equal(t, "Near", farms[0].Contacts[0].Name)
}

func TestCreateNoteUsesContactFarm(t *testing.T) {
	c := newSQLite(t)
	ctx := context.Background()
	db := c.Wrapper().DB()

	db.MustExec(`INSERT INTO contact (id, name, phone_number, location) VALUES (20, 'Otieno', '+254722000020', '-0.51,37.01')`)
	db.MustExec(`INSERT INTO contact (id, name, phone_number) VALUES (21, 'Farmless', '+254722000021')`)

	farmID, err := c.CreateFarm(ctx, 20, "Otieno's Farm", -0.5, 37.0)
	require.NoError(t, err)

	n, err := c.CreateNote(ctx, 20, "Leaf rust on beans", "disease")
	require.NoError(t, err)
	assert.Equal(t, farmID, n.FarmID)
	assert.Equal(t, "Otieno's Farm", n.FarmName)
	require.NotNil(t, n.Latitude)
	assert.InDelta(t, -0.51, *n.Latitude, 1e-9)

	notes, err := c.RecentNotes(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Leaf rust on beans", notes[0].Text)

	_, err = c.CreateNote(ctx, 21, "Aphids", "pest")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContactsWithLocationQueryError(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectQuery(`SELECT .* FROM contact`).WillReturnError(errors.New("connection refused"))

	_, err := c.ContactsWithLocation(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contacts with location")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogEventSentUsesNaturalKey(t *testing.T) {
	c, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO crop_cycle_event_log .* ON CONFLICT \(contact_id, event_identifier\) DO NOTHING`).
		WithArgs(int64(7), "top_dressing_02", "Top dressing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := c.LogEventSent(context.Background(), 7, "top_dressing_02", "Top dressing")
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueWriteRunResult(t *testing.T) {
	c := newSQLite(t)
	ctx := context.Background()
	ct, _, err := c.GetOrCreateContact(ctx, "+254700000004", "Kamau")
	require.NoError(t, err)

	done := make(chan error, 1)
	c.QueueWrite(WriteTypeRunResult, &RunResult{
		ContactID:   ct.ID,
		Input:       "Which maize should I plant?",
		FinalOutput: JSONB{"content": "Try DK 8031"},
		LastAgent:   "Maize Variety Selector",
		ItemCount:   4,
	}, func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write was not processed")
	}

	var agent string
	require.NoError(t, c.Wrapper().GetContext(ctx, &agent, `SELECT last_agent FROM run_result WHERE contact_id = ?`, ct.ID))
	assert.Equal(t, "Maize Variety Selector", agent)
}

func TestHaversine(t *testing.T) {
	// Nairobi to Mombasa is roughly 440km.
	d := HaversineKm(-1.2921, 36.8219, -4.0435, 39.6682)
	assert.InDelta(t, 440, d, 10)
	assert.Zero(t, HaversineKm(1, 1, 1, 1))
}
