package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("not found")

const contactColumns = `id, name, COALESCE(phone_number, '') AS phone_number, location, opted_out, onboarded`

// ContactsWithLocation returns every reachable contact with a known location.
func (c *Client) ContactsWithLocation(ctx context.Context) ([]Contact, error) {
	var out []Contact
	err := c.db.SelectContext(ctx, &out, `
		SELECT `+contactColumns+`
		FROM contact
		WHERE location <> '' AND phone_number IS NOT NULL AND phone_number <> '' AND opted_out = ?
		ORDER BY id`, false)
	if err != nil {
		return nil, fmt.Errorf("contacts with location: %w", err)
	}
	return out, nil
}

func (c *Client) ContactByID(ctx context.Context, id int64) (*Contact, error) {
	var ct Contact
	err := c.db.GetContext(ctx, &ct, `SELECT `+contactColumns+` FROM contact WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

func (c *Client) ContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	var ct Contact
	err := c.db.GetContext(ctx, &ct, `SELECT `+contactColumns+` FROM contact WHERE phone_number = ?`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

// GetOrCreateContact looks a contact up by phone number and creates it on
// first contact. created reports whether the row is new.
func (c *Client) GetOrCreateContact(ctx context.Context, phone, name string) (ct *Contact, created bool, err error) {
	ct, err = c.ContactByPhone(ctx, phone)
	if err == nil {
		return ct, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	var id int64
	err = c.db.GetContext(ctx, &id, `
		INSERT INTO contact (name, phone_number, location, opted_out, onboarded, created_at)
		VALUES (?, ?, '', ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id`, name, phone, false, false, c.now())
	if errors.Is(err, sql.ErrNoRows) {
		// Lost a race with a concurrent insert for the same number.
		ct, err = c.ContactByPhone(ctx, phone)
		return ct, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("create contact: %w", err)
	}
	return &Contact{ID: id, Name: name, PhoneNumber: phone}, true, nil
}

// UpdateContact applies the non-nil fields of u and returns the fresh row.
func (c *Client) UpdateContact(ctx context.Context, id int64, u ContactUpdate) (*Contact, error) {
	var (
		sets []string
		args []interface{}
	)
	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.Location != nil {
		if *u.Location != "" {
			if _, _, ok := ParseLatLon(*u.Location); !ok {
				return nil, fmt.Errorf("invalid location %q", *u.Location)
			}
		}
		sets = append(sets, "location = ?")
		args = append(args, *u.Location)
	}
	if u.Onboarded != nil {
		sets = append(sets, "onboarded = ?")
		args = append(args, *u.Onboarded)
	}
	if len(sets) > 0 {
		args = append(args, id)
		res, err := c.db.ExecContext(ctx, `UPDATE contact SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return nil, fmt.Errorf("update contact %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrNotFound
		}
	}
	return c.ContactByID(ctx, id)
}

// SaveMessage inserts a message. Rows carrying an idempotency key or a
// WhatsApp message id that is already stored are not inserted again; the
// existing id is returned with inserted=false.
func (c *Client) SaveMessage(ctx context.Context, m *Message) (id int64, inserted bool, err error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = c.now()
	}
	err = c.db.GetContext(ctx, &id, `
		INSERT INTO message (contact_id, direction, text, template, whatsapp_message_id, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		m.ContactID, m.Direction, m.Text, m.Template, m.WhatsAppMessageID, m.IdempotencyKey, m.CreatedAt)
	if err == nil {
		m.ID = id
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("save message: %w", err)
	}

	switch {
	case m.IdempotencyKey != nil:
		err = c.db.GetContext(ctx, &id, `SELECT id FROM message WHERE idempotency_key = ?`, *m.IdempotencyKey)
	case m.WhatsAppMessageID != nil:
		err = c.db.GetContext(ctx, &id, `SELECT id FROM message WHERE whatsapp_message_id = ?`, *m.WhatsAppMessageID)
	default:
		return 0, false, errors.New("save message: insert skipped without a natural key")
	}
	if err != nil {
		return 0, false, fmt.Errorf("load existing message: %w", err)
	}
	m.ID = id
	return id, false, nil
}

// MessageByIdempotencyKey returns the outbound message recorded under key.
func (c *Client) MessageByIdempotencyKey(ctx context.Context, key string) (*Message, error) {
	var m Message
	err := c.db.GetContext(ctx, &m, `
		SELECT id, contact_id, direction, text, template, whatsapp_message_id, idempotency_key, created_at
		FROM message WHERE idempotency_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageText replaces the text of a logged message.
func (c *Client) UpdateMessageText(ctx context.Context, id int64, text string) error {
	res, err := c.db.ExecContext(ctx, `UPDATE message SET text = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("update message text: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// LogEventSent records a crop-cycle delivery keyed by (contact, identifier).
// It returns false when the pair was already logged.
func (c *Client) LogEventSent(ctx context.Context, contactID int64, identifier, title string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO crop_cycle_event_log (contact_id, event_identifier, event_title, sent_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (contact_id, event_identifier) DO NOTHING`,
		contactID, identifier, title, c.now())
	if err != nil {
		return false, fmt.Errorf("log event sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecentNotes returns notes created at or after since, oldest first. A note
// without its own coordinates inherits its farm's.
func (c *Client) RecentNotes(ctx context.Context, since time.Time) ([]Note, error) {
	var out []Note
	err := c.db.SelectContext(ctx, &out, `
		SELECT n.id, n.note_text, n.tags, n.farm_id, f.farm_name,
		       COALESCE(n.latitude, f.latitude) AS latitude,
		       COALESCE(n.longitude, f.longitude) AS longitude,
		       n.created_at
		FROM note n
		JOIN farm f ON f.id = n.farm_id
		WHERE n.created_at >= ?
		ORDER BY n.created_at, n.id`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("recent notes: %w", err)
	}
	return out, nil
}

type farmRow struct {
	ID        int64   `db:"id"`
	Name      string  `db:"farm_name"`
	Latitude  float64 `db:"latitude"`
	Longitude float64 `db:"longitude"`
}

type farmContactRow struct {
	FarmID int64 `db:"farm_id"`
	Contact
}

// FarmsNear returns farms within radiusKm of (lat, lon), nearest first, each
// with its contacts that have a phone number. Farms nobody can be reached at
// and excludeFarmID are left out.
func (c *Client) FarmsNear(ctx context.Context, lat, lon, radiusKm float64, excludeFarmID int64) ([]FarmWithContacts, error) {
	dLat := radiusKm / 111.0
	dLon := radiusKm / (111.0 * math.Max(math.Cos(lat*math.Pi/180), 0.01))

	var farms []farmRow
	err := c.db.SelectContext(ctx, &farms, `
		SELECT id, farm_name, latitude, longitude
		FROM farm
		WHERE id <> ? AND latitude IS NOT NULL AND longitude IS NOT NULL
		  AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		excludeFarmID, lat-dLat, lat+dLat, lon-dLon, lon+dLon)
	if err != nil {
		return nil, fmt.Errorf("farms near: %w", err)
	}

	var out []FarmWithContacts
	index := map[int64]int{}
	for _, f := range farms {
		d := HaversineKm(lat, lon, f.Latitude, f.Longitude)
		if d > radiusKm {
			continue
		}
		index[f.ID] = len(out)
		out = append(out, FarmWithContacts{FarmID: f.ID, FarmName: f.Name, DistanceKm: math.Round(d*100) / 100})
	}
	if len(out) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(out))
	for _, f := range out {
		ids = append(ids, f.FarmID)
	}
	query, args, err := sqlx.In(`
		SELECT fc.farm_id, c.id, c.name, c.phone_number, c.location, c.opted_out, c.onboarded
		FROM farm_contact fc
		JOIN contact c ON c.id = fc.contact_id
		WHERE fc.farm_id IN (?) AND c.phone_number IS NOT NULL AND c.phone_number <> ''
		ORDER BY fc.farm_id, c.id`, ids)
	if err != nil {
		return nil, err
	}
	var rows []farmContactRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("farm contacts: %w", err)
	}
	for _, r := range rows {
		i := index[r.FarmID]
		out[i].Contacts = append(out[i].Contacts, r.Contact)
	}

	reachable := out[:0]
	for _, f := range out {
		if len(f.Contacts) > 0 {
			reachable = append(reachable, f)
		}
	}
	sort.SliceStable(reachable, func(i, j int) bool { return reachable[i].DistanceKm < reachable[j].DistanceKm })
	return reachable, nil
}

// CreateFarm registers a farm and links it to the contact.
func (c *Client) CreateFarm(ctx context.Context, contactID int64, name string, lat, lon float64) (int64, error) {
	var id int64
	err := c.db.GetContext(ctx, &id, `
		INSERT INTO farm (farm_name, latitude, longitude) VALUES (?, ?, ?)
		RETURNING id`, name, lat, lon)
	if err != nil {
		return 0, fmt.Errorf("create farm: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO farm_contact (farm_id, contact_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING`, id, contactID); err != nil {
		return 0, fmt.Errorf("link farm %d to contact %d: %w", id, contactID, err)
	}
	return id, nil
}

// CreateNote records a field observation against the contact's first farm.
// The note takes the contact's location when one is known.
func (c *Client) CreateNote(ctx context.Context, contactID int64, text, tags string) (*Note, error) {
	var farm farmRow
	err := c.db.GetContext(ctx, &farm, `
		SELECT f.id, f.farm_name, COALESCE(f.latitude, 0) AS latitude, COALESCE(f.longitude, 0) AS longitude
		FROM farm f
		JOIN farm_contact fc ON fc.farm_id = f.id
		WHERE fc.contact_id = ?
		ORDER BY f.id
		LIMIT 1`, contactID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %d has no farm: %w", contactID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("farm for contact %d: %w", contactID, err)
	}

	n := &Note{Text: text, Tags: tags, FarmID: farm.ID, FarmName: farm.Name, CreatedAt: c.now()}
	if ct, err := c.ContactByID(ctx, contactID); err == nil {
		if lat, lon, ok := ct.LatLon(); ok {
			n.Latitude, n.Longitude = &lat, &lon
		}
	}
	err = c.db.GetContext(ctx, &n.ID, `
		INSERT INTO note (farm_id, note_text, tags, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`, n.FarmID, n.Text, n.Tags, n.Latitude, n.Longitude, n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return n, nil
}

// SaveRunResult stores one conversation turn.
func (c *Client) SaveRunResult(ctx context.Context, r *RunResult) (int64, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = c.now()
	}
	var id int64
	err := c.db.GetContext(ctx, &id, `
		INSERT INTO run_result (contact_id, input, final_output, last_agent, trace_id, item_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		r.ContactID, r.Input, r.FinalOutput, r.LastAgent, r.TraceID, r.ItemCount, r.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("save run result: %w", err)
	}
	r.ID = id
	return id, nil
}

// HaversineKm is the great-circle distance between two points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
