package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JSONB is a json column (jsonb on Postgres, TEXT on SQLite).
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Contact is the minimal contact shape used by workflows and tools.
type Contact struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	PhoneNumber string `db:"phone_number" json:"phone_number"`
	// Location is "lat,lon" or empty.
	Location  string `db:"location" json:"location,omitempty"`
	OptedOut  bool   `db:"opted_out" json:"opted_out,omitempty"`
	Onboarded bool   `db:"onboarded" json:"onboarded,omitempty"`
}

// LatLon parses Location.
func (c Contact) LatLon() (lat, lon float64, ok bool) {
	return ParseLatLon(c.Location)
}

// ParseLatLon parses a "lat,lon" pair.
func ParseLatLon(s string) (lat, lon float64, ok bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	var err1, err2 error
	lat, err1 = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

// ContactUpdate carries the profile fields an agent may change. Nil fields
// are left as they are.
type ContactUpdate struct {
	Name      *string `json:"name,omitempty"`
	Location  *string `json:"location,omitempty"`
	Onboarded *bool   `json:"onboarded,omitempty"`
}

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Message is a row of the message log.
type Message struct {
	ID                int64     `db:"id" json:"id"`
	ContactID         int64     `db:"contact_id" json:"contact_id"`
	Direction         Direction `db:"direction" json:"direction"`
	Text              string    `db:"text" json:"text"`
	Template          string    `db:"template" json:"template,omitempty"`
	WhatsAppMessageID *string   `db:"whatsapp_message_id" json:"whatsapp_message_id,omitempty"`
	IdempotencyKey    *string   `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Note is a field note with its farm, used by the pest alert workflow.
type Note struct {
	ID        int64     `db:"id" json:"note_id"`
	Text      string    `db:"note_text" json:"note_text"`
	Tags      string    `db:"tags" json:"tags,omitempty"`
	FarmID    int64     `db:"farm_id" json:"farm_id"`
	FarmName  string    `db:"farm_name" json:"farm_name"`
	Latitude  *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64  `db:"longitude" json:"longitude,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FarmWithContacts is a farm near a note together with its reachable contacts.
type FarmWithContacts struct {
	FarmID     int64     `json:"farm_id"`
	FarmName   string    `json:"farm_name"`
	DistanceKm float64   `json:"distance_km"`
	Contacts   []Contact `json:"contacts"`
}

// RunResult records one conversation turn.
type RunResult struct {
	ID          int64     `db:"id" json:"id"`
	ContactID   int64     `db:"contact_id" json:"contact_id"`
	Input       string    `db:"input" json:"input"`
	FinalOutput JSONB     `db:"final_output" json:"final_output"`
	LastAgent   string    `db:"last_agent" json:"last_agent"`
	TraceID     string    `db:"trace_id" json:"trace_id"`
	ItemCount   int       `db:"item_count" json:"item_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
