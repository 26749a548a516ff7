package activities

import (
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/llm"
)

// SendTemplateInput is the input of send_whatsapp_template.
type SendTemplateInput struct {
	Contact  db.Contact `json:"contact"`
	Template string     `json:"template"`
	Header   string     `json:"header,omitempty"`
	Args     []string   `json:"args"`
	// IdempotencyKey makes repeated sends of the same logical message a no-op.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SendTemplateResult reports what happened to a send. Denied sends are not
// errors: the messaging policy decided the contact must not be messaged.
type SendTemplateResult struct {
	MessageID string `json:"message_id,omitempty"`
	LogID     int64  `json:"log_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Denied    bool   `json:"denied,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SaveMessageInput is the input of save_message.
type SaveMessageInput struct {
	Contact           db.Contact `json:"contact"`
	Text              string     `json:"text"`
	Template          string     `json:"template,omitempty"`
	WhatsAppMessageID string     `json:"whatsapp_message_id,omitempty"`
	IdempotencyKey    string     `json:"idempotency_key,omitempty"`
}

// LogEventSentInput is the input of log_event_sent.
type LogEventSentInput struct {
	ContactID       int64  `json:"contact_id"`
	EventIdentifier string `json:"event_identifier"`
	EventTitle      string `json:"event_title"`
}

// FindNearbyFarmsInput is the input of find_nearby_farms.
type FindNearbyFarmsInput struct {
	Note     db.Note `json:"note"`
	RadiusKm float64 `json:"radius_km"`
}

type (
	ForecastSummary = llm.ForecastSummary
	AlertMessage    = llm.AlertMessage
)
