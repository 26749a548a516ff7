package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/constants"
	"github.com/farmwise/farmwise/go/orchestrator/internal/db"
	"github.com/farmwise/farmwise/go/orchestrator/internal/metrics"
	"github.com/farmwise/farmwise/go/orchestrator/internal/policy"
	"github.com/farmwise/farmwise/go/orchestrator/internal/whatsapp"
)

// SendWhatsAppTemplate delivers an approved template to a contact.
//
// A send carrying an idempotency key that is already in the message log is
// answered from the log without calling WhatsApp. The key also travels to
// WhatsApp as callback data so delivery statuses can be matched to it.
func (a *Activities) SendWhatsAppTemplate(ctx context.Context, in SendTemplateInput) (res *SendTemplateResult, err error) {
	defer observe(constants.SendWhatsAppTemplateActivity, time.Now(), &err)

	if in.Contact.PhoneNumber == "" || in.Template == "" {
		return nil, NonRetryable(fmt.Errorf("send template: contact %d: phone number and template are required", in.Contact.ID))
	}

	if in.IdempotencyKey != "" {
		prior, err := a.store.MessageByIdempotencyKey(ctx, in.IdempotencyKey)
		switch {
		case err == nil:
			metrics.MessagesSent.WithLabelValues(in.Template, "duplicate").Inc()
			a.logger.Info("Template already sent, skipping",
				zap.String("idempotency_key", in.IdempotencyKey),
				zap.Int64("log_id", prior.ID),
			)
			out := &SendTemplateResult{LogID: prior.ID, Duplicate: true}
			if prior.WhatsAppMessageID != nil {
				out.MessageID = *prior.WhatsAppMessageID
			}
			return out, nil
		case !errors.Is(err, db.ErrNotFound):
			return nil, Transient(fmt.Errorf("lookup idempotency key: %w", err))
		}
	}

	if a.policy != nil {
		d, err := a.policy.Evaluate(ctx, policy.MessageInput{
			ContactID:   in.Contact.ID,
			PhoneNumber: in.Contact.PhoneNumber,
			OptedOut:    in.Contact.OptedOut,
			Kind:        policy.KindTemplate,
			Template:    in.Template,
			Timestamp:   a.now(),
		})
		if err != nil {
			return nil, Transient(fmt.Errorf("messaging policy: %w", err))
		}
		if !d.Allow {
			metrics.MessagesSent.WithLabelValues(in.Template, "denied").Inc()
			a.logger.Info("Template send denied by policy",
				zap.Int64("contact_id", in.Contact.ID),
				zap.String("template", in.Template),
				zap.String("reason", d.Reason),
			)
			return &SendTemplateResult{Denied: true, Reason: d.Reason}, nil
		}
	}

	msgID, err := a.whatsapp.SendTemplate(ctx, whatsapp.TemplateMessage{
		To:           in.Contact.PhoneNumber,
		Name:         in.Template,
		Header:       in.Header,
		Body:         in.Args,
		CallbackData: in.IdempotencyKey,
	})
	if err != nil {
		metrics.MessagesSent.WithLabelValues(in.Template, "error").Inc()
		a.logger.Warn("Failed to send WhatsApp template",
			zap.Int64("contact_id", in.Contact.ID),
			zap.String("template", in.Template),
			zap.Error(err),
		)
		return nil, classify(err)
	}
	metrics.MessagesSent.WithLabelValues(in.Template, "sent").Inc()

	out := &SendTemplateResult{MessageID: msgID}
	row := &db.Message{
		ContactID:         in.Contact.ID,
		Direction:         db.Outbound,
		Text:              strings.Join(in.Args, "\n"),
		Template:          in.Template,
		WhatsAppMessageID: &msgID,
	}
	if in.IdempotencyKey != "" {
		row.IdempotencyKey = &in.IdempotencyKey
	}
	// The message is out; failing here would only invite a duplicate send.
	if id, _, err := a.store.SaveMessage(ctx, row); err != nil {
		a.logger.Error("Failed to log sent template",
			zap.String("whatsapp_message_id", msgID),
			zap.String("idempotency_key", in.IdempotencyKey),
			zap.Error(err),
		)
	} else {
		out.LogID = id
	}

	a.logger.Info("WhatsApp template sent",
		zap.Int64("contact_id", in.Contact.ID),
		zap.String("template", in.Template),
		zap.String("whatsapp_message_id", msgID),
	)
	return out, nil
}

// SaveMessage stores text as an outbound message. When a row with the same
// idempotency key exists, its text is replaced instead.
func (a *Activities) SaveMessage(ctx context.Context, in SaveMessageInput) (id int64, err error) {
	defer observe(constants.SaveMessageActivity, time.Now(), &err)

	m := &db.Message{
		ContactID: in.Contact.ID,
		Direction: db.Outbound,
		Text:      in.Text,
		Template:  in.Template,
	}
	if in.WhatsAppMessageID != "" {
		m.WhatsAppMessageID = &in.WhatsAppMessageID
	}
	if in.IdempotencyKey != "" {
		m.IdempotencyKey = &in.IdempotencyKey
	}

	id, inserted, err := a.store.SaveMessage(ctx, m)
	if err != nil {
		return 0, classify(err)
	}
	if !inserted {
		if err := a.store.UpdateMessageText(ctx, id, in.Text); err != nil {
			return 0, classify(err)
		}
	}
	return id, nil
}

// LogEventSent records a crop-cycle delivery. It returns false when the
// event was already logged for the contact.
func (a *Activities) LogEventSent(ctx context.Context, in LogEventSentInput) (logged bool, err error) {
	defer observe(constants.LogEventSentActivity, time.Now(), &err)

	logged, err = a.store.LogEventSent(ctx, in.ContactID, in.EventIdentifier, in.EventTitle)
	if err != nil {
		return false, classify(err)
	}
	if !logged {
		activity.GetLogger(ctx).Info("Event already logged", "contact_id", in.ContactID, "event", in.EventIdentifier)
	}
	return logged, nil
}

// GetContactsWithLocation lists every reachable contact with a known location.
func (a *Activities) GetContactsWithLocation(ctx context.Context) (contacts []db.Contact, err error) {
	defer observe(constants.GetContactsWithLocationActivity, time.Now(), &err)

	contacts, err = a.store.ContactsWithLocation(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return contacts, nil
}
