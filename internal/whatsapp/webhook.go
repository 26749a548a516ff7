package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrBadSignature   = errors.New("invalid webhook signature")
	ErrBadVerifyToken = errors.New("invalid verify token")
)

// VerifySignature checks X-Hub-Signature-256 against the app secret. An empty
// secret disables the check.
func VerifySignature(appSecret string, body []byte, header string) error {
	if appSecret == "" {
		return nil
	}
	sig := strings.TrimPrefix(header, "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || sig == header {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the X-Hub-Signature-256 header value for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySubscription answers the GET handshake and returns the challenge.
func VerifySubscription(verifyToken string, q url.Values) (string, error) {
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != verifyToken || verifyToken == "" {
		return "", ErrBadVerifyToken
	}
	return q.Get("hub.challenge"), nil
}

// InboundMessage is a user message flattened from the webhook envelope.
type InboundMessage struct {
	ID        string
	From      string
	Name      string
	Type      string
	Text      string
	Latitude  float64
	Longitude float64
	MediaID   string
	Caption   string
	// CallbackData is the id of the tapped button or list row.
	CallbackData string
}

// Prompt returns the text handed to the agent for this message.
func (m InboundMessage) Prompt() string {
	switch m.Type {
	case "location":
		return fmt.Sprintf("My location is %g,%g", m.Latitude, m.Longitude)
	case "interactive", "button":
		if m.CallbackData != "" {
			return m.CallbackData
		}
		return m.Text
	case "image":
		return m.Caption
	}
	return m.Text
}

// Status is a delivery status update for a message we sent.
type Status struct {
	MessageID    string
	Status       string
	RecipientID  string
	CallbackData string
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
					Location struct {
						Latitude  float64 `json:"latitude"`
						Longitude float64 `json:"longitude"`
					} `json:"location"`
					Image struct {
						ID      string `json:"id"`
						Caption string `json:"caption"`
					} `json:"image"`
					Audio struct {
						ID string `json:"id"`
					} `json:"audio"`
					Button struct {
						Payload string `json:"payload"`
						Text    string `json:"text"`
					} `json:"button"`
					Interactive struct {
						Type        string `json:"type"`
						ButtonReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
						ListReply struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"list_reply"`
					} `json:"interactive"`
				} `json:"messages"`
				Statuses []struct {
					ID                    string `json:"id"`
					Status                string `json:"status"`
					RecipientID           string `json:"recipient_id"`
					BizOpaqueCallbackData string `json:"biz_opaque_callback_data"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook flattens a webhook body into messages and status updates.
func ParseWebhook(body []byte) ([]InboundMessage, []Status, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, nil, fmt.Errorf("decode webhook: %w", err)
	}

	var msgs []InboundMessage
	var statuses []Status
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			names := map[string]string{}
			for _, c := range ch.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range ch.Value.Messages {
				in := InboundMessage{ID: m.ID, From: m.From, Name: names[m.From], Type: m.Type}
				switch m.Type {
				case "text":
					in.Text = m.Text.Body
				case "location":
					in.Latitude, in.Longitude = m.Location.Latitude, m.Location.Longitude
				case "image":
					in.MediaID, in.Caption = m.Image.ID, m.Image.Caption
				case "audio":
					in.MediaID = m.Audio.ID
				case "button":
					in.Text, in.CallbackData = m.Button.Text, m.Button.Payload
				case "interactive":
					if m.Interactive.Type == "list_reply" {
						in.Text, in.CallbackData = m.Interactive.ListReply.Title, m.Interactive.ListReply.ID
					} else {
						in.Text, in.CallbackData = m.Interactive.ButtonReply.Title, m.Interactive.ButtonReply.ID
					}
				}
				msgs = append(msgs, in)
			}
			for _, s := range ch.Value.Statuses {
				statuses = append(statuses, Status{
					MessageID:    s.ID,
					Status:       s.Status,
					RecipientID:  s.RecipientID,
					CallbackData: s.BizOpaqueCallbackData,
				})
			}
		}
	}
	return msgs, statuses, nil
}
