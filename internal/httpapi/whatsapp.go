package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
	"github.com/farmwise/farmwise/go/orchestrator/internal/router"
	"github.com/farmwise/farmwise/go/orchestrator/internal/streaming"
	"github.com/farmwise/farmwise/go/orchestrator/internal/whatsapp"
)

const unsupportedReply = "Sorry, I can read text, photos, locations and voice notes only."

// Messenger is the outbound side of the WhatsApp Cloud API.
type Messenger interface {
	Deliver(ctx context.Context, to string, r response.Text) (string, error)
	SendText(ctx context.Context, to, body string) (string, error)
	SendAudio(ctx context.Context, to string, data []byte, mimeType string) (string, error)
	MarkRead(ctx context.Context, messageID string) error
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, mimeType string) (string, error)
}

type WebhookConfig struct {
	Turns       Turns
	Messenger   Messenger
	Transcriber Transcriber
	AppSecret   string
	VerifyToken string
	// Dedupe, when set, drops webhook retries of a message already handled.
	Dedupe      *redis.Client
	Environment string
	// TurnTimeout bounds one background turn.
	TurnTimeout time.Duration
}

// WebhookHandler receives WhatsApp messages and answers them in the
// background, so the webhook is acknowledged before the agent runs.
type WebhookHandler struct {
	cfg    WebhookConfig
	base   context.Context
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewWebhookHandler creates the handler. Background turns run under base and
// stop when it is cancelled.
func NewWebhookHandler(base context.Context, cfg WebhookConfig, logger *zap.Logger) *WebhookHandler {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	return &WebhookHandler{cfg: cfg, base: base, logger: logger}
}

func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhooks/whatsapp", h.handleVerify)
	mux.HandleFunc("POST /webhooks/whatsapp", h.handleEvent)
}

// Wait blocks until every background turn has finished.
func (h *WebhookHandler) Wait() { h.wg.Wait() }

func (h *WebhookHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	challenge, err := whatsapp.VerifySubscription(h.cfg.VerifyToken, r.URL.Query())
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, challenge)
}

func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if err := whatsapp.VerifySignature(h.cfg.AppSecret, body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	msgs, statuses, err := whatsapp.ParseWebhook(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, s := range statuses {
		h.logger.Debug("Delivery status", zap.String("message_id", s.MessageID), zap.String("status", s.Status))
	}
	for _, m := range msgs {
		if !h.firstSeen(r.Context(), m.ID) {
			h.logger.Debug("Dropping redelivered message", zap.String("message_id", m.ID))
			continue
		}
		h.wg.Add(1)
		go func(m whatsapp.InboundMessage) {
			defer h.wg.Done()
			ctx, cancel := context.WithTimeout(h.base, h.cfg.TurnTimeout)
			defer cancel()
			h.process(ctx, m)
		}(m)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) firstSeen(ctx context.Context, id string) bool {
	if h.cfg.Dedupe == nil || id == "" {
		return true
	}
	ok, err := h.cfg.Dedupe.SetNX(ctx, fmt.Sprintf("%s:wa:inbound:%s", h.cfg.Environment, id), 1, 24*time.Hour).Result()
	if err != nil {
		h.logger.Warn("Inbound dedupe unavailable", zap.Error(err))
		return true
	}
	return ok
}

func (h *WebhookHandler) process(ctx context.Context, m whatsapp.InboundMessage) {
	logger := h.logger.With(zap.String("user", m.From), zap.String("message_id", m.ID))
	if err := h.cfg.Messenger.MarkRead(ctx, m.ID); err != nil {
		logger.Debug("Mark read failed", zap.Error(err))
	}

	input, err := h.input(ctx, m)
	if err != nil {
		logger.Warn("Unusable inbound message", zap.String("type", m.Type), zap.Error(err))
		if _, err := h.cfg.Messenger.SendText(ctx, m.From, unsupportedReply); err != nil {
			logger.Error("Failed to send reply", zap.Error(err))
		}
		return
	}

	req := router.Request{UserWaID: m.From, UserName: m.Name, Input: input}
	_, err = h.cfg.Turns.Stream(ctx, req, func(ev streaming.ResponseEvent) {
		var sendErr error
		if ev.Audio != nil {
			_, sendErr = h.cfg.Messenger.SendAudio(ctx, m.From, ev.Audio.Data, ev.Audio.MimeType)
		} else if ev.Text != nil {
			_, sendErr = h.cfg.Messenger.Deliver(ctx, m.From, *ev.Text)
		}
		if sendErr != nil {
			logger.Error("Failed to deliver response", zap.Error(sendErr))
		}
	})
	if err != nil {
		logger.Warn("Turn failed", zap.Error(err))
	}
}

func (h *WebhookHandler) input(ctx context.Context, m whatsapp.InboundMessage) (response.Input, error) {
	switch m.Type {
	case "text", "location", "button", "interactive":
		return response.Input{Text: m.Prompt()}, nil
	case "image":
		data, mime, err := h.cfg.Messenger.DownloadMedia(ctx, m.MediaID)
		if err != nil {
			return response.Input{}, err
		}
		return response.Input{
			Text:  m.Caption,
			Image: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data),
		}, nil
	case "audio":
		if h.cfg.Transcriber == nil {
			return response.Input{}, fmt.Errorf("voice notes disabled")
		}
		data, mime, err := h.cfg.Messenger.DownloadMedia(ctx, m.MediaID)
		if err != nil {
			return response.Input{}, err
		}
		text, err := h.cfg.Transcriber.Transcribe(ctx, data, mime)
		if err != nil {
			return response.Input{}, err
		}
		return response.Input{Text: text, Voice: true}, nil
	}
	return response.Input{}, fmt.Errorf("unsupported message type %q", m.Type)
}
