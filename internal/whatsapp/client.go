package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/farmwise/farmwise/go/orchestrator/internal/circuitbreaker"
	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/interceptors"
)

var ErrMalformedResponse = errors.New("malformed whatsapp response")

// APIError is a non-2xx answer from the Cloud API.
type APIError struct {
	Status    int    `json:"-"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Client talks to the WhatsApp Cloud API for one business phone number.
type Client struct {
	baseURL string
	phoneID string
	token   string
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(cfg config.WhatsAppConfig, logger *zap.Logger) *Client {
	hc := &http.Client{
		Timeout:   15 * time.Second,
		Transport: interceptors.NewActivityRoundTripper(nil),
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: cfg.BaseURL,
		phoneID: cfg.PhoneID,
		token:   cfg.Token,
		http:    circuitbreaker.NewHTTPWrapper(hc, "whatsapp", logger),
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		logger:  logger,
	}
}

// TemplateMessage is a pre-approved template with positional parameters.
type TemplateMessage struct {
	To       string
	Name     string
	Language string
	Header   string
	Body     []string
	// CallbackData is echoed back on status webhooks. Activities put their
	// idempotency key here.
	CallbackData string
}

type textParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []textParam `json:"parameters"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendTemplate sends a template and returns the WhatsApp message id.
func (c *Client) SendTemplate(ctx context.Context, m TemplateMessage) (string, error) {
	lang := m.Language
	if lang == "" {
		lang = "en"
	}
	var comps []component
	if m.Header != "" {
		comps = append(comps, component{Type: "header", Parameters: []textParam{{Type: "text", Text: m.Header}}})
	}
	if len(m.Body) > 0 {
		params := make([]textParam, 0, len(m.Body))
		for _, v := range m.Body {
			params = append(params, textParam{Type: "text", Text: v})
		}
		comps = append(comps, component{Type: "body", Parameters: params})
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                m.To,
		"type":              "template",
		"template": map[string]interface{}{
			"name":       m.Name,
			"language":   map[string]string{"code": lang},
			"components": comps,
		},
	}
	if m.CallbackData != "" {
		payload["biz_opaque_callback_data"] = m.CallbackData
	}
	return c.send(ctx, payload)
}

// SendText sends a free-form text reply inside the 24h service window.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]interface{}{"body": body, "preview_url": false},
	})
}

// SendInteractive sends an interactive payload (buttons, list, location
// request) built by Render.
func (c *Client) SendInteractive(ctx context.Context, to string, interactive map[string]interface{}) (string, error) {
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive":       interactive,
	})
}

// SendAudio uploads audio and sends it as a voice note.
func (c *Client) SendAudio(ctx context.Context, to string, data []byte, mimeType string) (string, error) {
	mediaID, err := c.UploadMedia(ctx, data, mimeType)
	if err != nil {
		return "", err
	}
	return c.send(ctx, map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "audio",
		"audio":             map[string]string{"id": mediaID},
	})
}

// MarkRead marks an inbound message read and shows the typing indicator.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	_, err := c.post(ctx, "/"+c.phoneID+"/messages", map[string]interface{}{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
		"typing_indicator":  map[string]string{"type": "text"},
	})
	return err
}

// UploadMedia stores data on the Cloud API and returns its media id.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("messaging_product", "whatsapp")
	_ = w.WriteField("type", mimeType)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="reply.ogg"`)
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.phoneID+"/media", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("%w: media upload: %s", ErrMalformedResponse, truncate(body))
	}
	return out.ID, nil
}

// DownloadMedia resolves a media id and fetches its bytes.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+mediaID, nil)
	if err != nil {
		return nil, "", err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, "", err
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal(body, &meta); err != nil || meta.URL == "" {
		return nil, "", fmt.Errorf("%w: media: %s", ErrMalformedResponse, truncate(body))
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", err
	}
	data, err := c.do(req)
	return data, meta.MimeType, err
}

func (c *Client) send(ctx context.Context, payload map[string]interface{}) (string, error) {
	body, err := c.post(ctx, "/"+c.phoneID+"/messages", payload)
	if err != nil {
		return "", err
	}
	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil || len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("%w: send: %s", ErrMalformedResponse, truncate(body))
	}
	return out.Messages[0].ID, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 300 {
		return body, nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		apiErr = envelope.Error
		apiErr.Status = resp.StatusCode
	} else {
		apiErr.Message = truncate(body)
	}
	c.logger.Warn("WhatsApp API error",
		zap.Int("status", apiErr.Status),
		zap.Int("code", apiErr.Code),
		zap.String("message", apiErr.Message),
		zap.String("fbtrace_id", apiErr.FBTraceID),
	)
	return nil, apiErr
}

// IsTemporary reports whether err is worth retrying: network failures,
// 5xx and 429.
func IsTemporary(err error) bool {
	var apiErr *APIError
	switch {
	case err == nil, errors.Is(err, ErrMalformedResponse):
		return false
	case errors.As(err, &apiErr):
		return apiErr.Temporary()
	}
	return true
}

func truncate(b []byte) string {
	if len(b) > 256 {
		return string(b[:256]) + "..."
	}
	return string(b)
}
