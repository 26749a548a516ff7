package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmwise/farmwise/go/orchestrator/internal/config"
	"github.com/farmwise/farmwise/go/orchestrator/internal/response"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.WhatsAppConfig{BaseURL: srv.URL, PhoneID: "123", Token: "tok", RatePerSec: 100, Burst: 10}, zap.NewNop())
}

func TestSendTemplatePayload(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/123/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.1"}]}`)
	})

	id, err := c.SendTemplate(context.Background(), TemplateMessage{
		To:           "+254700000001",
		Name:         "harvesting",
		Header:       "Top dressing",
		Body:         []string{"fertilizer", "topdressing", "Apply CAN\rat knee height"},
		CallbackData: "crop-cycle-7-20250301:topdressing_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)

	assert.Equal(t, "template", got["type"])
	assert.Equal(t, "crop-cycle-7-20250301:topdressing_1", got["biz_opaque_callback_data"])
	tmpl := got["template"].(map[string]interface{})
	assert.Equal(t, "harvesting", tmpl["name"])
	comps := tmpl["components"].([]interface{})
	require.Len(t, comps, 2)
	assert.Equal(t, "header", comps[0].(map[string]interface{})["type"])
	body := comps[1].(map[string]interface{})["parameters"].([]interface{})
	assert.Len(t, body, 3)
}

func TestErrorClassification(t *testing.T) {
	status := http.StatusBadRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100,"fbtrace_id":"abc"}}`)
	})

	_, err := c.SendText(context.Background(), "+254700000001", "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 100, apiErr.Code)
	assert.False(t, IsTemporary(err))

	status = http.StatusServiceUnavailable
	_, err = c.SendText(context.Background(), "+254700000001", "hi")
	assert.True(t, IsTemporary(err))

	status = http.StatusTooManyRequests
	_, err = c.SendText(context.Background(), "+254700000001", "hi")
	assert.True(t, IsTemporary(err))
}

func TestMalformedResponseIsNotTemporary(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"messages":[]}`)
	})
	_, err := c.SendText(context.Background(), "+254700000001", "hi")
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.False(t, IsTemporary(err))
}

func TestRender(t *testing.T) {
	t.Run("location request wins", func(t *testing.T) {
		out := Render(response.Text{
			Content:     "Please share your location",
			Actions:     []response.Action{response.ActionRequestLocation},
			Buttons:     []response.Button{{Title: "Skip", CallbackData: "skip"}},
			SectionList: &response.SectionList{ButtonTitle: "x", Sections: []response.Section{{Title: "s"}}},
		})
		require.NotNil(t, out.Interactive)
		assert.Equal(t, "location_request_message", out.Interactive["type"])
	})

	t.Run("section list limits", func(t *testing.T) {
		var rows []response.SectionRow
		for i := 0; i < 12; i++ {
			rows = append(rows, response.SectionRow{Title: "A very long maize variety name", CallbackData: "v"})
		}
		out := Render(response.Text{
			Content: "**Pick** one",
			SectionList: &response.SectionList{
				ButtonTitle: "Choose a maize variety now",
				Sections:    []response.Section{{Title: "Early maturing varieties list", Rows: rows}},
			},
		})
		require.NotNil(t, out.Interactive)
		assert.Equal(t, "list", out.Interactive["type"])
		assert.Equal(t, map[string]string{"text": "*Pick* one"}, out.Interactive["body"])
		action := out.Interactive["action"].(map[string]interface{})
		assert.Len(t, []rune(action["button"].(string)), 20)
		sections := action["sections"].([]map[string]interface{})
		assert.Len(t, []rune(sections[0]["title"].(string)), 24)
		gotRows := sections[0]["rows"].([]map[string]string)
		assert.Len(t, gotRows, 10)
		assert.Len(t, []rune(gotRows[0]["title"]), 24)
	})

	t.Run("buttons limited to three", func(t *testing.T) {
		out := Render(response.Text{Content: "Choose", Buttons: []response.Button{
			{Title: "One", CallbackData: "1"}, {Title: "Two", CallbackData: "2"},
			{Title: "Three", CallbackData: "3"}, {Title: "Four", CallbackData: "4"},
		}})
		buttons := out.Interactive["action"].(map[string]interface{})["buttons"].([]map[string]interface{})
		assert.Len(t, buttons, 3)
	})

	t.Run("plain text", func(t *testing.T) {
		out := Render(response.Text{Content: "__Rain__ expected"})
		assert.Nil(t, out.Interactive)
		assert.Equal(t, "_Rain_ expected", out.Text)
	})
}

func TestSignature(t *testing.T) {
	body := []byte(`{"entry":[]}`)
	sig := Sign("secret", body)
	assert.NoError(t, VerifySignature("secret", body, sig))
	assert.ErrorIs(t, VerifySignature("secret", body, "sha256=00"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("secret", body, "garbage"), ErrBadSignature)
	assert.NoError(t, VerifySignature("", body, ""))
}

func TestVerifySubscription(t *testing.T) {
	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"v"}, "hub.challenge": {"42"}}
	challenge, err := VerifySubscription("v", q)
	require.NoError(t, err)
	assert.Equal(t, "42", challenge)

	_, err = VerifySubscription("other", q)
	assert.ErrorIs(t, err, ErrBadVerifyToken)
}

func TestParseWebhook(t *testing.T) {
	body := `{"entry":[{"changes":[{"value":{
		"contacts":[{"wa_id":"254700000001","profile":{"name":"Wanjiru"}}],
		"messages":[
			{"id":"m1","from":"254700000001","type":"text","text":{"body":"Which maize?"}},
			{"id":"m2","from":"254700000001","type":"location","location":{"latitude":-1.29,"longitude":36.82}},
			{"id":"m3","from":"254700000001","type":"interactive","interactive":{"type":"list_reply","list_reply":{"id":"DK8031","title":"DK 8031"}}}
		],
		"statuses":[{"id":"wamid.9","status":"delivered","recipient_id":"254700000002","biz_opaque_callback_data":"k1"}]
	}}]}]}`

	msgs, statuses, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Wanjiru", msgs[0].Name)
	assert.Equal(t, "Which maize?", msgs[0].Prompt())
	assert.True(t, strings.HasPrefix(msgs[1].Prompt(), "My location is -1.29,36.82"))
	assert.Equal(t, "DK8031", msgs[2].Prompt())
	require.Len(t, statuses, 1)
	assert.Equal(t, "k1", statuses[0].CallbackData)
}
