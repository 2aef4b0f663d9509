package whatsapp

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/smartassist/smartassist/pkg/models"
)

type mockDoer struct {
	responses []func(*http.Request) (*http.Response, error)
	requests  []*http.Request
}

func (m *mockDoer) Do(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx](req)
}

func jsonResponse(status int, body string) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	}
}

func newTestAdapter(t *testing.T, doer *mockDoer) *Adapter {
	t.Helper()
	a, err := NewAdapter(Config{
		PhoneNumberID: "1234567890",
		AccessToken:   "test-token",
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		RateLimit:     1000,
		RateBurst:     1000,
	})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	a.SetHTTPClient(doer)
	return a
}

func TestConfig_RequiresPhoneNumberAndToken(t *testing.T) {
	if err := (&Config{}).validate(); err == nil {
		t.Fatal("expected error for missing phone_number_id")
	}
	if err := (&Config{PhoneNumberID: "1"}).validate(); err == nil {
		t.Fatal("expected error for missing access_token")
	}
}

func TestConfig_Defaults(t *testing.T) {
	c := Config{PhoneNumberID: "1", AccessToken: "tok"}
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.InstanceID != "default" {
		t.Errorf("expected default instance id, got %q", c.InstanceID)
	}
	if c.RateLimit != 20 || c.RateBurst != 40 {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestNormalizePhone(t *testing.T) {
	if got := normalizePhone("+1 (555) 123-4567"); got != "15551234567" {
		t.Errorf("got %q", got)
	}
}

func TestSplitMessageRef(t *testing.T) {
	chatID, msgID, err := splitMessageRef(models.MessageId("15551234567:wamid.ABC"))
	if err != nil {
		t.Fatalf("splitMessageRef: %v", err)
	}
	if chatID != "15551234567" || msgID != "wamid.ABC" {
		t.Errorf("got (%q, %q)", chatID, msgID)
	}

	if _, _, err := splitMessageRef(models.MessageId("malformed")); err == nil {
		t.Fatal("expected error for malformed ref")
	}
}

func TestAdapter_Send(t *testing.T) {
	doer := &mockDoer{responses: []func(*http.Request) (*http.Response, error){
		jsonResponse(200, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.XYZ"}]}`),
	}}
	a := newTestAdapter(t, doer)

	result, err := a.Send(context.Background(), models.OutboundMessage{
		Target: models.SendTarget{ChatID: "+15551234567"},
		Text:   "hello",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.MessageID != models.MessageId("15551234567:wamid.XYZ") {
		t.Errorf("unexpected message id %q", result.MessageID)
	}
	if len(doer.requests) != 1 || doer.requests[0].Method != http.MethodPost {
		t.Fatalf("expected one POST request, got %+v", doer.requests)
	}
}

func TestAdapter_Send_MissingChatID(t *testing.T) {
	a := newTestAdapter(t, &mockDoer{})
	_, err := a.Send(context.Background(), models.OutboundMessage{Text: "hi"})
	if err == nil {
		t.Fatal("expected error for missing chat id")
	}
}

func TestAdapter_Send_RateLimitResponse(t *testing.T) {
	doer := &mockDoer{responses: []func(*http.Request) (*http.Response, error){
		jsonResponse(429, `{"error":{"message":"rate limited"}}`),
	}}
	a := newTestAdapter(t, doer)

	_, err := a.Send(context.Background(), models.OutboundMessage{
		Target: models.SendTarget{ChatID: "+15551234567"},
		Text:   "hello",
	})
	if err == nil {
		t.Fatal("expected rate limit error")
	}
}

func TestAdapter_EditAndDelete_Unsupported(t *testing.T) {
	a := newTestAdapter(t, &mockDoer{})
	if err := a.Edit(context.Background(), models.MessageId("x:y"), "z"); err == nil {
		t.Fatal("expected edit to be unsupported")
	}
	if err := a.Delete(context.Background(), models.MessageId("x:y")); err == nil {
		t.Fatal("expected delete to be unsupported")
	}
}

func TestAdapter_React(t *testing.T) {
	doer := &mockDoer{responses: []func(*http.Request) (*http.Response, error){
		jsonResponse(200, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.R"}]}`),
	}}
	a := newTestAdapter(t, doer)

	if err := a.React(context.Background(), models.MessageId("15551234567:wamid.ABC"), "👍"); err != nil {
		t.Fatalf("React: %v", err)
	}
}

func TestAdapter_SendTyping_NoOp(t *testing.T) {
	a := newTestAdapter(t, &mockDoer{})
	if err := a.SendTyping(context.Background(), "x"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestAdapter_MaxMessageLength(t *testing.T) {
	a := newTestAdapter(t, &mockDoer{})
	if a.MaxMessageLength() != 4096 {
		t.Errorf("expected 4096, got %d", a.MaxMessageLength())
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	secret := "shh"

	a := newTestAdapter(t, &mockDoer{})
	a.config.AppSecret = secret

	// A signature that is not the HMAC of body under secret must fail verification.
	if verifySignature(body, "sha256=deadbeef", secret) {
		t.Fatal("expected invalid signature to be rejected")
	}
}

func TestWebhookHandler_VerificationChallenge(t *testing.T) {
	a := newTestAdapter(t, &mockDoer{})
	a.config.WebhookVerifyToken = "verify-me"

	req := httptest.NewRequest(http.MethodGet, "/webhook?"+url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"verify-me"},
		"hub.challenge":    {"12345"},
	}.Encode(), nil)
	w := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "12345" {
		t.Errorf("expected challenge echoed back, got %q", w.Body.String())
	}
}

func TestWebhookHandler_VerificationRejectsWrongToken(t *testing.T) {
	a := newTestAdapter(t, &mockDoer{})
	a.config.WebhookVerifyToken = "verify-me"

	req := httptest.NewRequest(http.MethodGet, "/webhook?"+url.Values{
		"hub.mode":         {"subscribe"},
		"hub.verify_token": {"wrong"},
		"hub.challenge":    {"12345"},
	}.Encode(), nil)
	w := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestWebhookHandler_DeliversInboundMessage(t *testing.T) {
	a := newTestAdapter(t, &mockDoer{})
	var dispatched *models.InboundMessage
	a.SetHandler(func(m *models.InboundMessage) { dispatched = m })

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "15550000000", "phone_number_id": "1234567890"},
					"contacts": [{"profile": {"name": "Alice"}, "wa_id": "15551234567"}],
					"messages": [{
						"from": "15551234567",
						"id": "wamid.ABC",
						"timestamp": "1700000000",
						"type": "text",
						"text": {"body": "hello there"}
					}]
				}
			}]
		}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(payload)))
	w := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if dispatched == nil {
		t.Fatal("expected message to be dispatched")
	}
	if dispatched.Text != "hello there" {
		t.Errorf("unexpected text %q", dispatched.Text)
	}
	if dispatched.Sender.DisplayName != "Alice" {
		t.Errorf("expected contact name to be attached, got %q", dispatched.Sender.DisplayName)
	}
	if dispatched.Chat.Type != models.ChatDirect {
		t.Errorf("expected direct chat type, got %v", dispatched.Chat.Type)
	}
}

func TestWebhookHandler_RejectsBadSignature(t *testing.T) {
	a := newTestAdapter(t, &mockDoer{})
	a.config.AppSecret = "shh"

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Hub-Signature-256", "sha256=0000")
	w := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
