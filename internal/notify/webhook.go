package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Watchkeeper-Signature"

// WebhookSink posts JSON to an arbitrary endpoint, optionally signed.
type WebhookSink struct {
	httpSink
	url    string
	secret []byte
}

type webhookPayload struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Priority int            `json:"priority"`
	URL      string         `json:"url,omitempty"`
	ImageURL string         `json:"image_url,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// NewWebhookSink creates a webhook sink. A nil secret disables signing.
func NewWebhookSink(url string, secret []byte, opts ...HTTPOption) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("webhook sink: empty url")
	}
	return &WebhookSink{httpSink: newHTTPSink(opts), url: url, secret: secret}, nil
}

// ComputeSignature returns the hex HMAC-SHA256 of body under secret.
func ComputeSignature(secret, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks sig against body using constant-time comparison.
func VerifySignature(secret, body []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hmac.Equal(want, h.Sum(nil))
}

// Send posts the message as JSON.
func (s *WebhookSink) Send(ctx context.Context, msg Message) error {
	payload := webhookPayload{
		Title:    msg.Title,
		Body:     msg.Body,
		Priority: msg.Priority,
		URL:      msg.URL,
		Data:     msg.Data,
	}
	if msg.Image != nil {
		payload.ImageURL = msg.Image.URL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.secret) > 0 {
		req.Header.Set(SignatureHeader, ComputeSignature(s.secret, body))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
