package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// HomeAssistantSink calls a Home Assistant notify service.
type HomeAssistantSink struct {
	httpSink
	endpoint string
	token    string
}

type haRequest struct {
	Title   string         `json:"title,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// NewHomeAssistantSink targets {baseURL}/api/services/notify/{service}.
func NewHomeAssistantSink(baseURL, service, token string, opts ...HTTPOption) (*HomeAssistantSink, error) {
	if baseURL == "" || service == "" {
		return nil, errors.New("homeassistant sink: base url and service required")
	}
	return &HomeAssistantSink{
		httpSink: newHTTPSink(opts),
		endpoint: fmt.Sprintf("%s/api/services/notify/%s", strings.TrimRight(baseURL, "/"), service),
		token:    token,
	}, nil
}

// Send posts the message. The image travels as a URL; Home Assistant
// fetches it itself.
func (s *HomeAssistantSink) Send(ctx context.Context, msg Message) error {
	data := make(map[string]any, len(msg.Data)+1)
	for k, v := range msg.Data {
		data[k] = v
	}
	if msg.Image != nil && msg.Image.URL != "" {
		data["image"] = msg.Image.URL
	}

	body, err := json.Marshal(haRequest{Title: msg.Title, Message: msg.Body, Data: data})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("homeassistant sink: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
