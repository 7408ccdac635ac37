package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
)

// DefaultPushoverEndpoint is the public Pushover messages API.
const DefaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"

// PushoverSink sends messages through the Pushover API.
type PushoverSink struct {
	httpSink
	endpoint string
	token    string
	user     string
}

// NewPushoverSink creates a sink for the given application token and user key.
// An empty endpoint selects DefaultPushoverEndpoint.
func NewPushoverSink(endpoint, token, user string, opts ...HTTPOption) (*PushoverSink, error) {
	if token == "" || user == "" {
		return nil, errors.New("pushover sink: token and user required")
	}
	if endpoint == "" {
		endpoint = DefaultPushoverEndpoint
	}
	return &PushoverSink{httpSink: newHTTPSink(opts), endpoint: endpoint, token: token, user: user}, nil
}

// Send uploads the message as multipart form data, with the image as an
// attachment when present.
func (s *PushoverSink) Send(ctx context.Context, msg Message) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"token":    s.token,
		"user":     s.user,
		"title":    msg.Title,
		"message":  msg.Body,
		"priority": strconv.Itoa(msg.Priority),
	}
	if html, ok := msg.Data["html"]; ok {
		fields["html"] = fmt.Sprint(html)
	}
	if msg.URL != "" {
		fields["url"] = msg.URL
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}

	if msg.Image != nil && len(msg.Image.Data) > 0 {
		part, err := w.CreateFormFile("attachment", "snapshot.jpg")
		if err != nil {
			return err
		}
		if _, err := part.Write(msg.Image.Data); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("pushover sink: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
