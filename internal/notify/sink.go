package notify

import (
	"context"
	"net/http"
	"time"
)

// Sink delivers one message to an external channel.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Notifier is a configured, named sink.
type Notifier struct {
	ID       string
	Name     string
	Provider string
	// Scale requests a snapshot at a multiple of the pass snapshot size.
	// 0 or 1 reuses the pass snapshot.
	Scale float64
	Sink  Sink
}

// HTTPOption configures the HTTP-backed sinks.
type HTTPOption func(*httpSink)

type httpSink struct {
	client *http.Client
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *httpSink) {
		if client != nil {
			s.client = client
		}
	}
}

func newHTTPSink(opts []HTTPOption) httpSink {
	s := httpSink{client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
