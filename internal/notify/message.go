package notify

import (
	"fmt"

	"github.com/solatis/watchkeeper/internal/rules"
	"github.com/solatis/watchkeeper/internal/types"
)

// Providers with distinct payload shapes.
const (
	ProviderHomeAssistant = "homeassistant"
	ProviderPushover      = "pushover"
	ProviderWebhook       = "webhook"
)

// Message is what a sink receives.
type Message struct {
	Title    string
	Body     string
	Priority int
	URL      string
	Data     map[string]any
	Image    *types.Image
}

// buildMessage shapes the rendered text for a provider.
func buildMessage(provider, title, body string, match *rules.MatchRule, links Links) Message {
	msg := Message{
		Title:    title,
		Body:     body,
		Priority: match.Rule.Priority.Value(),
		URL:      links.Timeline,
	}

	switch provider {
	case ProviderHomeAssistant:
		ha := map[string]any{
			"url":         links.Timeline,
			"clickAction": links.Timeline,
		}
		if len(match.Rule.Actions) > 0 {
			ha["actions"] = match.Rule.Actions
		}
		msg.Data = map[string]any{"ha": ha}
	case ProviderPushover:
		if links.Timeline != "" {
			msg.Body = fmt.Sprintf(`%s <a href="%s">Open NVR</a>`, body, links.Timeline)
		}
		msg.Data = map[string]any{
			"html":     1,
			"priority": msg.Priority,
		}
	default:
		msg.Data = map[string]any{
			"rule":     string(match.Rule.ID),
			"class":    string(match.Class),
			"label":    match.Detection.Label,
			"zone":     match.MatchingZone,
			"priority": msg.Priority,
		}
		if match.Detection.Score != nil {
			msg.Data["score"] = *match.Detection.Score
		}
	}
	return msg
}
