package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/systmms/keyvault2kube/internal/config"
)

// maxSlackSecrets caps how many written secrets are listed in one message.
const maxSlackSecrets = 10

// SlackConfig holds configuration for Slack webhook notifications.
type SlackConfig struct {
	WebhookURL string

	// Channel is the Slack channel to post to (optional, uses webhook default).
	Channel string

	// Events limits which events are posted. If empty, all events are sent.
	Events []string

	// MentionOnFailure lists Slack handles to mention when a cycle fails.
	MentionOnFailure []string
}

// SlackProvider posts sync events to Slack via an incoming webhook.
type SlackProvider struct {
	config SlackConfig
	client *http.Client
}

// NewSlackProvider creates a new Slack notification provider.
func NewSlackProvider(config SlackConfig) *SlackProvider {
	return &SlackProvider{
		config: config,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the provider name.
func (p *SlackProvider) Name() string {
	return "slack"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *SlackProvider) SupportsEvent(eventType EventType) bool {
	return supportsEvent(p.config.Events, eventType)
}

// Validate checks if the provider configuration is valid.
func (p *SlackProvider) Validate(ctx context.Context) error {
	if p.config.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}

	parsed, err := url.Parse(p.config.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid webhook URL: %s", p.config.WebhookURL)
	}

	return nil
}

// Send posts a Block Kit message for the event.
func (p *SlackProvider) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(p.buildMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (p *SlackProvider) buildMessage(event Event) map[string]interface{} {
	blocks := make([]map[string]interface{}, 0)

	blocks = append(blocks, map[string]interface{}{
		"type": "header",
		"text": map[string]interface{}{
			"type":  "plain_text",
			"text":  fmt.Sprintf("%s %s", eventEmoji(event.Type), eventTitle(event.Type)),
			"emoji": true,
		},
	})

	blocks = append(blocks, map[string]interface{}{
		"type": "section",
		"fields": []map[string]interface{}{
			mrkdwn(fmt.Sprintf("*Created:*\n%d", event.Created)),
			mrkdwn(fmt.Sprintf("*Patched:*\n%d", event.Patched)),
			mrkdwn(fmt.Sprintf("*Unchanged:*\n%d", event.Unchanged)),
			mrkdwn(fmt.Sprintf("*Failed:*\n%d", event.Failed)),
		},
	})

	if len(event.Secrets) > 0 {
		listed := event.Secrets
		suffix := ""
		if len(listed) > maxSlackSecrets {
			suffix = fmt.Sprintf("\n…and %d more", len(listed)-maxSlackSecrets)
			listed = listed[:maxSlackSecrets]
		}
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf("*Secrets:*\n`%s`%s", strings.Join(listed, "`, `"), suffix)),
		})
	}

	if event.Error != nil {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf(":warning: *Error:*\n```%s```", event.Error.Error())),
		})
	}

	if event.Type == EventTypeFailed && len(p.config.MentionOnFailure) > 0 {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": mrkdwn(fmt.Sprintf("*Attention:* %s", strings.Join(p.config.MentionOnFailure, " "))),
		})
	}

	blocks = append(blocks, map[string]interface{}{
		"type": "context",
		"elements": []map[string]interface{}{
			mrkdwn(fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s> in %s",
				event.Timestamp.Unix(), event.Timestamp.Format(time.RFC3339), event.Duration.Round(time.Millisecond))),
		},
	})

	message := map[string]interface{}{
		"blocks": blocks,
	}
	if p.config.Channel != "" {
		message["channel"] = p.config.Channel
	}
	return message
}

func mrkdwn(text string) map[string]interface{} {
	return map[string]interface{}{
		"type": "mrkdwn",
		"text": text,
	}
}

func eventEmoji(eventType EventType) string {
	switch eventType {
	case EventTypeChanged:
		return ":arrows_counterclockwise:"
	case EventTypePartial:
		return ":warning:"
	case EventTypeFailed:
		return ":x:"
	default:
		return ":bell:"
	}
}

func eventTitle(eventType EventType) string {
	switch eventType {
	case EventTypeChanged:
		return "Secrets Synced"
	case EventTypePartial:
		return "Sync Completed with Errors"
	case EventTypeFailed:
		return "Sync Failed"
	default:
		return "Sync Event"
	}
}

// CreateSlackProvider creates a validated Slack provider from configuration.
func CreateSlackProvider(cfg config.SlackNotificationConfig) (*SlackProvider, error) {
	provider := NewSlackProvider(SlackConfig{
		WebhookURL:       cfg.WebhookURL,
		Channel:          cfg.Channel,
		Events:           cfg.Events,
		MentionOnFailure: cfg.MentionOnFailure,
	})
	if err := provider.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("slack: %w", err)
	}
	return provider, nil
}
