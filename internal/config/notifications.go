package config

// NotificationConfig holds configuration for sync notifications.
type NotificationConfig struct {
	// Slack posts cycle events to an incoming webhook.
	Slack *SlackNotificationConfig `yaml:"slack,omitempty"`

	// Webhooks post cycle events as JSON to arbitrary endpoints.
	Webhooks []WebhookNotificationConfig `yaml:"webhooks,omitempty"`
}

// Enabled reports whether any notification target is configured.
func (n NotificationConfig) Enabled() bool {
	return n.Slack != nil || len(n.Webhooks) > 0
}

// SlackNotificationConfig holds Slack webhook configuration for sync events.
type SlackNotificationConfig struct {
	WebhookURL string `yaml:"webhook_url"`

	// Channel overrides the webhook's default channel.
	Channel string `yaml:"channel,omitempty"`

	// Events limits which events are posted: changed, partial, failed.
	// If empty, all events are sent.
	Events []string `yaml:"events,omitempty"`

	// MentionOnFailure lists Slack handles to mention when a cycle fails.
	// Examples: ["@oncall", "@platform-team"]
	MentionOnFailure []string `yaml:"mention_on_failure,omitempty"`
}

// WebhookNotificationConfig holds configuration for a custom webhook.
type WebhookNotificationConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Events  []string          `yaml:"events,omitempty"`

	// PayloadTemplate is a Go template (with sprig functions) for the
	// request body. The default body is a JSON document.
	PayloadTemplate string `yaml:"payload_template,omitempty"`

	Retry *WebhookRetryConfig `yaml:"retry,omitempty"`

	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

// WebhookRetryConfig holds retry configuration for webhooks.
type WebhookRetryConfig struct {
	// MaxAttempts is the maximum number of attempts (default: 3).
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Backoff strategy: linear, exponential or fixed (default: exponential).
	Backoff string `yaml:"backoff,omitempty"`
}
