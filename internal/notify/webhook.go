package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/systmms/keyvault2kube/internal/config"
)

// RetryConfig holds retry configuration for webhooks.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (default: 3).
	MaxAttempts int

	// Backoff strategy: linear, exponential, fixed (default: exponential).
	Backoff string

	// InitialWait is the wait before the second attempt.
	InitialWait time.Duration
}

// WebhookConfig holds configuration for webhook notifications.
type WebhookConfig struct {
	// Name is a human-readable name for this webhook.
	Name string

	URL string

	// Method is the HTTP method to use (default: POST).
	Method string

	Headers map[string]string

	// Events limits which events are sent. If empty, all events are sent.
	Events []string

	// PayloadTemplate is a Go template for the request body.
	// If empty, a default JSON payload is used.
	PayloadTemplate string

	Retry *RetryConfig

	// Timeout for each HTTP request.
	Timeout time.Duration
}

// WebhookProvider posts sync events to an HTTP endpoint.
type WebhookProvider struct {
	config   WebhookConfig
	client   *http.Client
	template *template.Template
}

// NewWebhookProvider creates a new webhook notification provider. An invalid
// payload template is reported by Validate.
func NewWebhookProvider(config WebhookConfig) *WebhookProvider {
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Retry == nil {
		config.Retry = &RetryConfig{}
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = 3
	}
	if config.Retry.Backoff == "" {
		config.Retry.Backoff = "exponential"
	}
	if config.Retry.InitialWait == 0 {
		config.Retry.InitialWait = 1 * time.Second
	}

	provider := &WebhookProvider{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}

	if config.PayloadTemplate != "" {
		tmpl, err := template.New("payload").Funcs(sprig.TxtFuncMap()).Parse(config.PayloadTemplate)
		if err == nil {
			provider.template = tmpl
		}
	}

	return provider
}

// Name returns the provider name.
func (p *WebhookProvider) Name() string {
	if p.config.Name != "" {
		return "webhook:" + p.config.Name
	}
	return "webhook"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *WebhookProvider) SupportsEvent(eventType EventType) bool {
	return supportsEvent(p.config.Events, eventType)
}

// Validate checks if the provider configuration is valid.
func (p *WebhookProvider) Validate(ctx context.Context) error {
	if p.config.URL == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(p.config.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid URL: %s", p.config.URL)
	}

	switch strings.ToUpper(p.config.Method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("invalid method: %s (must be POST, PUT, or PATCH)", p.config.Method)
	}

	switch strings.ToLower(p.config.Retry.Backoff) {
	case "linear", "exponential", "fixed":
	default:
		return fmt.Errorf("invalid backoff strategy: %s (must be linear, exponential, or fixed)", p.config.Retry.Backoff)
	}

	if p.config.PayloadTemplate != "" && p.template == nil {
		_, err := template.New("payload").Funcs(sprig.TxtFuncMap()).Parse(p.config.PayloadTemplate)
		return fmt.Errorf("invalid payload template: %w", err)
	}

	return nil
}

// Send posts the event, retrying failed requests with backoff.
func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	payload, err := p.buildPayload(event)
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.Retry.MaxAttempts; attempt++ {
		err := p.doSend(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < p.config.Retry.MaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.calculateBackoff(attempt)):
			}
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", p.config.Retry.MaxAttempts, lastErr)
}

func (p *WebhookProvider) doSend(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(p.config.Method), p.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func (p *WebhookProvider) buildPayload(event Event) ([]byte, error) {
	if p.template != nil {
		return p.buildCustomPayload(event)
	}
	return p.buildDefaultPayload(event)
}

// webhookTemplateData provides template-friendly access to event data.
type webhookTemplateData struct {
	Type      string
	Status    string
	Created   int
	Patched   int
	Unchanged int
	Failed    int
	Secrets   []string
	Error     string
	Duration  string
	Timestamp string
}

func (p *WebhookProvider) buildCustomPayload(event Event) ([]byte, error) {
	data := webhookTemplateData{
		Type:      string(event.Type),
		Status:    event.Status,
		Created:   event.Created,
		Patched:   event.Patched,
		Unchanged: event.Unchanged,
		Failed:    event.Failed,
		Secrets:   event.Secrets,
		Duration:  event.Duration.String(),
		Timestamp: event.Timestamp.Format(time.RFC3339),
	}
	if event.Error != nil {
		data.Error = event.Error.Error()
	}

	var buf bytes.Buffer
	if err := p.template.Execute(&buf, data); err != nil {
		// Fall back to default payload on template error
		return p.buildDefaultPayload(event)
	}

	return buf.Bytes(), nil
}

func (p *WebhookProvider) buildDefaultPayload(event Event) ([]byte, error) {
	payload := map[string]interface{}{
		"event":     string(event.Type),
		"status":    event.Status,
		"created":   event.Created,
		"patched":   event.Patched,
		"unchanged": event.Unchanged,
		"failed":    event.Failed,
		"timestamp": event.Timestamp.Format(time.RFC3339),
	}

	if len(event.Secrets) > 0 {
		payload["secrets"] = event.Secrets
	}
	if event.Duration > 0 {
		payload["duration_seconds"] = event.Duration.Seconds()
	}
	if event.Error != nil {
		payload["error"] = event.Error.Error()
	}

	return json.Marshal(payload)
}

func (p *WebhookProvider) calculateBackoff(attempt int) time.Duration {
	initial := p.config.Retry.InitialWait

	switch strings.ToLower(p.config.Retry.Backoff) {
	case "linear":
		return initial * time.Duration(attempt)
	case "exponential":
		// 2^(attempt-1) * initial
		return initial * time.Duration(1<<(attempt-1))
	default:
		return initial
	}
}

// CreateWebhookProvider creates a validated webhook provider from configuration.
func CreateWebhookProvider(cfg config.WebhookNotificationConfig) (*WebhookProvider, error) {
	webhookConfig := WebhookConfig{
		Name:            cfg.Name,
		URL:             cfg.URL,
		Method:          cfg.Method,
		Headers:         cfg.Headers,
		Events:          cfg.Events,
		PayloadTemplate: cfg.PayloadTemplate,
	}

	if cfg.TimeoutSeconds > 0 {
		webhookConfig.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.Retry != nil {
		webhookConfig.Retry = &RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     cfg.Retry.Backoff,
		}
	}

	provider := NewWebhookProvider(webhookConfig)
	if err := provider.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("webhook %s: %w", cfg.Name, err)
	}
	return provider, nil
}
