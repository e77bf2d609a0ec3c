package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/keyvault2kube/internal/config"
	"github.com/systmms/keyvault2kube/internal/logging"
	"github.com/systmms/keyvault2kube/internal/metrics"
)

const (
	// DefaultQueueSize is the maximum number of events that can be queued.
	DefaultQueueSize = 100

	drainTimeout = 5 * time.Second
)

// Manager fans sync events out to providers from a bounded queue so a slow
// endpoint never holds up a cycle.
type Manager struct {
	providers []Provider
	queue     chan Event
	logger    *logging.Logger
	metrics   *metrics.SyncMetrics

	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	done    chan struct{}

	droppedMu    sync.Mutex
	droppedCount int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records every delivery attempt.
func WithMetrics(sm *metrics.SyncMetrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = sm
	}
}

// NewManager creates a new notification manager with the specified queue size.
// If queueSize is 0, DefaultQueueSize is used.
func NewManager(queueSize int, opts ...ManagerOption) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	m := &Manager{
		providers: make([]Provider, 0),
		queue:     make(chan Event, queueSize),
		logger:    logging.NewNop(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerFromConfig builds a manager with one provider per configured
// target. Invalid targets are reported together.
func NewManagerFromConfig(cfg config.NotificationConfig, opts ...ManagerOption) (*Manager, error) {
	m := NewManager(DefaultQueueSize, opts...)

	if cfg.Slack != nil {
		provider, err := CreateSlackProvider(*cfg.Slack)
		if err != nil {
			return nil, err
		}
		m.RegisterProvider(provider)
	}

	for i, hook := range cfg.Webhooks {
		if hook.Name == "" {
			hook.Name = fmt.Sprintf("%d", i)
		}
		provider, err := CreateWebhookProvider(hook)
		if err != nil {
			return nil, err
		}
		m.RegisterProvider(provider)
	}

	return m, nil
}

// RegisterProvider adds a notification provider to the manager.
func (m *Manager) RegisterProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
}

// Providers returns a copy of the registered providers.
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	providers := make([]Provider, len(m.providers))
	copy(providers, m.providers)
	return providers
}

// Start begins the background delivery worker. Events sent before Start are
// discarded.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.worker(ctx)
}

// Stop shuts the worker down after delivering queued events.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

// Notify queues an event without blocking. When the queue is full the event
// is dropped and counted.
func (m *Manager) Notify(event Event) {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()
	if !running {
		return
	}

	select {
	case m.queue <- event:
	default:
		m.droppedMu.Lock()
		m.droppedCount++
		m.droppedMu.Unlock()

		m.logger.Warn("Notification queue full, dropping %s event", event.Type)
		m.metrics.RecordNotification("queue", metrics.NotificationDropped)
	}
}

// DroppedCount returns the number of events dropped due to queue overflow.
func (m *Manager) DroppedCount() int64 {
	m.droppedMu.Lock()
	defer m.droppedMu.Unlock()
	return m.droppedCount
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.drainQueue()
			return
		case <-m.done:
			m.drainQueue()
			return
		case event := <-m.queue:
			m.dispatch(ctx, event)
		}
	}
}

func (m *Manager) drainQueue() {
	for {
		select {
		case event := <-m.queue:
			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			m.dispatch(ctx, event)
			cancel()
		default:
			return
		}
	}
}

// dispatch sends an event to every provider that accepts its type.
func (m *Manager) dispatch(ctx context.Context, event Event) {
	for _, provider := range m.Providers() {
		if !provider.SupportsEvent(event.Type) {
			continue
		}

		if err := provider.Send(ctx, event); err != nil {
			m.logger.Warn("Notification via %s failed: %v", provider.Name(), err)
			m.metrics.RecordNotification(provider.Name(), metrics.NotificationFailed)
			continue
		}
		m.logger.Debug("Sent %s notification via %s", event.Type, provider.Name())
		m.metrics.RecordNotification(provider.Name(), metrics.NotificationSent)
	}
}
