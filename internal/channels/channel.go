// Package channels defines the uniform asynchronous contract every
// messaging transport implements, and a registry that fans inbound events
// in and dispatches outbound sends out across all connected channels.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/smartassist/smartassist/pkg/models"
)

// Info describes a channel instance: its type, the account/instance id it
// is bound to, and its static capability declaration.
type Info struct {
	ChannelType  models.ChannelType         `json:"channel_type"`
	InstanceID   models.ChannelInstanceId   `json:"instance_id"`
	Capabilities models.ChannelCapabilities `json:"capabilities"`
}

// Adapter is the minimal contract every channel connector implements.
type Adapter interface {
	Info() Info
}

// ChannelLifecycle governs connect/disconnect transitions. Implementations
// must update their connected flag under the same lock that performs the
// transition — never read it via a blocking lock from inside IsConnected,
// which would deadlock a single-threaded cooperative scheduler calling in
// from an active task.
type ChannelLifecycle interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Health(ctx context.Context) HealthStatus
}

// ChannelSender is the outbound half of the contract.
type ChannelSender interface {
	Send(ctx context.Context, msg models.OutboundMessage) (SendResult, error)
	SendWithAttachments(ctx context.Context, msg models.OutboundMessage) (SendResult, error)
	Edit(ctx context.Context, messageID models.MessageId, text string) error
	Delete(ctx context.Context, messageID models.MessageId) error
	React(ctx context.Context, messageID models.MessageId, emoji string) error
	Unreact(ctx context.Context, messageID models.MessageId, emoji string) error
	SendTyping(ctx context.Context, chatID string) error
	MaxMessageLength() int
}

// ChannelReceiver is the inbound half of the contract.
type ChannelReceiver interface {
	StartReceiving(ctx context.Context) error
	StopReceiving(ctx context.Context) error
	Receive(ctx context.Context) (*models.InboundMessage, error)
	TryReceive() (*models.InboundMessage, bool)
	SetHandler(handler func(*models.InboundMessage))
}

// FullAdapter aggregates every capability a complete channel implements.
// Not every adapter implements every facet (e.g. a webhook-only channel
// has no persistent ChannelLifecycle.Connect loop) — the Registry only
// requires Adapter and type-asserts the rest.
type FullAdapter interface {
	Adapter
	ChannelLifecycle
	ChannelSender
	ChannelReceiver
}

// Status is a point-in-time connection status snapshot, distinct from
// HealthStatus: BaseHealthAdapter keeps one under its own lock and updates
// it on every connect/disconnect/error, while HealthStatus is the derived
// value a Health() call computes from it on demand.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"` // Unix timestamp
}

// HealthStatus is the result of a health check.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	LastCheck time.Time     `json:"last_check"`
	Degraded  bool          `json:"degraded,omitempty"`
}

// Registry manages every connected channel adapter and fans inbound
// messages in from all of them.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[models.ChannelInstanceId]Adapter
	lifecycle map[models.ChannelInstanceId]ChannelLifecycle
	sender    map[models.ChannelInstanceId]ChannelSender
	receiver  map[models.ChannelInstanceId]ChannelReceiver
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[models.ChannelInstanceId]Adapter),
		lifecycle: make(map[models.ChannelInstanceId]ChannelLifecycle),
		sender:    make(map[models.ChannelInstanceId]ChannelSender),
		receiver:  make(map[models.ChannelInstanceId]ChannelReceiver),
	}
}

// Register adds (or replaces) an adapter in the registry, keyed by its
// instance id.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := adapter.Info().InstanceID
	r.adapters[id] = adapter

	if lc, ok := adapter.(ChannelLifecycle); ok {
		r.lifecycle[id] = lc
	} else {
		delete(r.lifecycle, id)
	}
	if s, ok := adapter.(ChannelSender); ok {
		r.sender[id] = s
	} else {
		delete(r.sender, id)
	}
	if rc, ok := adapter.(ChannelReceiver); ok {
		r.receiver[id] = rc
	} else {
		delete(r.receiver, id)
	}
}

// Get returns the adapter registered under instanceID.
func (r *Registry) Get(instanceID models.ChannelInstanceId) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[instanceID]
	return a, ok
}

// Sender returns the ChannelSender for instanceID, for use by the
// orchestrator before it calls any capability-gated send operation.
func (r *Registry) Sender(instanceID models.ChannelInstanceId) (ChannelSender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sender[instanceID]
	return s, ok
}

// All returns every registered adapter.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

// MetricsReporter is implemented by adapters embedding BaseHealthAdapter.
type MetricsReporter interface {
	Metrics() MetricsSnapshot
}

// Snapshots collects a MetricsSnapshot from every registered adapter that
// reports one, for the gateway's Prometheus exporter.
func (r *Registry) Snapshots() []MetricsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MetricsSnapshot, 0, len(r.adapters))
	for _, a := range r.adapters {
		if mr, ok := a.(MetricsReporter); ok {
			out = append(out, mr.Metrics())
		}
	}
	return out
}

// StartAll connects every adapter that implements ChannelLifecycle.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycles := make([]ChannelLifecycle, 0, len(r.lifecycle))
	for _, lc := range r.lifecycle {
		lifecycles = append(lifecycles, lc)
	}
	r.mu.RUnlock()

	for _, lc := range lifecycles {
		if err := lc.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll disconnects every adapter, continuing past individual failures
// and returning the last one encountered.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	lifecycles := make([]ChannelLifecycle, 0, len(r.lifecycle))
	for _, lc := range r.lifecycle {
		lifecycles = append(lifecycles, lc)
	}
	r.mu.RUnlock()

	var lastErr error
	for _, lc := range lifecycles {
		if err := lc.Disconnect(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AggregateMessages fans inbound messages in from every registered
// receiver into a single channel, preserving each receiver's own arrival
// order but imposing no order across receivers. Each receiver gets its
// handler set and is then started with StartReceiving; a receiver whose
// StartReceiving fails contributes no messages. The returned channel
// closes once ctx is cancelled and every per-adapter goroutine has
// exited.
func (r *Registry) AggregateMessages(ctx context.Context) <-chan *models.InboundMessage {
	r.mu.RLock()
	receivers := make([]ChannelReceiver, 0, len(r.receiver))
	for _, rc := range r.receiver {
		receivers = append(receivers, rc)
	}
	r.mu.RUnlock()

	out := make(chan *models.InboundMessage)
	var wg sync.WaitGroup

	for _, rc := range receivers {
		wg.Add(1)
		go func(recv ChannelReceiver) {
			defer wg.Done()
			ch := make(chan *models.InboundMessage)
			recv.SetHandler(func(msg *models.InboundMessage) {
				select {
				case ch <- msg:
				case <-ctx.Done():
				}
			})
			if err := recv.StartReceiving(ctx); err != nil {
				return
			}
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(rc)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
