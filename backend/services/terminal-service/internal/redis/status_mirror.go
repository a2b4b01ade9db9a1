package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"kioskpay/backend/services/terminal-service/internal/fleet"
	"kioskpay/backend/services/terminal-service/internal/terminal"
)

// StatusChannel carries every StatusEvent as JSON.
const StatusChannel = "terminals:status"

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 3 * time.Second
)

// StatusEvent is the mirrored state of one tenant's terminal.
type StatusEvent struct {
	TenantID  string          `json:"tenant_id"`
	Status    terminal.Status `json:"status"`
	Previous  terminal.Status `json:"previous,omitempty"`
	ChangedAt time.Time       `json:"changed_at"`
}

// StatusMirror publishes fleet transitions to Redis. Transitions are queued by the
// listener and written by Run.
type StatusMirror struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
	queue  chan StatusEvent
}

var _ fleet.StatusListener = (*StatusMirror)(nil)

// NewStatusMirror returns redis-backed mirror.
func NewStatusMirror(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StatusMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusMirror{
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		queue:  make(chan StatusEvent, defaultQueueSize),
	}
}

func (m *StatusMirror) key(tenantID string) string {
	return fmt.Sprintf("terminals:status:%s", tenantID)
}

// OnTerminalStatus queues the transition. A full queue drops it with a warning.
func (m *StatusMirror) OnTerminalStatus(tenantID string, old, new terminal.Status) {
	m.enqueue(StatusEvent{TenantID: tenantID, Status: new, Previous: old, ChangedAt: m.now().UTC()})
}

func (m *StatusMirror) enqueue(ev StatusEvent) {
	select {
	case m.queue <- ev:
	default:
		m.logger.Warn("status mirror queue full, dropping event",
			zap.String("tenant_id", ev.TenantID),
			zap.String("new_status", ev.Status.String()),
		)
	}
}

// Sync queues the current state of every terminal, e.g. after startup.
func (m *StatusMirror) Sync(states []fleet.TerminalState) {
	now := m.now().UTC()
	for _, st := range states {
		m.enqueue(StatusEvent{TenantID: st.TenantID, Status: st.Status, ChangedAt: now})
	}
}

// Run writes queued events until ctx ends, then flushes what is left.
func (m *StatusMirror) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-m.queue:
			m.write(ctx, ev)
		case <-ctx.Done():
			m.flush()
			return nil
		}
	}
}

func (m *StatusMirror) flush() {
	for {
		select {
		case ev := <-m.queue:
			m.write(context.Background(), ev)
		default:
			return
		}
	}
}

func (m *StatusMirror) write(ctx context.Context, ev StatusEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultWriteTimeout)
	defer cancel()
	if err := m.Save(ctx, ev); err != nil {
		m.logger.Warn("status mirror write failed", zap.String("tenant_id", ev.TenantID), zap.Error(err))
	}
}

// Save stores the event under the tenant key and publishes it.
func (m *StatusMirror) Save(ctx context.Context, ev StatusEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, m.key(ev.TenantID), data, m.ttl)
		p.Publish(ctx, StatusChannel, data)
		return nil
	})
	return err
}

// Get returns the mirrored status of a tenant.
func (m *StatusMirror) Get(ctx context.Context, tenantID string) (*StatusEvent, error) {
	result, err := m.client.Get(ctx, m.key(tenantID)).Result()
	if err != nil {
		return nil, err
	}
	var ev StatusEvent
	if err := json.Unmarshal([]byte(result), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Delete removes a tenant's mirrored status.
func (m *StatusMirror) Delete(ctx context.Context, tenantID string) error {
	return m.client.Del(ctx, m.key(tenantID)).Err()
}
