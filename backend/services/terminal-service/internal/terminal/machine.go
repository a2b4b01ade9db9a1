package terminal

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// StatusObserver is notified of every adapter status transition.
type StatusObserver interface {
	OnStatusChange(old, new Status)
}

// ObserverFunc adapts a plain function to StatusObserver.
type ObserverFunc func(old, new Status)

// OnStatusChange calls f.
func (f ObserverFunc) OnStatusChange(old, new Status) { f(old, new) }

// transitions lists the legal edges. Error, maintenance and disconnected are reachable
// from every state and are handled in allowed().
var transitions = map[Status][]Status{
	StatusDisconnected: {StatusConnecting},
	StatusConnecting:   {StatusConnected},
	StatusConnected:    {StatusBusy},
	StatusBusy:         {StatusConnected},
}

func allowed(from, to Status) bool {
	switch to {
	case StatusError, StatusMaintenance, StatusDisconnected:
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type subscription struct {
	id       uint64
	observer StatusObserver
}

// Machine owns an adapter's status and its observers. Observers run synchronously in
// registration order after the status lock is released; a panicking observer is logged
// and skipped.
type Machine struct {
	mu     sync.Mutex
	status Status
	subs   []subscription
	nextID uint64

	// notifyMu keeps deliveries ordered across concurrent transitions.
	notifyMu sync.Mutex
	logger   *zap.Logger
}

// NewMachine returns a machine in the disconnected state.
func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{status: StatusDisconnected, logger: logger}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers an observer and returns the function that removes it.
func (m *Machine) Subscribe(o StatusObserver) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, observer: o})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Transition moves to the given status. Moving to the current status is a no-op.
func (m *Machine) Transition(to Status) error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	from := m.status
	if from == to {
		m.mu.Unlock()
		return nil
	}
	if !allowed(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.status = to
	subs := append([]subscription(nil), m.subs...)
	m.mu.Unlock()

	m.deliver(subs, from, to)
	return nil
}

// Acquire moves connected -> busy. It fails with ErrBusy when a transaction is already in
// flight and ErrNotConnected in any other state; it never waits.
func (m *Machine) Acquire() error {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	switch m.status {
	case StatusConnected:
	case StatusBusy:
		m.mu.Unlock()
		return ErrBusy
	default:
		st := m.status
		m.mu.Unlock()
		return fmt.Errorf("%w (status %s)", ErrNotConnected, st)
	}
	m.status = StatusBusy
	subs := append([]subscription(nil), m.subs...)
	m.mu.Unlock()

	m.deliver(subs, StatusConnected, StatusBusy)
	return nil
}

// Release moves busy -> connected. It is a no-op in any other state so that a late poll
// after a reset cannot resurrect the connection.
func (m *Machine) Release() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.status != StatusBusy {
		m.mu.Unlock()
		return
	}
	m.status = StatusConnected
	subs := append([]subscription(nil), m.subs...)
	m.mu.Unlock()

	m.deliver(subs, StatusBusy, StatusConnected)
}

// Fail moves to the error state and logs the cause.
func (m *Machine) Fail(cause error) {
	m.logger.Warn("terminal entering error state", zap.Error(cause))
	_ = m.Transition(StatusError)
}

func (m *Machine) deliver(subs []subscription, from, to Status) {
	for _, s := range subs {
		m.call(s.observer, from, to)
	}
}

func (m *Machine) call(o StatusObserver, from, to Status) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("status observer panicked",
				zap.String("old_status", from.String()),
				zap.String("new_status", to.String()),
				zap.Any("panic", r),
			)
		}
	}()
	o.OnStatusChange(from, to)
}
