// Package fleet owns every tenant's terminal adapter and keeps them healthy.
package fleet

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

var ErrNoTerminal = errors.New("fleet: no terminal configured")

// NoTerminalError reports a tenant without a terminal.
type NoTerminalError struct {
	TenantID string
}

func (e *NoTerminalError) Error() string {
	return fmt.Sprintf("fleet: no terminal configured for tenant %q", e.TenantID)
}

func (e *NoTerminalError) Is(target error) bool { return target == ErrNoTerminal }

// Builder constructs adapters from tenant configs.
type Builder interface {
	Build(cfg terminal.Config, logger *zap.Logger) (terminal.Adapter, error)
}

// StatusListener receives every adapter transition in the fleet.
type StatusListener interface {
	OnTerminalStatus(tenantID string, old, new terminal.Status)
}

// ListenerFunc adapts a function to StatusListener.
type ListenerFunc func(tenantID string, old, new terminal.Status)

func (f ListenerFunc) OnTerminalStatus(tenantID string, old, new terminal.Status) {
	f(tenantID, old, new)
}

// Options tunes the manager. Zero values take defaults.
type Options struct {
	HealthInterval time.Duration
	CheckTimeout   time.Duration
	// Parallelism bounds concurrent health checks and shutdown work.
	Parallelism int
	HistorySize int
	HistoryTTL  time.Duration
}

func (o Options) withDefaults() Options {
	if o.HealthInterval <= 0 {
		o.HealthInterval = 30 * time.Second
	}
	if o.CheckTimeout <= 0 {
		o.CheckTimeout = 10 * time.Second
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 16
	}
	return o
}

// TerminalState is a point-in-time view of one tenant's terminal.
type TerminalState struct {
	TenantID           string                `json:"tenant_id"`
	Vendor             string                `json:"vendor"`
	Status             terminal.Status       `json:"status"`
	Info               terminal.TerminalInfo `json:"info"`
	CurrentTransaction string                `json:"current_transaction,omitempty"`
}

type entry struct {
	adapter     terminal.Adapter
	unsubscribe func()
}

type listenerEntry struct {
	id       uint64
	listener StatusListener
}

// Manager maps tenants to adapters.
type Manager struct {
	builder Builder
	opts    Options
	logger  *zap.Logger
	history *History

	mu        sync.RWMutex
	terminals map[string]*entry

	listenersMu sync.RWMutex
	listeners   []listenerEntry
	nextID      uint64

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager builds fleet manager.
func NewManager(builder Builder, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Manager{
		builder:   builder,
		opts:      opts,
		logger:    logger,
		history:   NewHistory(opts.HistorySize, opts.HistoryTTL),
		terminals: make(map[string]*entry),
		stop:      make(chan struct{}),
	}
}

// AddTerminal builds the tenant's adapter and tries to connect it. A terminal that is not
// reachable yet is kept; the health loop retries it. A previous adapter for the tenant is
// disconnected and replaced.
func (m *Manager) AddTerminal(ctx context.Context, tenantID string, cfg terminal.Config) error {
	log := m.logger.With(zap.String("tenant_id", tenantID))
	a, err := m.builder.Build(cfg, log)
	if err != nil {
		return fmt.Errorf("fleet: add terminal for tenant %s: %w", tenantID, err)
	}
	e := &entry{adapter: a}
	e.unsubscribe = a.Subscribe(terminal.ObserverFunc(func(old, new terminal.Status) {
		m.notify(tenantID, old, new)
	}))

	m.mu.Lock()
	previous := m.terminals[tenantID]
	m.terminals[tenantID] = e
	m.mu.Unlock()

	if previous != nil {
		log.Info("replacing terminal", zap.String("previous_vendor", previous.adapter.Vendor()))
		m.retire(ctx, tenantID, previous)
	}

	log.Info("terminal added", zap.String("vendor", a.Vendor()))
	if err := a.Connect(ctx); err != nil {
		log.Warn("terminal not reachable yet", zap.String("vendor", a.Vendor()), zap.Error(err))
	}
	return nil
}

// AddTerminals registers every tenant concurrently. Each opportunistic connect is bounded
// by the check timeout; unreachable terminals are left to the health loop. Build failures
// are returned joined.
func (m *Manager) AddTerminals(ctx context.Context, cfgs map[string]terminal.Config) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(m.opts.Parallelism)
	for tenantID, cfg := range cfgs {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, m.opts.CheckTimeout)
			defer cancel()
			if err := m.AddTerminal(cctx, tenantID, cfg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// RemoveTerminal cancels any in-flight transaction and disconnects the tenant's terminal.
func (m *Manager) RemoveTerminal(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	e, ok := m.terminals[tenantID]
	delete(m.terminals, tenantID)
	m.mu.Unlock()
	if !ok {
		return &NoTerminalError{TenantID: tenantID}
	}
	m.history.Forget(tenantID)
	m.logger.Info("terminal removed", zap.String("tenant_id", tenantID))
	return m.retire(ctx, tenantID, e)
}

// retire cancels the in-flight transaction, then disconnects. Listeners see the final
// transition before the subscription is dropped.
func (m *Manager) retire(ctx context.Context, tenantID string, e *entry) error {
	defer e.unsubscribe()
	log := m.logger.With(zap.String("tenant_id", tenantID))

	if id, ok := e.adapter.CurrentTransaction(); ok {
		cctx, cancel := context.WithTimeout(ctx, m.opts.CheckTimeout)
		if _, err := e.adapter.CancelTransaction(cctx, id); err != nil {
			log.Warn("cancel of in-flight transaction failed", zap.String("transaction_id", id), zap.Error(err))
		} else {
			log.Info("in-flight transaction cancelled", zap.String("transaction_id", id))
		}
		cancel()
	}
	if err := e.adapter.Disconnect(ctx); err != nil {
		log.Warn("disconnect failed", zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) adapter(tenantID string) (terminal.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.terminals[tenantID]
	if !ok {
		return nil, &NoTerminalError{TenantID: tenantID}
	}
	return e.adapter, nil
}

// Adapter returns the tenant's adapter.
func (m *Manager) Adapter(tenantID string) (terminal.Adapter, error) { return m.adapter(tenantID) }

// Tenants lists tenants with a terminal, sorted.
func (m *Manager) Tenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.terminals))
	for id := range m.terminals {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// StartTransaction connects a disconnected terminal first, then starts the sale.
func (m *Manager) StartTransaction(ctx context.Context, tenantID string, req terminal.TransactionRequest) (terminal.TransactionResponse, error) {
	a, err := m.adapter(tenantID)
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	if a.Status() == terminal.StatusDisconnected {
		if err := a.Connect(ctx); err != nil {
			return terminal.TransactionResponse{}, fmt.Errorf("fleet: connect terminal for tenant %s: %w", tenantID, err)
		}
	}
	resp, err := a.StartTransaction(ctx, req)
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	m.logger.Info("transaction started",
		zap.String("tenant_id", tenantID),
		zap.String("transaction_id", resp.TransactionID),
		zap.String("payment_method", string(req.PaymentMethod)),
	)
	m.history.Put(tenantID, resp)
	return resp, nil
}

// GetTransactionStatus answers settled transactions from history and polls otherwise.
func (m *Manager) GetTransactionStatus(ctx context.Context, tenantID, transactionID string) (terminal.TransactionResponse, error) {
	if resp, ok := m.history.Get(tenantID, transactionID); ok {
		return resp, nil
	}
	a, err := m.adapter(tenantID)
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	return m.record(tenantID)(a.GetTransactionStatus(ctx, transactionID))
}

// CancelTransaction always reaches the terminal, even for transactions known to be
// settled.
func (m *Manager) CancelTransaction(ctx context.Context, tenantID, transactionID string) (terminal.TransactionResponse, error) {
	a, err := m.adapter(tenantID)
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	return m.record(tenantID)(a.CancelTransaction(ctx, transactionID))
}

func (m *Manager) ConfirmTransaction(ctx context.Context, tenantID, transactionID string) (terminal.TransactionResponse, error) {
	a, err := m.adapter(tenantID)
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	return m.record(tenantID)(a.ConfirmTransaction(ctx, transactionID))
}

// record stores final responses in history on the way out.
func (m *Manager) record(tenantID string) func(terminal.TransactionResponse, error) (terminal.TransactionResponse, error) {
	return func(resp terminal.TransactionResponse, err error) (terminal.TransactionResponse, error) {
		if err != nil {
			return resp, err
		}
		if resp.Final() {
			m.logger.Info("transaction settled",
				zap.String("tenant_id", tenantID),
				zap.String("transaction_id", resp.TransactionID),
				zap.String("status", string(resp.Status)),
			)
			m.history.Put(tenantID, resp)
		}
		return resp, nil
	}
}

func (m *Manager) PrintReceipt(ctx context.Context, tenantID, transactionID string, kind terminal.ReceiptKind) error {
	a, err := m.adapter(tenantID)
	if err != nil {
		return err
	}
	return a.PrintReceipt(ctx, transactionID, kind)
}

func (m *Manager) PrintCustomText(ctx context.Context, tenantID, text string) error {
	a, err := m.adapter(tenantID)
	if err != nil {
		return err
	}
	return a.PrintCustomText(ctx, text)
}

func (m *Manager) Configure(ctx context.Context, tenantID string, settings map[string]string) error {
	a, err := m.adapter(tenantID)
	if err != nil {
		return err
	}
	return a.Configure(ctx, settings)
}

// SetMaintenance takes a terminal out of service until ResetTerminal.
func (m *Manager) SetMaintenance(ctx context.Context, tenantID string) error {
	a, err := m.adapter(tenantID)
	if err != nil {
		return err
	}
	return a.EnterMaintenance(ctx)
}

func (m *Manager) ResetTerminal(ctx context.Context, tenantID string) error {
	a, err := m.adapter(tenantID)
	if err != nil {
		return err
	}
	return a.Reset(ctx)
}

func (m *Manager) Status(tenantID string) (terminal.Status, error) {
	a, err := m.adapter(tenantID)
	if err != nil {
		return "", err
	}
	return a.Status(), nil
}

func (m *Manager) Info(tenantID string) (terminal.TerminalInfo, error) {
	a, err := m.adapter(tenantID)
	if err != nil {
		return terminal.TerminalInfo{}, err
	}
	return a.Info(), nil
}

func (m *Manager) SupportedPaymentMethods(tenantID string) ([]terminal.PaymentMethod, error) {
	a, err := m.adapter(tenantID)
	if err != nil {
		return nil, err
	}
	return a.SupportedPaymentMethods(), nil
}

// Snapshot returns the state of every terminal, sorted by tenant.
func (m *Manager) Snapshot() []TerminalState {
	m.mu.RLock()
	out := make([]TerminalState, 0, len(m.terminals))
	for tenantID, e := range m.terminals {
		st := TerminalState{
			TenantID: tenantID,
			Vendor:   e.adapter.Vendor(),
			Status:   e.adapter.Status(),
			Info:     e.adapter.Info(),
		}
		st.CurrentTransaction, _ = e.adapter.CurrentTransaction()
		out = append(out, st)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b TerminalState) int { return cmp.Compare(a.TenantID, b.TenantID) })
	return out
}

// Subscribe registers a fleet-wide listener; the returned func unregisters it.
func (m *Manager) Subscribe(l StatusListener) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, listener: l})
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		m.listeners = slices.DeleteFunc(m.listeners, func(le listenerEntry) bool { return le.id == id })
	}
}

func (m *Manager) notify(tenantID string, old, new terminal.Status) {
	m.logger.Info("terminal status changed",
		zap.String("tenant_id", tenantID),
		zap.String("old_status", old.String()),
		zap.String("new_status", new.String()),
	)
	m.listenersMu.RLock()
	listeners := slices.Clone(m.listeners)
	m.listenersMu.RUnlock()
	for _, le := range listeners {
		m.deliver(le.listener, tenantID, old, new)
	}
}

func (m *Manager) deliver(l StatusListener, tenantID string, old, new terminal.Status) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("status listener panicked", zap.String("tenant_id", tenantID), zap.Any("panic", r))
		}
	}()
	l.OnTerminalStatus(tenantID, old, new)
}

// Run drives the health loop until ctx ends or Shutdown is called.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.HealthInterval)
	defer ticker.Stop()
	m.logger.Info("fleet health loop started", zap.Duration("interval", m.opts.HealthInterval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case <-ticker.C:
			m.CheckHealth(ctx)
		}
	}
}

// ConnectAll connects every disconnected terminal. Failures are logged.
func (m *Manager) ConnectAll(ctx context.Context) {
	m.each(func(tenantID string, a terminal.Adapter) {
		if a.Status() != terminal.StatusDisconnected {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, m.opts.CheckTimeout)
		defer cancel()
		if err := a.Connect(cctx); err != nil {
			m.logger.Warn("terminal connect failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	})
}

// CheckHealth pings idle terminals, resets errored ones and reconnects disconnected
// ones. Nothing is returned; outcomes are logged and show up as status transitions.
func (m *Manager) CheckHealth(ctx context.Context) {
	m.each(func(tenantID string, a terminal.Adapter) {
		cctx, cancel := context.WithTimeout(ctx, m.opts.CheckTimeout)
		defer cancel()
		log := m.logger.With(zap.String("tenant_id", tenantID), zap.String("vendor", a.Vendor()))

		switch st := a.Status(); st {
		case terminal.StatusError:
			log.Info("resetting terminal")
			if err := a.Reset(cctx); err != nil {
				log.Warn("terminal reset failed", zap.Error(err))
			}
		case terminal.StatusConnected:
			if err := a.Ping(cctx); err != nil {
				log.Warn("terminal health check failed", zap.Error(err))
			}
		case terminal.StatusDisconnected:
			if err := a.Connect(cctx); err != nil {
				log.Debug("terminal still unreachable", zap.Error(err))
			}
		}
	})
}

// each runs fn for every terminal with bounded parallelism and waits for all of them.
func (m *Manager) each(fn func(tenantID string, a terminal.Adapter)) {
	m.mu.RLock()
	targets := make(map[string]terminal.Adapter, len(m.terminals))
	for id, e := range m.terminals {
		targets[id] = e.adapter
	}
	m.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(m.opts.Parallelism)
	for id, a := range targets {
		g.Go(func() error {
			fn(id, a)
			return nil
		})
	}
	_ = g.Wait()
}

// Shutdown stops the health loop, cancels in-flight transactions and disconnects every
// terminal. Disconnect closes transports so hung reads return.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.RLock()
	entries := make(map[string]*entry, len(m.terminals))
	for id, e := range m.terminals {
		entries[id] = e
	}
	m.mu.RUnlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Parallelism)
	for id, e := range entries {
		g.Go(func() error {
			if err := m.shutdownOne(gctx, id, e.adapter); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	m.logger.Info("fleet shut down", zap.Int("terminals", len(entries)))
	return errors.Join(errs...)
}

func (m *Manager) shutdownOne(ctx context.Context, tenantID string, a terminal.Adapter) error {
	if id, ok := a.CurrentTransaction(); ok {
		cctx, cancel := context.WithTimeout(ctx, m.opts.CheckTimeout)
		resp, err := a.CancelTransaction(cctx, id)
		cancel()
		if err != nil {
			m.logger.Warn("cancel on shutdown failed",
				zap.String("tenant_id", tenantID),
				zap.String("transaction_id", id),
				zap.Error(err),
			)
		} else {
			m.history.Put(tenantID, resp)
		}
	}
	return a.Disconnect(ctx)
}
