// Package adapter implements terminal.Adapter for physical card terminals by pairing a
// byte transport with a vendor codec.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kioskpay/backend/services/terminal-service/internal/codec"
	"kioskpay/backend/services/terminal-service/internal/terminal"
	"kioskpay/backend/services/terminal-service/internal/transport"
)

var newID = func() string { return uuid.NewString() }

// Config carries what the adapter needs beyond its transport and codec.
type Config struct {
	Vendor  string
	Methods []terminal.PaymentMethod
	Limits  terminal.MethodConfig

	// RetryAttempts bounds transport connect attempts. Commands are never retried.
	RetryAttempts int
	RetryDelay    time.Duration

	MerchantID string
	TerminalID string
	Pix        terminal.PixSettings

	// DefaultInfo is reported when the terminal does not answer INFO.
	DefaultInfo terminal.TerminalInfo
}

// Hardware drives one physical terminal.
type Hardware struct {
	cfg       Config
	transport transport.Transport
	codec     codec.Codec
	machine   *terminal.Machine
	logger    *zap.Logger

	// lifeMu serializes connect, disconnect and reset.
	lifeMu sync.Mutex
	// wire holds a token while a command is on the wire.
	wire chan struct{}
	seq  atomic.Uint32

	mu         sync.Mutex
	info       terminal.TerminalInfo
	current    string
	currentReq terminal.TransactionRequest
	// abortConnect cancels the connect in progress, if any.
	abortConnect context.CancelFunc
}

var _ terminal.Adapter = (*Hardware)(nil)

// New builds a hardware adapter in the disconnected state.
func New(cfg Config, t transport.Transport, c codec.Codec, logger *zap.Logger) *Hardware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = c.Methods()
	}
	if cfg.Limits == nil {
		cfg.Limits = terminal.DefaultMethodConfig()
	}
	if cfg.Vendor == "" {
		cfg.Vendor = c.Vendor()
	}
	logger = logger.With(zap.String("vendor", cfg.Vendor))
	return &Hardware{
		cfg:       cfg,
		transport: t,
		codec:     c,
		machine:   terminal.NewMachine(logger),
		logger:    logger,
		wire:      make(chan struct{}, 1),
		info:      cfg.DefaultInfo,
	}
}

func (h *Hardware) Vendor() string          { return h.cfg.Vendor }
func (h *Hardware) Status() terminal.Status { return h.machine.Status() }

func (h *Hardware) Info() terminal.TerminalInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info
}

func (h *Hardware) SupportedPaymentMethods() []terminal.PaymentMethod {
	return slices.Clone(h.cfg.Methods)
}

func (h *Hardware) Subscribe(o terminal.StatusObserver) func() { return h.machine.Subscribe(o) }

func (h *Hardware) CurrentTransaction() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current, h.current != ""
}

// Connect opens the transport, initializes the terminal and fetches its description.
// Error and maintenance are only left through Reset.
func (h *Hardware) Connect(ctx context.Context) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	return h.connect(ctx)
}

func (h *Hardware) connect(parent context.Context) error {
	switch st := h.machine.Status(); st {
	case terminal.StatusConnected, terminal.StatusBusy:
		return nil
	case terminal.StatusError, terminal.StatusMaintenance:
		return fmt.Errorf("%w: status %s requires reset", terminal.ErrNotConnected, st)
	}
	if err := h.machine.Transition(terminal.StatusConnecting); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	h.mu.Lock()
	h.abortConnect = cancel
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.abortConnect = nil
		h.mu.Unlock()
		cancel()
	}()

	// aborted reports a connect cut short by Disconnect. The caller of Disconnect owns the
	// next transition.
	aborted := func() bool { return ctx.Err() != nil && parent.Err() == nil }

	if err := h.openTransport(ctx); err != nil {
		if aborted() {
			return fmt.Errorf("%w: connect aborted by disconnect", terminal.ErrNotConnected)
		}
		h.machine.Fail(err)
		return fmt.Errorf("%w: connect: %w", terminal.ErrTransport, err)
	}

	resp, err := h.exchange(ctx, codec.CmdInit, codec.Payload{MerchantID: h.cfg.MerchantID, TerminalID: h.cfg.TerminalID})
	if err == nil && !h.codec.IsSuccess(resp) {
		err = fmt.Errorf("initialize terminal: %w", &terminal.RejectedError{Message: h.codec.ErrorMessage(resp)})
	}
	if err != nil {
		_ = h.transport.Disconnect()
		if aborted() {
			return fmt.Errorf("%w: connect aborted by disconnect", terminal.ErrNotConnected)
		}
		h.machine.Fail(err)
		return err
	}

	if err := h.machine.Transition(terminal.StatusConnected); err != nil {
		return err
	}
	h.logger.Info("terminal connected")
	h.refreshInfo(ctx)
	return nil
}

func (h *Hardware) openTransport(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= h.cfg.RetryAttempts; attempt++ {
		if err = h.transport.Connect(ctx); err == nil {
			return nil
		}
		h.logger.Warn("transport connect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", h.cfg.RetryAttempts),
			zap.Error(err),
		)
		if attempt == h.cfg.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.cfg.RetryDelay):
		}
	}
	return err
}

// refreshInfo queries INFO; failures keep the configured defaults.
func (h *Hardware) refreshInfo(ctx context.Context) {
	resp, err := h.exchange(ctx, codec.CmdInfo, codec.Payload{})
	if err == nil && !h.codec.IsSuccess(resp) {
		err = errors.New(h.codec.ErrorMessage(resp))
	}
	var info terminal.TerminalInfo
	if err == nil {
		info, err = h.codec.ParseTerminalInfo(resp)
	}
	if err != nil {
		h.logger.Warn("terminal info unavailable, using configured defaults", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.info = mergeInfo(info, h.cfg.DefaultInfo)
	h.mu.Unlock()
}

func mergeInfo(got, def terminal.TerminalInfo) terminal.TerminalInfo {
	if got.SerialNumber == "" {
		got.SerialNumber = def.SerialNumber
	}
	if got.Model == "" {
		got.Model = def.Model
	}
	if got.FirmwareVersion == "" {
		got.FirmwareVersion = def.FirmwareVersion
	}
	return got
}

// Disconnect closes the transport and forgets the in-flight transaction. A connect
// waiting on the terminal is aborted first.
func (h *Hardware) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	abort := h.abortConnect
	h.mu.Unlock()
	if abort != nil {
		abort()
		_ = h.transport.Disconnect()
	}

	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	return h.disconnect()
}

func (h *Hardware) disconnect() error {
	err := h.transport.Disconnect()
	h.mu.Lock()
	h.current = ""
	h.currentReq = terminal.TransactionRequest{}
	h.info = h.cfg.DefaultInfo
	h.mu.Unlock()
	_ = h.machine.Transition(terminal.StatusDisconnected)
	if err != nil {
		return fmt.Errorf("%w: disconnect: %w", terminal.ErrTransport, err)
	}
	return nil
}

// Reset disconnects and connects again.
func (h *Hardware) Reset(ctx context.Context) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if err := h.disconnect(); err != nil {
		h.logger.Warn("disconnect during reset failed", zap.Error(err))
	}
	return h.connect(ctx)
}

// EnterMaintenance closes the link so the device can be serviced.
func (h *Hardware) EnterMaintenance(ctx context.Context) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.machine.Status() == terminal.StatusBusy {
		return terminal.ErrBusy
	}
	if err := h.transport.Disconnect(); err != nil {
		h.logger.Warn("disconnect for maintenance failed", zap.Error(err))
	}
	return h.machine.Transition(terminal.StatusMaintenance)
}

// Ping sends PING when idle. An I/O failure moves the adapter to error.
func (h *Hardware) Ping(ctx context.Context) error {
	switch st := h.machine.Status(); st {
	case terminal.StatusBusy:
		return nil
	case terminal.StatusConnected:
	default:
		return fmt.Errorf("%w (status %s)", terminal.ErrNotConnected, st)
	}
	resp, err := h.exchange(ctx, codec.CmdPing, codec.Payload{})
	if err != nil {
		// A transport closed under the ping belongs to a concurrent disconnect.
		if ctx.Err() == nil && h.transport.IsConnected() {
			h.machine.Fail(err)
		}
		return err
	}
	if !h.codec.IsSuccess(resp) {
		return &terminal.RejectedError{Message: h.codec.ErrorMessage(resp)}
	}
	return nil
}

// exchange sends one command and waits for its response frame.
func (h *Hardware) exchange(ctx context.Context, cmd codec.Command, p codec.Payload) ([]byte, error) {
	select {
	case h.wire <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", cmd, ctx.Err())
	}
	defer func() { <-h.wire }()

	p.Sequence = h.seq.Add(1)
	frame, err := h.codec.BuildCommand(cmd, p)
	if err != nil {
		return nil, err
	}
	resp, err := h.transport.SendCommand(ctx, frame, h.codec.Complete)
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrTimeout):
			return nil, fmt.Errorf("%w: %s: %w", terminal.ErrTimeout, cmd, err)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%s: %w", cmd, ctx.Err())
		default:
			return nil, fmt.Errorf("%w: %s: %w", terminal.ErrTransport, cmd, err)
		}
	}
	h.logger.Debug("terminal command completed", zap.String("command", string(cmd)), zap.Uint32("seq", p.Sequence))
	return resp, nil
}

func (h *Hardware) requireOnline() error {
	if st := h.machine.Status(); !st.Online() {
		return fmt.Errorf("%w (status %s)", terminal.ErrNotConnected, st)
	}
	return nil
}

// StartTransaction validates req, sends the sale and returns the terminal's ack. Exactly
// one transaction may be in flight.
func (h *Hardware) StartTransaction(ctx context.Context, req terminal.TransactionRequest) (terminal.TransactionResponse, error) {
	switch st := h.machine.Status(); st {
	case terminal.StatusConnected:
	case terminal.StatusBusy:
		return terminal.TransactionResponse{}, terminal.ErrBusy
	default:
		return terminal.TransactionResponse{}, fmt.Errorf("%w (status %s)", terminal.ErrNotConnected, st)
	}
	if !slices.Contains(h.cfg.Methods, req.PaymentMethod) {
		return terminal.TransactionResponse{}, fmt.Errorf("%w: %s on %s", terminal.ErrUnsupportedMethod, req.PaymentMethod, h.cfg.Vendor)
	}
	if err := terminal.NewValidationError(req.Validate(h.cfg.Limits)); err != nil {
		return terminal.TransactionResponse{}, err
	}
	if err := h.machine.Acquire(); err != nil {
		return terminal.TransactionResponse{}, err
	}

	id := newID()
	cmd := codec.CmdSale
	p := codec.PayloadFromRequest(id, req)
	if req.PaymentMethod == terminal.MethodPix {
		cmd = codec.CmdPix
		if p.PixKey == "" {
			p.PixKey = h.cfg.Pix.PixKey
		}
		if p.PixExpiration == 0 {
			p.PixExpiration = h.cfg.Pix.Timeout.Std()
		}
	}
	log := h.logger.With(zap.String("transaction_id", id), zap.String("payment_method", string(req.PaymentMethod)))

	raw, err := h.exchange(ctx, cmd, p)
	if err != nil {
		h.machine.Release()
		log.Warn("sale command failed", zap.Error(err))
		return terminal.TransactionResponse{}, err
	}
	if !h.codec.IsSuccess(raw) {
		h.machine.Release()
		msg := h.codec.ErrorMessage(raw)
		log.Info("sale rejected by terminal", zap.String("reason", msg))
		return terminal.TransactionResponse{}, &terminal.RejectedError{Message: msg}
	}
	resp, err := h.codec.ParseTransactionResponse(id, raw)
	if err != nil {
		h.machine.Release()
		return terminal.TransactionResponse{}, fmt.Errorf("%w: %w", terminal.ErrTransport, err)
	}

	h.mu.Lock()
	h.current = id
	h.currentReq = req
	h.mu.Unlock()

	resp = h.complete(resp, req)
	if req.PaymentMethod == terminal.MethodPix && resp.PixCopyPaste == "" {
		h.attachPix(&resp, id, req, log)
	}
	log.Info("transaction started", zap.String("status", string(resp.Status)))
	if resp.Final() {
		h.settle(id, resp.Status)
	}
	return resp, nil
}

// complete fills fields the terminal left out from the originating request.
func (h *Hardware) complete(resp terminal.TransactionResponse, req terminal.TransactionRequest) terminal.TransactionResponse {
	if resp.Amount.IsZero() {
		resp.Amount = req.Amount
	}
	if resp.PaymentMethod == "" {
		resp.PaymentMethod = req.PaymentMethod
	}
	if resp.Installments == 0 {
		resp.Installments = max(req.Installments, 1)
	}
	return resp
}

// attachPix renders a BR Code from the tenant's PIX settings when the terminal returned
// no payload of its own.
func (h *Hardware) attachPix(resp *terminal.TransactionResponse, id string, req terminal.TransactionRequest, log *zap.Logger) {
	key := req.PixKey
	if key == "" {
		key = h.cfg.Pix.PixKey
	}
	if key == "" {
		return
	}
	payload, err := codec.BRCode{
		Key:          key,
		MerchantName: h.cfg.Pix.MerchantName,
		MerchantCity: h.cfg.Pix.MerchantCity,
		Amount:       req.Amount,
		TxID:         id,
		Description:  req.Description,
	}.Encode()
	if err != nil {
		log.Warn("pix payload not generated", zap.Error(err))
		return
	}
	resp.PixCopyPaste = payload
	if resp.PixQRCode == "" {
		resp.PixQRCode = payload
	}
}

// settle releases the busy state when id is the in-flight transaction.
func (h *Hardware) settle(id string, status terminal.TransactionStatus) {
	h.mu.Lock()
	if h.current != id {
		h.mu.Unlock()
		return
	}
	h.current = ""
	h.currentReq = terminal.TransactionRequest{}
	h.mu.Unlock()

	h.machine.Release()
	h.logger.Info("transaction settled", zap.String("transaction_id", id), zap.String("status", string(status)))
}

func (h *Hardware) requestFor(id string) (terminal.TransactionRequest, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentReq, h.current == id && id != ""
}

// GetTransactionStatus polls the terminal. A timeout is recoverable by polling again.
func (h *Hardware) GetTransactionStatus(ctx context.Context, id string) (terminal.TransactionResponse, error) {
	if err := h.requireOnline(); err != nil {
		return terminal.TransactionResponse{}, err
	}
	return h.query(ctx, codec.CmdStatus, id)
}

func (h *Hardware) query(ctx context.Context, cmd codec.Command, id string) (terminal.TransactionResponse, error) {
	raw, err := h.exchange(ctx, cmd, codec.Payload{TransactionID: id})
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	resp, err := h.codec.ParseTransactionResponse(id, raw)
	if err != nil {
		return terminal.TransactionResponse{}, fmt.Errorf("%w: %w", terminal.ErrTransport, err)
	}
	if req, ok := h.requestFor(id); ok {
		resp = h.complete(resp, req)
	}
	if resp.Final() {
		h.settle(id, resp.Status)
	}
	return resp, nil
}

// CancelTransaction always sends CANCEL, whatever the local view of the transaction.
// On success the adapter is back to connected.
func (h *Hardware) CancelTransaction(ctx context.Context, id string) (terminal.TransactionResponse, error) {
	if err := h.requireOnline(); err != nil {
		return terminal.TransactionResponse{}, err
	}
	raw, err := h.exchange(ctx, codec.CmdCancel, codec.Payload{TransactionID: id})
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	if !h.codec.IsSuccess(raw) {
		return terminal.TransactionResponse{}, &terminal.RejectedError{Message: h.codec.ErrorMessage(raw)}
	}
	resp, err := h.codec.ParseTransactionResponse(id, raw)
	if err != nil {
		resp = terminal.TransactionResponse{TransactionID: id, Timestamp: time.Now().UTC()}
	}
	if !resp.Final() || resp.Status == terminal.TxApproved {
		resp.Status = terminal.TxCancelled
	}
	if req, ok := h.requestFor(id); ok {
		resp = h.complete(resp, req)
	}
	h.settle(id, resp.Status)
	return resp, nil
}

// ConfirmTransaction settles an approved sale on protocols that need it and is a status
// poll elsewhere.
func (h *Hardware) ConfirmTransaction(ctx context.Context, id string) (terminal.TransactionResponse, error) {
	if err := h.requireOnline(); err != nil {
		return terminal.TransactionResponse{}, err
	}
	if !h.codec.RequiresConfirm() {
		return h.query(ctx, codec.CmdStatus, id)
	}
	raw, err := h.exchange(ctx, codec.CmdConfirm, codec.Payload{TransactionID: id})
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	if !h.codec.IsSuccess(raw) {
		return terminal.TransactionResponse{}, &terminal.RejectedError{Message: h.codec.ErrorMessage(raw)}
	}
	resp, err := h.codec.ParseTransactionResponse(id, raw)
	if err != nil {
		return terminal.TransactionResponse{}, fmt.Errorf("%w: %w", terminal.ErrTransport, err)
	}
	if req, ok := h.requestFor(id); ok {
		resp = h.complete(resp, req)
	}
	if resp.Final() {
		h.settle(id, resp.Status)
	}
	return resp, nil
}

// PrintReceipt prints a stored receipt. Failures never change the adapter status.
func (h *Hardware) PrintReceipt(ctx context.Context, id string, kind terminal.ReceiptKind) error {
	return h.sideEffect(ctx, codec.CmdPrint, codec.Payload{TransactionID: id, Receipt: kind})
}

func (h *Hardware) PrintCustomText(ctx context.Context, text string) error {
	return h.sideEffect(ctx, codec.CmdPrintText, codec.Payload{Text: text})
}

func (h *Hardware) Configure(ctx context.Context, settings map[string]string) error {
	return h.sideEffect(ctx, codec.CmdConfigure, codec.Payload{Settings: settings})
}

func (h *Hardware) sideEffect(ctx context.Context, cmd codec.Command, p codec.Payload) error {
	if err := h.requireOnline(); err != nil {
		return err
	}
	raw, err := h.exchange(ctx, cmd, p)
	if err != nil {
		return err
	}
	if !h.codec.IsSuccess(raw) {
		return fmt.Errorf("%s: %w", cmd, &terminal.RejectedError{Message: h.codec.ErrorMessage(raw)})
	}
	return nil
}
