// Package simulator provides a terminal.Adapter with no hardware behind it. Sales settle in
// the background after a delay so callers exercise the same polling path as with real
// terminals.
package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kioskpay/backend/services/terminal-service/internal/codec"
	"kioskpay/backend/services/terminal-service/internal/terminal"
)

// Vendor is the registry name of the simulator.
const Vendor = "simulator"

// ApproveMarker in a customer name forces approval.
const ApproveMarker = "test"

// Amounts with a fixed outcome.
var (
	DeclineAmount = decimal.RequireFromString("1.00")
	TimeoutAmount = decimal.RequireFromString("2.00")
	ErrorAmount   = decimal.RequireFromString("3.00")
)

// Defaults applied by the factory when a tenant config leaves them out.
const (
	DefaultDelay       = 3 * time.Second
	DefaultFailureRate = 0.1
)

const maxTracked = 256

var newID = func() string { return uuid.NewString() }

// Config tunes the simulated device.
type Config struct {
	// Delay between a sale and its settlement.
	Delay time.Duration
	// FailureRate is the share of non-sentinel sales that do not approve. Zero approves
	// everything.
	FailureRate float64
	// Seed makes outcomes reproducible; zero picks a random seed.
	Seed         uint64
	ConnectDelay time.Duration

	Methods []terminal.PaymentMethod
	Limits  terminal.MethodConfig
	Pix     terminal.PixSettings
	Info    terminal.TerminalInfo
}

func (c Config) withDefaults() Config {
	if c.Delay <= 0 {
		c.Delay = DefaultDelay
	}
	if c.FailureRate < 0 {
		c.FailureRate = 0
	}
	if c.FailureRate > 1 {
		c.FailureRate = 1
	}
	if c.Seed == 0 {
		c.Seed = rand.Uint64()
	}
	if len(c.Methods) == 0 {
		c.Methods = slices.Clone(terminal.AllMethods)
	}
	if c.Limits == nil {
		c.Limits = terminal.DefaultMethodConfig()
	}
	if c.Pix.PixKey == "" {
		c.Pix.PixKey = "simulador@kioskpay.local"
	}
	if c.Pix.MerchantName == "" {
		c.Pix.MerchantName = "KIOSK SIMULATOR"
	}
	if c.Pix.MerchantCity == "" {
		c.Pix.MerchantCity = "SAO PAULO"
	}
	if c.Info.Model == "" {
		c.Info = terminal.TerminalInfo{SerialNumber: "SIM-0001", Model: "Simulator", FirmwareVersion: "1.0.0"}
	}
	return c
}

type outcome struct {
	status  terminal.TransactionStatus
	message string
}

type transaction struct {
	resp    terminal.TransactionResponse
	planned outcome
	timer   *time.Timer
	started time.Time
}

// Simulator implements terminal.Adapter in memory.
type Simulator struct {
	cfg     Config
	machine *terminal.Machine
	logger  *zap.Logger
	codes   codec.CodeTable

	lifeMu sync.Mutex

	mu       sync.Mutex
	rng      *rand.Rand
	nsu      uint64
	current  string
	txs      map[string]*transaction
	settings map[string]string
}

var _ terminal.Adapter = (*Simulator)(nil)

// New builds a disconnected simulator.
func New(cfg Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	logger = logger.With(zap.String("vendor", Vendor))
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	return &Simulator{
		cfg:      cfg,
		machine:  terminal.NewMachine(logger),
		logger:   logger,
		codes:    codec.ResponseCodes(),
		rng:      rng,
		nsu:      uint64(rng.IntN(900_000)) + 100_000,
		txs:      make(map[string]*transaction),
		settings: make(map[string]string),
	}
}

func (s *Simulator) Vendor() string                             { return Vendor }
func (s *Simulator) Status() terminal.Status                    { return s.machine.Status() }
func (s *Simulator) Info() terminal.TerminalInfo                { return s.cfg.Info }
func (s *Simulator) Subscribe(o terminal.StatusObserver) func() { return s.machine.Subscribe(o) }

func (s *Simulator) SupportedPaymentMethods() []terminal.PaymentMethod {
	return slices.Clone(s.cfg.Methods)
}

func (s *Simulator) CurrentTransaction() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != ""
}

func (s *Simulator) Connect(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.connect(ctx)
}

func (s *Simulator) connect(ctx context.Context) error {
	switch st := s.machine.Status(); st {
	case terminal.StatusConnected, terminal.StatusBusy:
		return nil
	case terminal.StatusError, terminal.StatusMaintenance:
		return fmt.Errorf("%w: status %s requires reset", terminal.ErrNotConnected, st)
	}
	if err := s.machine.Transition(terminal.StatusConnecting); err != nil {
		return err
	}
	if s.cfg.ConnectDelay > 0 {
		select {
		case <-ctx.Done():
			s.machine.Fail(ctx.Err())
			return ctx.Err()
		case <-time.After(s.cfg.ConnectDelay):
		}
	}
	s.logger.Info("simulated terminal connected")
	return s.machine.Transition(terminal.StatusConnected)
}

func (s *Simulator) Disconnect(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.disconnect()
	return nil
}

// disconnect stops pending settlements. Sales still open end in error so their polls
// keep yielding a final status after a reconnect.
func (s *Simulator) disconnect() {
	s.mu.Lock()
	now := time.Now().UTC()
	for _, tx := range s.txs {
		tx.timer.Stop()
		if !tx.resp.Final() {
			tx.resp.Status = terminal.TxError
			tx.resp.ErrorMessage = "terminal disconnected"
			tx.resp.Timestamp = now
		}
	}
	s.current = ""
	s.mu.Unlock()
	_ = s.machine.Transition(terminal.StatusDisconnected)
}

func (s *Simulator) Reset(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	s.disconnect()
	return s.connect(ctx)
}

func (s *Simulator) EnterMaintenance(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.machine.Status() == terminal.StatusBusy {
		return terminal.ErrBusy
	}
	return s.machine.Transition(terminal.StatusMaintenance)
}

func (s *Simulator) Ping(ctx context.Context) error { return s.requireOnline() }

func (s *Simulator) requireOnline() error {
	if st := s.machine.Status(); !st.Online() {
		return fmt.Errorf("%w (status %s)", terminal.ErrNotConnected, st)
	}
	return nil
}

func (s *Simulator) StartTransaction(ctx context.Context, req terminal.TransactionRequest) (terminal.TransactionResponse, error) {
	switch st := s.machine.Status(); st {
	case terminal.StatusConnected:
	case terminal.StatusBusy:
		return terminal.TransactionResponse{}, terminal.ErrBusy
	default:
		return terminal.TransactionResponse{}, fmt.Errorf("%w (status %s)", terminal.ErrNotConnected, st)
	}
	if !slices.Contains(s.cfg.Methods, req.PaymentMethod) {
		return terminal.TransactionResponse{}, fmt.Errorf("%w: %s on %s", terminal.ErrUnsupportedMethod, req.PaymentMethod, Vendor)
	}
	if err := terminal.NewValidationError(req.Validate(s.cfg.Limits)); err != nil {
		return terminal.TransactionResponse{}, err
	}
	if err := s.machine.Acquire(); err != nil {
		return terminal.TransactionResponse{}, err
	}

	id := newID()
	resp := terminal.TransactionResponse{
		TransactionID: id,
		Status:        terminal.TxPending,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		Installments:  req.Installments,
		Timestamp:     time.Now().UTC(),
	}
	if req.PaymentMethod == terminal.MethodPix {
		if err := s.attachPix(&resp, id, req); err != nil {
			s.machine.Release()
			return terminal.TransactionResponse{}, err
		}
	}

	s.mu.Lock()
	tx := &transaction{resp: resp, planned: s.decide(req), started: time.Now()}
	s.current = id
	s.txs[id] = tx
	s.prune()
	tx.timer = time.AfterFunc(s.cfg.Delay, func() { s.resolve(id) })
	s.mu.Unlock()

	s.logger.Info("simulated transaction started",
		zap.String("transaction_id", id),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("payment_method", string(req.PaymentMethod)),
	)
	return resp, nil
}

// decide picks the outcome of a sale. Caller holds s.mu.
func (s *Simulator) decide(req terminal.TransactionRequest) outcome {
	switch {
	case req.Amount.Equal(DeclineAmount):
		return outcome{terminal.TxDeclined, s.codes.Message("01")}
	case req.Amount.Equal(TimeoutAmount):
		return outcome{terminal.TxTimeout, s.codes.Message("08")}
	case req.Amount.Equal(ErrorAmount):
		return outcome{terminal.TxError, s.codes.Message("07")}
	case strings.Contains(strings.ToLower(req.CustomerName), ApproveMarker):
		return outcome{status: terminal.TxApproved}
	}

	if s.rng.Float64() >= s.cfg.FailureRate {
		return outcome{status: terminal.TxApproved}
	}
	switch w := s.rng.IntN(100); {
	case w < 70:
		declines := []string{"01", "02", "03", "04", "05", "12"}
		return outcome{terminal.TxDeclined, s.codes.Message(declines[s.rng.IntN(len(declines))])}
	case w < 85:
		return outcome{terminal.TxTimeout, s.codes.Message("08")}
	default:
		return outcome{terminal.TxError, s.codes.Message("07")}
	}
}

var brands = []string{"VISA", "MASTERCARD", "ELO", "AMEX", "HIPERCARD"}

const authAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// resolve applies the planned outcome once the delay has elapsed.
func (s *Simulator) resolve(id string) {
	s.mu.Lock()
	tx, ok := s.txs[id]
	if !ok || tx.resp.Final() {
		s.mu.Unlock()
		return
	}
	tx.resp.Status = tx.planned.status
	tx.resp.ErrorMessage = tx.planned.message
	tx.resp.Timestamp = time.Now().UTC()
	if tx.planned.status == terminal.TxApproved {
		s.approve(&tx.resp)
	}
	release := s.current == id
	if release {
		s.current = ""
	}
	resp := tx.resp
	s.mu.Unlock()

	if release {
		s.machine.Release()
	}
	s.logger.Info("simulated transaction settled",
		zap.String("transaction_id", id),
		zap.String("status", string(resp.Status)),
	)
}

// approve fills the acquirer fields of an approved sale. Caller holds s.mu.
func (s *Simulator) approve(resp *terminal.TransactionResponse) {
	auth := make([]byte, 6)
	for i := range auth {
		auth[i] = authAlphabet[s.rng.IntN(len(authAlphabet))]
	}
	resp.AuthorizationCode = string(auth)
	s.nsu++
	resp.NSU = fmt.Sprintf("%012d", s.nsu)

	switch resp.PaymentMethod {
	case terminal.MethodCredit, terminal.MethodDebit, terminal.MethodContactless, terminal.MethodVoucher:
		resp.CardBrand = brands[s.rng.IntN(len(brands))]
		resp.CardLastDigits = fmt.Sprintf("%04d", s.rng.IntN(10_000))
	case terminal.MethodBoleto:
		digits := make([]byte, 47)
		for i := range digits {
			digits[i] = byte('0' + s.rng.IntN(10))
		}
		resp.BoletoBarcode = string(digits)
		resp.BoletoURL = "https://boleto.simulator.local/" + resp.TransactionID
	}
}

func (s *Simulator) attachPix(resp *terminal.TransactionResponse, id string, req terminal.TransactionRequest) error {
	key := req.PixKey
	if key == "" {
		key = s.cfg.Pix.PixKey
	}
	payload, err := codec.BRCode{
		Key:          key,
		MerchantName: s.cfg.Pix.MerchantName,
		MerchantCity: s.cfg.Pix.MerchantCity,
		Amount:       req.Amount,
		TxID:         id,
		Description:  req.Description,
	}.Encode()
	if err != nil {
		return fmt.Errorf("build pix payload: %w", err)
	}
	resp.PixCopyPaste = payload
	resp.PixQRCode = payload
	return nil
}

// prune drops the oldest settled transactions beyond maxTracked. Caller holds s.mu.
func (s *Simulator) prune() {
	if len(s.txs) <= maxTracked {
		return
	}
	type aged struct {
		id      string
		started time.Time
	}
	var settled []aged
	for id, tx := range s.txs {
		if tx.resp.Final() {
			settled = append(settled, aged{id, tx.started})
		}
	}
	slices.SortFunc(settled, func(a, b aged) int { return a.started.Compare(b.started) })
	for _, a := range settled {
		if len(s.txs) <= maxTracked {
			return
		}
		delete(s.txs, a.id)
	}
}

func (s *Simulator) lookup(id string) (*transaction, error) {
	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", terminal.ErrUnknownTransaction, id)
	}
	return tx, nil
}

// GetTransactionStatus reports processing until the background settlement has run.
func (s *Simulator) GetTransactionStatus(ctx context.Context, id string) (terminal.TransactionResponse, error) {
	if err := s.requireOnline(); err != nil {
		return terminal.TransactionResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.lookup(id)
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	if tx.resp.Status == terminal.TxPending {
		tx.resp.Status = terminal.TxProcessing
	}
	return tx.resp, nil
}

// CancelTransaction voids pending and approved sales. The simulator always returns to
// connected when the cancelled sale was the one in flight.
func (s *Simulator) CancelTransaction(ctx context.Context, id string) (terminal.TransactionResponse, error) {
	if err := s.requireOnline(); err != nil {
		return terminal.TransactionResponse{}, err
	}
	s.mu.Lock()
	tx, ok := s.txs[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Info("cancel for unknown simulated transaction", zap.String("transaction_id", id))
		return terminal.TransactionResponse{TransactionID: id, Status: terminal.TxCancelled, Timestamp: time.Now().UTC()}, nil
	}
	tx.timer.Stop()
	switch tx.resp.Status {
	case terminal.TxPending, terminal.TxProcessing, terminal.TxApproved:
		tx.resp.Status = terminal.TxCancelled
		tx.resp.ErrorMessage = s.codes.Message("06")
		tx.resp.Timestamp = time.Now().UTC()
	}
	release := s.current == id
	if release {
		s.current = ""
	}
	resp := tx.resp
	s.mu.Unlock()

	if release {
		s.machine.Release()
	}
	s.logger.Info("simulated transaction cancelled", zap.String("transaction_id", id))
	return resp, nil
}

func (s *Simulator) ConfirmTransaction(ctx context.Context, id string) (terminal.TransactionResponse, error) {
	return s.GetTransactionStatus(ctx, id)
}

func (s *Simulator) PrintReceipt(ctx context.Context, id string, kind terminal.ReceiptKind) error {
	if err := s.requireOnline(); err != nil {
		return err
	}
	s.mu.Lock()
	_, err := s.lookup(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Info("simulated receipt printed", zap.String("transaction_id", id), zap.String("copy", string(kind)))
	return nil
}

func (s *Simulator) PrintCustomText(ctx context.Context, text string) error {
	if err := s.requireOnline(); err != nil {
		return err
	}
	s.logger.Info("simulated text printed", zap.Int("length", len(text)))
	return nil
}

func (s *Simulator) Configure(ctx context.Context, settings map[string]string) error {
	if err := s.requireOnline(); err != nil {
		return err
	}
	s.mu.Lock()
	for k, v := range settings {
		s.settings[k] = v
	}
	s.mu.Unlock()
	return nil
}
