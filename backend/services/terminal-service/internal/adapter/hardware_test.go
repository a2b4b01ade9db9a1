package adapter

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"kioskpay/backend/services/terminal-service/internal/codec"
	"kioskpay/backend/services/terminal-service/internal/terminal"
	"kioskpay/backend/services/terminal-service/internal/transport"
)

// spyCodec records every command the adapter builds.
type spyCodec struct {
	codec.Codec

	mu       sync.Mutex
	commands []codec.Command
	payloads []codec.Payload
}

func (s *spyCodec) BuildCommand(cmd codec.Command, p codec.Payload) ([]byte, error) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
	return s.Codec.BuildCommand(cmd, p)
}

func (s *spyCodec) last() (codec.Command, codec.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commands) == 0 {
		return "", codec.Payload{}
	}
	return s.commands[len(s.commands)-1], s.payloads[len(s.payloads)-1]
}

func (s *spyCodec) sent() []codec.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]codec.Command(nil), s.commands...)
}

type responder func(cmd codec.Command, p codec.Payload) (codec.Reply, error)

// fakeTransport answers each command through the codec's own response builder.
type fakeTransport struct {
	spy     *spyCodec
	respond responder

	mu          sync.Mutex
	connected   bool
	connects    int
	connectErrs []error
}

func (f *fakeTransport) Kind() transport.Kind { return transport.KindTCP }

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) SendCommand(ctx context.Context, frame []byte, complete transport.Predicate) ([]byte, error) {
	if !f.IsConnected() {
		return nil, transport.ErrNotOpen
	}
	cmd, p := f.spy.last()
	r, err := f.respond(cmd, p)
	if err != nil {
		return nil, err
	}
	r.Command = cmd
	r.Sequence = p.Sequence
	if r.TransactionID == "" {
		r.TransactionID = p.TransactionID
	}
	out, err := f.spy.BuildResponse(r)
	if err != nil {
		return nil, err
	}
	if !complete(out) {
		return nil, errors.New("fake: built response is not a complete frame")
	}
	return out, nil
}

func (f *fakeTransport) SendRaw(context.Context, []byte) error { return nil }

// terminalScript is a well-behaved terminal whose per-command answers can be overridden.
type terminalScript struct {
	mu        sync.Mutex
	overrides map[codec.Command]responder
	status    terminal.TransactionStatus
}

func (s *terminalScript) on(cmd codec.Command, r responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[cmd] = r
}

func (s *terminalScript) settle(st terminal.TransactionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *terminalScript) respond(cmd codec.Command, p codec.Payload) (codec.Reply, error) {
	s.mu.Lock()
	override, ok := s.overrides[cmd]
	st := s.status
	s.mu.Unlock()
	if ok {
		return override(cmd, p)
	}
	switch cmd {
	case codec.CmdInfo:
		return codec.Reply{Info: terminal.TerminalInfo{SerialNumber: "SN-001", Model: "S920", FirmwareVersion: "2.4.1"}}, nil
	case codec.CmdSale, codec.CmdPix:
		return codec.Reply{Status: terminal.TxPending, Amount: p.Amount, Method: p.Method}, nil
	case codec.CmdStatus:
		return codec.Reply{Status: st, AuthorizationCode: "A1B2C3", NSU: "000123"}, nil
	case codec.CmdCancel:
		return codec.Reply{Status: terminal.TxCancelled}, nil
	case codec.CmdConfirm:
		return codec.Reply{Status: terminal.TxApproved}, nil
	}
	return codec.Reply{}, nil
}

type rig struct {
	hw        *Hardware
	spy       *spyCodec
	transport *fakeTransport
	script    *terminalScript
}

func newRig(t *testing.T, c codec.Codec, cfg Config) *rig {
	t.Helper()
	script := &terminalScript{overrides: map[codec.Command]responder{}, status: terminal.TxProcessing}
	spy := &spyCodec{Codec: c}
	ft := &fakeTransport{spy: spy, respond: script.respond}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return &rig{hw: New(cfg, ft, spy, nil), spy: spy, transport: ft, script: script}
}

func connected(t *testing.T, c codec.Codec, cfg Config) *rig {
	t.Helper()
	r := newRig(t, c, cfg)
	if err := r.hw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return r
}

func fixedIDs(t *testing.T, ids ...string) {
	t.Helper()
	original := newID
	t.Cleanup(func() { newID = original })
	var mu sync.Mutex
	newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id
	}
}

func credit(amount string) terminal.TransactionRequest {
	return terminal.TransactionRequest{
		Amount:        decimal.RequireFromString(amount),
		PaymentMethod: terminal.MethodCredit,
		Installments:  1,
		Description:   "Kiosk order",
	}
}

func TestConnectInitializesAndFetchesInfo(t *testing.T) {
	r := newRig(t, codec.NewStone(codec.Options{}), Config{MerchantID: "M-1", TerminalID: "T-9"})

	var mu sync.Mutex
	var seen []terminal.Status
	r.hw.Subscribe(terminal.ObserverFunc(func(_, to terminal.Status) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	}))

	if err := r.hw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := r.hw.Status(); got != terminal.StatusConnected {
		t.Fatalf("expected connected, got %s", got)
	}
	if info := r.hw.Info(); info.SerialNumber != "SN-001" || info.Model != "S920" {
		t.Fatalf("unexpected info %+v", info)
	}
	sent := r.spy.sent()
	if len(sent) < 2 || sent[0] != codec.CmdInit || sent[1] != codec.CmdInfo {
		t.Fatalf("expected INIT then INFO, got %v", sent)
	}
	if p := r.spy.payloads[0]; p.MerchantID != "M-1" || p.TerminalID != "T-9" {
		t.Fatalf("init payload missing credentials: %+v", p)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != terminal.StatusConnecting || seen[1] != terminal.StatusConnected {
		t.Fatalf("unexpected transitions %v", seen)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	if err := r.hw.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if r.transport.connects != 1 {
		t.Fatalf("expected a single transport connect, got %d", r.transport.connects)
	}
}

func TestConnectRejectedInitRollsBack(t *testing.T) {
	r := newRig(t, codec.NewStone(codec.Options{}), Config{})
	r.script.on(codec.CmdInit, func(codec.Command, codec.Payload) (codec.Reply, error) {
		return codec.Reply{Code: "99", Message: "merchant not enabled"}, nil
	})

	err := r.hw.Connect(context.Background())
	if !errors.Is(err, terminal.ErrTransactionRejected) || !strings.Contains(err.Error(), "merchant not enabled") {
		t.Fatalf("expected rejected init, got %v", err)
	}
	if got := r.hw.Status(); got != terminal.StatusError {
		t.Fatalf("expected error status, got %s", got)
	}
	if r.transport.IsConnected() {
		t.Fatalf("expected transport to be closed after failed init")
	}
}

func TestConnectRetriesTransport(t *testing.T) {
	dialErr := errors.New("connection refused")

	r := newRig(t, codec.NewStone(codec.Options{}), Config{RetryAttempts: 3})
	r.transport.connectErrs = []error{dialErr, dialErr}
	if err := r.hw.Connect(context.Background()); err != nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if r.transport.connects != 3 {
		t.Fatalf("expected 3 attempts, got %d", r.transport.connects)
	}

	r = newRig(t, codec.NewStone(codec.Options{}), Config{RetryAttempts: 2})
	r.transport.connectErrs = []error{dialErr, dialErr}
	err := r.hw.Connect(context.Background())
	if !errors.Is(err, terminal.ErrTransport) || !errors.Is(err, dialErr) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
	if got := r.hw.Status(); got != terminal.StatusError {
		t.Fatalf("expected error status, got %s", got)
	}
}

func TestConnectFallsBackToConfiguredInfo(t *testing.T) {
	r := newRig(t, codec.NewStone(codec.Options{}), Config{DefaultInfo: terminal.TerminalInfo{Model: "configured"}})
	r.script.on(codec.CmdInfo, func(codec.Command, codec.Payload) (codec.Reply, error) {
		return codec.Reply{}, transport.ErrTimeout
	})

	if err := r.hw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := r.hw.Info().Model; got != "configured" {
		t.Fatalf("expected configured model, got %q", got)
	}
}

func TestErrorStateRequiresReset(t *testing.T) {
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	r.script.on(codec.CmdPing, func(codec.Command, codec.Payload) (codec.Reply, error) {
		return codec.Reply{}, errors.New("broken pipe")
	})

	if err := r.hw.Ping(context.Background()); !errors.Is(err, terminal.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if got := r.hw.Status(); got != terminal.StatusError {
		t.Fatalf("expected error status, got %s", got)
	}
	if err := r.hw.Connect(context.Background()); !errors.Is(err, terminal.ErrNotConnected) {
		t.Fatalf("expected connect to refuse error state, got %v", err)
	}

	r.script.on(codec.CmdPing, func(codec.Command, codec.Payload) (codec.Reply, error) { return codec.Reply{}, nil })
	if err := r.hw.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := r.hw.Status(); got != terminal.StatusConnected {
		t.Fatalf("expected connected after reset, got %s", got)
	}
}

func TestPingWhileBusyDoesNotTouchTheWire(t *testing.T) {
	fixedIDs(t, "tx-1")
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	if _, err := r.hw.StartTransaction(context.Background(), credit("10.00")); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := len(r.spy.sent())
	if err := r.hw.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if len(r.spy.sent()) != before {
		t.Fatalf("ping sent a command while busy")
	}
}

func TestTransactionLifecycle(t *testing.T) {
	fixedIDs(t, "tx-1")
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	ctx := context.Background()

	resp, err := r.hw.StartTransaction(ctx, credit("25.50"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.TransactionID != "tx-1" || resp.Status != terminal.TxPending {
		t.Fatalf("unexpected ack %+v", resp)
	}
	if !resp.Amount.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("expected amount 25.50, got %s", resp.Amount)
	}
	if got := r.hw.Status(); got != terminal.StatusBusy {
		t.Fatalf("expected busy, got %s", got)
	}
	if id, ok := r.hw.CurrentTransaction(); !ok || id != "tx-1" {
		t.Fatalf("expected current tx-1, got %q %v", id, ok)
	}

	poll, err := r.hw.GetTransactionStatus(ctx, "tx-1")
	if err != nil || poll.Status != terminal.TxProcessing {
		t.Fatalf("expected processing, got %+v %v", poll, err)
	}
	if r.hw.Status() != terminal.StatusBusy {
		t.Fatalf("non-final poll released the terminal")
	}

	r.script.settle(terminal.TxApproved)
	poll, err = r.hw.GetTransactionStatus(ctx, "tx-1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if poll.Status != terminal.TxApproved || poll.AuthorizationCode != "A1B2C3" {
		t.Fatalf("unexpected settlement %+v", poll)
	}
	if got := r.hw.Status(); got != terminal.StatusConnected {
		t.Fatalf("expected connected after settlement, got %s", got)
	}
	if _, ok := r.hw.CurrentTransaction(); ok {
		t.Fatalf("expected no current transaction")
	}
}

func TestStartTransactionGuards(t *testing.T) {
	ctx := context.Background()

	idle := newRig(t, codec.NewStone(codec.Options{}), Config{})
	if _, err := idle.hw.StartTransaction(ctx, credit("10.00")); !errors.Is(err, terminal.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}

	fixedIDs(t, "tx-1", "tx-2")
	r := connected(t, codec.NewSumUp(codec.Options{}), Config{})

	voucher := credit("10.00")
	voucher.PaymentMethod = terminal.MethodVoucher
	voucher.VoucherType = "meal"
	if _, err := r.hw.StartTransaction(ctx, voucher); !errors.Is(err, terminal.ErrUnsupportedMethod) {
		t.Fatalf("expected unsupported method, got %v", err)
	}

	bad := credit("0.00")
	bad.Installments = 40
	_, err := r.hw.StartTransaction(ctx, bad)
	var verr *terminal.ValidationError
	if !errors.As(err, &verr) || len(verr.Violations) < 2 {
		t.Fatalf("expected every violation reported, got %v", err)
	}
	if got := r.hw.Status(); got != terminal.StatusConnected {
		t.Fatalf("validation failure changed status to %s", got)
	}

	if _, err := r.hw.StartTransaction(ctx, credit("10.00")); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := len(r.spy.sent())
	if _, err := r.hw.StartTransaction(ctx, credit("10.00")); !errors.Is(err, terminal.ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if len(r.spy.sent()) != before {
		t.Fatalf("second start reached the terminal")
	}
}

func TestRejectedSaleReturnsToConnected(t *testing.T) {
	fixedIDs(t, "tx-1")
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	r.script.on(codec.CmdSale, func(codec.Command, codec.Payload) (codec.Reply, error) {
		return codec.Reply{Code: "05", Message: "card blocked"}, nil
	})

	_, err := r.hw.StartTransaction(context.Background(), credit("10.00"))
	var rej *terminal.RejectedError
	if !errors.As(err, &rej) || rej.Message != "card blocked" {
		t.Fatalf("expected rejection with vendor message, got %v", err)
	}
	if got := r.hw.Status(); got != terminal.StatusConnected {
		t.Fatalf("expected connected, got %s", got)
	}
}

func TestPollTimeoutKeepsTransaction(t *testing.T) {
	fixedIDs(t, "tx-1")
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	if _, err := r.hw.StartTransaction(context.Background(), credit("10.00")); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.script.on(codec.CmdStatus, func(codec.Command, codec.Payload) (codec.Reply, error) {
		return codec.Reply{}, transport.ErrTimeout
	})

	if _, err := r.hw.GetTransactionStatus(context.Background(), "tx-1"); !errors.Is(err, terminal.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if got := r.hw.Status(); got != terminal.StatusBusy {
		t.Fatalf("expected busy after timeout, got %s", got)
	}
}

func TestCancelAlwaysReturnsToConnected(t *testing.T) {
	fixedIDs(t, "tx-1")
	r := connected(t, codec.NewRede(codec.Options{}), Config{})
	// A code-only answer reads as approved; a successful cancel still wins.
	r.script.on(codec.CmdCancel, func(codec.Command, codec.Payload) (codec.Reply, error) {
		return codec.Reply{}, nil
	})
	if _, err := r.hw.StartTransaction(context.Background(), credit("10.00")); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := r.hw.CancelTransaction(context.Background(), "tx-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if resp.Status != terminal.TxCancelled {
		t.Fatalf("expected cancelled, got %s", resp.Status)
	}
	if got := r.hw.Status(); got != terminal.StatusConnected {
		t.Fatalf("expected connected, got %s", got)
	}
}

func TestCancelIsSentForUnknownTransactions(t *testing.T) {
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	if _, err := r.hw.CancelTransaction(context.Background(), "elsewhere"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cmd, p := r.spy.last()
	if cmd != codec.CmdCancel || p.TransactionID != "elsewhere" {
		t.Fatalf("expected CANCEL for elsewhere, got %s %q", cmd, p.TransactionID)
	}
}

func TestConfirmDependsOnProtocol(t *testing.T) {
	fixedIDs(t, "tx-1")
	ctx := context.Background()

	cielo := connected(t, codec.NewCielo(codec.Options{}), Config{})
	if _, err := cielo.hw.StartTransaction(ctx, credit("10.00")); err != nil {
		t.Fatalf("start: %v", err)
	}
	resp, err := cielo.hw.ConfirmTransaction(ctx, "tx-1")
	if err != nil || resp.Status != terminal.TxApproved {
		t.Fatalf("confirm: %+v %v", resp, err)
	}
	if cmd, _ := cielo.spy.last(); cmd != codec.CmdConfirm {
		t.Fatalf("expected CONFIRM on the wire, got %s", cmd)
	}
	if cielo.hw.Status() != terminal.StatusConnected {
		t.Fatalf("confirmed sale did not release the terminal")
	}

	stone := connected(t, codec.NewStone(codec.Options{}), Config{})
	if _, err := stone.hw.ConfirmTransaction(ctx, "tx-1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if cmd, _ := stone.spy.last(); cmd != codec.CmdStatus {
		t.Fatalf("expected STATUS poll, got %s", cmd)
	}
}

func TestPixSaleGetsBRCode(t *testing.T) {
	fixedIDs(t, "8c9a3f0e")
	r := connected(t, codec.NewStone(codec.Options{}), Config{
		Pix: terminal.PixSettings{PixKey: "pix@kiosk.example", MerchantName: "Kiosk Ltda", MerchantCity: "Sao Paulo"},
	})

	req := terminal.TransactionRequest{
		Amount:           decimal.RequireFromString("12.34"),
		PaymentMethod:    terminal.MethodPix,
		Installments:     1,
		Description:      "Kiosk order",
		CustomerDocument: "12345678909",
	}
	resp, err := r.hw.StartTransaction(context.Background(), req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if cmd, p := r.spy.last(); cmd != codec.CmdPix || p.PixKey != "pix@kiosk.example" {
		t.Fatalf("expected PIX command carrying the tenant key, got %s %+v", cmd, p)
	}
	if !codec.VerifyBRCode(resp.PixCopyPaste) {
		t.Fatalf("invalid BR Code %q", resp.PixCopyPaste)
	}
	if !strings.Contains(resp.PixCopyPaste, "540512.34") {
		t.Fatalf("BR Code misses amount: %q", resp.PixCopyPaste)
	}
}

func TestSideEffectsKeepStatus(t *testing.T) {
	r := connected(t, codec.NewPagSeguro(codec.Options{}), Config{})
	r.script.on(codec.CmdPrint, func(codec.Command, codec.Payload) (codec.Reply, error) {
		return codec.Reply{Code: "14", Message: "out of paper"}, nil
	})

	err := r.hw.PrintReceipt(context.Background(), "tx-1", terminal.ReceiptCustomer)
	if err == nil || !strings.Contains(err.Error(), "out of paper") {
		t.Fatalf("expected print failure, got %v", err)
	}
	if err := r.hw.PrintCustomText(context.Background(), "Obrigado!"); err != nil {
		t.Fatalf("print text: %v", err)
	}
	if err := r.hw.Configure(context.Background(), map[string]string{"brightness": "80"}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got := r.hw.Status(); got != terminal.StatusConnected {
		t.Fatalf("expected connected, got %s", got)
	}
}

func TestSequenceIncrementsPerCommand(t *testing.T) {
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	_ = r.hw.Ping(context.Background())

	r.spy.mu.Lock()
	defer r.spy.mu.Unlock()
	for i, p := range r.spy.payloads {
		if p.Sequence != uint32(i+1) {
			t.Fatalf("command %d carried sequence %d", i, p.Sequence)
		}
	}
}

func TestMaintenance(t *testing.T) {
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	if err := r.hw.EnterMaintenance(context.Background()); err != nil {
		t.Fatalf("enter maintenance: %v", err)
	}
	if r.hw.Status() != terminal.StatusMaintenance || r.transport.IsConnected() {
		t.Fatalf("expected maintenance with closed link")
	}
	if _, err := r.hw.StartTransaction(context.Background(), credit("10.00")); !errors.Is(err, terminal.ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if err := r.hw.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if r.hw.Status() != terminal.StatusConnected {
		t.Fatalf("expected connected after reset")
	}
}

func TestObserverPanicDoesNotBreakConnect(t *testing.T) {
	r := newRig(t, codec.NewGetNet(codec.Options{}), Config{})
	r.hw.Subscribe(terminal.ObserverFunc(func(_, _ terminal.Status) { panic("observer") }))
	if err := r.hw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if r.hw.Status() != terminal.StatusConnected {
		t.Fatalf("expected connected")
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// silentTerminal accepts connections and reads everything without ever answering.
func silentTerminal(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(io.Discard, c)
			}(c)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestDisconnectAbortsConnectWaitingOnTerminal(t *testing.T) {
	port := silentTerminal(t)
	tr, err := transport.New(transport.Config{Kind: transport.KindTCP, Host: "127.0.0.1", TCPPort: port, Timeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	hw := New(Config{RetryAttempts: 3}, tr, codec.NewStone(codec.Options{}), nil)

	done := make(chan error, 1)
	go func() { done <- hw.Connect(context.Background()) }()
	waitFor(t, time.Second, func() bool { return tr.IsConnected() && hw.Status() == terminal.StatusConnecting })

	start := time.Now()
	if err := hw.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("disconnect waited %s for the pending connect", elapsed)
	}
	select {
	case err := <-done:
		if !errors.Is(err, terminal.ErrNotConnected) {
			t.Fatalf("expected aborted connect, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("connect did not return after disconnect")
	}
	if hw.Status() != terminal.StatusDisconnected || tr.IsConnected() {
		t.Fatalf("expected disconnected with closed link, got %s", hw.Status())
	}
}

func TestPingInterruptedByDisconnectStaysDisconnected(t *testing.T) {
	r := connected(t, codec.NewStone(codec.Options{}), Config{})
	entered := make(chan struct{})
	release := make(chan struct{})
	r.script.on(codec.CmdPing, func(codec.Command, codec.Payload) (codec.Reply, error) {
		close(entered)
		<-release
		return codec.Reply{}, errors.New("use of closed connection")
	})

	done := make(chan error, 1)
	go func() { done <- r.hw.Ping(context.Background()) }()
	<-entered
	if err := r.hw.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	close(release)
	if err := <-done; err == nil {
		t.Fatalf("expected ping error")
	}
	if got := r.hw.Status(); got != terminal.StatusDisconnected {
		t.Fatalf("expected disconnected after interrupted ping, got %s", got)
	}
}
