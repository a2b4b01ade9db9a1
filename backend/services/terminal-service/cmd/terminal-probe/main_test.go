package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"kioskpay/backend/services/terminal-service/internal/factory"
	"kioskpay/backend/services/terminal-service/internal/terminal"
)

func simulated(t *testing.T, delay string) terminal.Adapter {
	t.Helper()
	cfg, err := terminal.ParseConfig([]byte(`{"vendor": "simulator", "simulator": {"delay": "` + delay + `", "failure_rate": 0}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a, err := factory.Default().Build(cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a
}

func TestSaleRequest(t *testing.T) {
	req, err := saleRequest(options{amount: "12.50", method: "debit_card", installments: 1})
	if err != nil {
		t.Fatalf("sale request: %v", err)
	}
	if req.PaymentMethod != terminal.MethodDebit || req.Amount.String() != "12.5" {
		t.Fatalf("unexpected request %+v", req)
	}
	if _, err := saleRequest(options{amount: "ten", method: "credit"}); err == nil {
		t.Fatalf("expected amount error")
	}
	if _, err := saleRequest(options{amount: "10.00", method: "cheque"}); !errors.Is(err, terminal.ErrUnsupportedMethod) {
		t.Fatalf("expected unsupported method, got %v", err)
	}
}

func TestSalePollsToApproval(t *testing.T) {
	a := simulated(t, "20ms")
	opts := options{amount: "10.00", method: "credit", installments: 1, pollInterval: 10 * time.Millisecond, timeout: time.Second, receipt: true}
	req, _ := saleRequest(opts)

	resp, err := sale(context.Background(), a, req, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if resp.Status != terminal.TxApproved {
		t.Fatalf("expected approved, got %s", resp.Status)
	}
}

func TestSaleCancelsAtDeadline(t *testing.T) {
	a := simulated(t, "1m")
	opts := options{amount: "10.00", method: "credit", installments: 1, pollInterval: 10 * time.Millisecond, timeout: 50 * time.Millisecond}
	req, _ := saleRequest(opts)

	resp, err := sale(context.Background(), a, req, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if resp.Status != terminal.TxCancelled || a.Status() != terminal.StatusConnected {
		t.Fatalf("expected cancelled sale and idle terminal, got %s %s", resp.Status, a.Status())
	}
}

func TestProbeWithoutSale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.jsonc")
	if err := os.WriteFile(path, []byte("{\"vendor\": \"simulator\", // bench\n}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := probe(context.Background(), options{configPath: path}, zap.NewNop()); err != nil {
		t.Fatalf("probe: %v", err)
	}
}
