// terminal-probe checks a card terminal against its tenant configuration: it connects,
// prints the device description and optionally runs one sale to completion.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"kioskpay/backend/libs/logging"
	"kioskpay/backend/services/terminal-service/internal/factory"
	"kioskpay/backend/services/terminal-service/internal/terminal"
	"kioskpay/backend/services/terminal-service/internal/transport"
)

type options struct {
	configPath   string
	listPorts    bool
	amount       string
	method       string
	installments int
	description  string
	pollInterval time.Duration
	timeout      time.Duration
	cancel       bool
	receipt      bool
	logLevel     string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flags := pflag.NewFlagSet("terminal-probe", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "tenant terminal config (JSON, comments allowed)")
	flags.BoolVar(&opts.listPorts, "list-ports", false, "list serial ports and exit")
	flags.StringVar(&opts.amount, "amount", "", "run a sale of this amount, e.g. 10.00")
	flags.StringVar(&opts.method, "method", "credit", "payment method for the sale")
	flags.IntVar(&opts.installments, "installments", 1, "installments for credit sales")
	flags.StringVar(&opts.description, "description", "terminal probe", "sale description")
	flags.DurationVar(&opts.pollInterval, "poll-interval", 2*time.Second, "status poll interval")
	flags.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "give up on the sale and cancel it after this long")
	flags.BoolVar(&opts.cancel, "cancel", false, "cancel the sale right after the terminal accepts it")
	flags.BoolVar(&opts.receipt, "receipt", false, "print the customer receipt after approval")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.listPorts {
		return printPorts()
	}
	if opts.configPath == "" {
		return errors.New("--config is required")
	}

	logger, err := logging.NewDevelopment(opts.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return probe(ctx, opts, logger)
}

func printPorts() error {
	ports, err := transport.Ports()
	if err != nil {
		return err
	}
	for _, p := range ports {
		if p.USB {
			fmt.Printf("%s\tusb %s:%s\t%s\t%s\n", p.Name, p.VID, p.PID, p.Product, p.Serial)
			continue
		}
		fmt.Printf("%s\n", p.Name)
	}
	return nil
}

func probe(ctx context.Context, opts options, logger *zap.Logger) error {
	data, err := os.ReadFile(opts.configPath)
	if err != nil {
		return err
	}
	cfg, err := terminal.ParseConfig(data)
	if err != nil {
		return err
	}
	a, err := factory.Default().Build(cfg, logger)
	if err != nil {
		return err
	}
	a.Subscribe(terminal.ObserverFunc(func(old, new terminal.Status) {
		logger.Info("status", zap.String("old_status", old.String()), zap.String("new_status", new.String()))
	}))

	if err := a.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer a.Disconnect(context.WithoutCancel(ctx))

	if err := printJSON(struct {
		Vendor  string                   `json:"vendor"`
		Info    terminal.TerminalInfo    `json:"info"`
		Methods []terminal.PaymentMethod `json:"payment_methods"`
	}{a.Vendor(), a.Info(), a.SupportedPaymentMethods()}); err != nil {
		return err
	}
	if opts.amount == "" {
		return a.Ping(ctx)
	}

	req, err := saleRequest(opts)
	if err != nil {
		return err
	}
	resp, err := sale(ctx, a, req, opts, logger)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func saleRequest(opts options) (terminal.TransactionRequest, error) {
	amount, err := decimal.NewFromString(opts.amount)
	if err != nil {
		return terminal.TransactionRequest{}, fmt.Errorf("invalid --amount: %w", err)
	}
	method, err := terminal.ParsePaymentMethod(opts.method)
	if err != nil {
		return terminal.TransactionRequest{}, err
	}
	return terminal.TransactionRequest{
		Amount:        amount,
		PaymentMethod: method,
		Installments:  opts.installments,
		Description:   opts.description,
	}, nil
}

// sale starts a transaction and polls it to a final status. A sale still open at the
// deadline, or when the probe is interrupted, is cancelled on the terminal.
func sale(ctx context.Context, a terminal.Adapter, req terminal.TransactionRequest, opts options, logger *zap.Logger) (terminal.TransactionResponse, error) {
	resp, err := a.StartTransaction(ctx, req)
	if err != nil {
		return resp, fmt.Errorf("start: %w", err)
	}
	id := resp.TransactionID
	logger.Info("transaction accepted", zap.String("transaction_id", id))
	if resp.PixCopyPaste != "" {
		fmt.Printf("pix: %s\n", resp.PixCopyPaste)
	}
	if opts.cancel {
		return a.CancelTransaction(context.WithoutCancel(ctx), id)
	}

	deadline := time.NewTimer(opts.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.pollInterval)
	defer ticker.Stop()
	for !resp.Final() {
		select {
		case <-ctx.Done():
			logger.Warn("interrupted, cancelling", zap.String("transaction_id", id))
			return a.CancelTransaction(context.WithoutCancel(ctx), id)
		case <-deadline.C:
			logger.Warn("timed out, cancelling", zap.String("transaction_id", id))
			return a.CancelTransaction(ctx, id)
		case <-ticker.C:
			next, err := a.GetTransactionStatus(ctx, id)
			if err != nil {
				logger.Warn("poll failed", zap.Error(err))
				continue
			}
			resp = next
			logger.Info("poll", zap.String("status", string(resp.Status)))
		}
	}

	if resp.Status == terminal.TxApproved {
		if confirmed, err := a.ConfirmTransaction(ctx, id); err != nil {
			logger.Warn("confirm failed", zap.Error(err))
		} else {
			resp = confirmed
		}
		if opts.receipt {
			if err := a.PrintReceipt(ctx, id, terminal.ReceiptCustomer); err != nil {
				logger.Warn("receipt failed", zap.Error(err))
			}
		}
	}
	return resp, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
