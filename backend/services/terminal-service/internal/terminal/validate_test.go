package terminal

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestValidateAcceptsValidRequests(t *testing.T) {
	cfg := DefaultMethodConfig()
	cases := []TransactionRequest{
		{Amount: amount("25.50"), PaymentMethod: MethodCredit, Installments: 3},
		{Amount: amount("10.00"), PaymentMethod: MethodDebit, Installments: 1},
		{Amount: amount("0.01"), PaymentMethod: MethodPix, Installments: 1, PixExpiration: time.Hour},
		{Amount: amount("50.00"), PaymentMethod: MethodVoucher, Installments: 1, VoucherType: "meal"},
		{Amount: amount("100.00"), PaymentMethod: MethodBoleto, Installments: 1, BoletoDueDate: time.Now().AddDate(0, 0, 3), BoletoFine: amount("2")},
		{Amount: amount("12.34"), PaymentMethod: MethodContactless, Installments: 1, CustomerDocument: "123.456.789-09"},
	}
	for _, req := range cases {
		if errs := req.Validate(cfg); len(errs) != 0 {
			t.Fatalf("expected %s %s to validate, got %v", req.PaymentMethod, req.Amount, errs)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	cfg := DefaultMethodConfig()
	pixStrict := cfg.Merge(MethodConfig{MethodPix: {MinAmount: amount("0.01"), MaxAmount: amount("1000"), RequireDocument: true}})

	cases := []struct {
		name string
		cfg  MethodConfig
		req  TransactionRequest
		want string
	}{
		{"zero amount", cfg, TransactionRequest{Amount: decimal.Zero, PaymentMethod: MethodCredit, Installments: 1}, "positive"},
		{"sub cent", cfg, TransactionRequest{Amount: amount("1.005"), PaymentMethod: MethodCredit, Installments: 1}, "two decimal"},
		{"unknown method", cfg, TransactionRequest{Amount: amount("1"), PaymentMethod: "cash", Installments: 1}, "unknown payment method"},
		{"too many installments", cfg, TransactionRequest{Amount: amount("100"), PaymentMethod: MethodCredit, Installments: 13}, "installments above"},
		{"debit installments", cfg, TransactionRequest{Amount: amount("100"), PaymentMethod: MethodDebit, Installments: 2}, "does not accept installments"},
		{"zero installments", cfg, TransactionRequest{Amount: amount("100"), PaymentMethod: MethodCredit}, "at least 1"},
		{"below minimum", cfg, TransactionRequest{Amount: amount("0.50"), PaymentMethod: MethodCredit, Installments: 1}, "below minimum"},
		{"above contactless max", cfg, TransactionRequest{Amount: amount("200.01"), PaymentMethod: MethodContactless, Installments: 1}, "above maximum"},
		{"pix document", pixStrict, TransactionRequest{Amount: amount("5"), PaymentMethod: MethodPix, Installments: 1}, "requires a customer document"},
		{"bad document", cfg, TransactionRequest{Amount: amount("5"), PaymentMethod: MethodPix, Installments: 1, CustomerDocument: "123"}, "11 (CPF)"},
		{"pix expiry", cfg, TransactionRequest{Amount: amount("5"), PaymentMethod: MethodPix, Installments: 1, PixExpiration: 48 * time.Hour}, "expiration above"},
		{"voucher type", cfg, TransactionRequest{Amount: amount("5"), PaymentMethod: MethodVoucher, Installments: 1, VoucherType: "gift"}, "voucher type"},
		{"boleto due date", cfg, TransactionRequest{Amount: amount("50"), PaymentMethod: MethodBoleto, Installments: 1}, "due date"},
		{"boleto past", cfg, TransactionRequest{Amount: amount("50"), PaymentMethod: MethodBoleto, Installments: 1, BoletoDueDate: time.Now().AddDate(0, 0, -2)}, "in the past"},
		{"boleto fine", cfg, TransactionRequest{Amount: amount("50"), PaymentMethod: MethodBoleto, Installments: 1, BoletoDueDate: time.Now().AddDate(0, 1, 0), BoletoFine: amount("101")}, "fine"},
		{"description", cfg, TransactionRequest{Amount: amount("5"), PaymentMethod: MethodDebit, Installments: 1, Description: strings.Repeat("x", 101)}, "description"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := tc.req.Validate(tc.cfg)
			if len(errs) == 0 {
				t.Fatalf("expected violation containing %q", tc.want)
			}
			found := false
			for _, err := range errs {
				if strings.Contains(err.Error(), tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected violation containing %q, got %v", tc.want, errs)
			}
		})
	}
}

func TestValidationErrorWrapsAllViolations(t *testing.T) {
	req := TransactionRequest{Amount: decimal.Zero, PaymentMethod: MethodDebit, Installments: 0}
	err := NewValidationError(req.Validate(DefaultMethodConfig()))
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("expected ErrValidationFailed, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Violations) < 2 {
		t.Fatalf("expected multiple violations, got %v", err)
	}
	if NewValidationError(nil) != nil {
		t.Fatalf("no violations must produce a nil error")
	}
}

func TestCentsConversion(t *testing.T) {
	cases := map[string]int64{"25.50": 2550, "0.01": 1, "1": 100, "99999.99": 9999999}
	for in, want := range cases {
		got := ToCents(amount(in))
		if got != want {
			t.Fatalf("ToCents(%s) = %d, want %d", in, got, want)
		}
		if !FromCents(got).Equal(amount(in)) {
			t.Fatalf("FromCents(%d) = %s, want %s", got, FromCents(got), in)
		}
	}
}

func TestParsePaymentMethod(t *testing.T) {
	if m, err := ParsePaymentMethod("Credit"); err != nil || m != MethodCredit {
		t.Fatalf("expected credit alias, got %s %v", m, err)
	}
	if _, err := ParsePaymentMethod("cash"); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestMergeKeepsUnsetDefaults(t *testing.T) {
	merged := DefaultMethodConfig().Merge(MethodConfig{
		MethodPix:    {RequireDocument: true},
		MethodCredit: {MaxInstallments: 6},
	})

	pix := merged[MethodPix]
	if !pix.RequireDocument || !pix.MaxAmount.Equal(amount("100000.00")) || !pix.MinAmount.Equal(amount("0.01")) || pix.MaxExpiration != 24*time.Hour {
		t.Fatalf("pix override dropped defaults: %+v", pix)
	}
	credit := merged[MethodCredit]
	if credit.MaxInstallments != 6 || !credit.MaxAmount.Equal(amount("50000.00")) {
		t.Fatalf("credit override dropped defaults: %+v", credit)
	}

	req := TransactionRequest{Amount: amount("200000.00"), PaymentMethod: MethodPix, Installments: 1, CustomerDocument: "123.456.789-09"}
	if errs := req.Validate(merged); len(errs) == 0 {
		t.Fatalf("expected pix amount above the default maximum to be rejected")
	}
}
