package terminal

import (
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const maxDescriptionLength = 100

// MethodLimits bounds a single payment method.
type MethodLimits struct {
	MinAmount       decimal.Decimal `json:"min_amount"`
	MaxAmount       decimal.Decimal `json:"max_amount"`
	MaxInstallments int             `json:"max_installments"`
	// RequireDocument forces a CPF/CNPJ on the request (used for PIX).
	RequireDocument bool          `json:"require_document"`
	MaxExpiration   time.Duration `json:"max_expiration"`
}

// MethodConfig maps each method to its limits. Methods absent from the map are only
// checked against the generic rules.
type MethodConfig map[PaymentMethod]MethodLimits

var voucherTypes = map[string]bool{"meal": true, "food": true, "fuel": true, "culture": true}

// DefaultMethodConfig returns the stock limits used when a tenant does not override them.
func DefaultMethodConfig() MethodConfig {
	d := decimal.RequireFromString
	return MethodConfig{
		MethodCredit:      {MinAmount: d("1.00"), MaxAmount: d("50000.00"), MaxInstallments: 12},
		MethodDebit:       {MinAmount: d("1.00"), MaxAmount: d("50000.00"), MaxInstallments: 1},
		MethodPix:         {MinAmount: d("0.01"), MaxAmount: d("100000.00"), MaxInstallments: 1, MaxExpiration: 24 * time.Hour},
		MethodContactless: {MinAmount: d("0.01"), MaxAmount: d("200.00"), MaxInstallments: 1},
		MethodVoucher:     {MinAmount: d("1.00"), MaxAmount: d("3000.00"), MaxInstallments: 1},
		MethodBoleto:      {MinAmount: d("5.00"), MaxAmount: d("100000.00"), MaxInstallments: 1},
	}
}

// Merge returns a copy of c with the non-zero fields of each override entry applied on
// top of the matching default.
func (c MethodConfig) Merge(override MethodConfig) MethodConfig {
	out := make(MethodConfig, len(c)+len(override))
	for k, v := range c {
		out[k] = v
	}
	for k, o := range override {
		out[k] = out[k].merge(o)
	}
	return out
}

func (l MethodLimits) merge(o MethodLimits) MethodLimits {
	if !o.MinAmount.IsZero() {
		l.MinAmount = o.MinAmount
	}
	if !o.MaxAmount.IsZero() {
		l.MaxAmount = o.MaxAmount
	}
	if o.MaxInstallments != 0 {
		l.MaxInstallments = o.MaxInstallments
	}
	if o.RequireDocument {
		l.RequireDocument = true
	}
	if o.MaxExpiration != 0 {
		l.MaxExpiration = o.MaxExpiration
	}
	return l
}

// Validate checks the request against generic and per-method constraints. It returns every
// violation found, or nil when the request can be sent to a terminal.
func (r TransactionRequest) Validate(cfg MethodConfig) []error {
	var errs []error

	if !r.Amount.IsPositive() {
		errs = append(errs, fmt.Errorf("amount must be positive, got %s", r.Amount.String()))
	} else if !r.Amount.Equal(r.Amount.Round(2)) {
		errs = append(errs, fmt.Errorf("amount %s has more than two decimal places", r.Amount.String()))
	}

	if !r.PaymentMethod.Known() {
		errs = append(errs, fmt.Errorf("unknown payment method %q", r.PaymentMethod))
		return errs
	}

	if r.Installments < 1 {
		errs = append(errs, fmt.Errorf("installments must be at least 1, got %d", r.Installments))
	} else if r.PaymentMethod != MethodCredit && r.Installments != 1 {
		errs = append(errs, fmt.Errorf("%s does not accept installments", r.PaymentMethod))
	}

	if utf8.RuneCountInString(r.Description) > maxDescriptionLength {
		errs = append(errs, fmt.Errorf("description longer than %d characters", maxDescriptionLength))
	}

	if r.CustomerDocument != "" && !validDocument(r.CustomerDocument) {
		errs = append(errs, fmt.Errorf("customer document must have 11 (CPF) or 14 (CNPJ) digits"))
	}

	limits, ok := cfg[r.PaymentMethod]
	if ok {
		if !limits.MinAmount.IsZero() && r.Amount.LessThan(limits.MinAmount) {
			errs = append(errs, fmt.Errorf("%s amount below minimum %s", r.PaymentMethod, limits.MinAmount.StringFixed(2)))
		}
		if !limits.MaxAmount.IsZero() && r.Amount.GreaterThan(limits.MaxAmount) {
			errs = append(errs, fmt.Errorf("%s amount above maximum %s", r.PaymentMethod, limits.MaxAmount.StringFixed(2)))
		}
		if r.PaymentMethod == MethodCredit && limits.MaxInstallments > 0 && r.Installments > limits.MaxInstallments {
			errs = append(errs, fmt.Errorf("credit installments above maximum %d", limits.MaxInstallments))
		}
	}

	switch r.PaymentMethod {
	case MethodPix:
		if ok && limits.RequireDocument && r.CustomerDocument == "" {
			errs = append(errs, fmt.Errorf("pix requires a customer document"))
		}
		if r.PixExpiration < 0 {
			errs = append(errs, fmt.Errorf("pix expiration must not be negative"))
		} else if ok && limits.MaxExpiration > 0 && r.PixExpiration > limits.MaxExpiration {
			errs = append(errs, fmt.Errorf("pix expiration above maximum %s", limits.MaxExpiration))
		}
	case MethodVoucher:
		if r.VoucherType != "" && !voucherTypes[r.VoucherType] {
			errs = append(errs, fmt.Errorf("unknown voucher type %q", r.VoucherType))
		}
	case MethodBoleto:
		if r.BoletoDueDate.IsZero() {
			errs = append(errs, fmt.Errorf("boleto requires a due date"))
		} else if r.BoletoDueDate.Before(startOfDay(time.Now())) {
			errs = append(errs, fmt.Errorf("boleto due date is in the past"))
		}
		if !percentInRange(r.BoletoFine) {
			errs = append(errs, fmt.Errorf("boleto fine must be between 0 and 100 percent"))
		}
		if !percentInRange(r.BoletoInterest) {
			errs = append(errs, fmt.Errorf("boleto interest must be between 0 and 100 percent"))
		}
	}

	return errs
}

func validDocument(doc string) bool {
	digits := 0
	for _, r := range doc {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '.' || r == '-' || r == '/':
		default:
			return false
		}
	}
	return digits == 11 || digits == 14
}

func percentInRange(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(decimal.NewFromInt(100))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
