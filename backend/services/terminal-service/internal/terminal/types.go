package terminal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the adapter-level connection state.
type Status string

// Terminal statuses.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusBusy         Status = "busy"
	StatusError        Status = "error"
	StatusMaintenance  Status = "maintenance"
)

func (s Status) String() string { return string(s) }

// Online reports whether commands can be sent in this state.
func (s Status) Online() bool {
	return s == StatusConnected || s == StatusBusy
}

// TransactionStatus is the per-transaction settlement state.
type TransactionStatus string

// Transaction statuses.
const (
	TxPending    TransactionStatus = "pending"
	TxProcessing TransactionStatus = "processing"
	TxApproved   TransactionStatus = "approved"
	TxDeclined   TransactionStatus = "declined"
	TxCancelled  TransactionStatus = "cancelled"
	TxTimeout    TransactionStatus = "timeout"
	TxError      TransactionStatus = "error"
)

// Final reports whether no further transition is possible.
func (s TransactionStatus) Final() bool {
	switch s {
	case TxApproved, TxDeclined, TxCancelled, TxTimeout, TxError:
		return true
	default:
		return false
	}
}

// PaymentMethod identifies how the customer pays.
type PaymentMethod string

// Payment methods.
const (
	MethodCredit      PaymentMethod = "credit_card"
	MethodDebit       PaymentMethod = "debit_card"
	MethodPix         PaymentMethod = "pix"
	MethodContactless PaymentMethod = "contactless"
	MethodVoucher     PaymentMethod = "voucher"
	MethodBoleto      PaymentMethod = "boleto"
)

// AllMethods lists every known payment method in display order.
var AllMethods = []PaymentMethod{MethodCredit, MethodDebit, MethodPix, MethodContactless, MethodVoucher, MethodBoleto}

// ParsePaymentMethod accepts the canonical names plus the short credit/debit aliases.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credit", "credit_card":
		return MethodCredit, nil
	case "debit", "debit_card":
		return MethodDebit, nil
	case "pix":
		return MethodPix, nil
	case "contactless", "nfc":
		return MethodContactless, nil
	case "voucher":
		return MethodVoucher, nil
	case "boleto":
		return MethodBoleto, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
}

// Known reports whether m is one of AllMethods.
func (m PaymentMethod) Known() bool {
	for _, k := range AllMethods {
		if k == m {
			return true
		}
	}
	return false
}

// ReceiptKind selects which copy of a receipt is printed.
type ReceiptKind string

// Receipt copies.
const (
	ReceiptCustomer ReceiptKind = "customer"
	ReceiptMerchant ReceiptKind = "merchant"
)

// TerminalInfo describes the physical device. Battery and signal are nil when unknown.
type TerminalInfo struct {
	SerialNumber    string `json:"serial_number"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version"`
	BatteryLevel    *int   `json:"battery_level,omitempty"`
	SignalStrength  *int   `json:"signal_strength,omitempty"`
}

// TransactionRequest is what a caller asks a terminal to charge.
type TransactionRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	Installments     int             `json:"installments"`
	Description      string          `json:"description"`
	CustomerName     string          `json:"customer_name,omitempty"`
	CustomerDocument string          `json:"customer_document,omitempty"`

	PixKey        string        `json:"pix_key,omitempty"`
	PixExpiration time.Duration `json:"pix_expiration,omitempty"`

	CardBrand   string `json:"card_brand,omitempty"`
	VoucherType string `json:"voucher_type,omitempty"`

	BoletoDueDate  time.Time       `json:"boleto_due_date,omitempty"`
	BoletoFine     decimal.Decimal `json:"boleto_fine,omitempty"`
	BoletoInterest decimal.Decimal `json:"boleto_interest,omitempty"`
}

// TransactionResponse is an immutable snapshot of a transaction as reported by a terminal.
// A new poll yields a new value.
type TransactionResponse struct {
	TransactionID     string            `json:"transaction_id"`
	Status            TransactionStatus `json:"status"`
	Amount            decimal.Decimal   `json:"amount"`
	PaymentMethod     PaymentMethod     `json:"payment_method"`
	AuthorizationCode string            `json:"authorization_code,omitempty"`
	NSU               string            `json:"nsu,omitempty"`
	CardBrand         string            `json:"card_brand,omitempty"`
	CardLastDigits    string            `json:"card_last_digits,omitempty"`
	Installments      int               `json:"installments"`
	PixQRCode         string            `json:"pix_qr_code,omitempty"`
	PixCopyPaste      string            `json:"pix_copy_paste,omitempty"`
	BoletoBarcode     string            `json:"boleto_barcode,omitempty"`
	BoletoURL         string            `json:"boleto_url,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

// Final reports whether the transaction has settled.
func (r TransactionResponse) Final() bool { return r.Status.Final() }

// ToCents converts a decimal amount to integer minor units, rounding half away from zero.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromCents converts integer minor units back to a decimal amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
