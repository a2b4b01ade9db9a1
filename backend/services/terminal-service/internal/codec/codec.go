// Package codec turns terminal commands into vendor wire frames and vendor responses back
// into the shared transaction model. Everything here is pure: no I/O, no clocks except the
// timestamp stamped on parsed responses.
package codec

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

// Command names a terminal operation.
type Command string

// Commands understood by every vendor codec.
const (
	CmdInit      Command = "INIT"
	CmdInfo      Command = "INFO"
	CmdSale      Command = "SALE"
	CmdPix       Command = "PIX"
	CmdStatus    Command = "STATUS"
	CmdCancel    Command = "CANCEL"
	CmdConfirm   Command = "CONFIRM"
	CmdPrint     Command = "PRINT"
	CmdPrintText Command = "PRINT_TEXT"
	CmdConfigure Command = "CONFIGURE"
	CmdPing      Command = "PING"
)

var (
	ErrMalformedFrame     = errors.New("codec: malformed frame")
	ErrIntegrity          = errors.New("codec: integrity check failed")
	ErrUnsupportedCommand = errors.New("codec: unsupported command")
)

const (
	stx = 0x02
	etx = 0x03
)

// CodeApproved is the shared success result code.
const CodeApproved = "00"

// Payload carries command arguments. Fields irrelevant to a command are ignored.
type Payload struct {
	// Sequence numbers text frames; the caller increments it per command.
	Sequence uint32

	TransactionID    string
	Amount           decimal.Decimal
	Method           terminal.PaymentMethod
	Installments     int
	Description      string
	CustomerName     string
	CustomerDocument string
	PixKey           string
	PixExpiration    time.Duration
	CardBrand        string
	VoucherType      string
	BoletoDueDate    time.Time
	BoletoFine       decimal.Decimal
	BoletoInterest   decimal.Decimal

	Receipt  terminal.ReceiptKind
	Text     string
	Settings map[string]string

	MerchantID string
	TerminalID string
}

// PayloadFromRequest copies a transaction request into command arguments.
func PayloadFromRequest(id string, req terminal.TransactionRequest) Payload {
	return Payload{
		TransactionID:    id,
		Amount:           req.Amount,
		Method:           req.PaymentMethod,
		Installments:     req.Installments,
		Description:      req.Description,
		CustomerName:     req.CustomerName,
		CustomerDocument: req.CustomerDocument,
		PixKey:           req.PixKey,
		PixExpiration:    req.PixExpiration,
		CardBrand:        req.CardBrand,
		VoucherType:      req.VoucherType,
		BoletoDueDate:    req.BoletoDueDate,
		BoletoFine:       req.BoletoFine,
		BoletoInterest:   req.BoletoInterest,
	}
}

// Reply describes a terminal answer. BuildResponse renders it as the vendor would, which
// lets tests and the probe's dry run speak to a codec without hardware.
type Reply struct {
	Command  Command
	Sequence uint32
	// Code is the result code; empty means CodeApproved.
	Code    string
	Message string

	Status            terminal.TransactionStatus
	TransactionID     string
	Amount            decimal.Decimal
	Method            terminal.PaymentMethod
	Installments      int
	AuthorizationCode string
	NSU               string
	CardBrand         string
	CardLastDigits    string
	PixQRCode         string
	PixCopyPaste      string
	BoletoBarcode     string
	BoletoURL         string

	Info terminal.TerminalInfo
}

func (r Reply) code() string {
	if r.Code == "" {
		return CodeApproved
	}
	return r.Code
}

// Codec encodes commands and decodes responses for one vendor protocol.
type Codec interface {
	Vendor() string
	BuildCommand(cmd Command, p Payload) ([]byte, error)
	// Complete reports whether buf holds a whole response frame.
	Complete(buf []byte) bool
	IsSuccess(frame []byte) bool
	ErrorMessage(frame []byte) string
	// ParseTransactionResponse maps the vendor's status onto the shared enum. Unknown
	// vendor statuses map to error.
	ParseTransactionResponse(id string, frame []byte) (terminal.TransactionResponse, error)
	ParseTerminalInfo(frame []byte) (terminal.TerminalInfo, error)
	// RequiresConfirm reports whether an approved sale needs an explicit CONFIRM.
	RequiresConfirm() bool
	// Methods lists the payment methods the protocol can carry.
	Methods() []terminal.PaymentMethod
	BuildResponse(r Reply) ([]byte, error)
}

// Options configures a vendor codec.
type Options struct {
	// Secret keys the integrity tag on text protocols. Empty disables the tag.
	Secret string
}

// StatusMap translates a vendor status vocabulary. Lookups are case-insensitive.
type StatusMap map[string]terminal.TransactionStatus

// Lookup maps s, reporting false for vendor values outside the table.
func (m StatusMap) Lookup(s string) (terminal.TransactionStatus, bool) {
	st, ok := m[strings.ToUpper(strings.TrimSpace(s))]
	return st, ok
}

// Reverse returns the first vendor value, in table order of prefer, that maps to st.
func (m StatusMap) Reverse(st terminal.TransactionStatus, prefer []string) string {
	for _, v := range prefer {
		if m[v] == st {
			return v
		}
	}
	return ""
}

// methodCodes is a vendor's spelling of each payment method it supports.
type methodCodes map[terminal.PaymentMethod]string

func (m methodCodes) encode(pm terminal.PaymentMethod) (string, error) {
	code, ok := m[pm]
	if !ok {
		return "", fmt.Errorf("%w: %s", terminal.ErrUnsupportedMethod, pm)
	}
	return code, nil
}

func (m methodCodes) decode(s string) (terminal.PaymentMethod, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for pm, code := range m {
		if strings.EqualFold(code, s) {
			return pm, true
		}
	}
	return "", false
}

func (m methodCodes) list() []terminal.PaymentMethod {
	out := make([]terminal.PaymentMethod, 0, len(m))
	for _, pm := range terminal.AllMethods {
		if _, ok := m[pm]; ok {
			out = append(out, pm)
		}
	}
	return out
}

// statusFromCode derives a status when a response carries only a result code.
func statusFromCode(code string) terminal.TransactionStatus {
	switch code {
	case CodeApproved:
		return terminal.TxApproved
	case "06":
		return terminal.TxCancelled
	case "08":
		return terminal.TxTimeout
	case "01", "02", "03", "04", "05", "12":
		return terminal.TxDeclined
	default:
		return terminal.TxError
	}
}

// message is the vendor-neutral view of a decoded response.
type message struct {
	Code    string
	Status  string
	Message string

	TransactionID string
	AmountCents   int64
	Method        string
	Installments  int
	AuthCode      string
	NSU           string
	CardBrand     string
	CardLast4     string
	PixQRCode     string
	PixCopyPaste  string
	BoletoBarcode string
	BoletoURL     string

	Serial   string
	Model    string
	Firmware string
	Battery  *int
	Signal   *int
}

// toResponse applies the shared mapping rules to a decoded message.
func toResponse(id string, m message, statuses StatusMap, codes CodeTable, methods methodCodes) terminal.TransactionResponse {
	resp := terminal.TransactionResponse{
		TransactionID:     id,
		Amount:            terminal.FromCents(m.AmountCents),
		Installments:      m.Installments,
		AuthorizationCode: m.AuthCode,
		NSU:               m.NSU,
		CardBrand:         m.CardBrand,
		CardLastDigits:    m.CardLast4,
		PixQRCode:         m.PixQRCode,
		PixCopyPaste:      m.PixCopyPaste,
		BoletoBarcode:     m.BoletoBarcode,
		BoletoURL:         m.BoletoURL,
		Timestamp:         time.Now().UTC(),
	}
	if resp.TransactionID == "" {
		resp.TransactionID = m.TransactionID
	}
	if pm, ok := methods.decode(m.Method); ok {
		resp.PaymentMethod = pm
	}

	switch {
	case m.Status != "":
		st, ok := statuses.Lookup(m.Status)
		if !ok {
			resp.Status = terminal.TxError
			resp.ErrorMessage = "unknown terminal status " + m.Status
			return resp
		}
		resp.Status = st
	default:
		resp.Status = statusFromCode(m.Code)
	}

	switch resp.Status {
	case terminal.TxDeclined, terminal.TxError, terminal.TxTimeout, terminal.TxCancelled:
		resp.ErrorMessage = m.Message
		if resp.ErrorMessage == "" && m.Code != CodeApproved {
			resp.ErrorMessage = codes.Message(m.Code)
		}
		if resp.ErrorMessage == "" && resp.Status != terminal.TxCancelled {
			resp.ErrorMessage = string(resp.Status)
		}
	}
	return resp
}

func toInfo(m message) terminal.TerminalInfo {
	return terminal.TerminalInfo{
		SerialNumber:    m.Serial,
		Model:           m.Model,
		FirmwareVersion: m.Firmware,
		BatteryLevel:    m.Battery,
		SignalStrength:  m.Signal,
	}
}

func errorMessage(m message, codes CodeTable) string {
	if m.Message != "" {
		return m.Message
	}
	return codes.Message(m.Code)
}
