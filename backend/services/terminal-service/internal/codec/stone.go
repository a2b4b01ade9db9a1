package codec

import (
	"encoding/json"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

var stoneCommands = map[Command]string{
	CmdInit:      "INIT",
	CmdInfo:      "INFO",
	CmdSale:      "SALE",
	CmdPix:       "PIX_CHARGE",
	CmdStatus:    "STATUS",
	CmdCancel:    "CANCEL",
	CmdConfirm:   "CONFIRM",
	CmdPrint:     "PRINT_RECEIPT",
	CmdPrintText: "PRINT_TEXT",
	CmdConfigure: "CONFIG",
	CmdPing:      "PING",
}

var stoneStatuses = StatusMap{
	"PENDING":      terminal.TxPending,
	"PROCESSING":   terminal.TxProcessing,
	"WAITING_CARD": terminal.TxProcessing,
	"WAITING_PIX":  terminal.TxProcessing,
	"APPROVED":     terminal.TxApproved,
	"AUTHORIZED":   terminal.TxApproved,
	"DECLINED":     terminal.TxDeclined,
	"DENIED":       terminal.TxDeclined,
	"CANCELLED":    terminal.TxCancelled,
	"CANCELED":     terminal.TxCancelled,
	"ABORTED":      terminal.TxCancelled,
	"TIMEOUT":      terminal.TxTimeout,
	"EXPIRED":      terminal.TxTimeout,
	"ERROR":        terminal.TxError,
	"FAILED":       terminal.TxError,
}

var stoneReplyOrder = []string{"PENDING", "PROCESSING", "APPROVED", "DECLINED", "CANCELLED", "TIMEOUT", "ERROR"}

type stoneRequest struct {
	Cmd  string     `json:"cmd"`
	Data *stoneData `json:"data,omitempty"`
}

type stoneData struct {
	StoneCode     string            `json:"stone_code,omitempty"`
	TerminalID    string            `json:"terminal_id,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Amount        int64             `json:"amount,omitempty"`
	Type          string            `json:"type,omitempty"`
	Installments  int               `json:"installments,omitempty"`
	Description   string            `json:"description,omitempty"`
	Customer      *stoneCustomer    `json:"customer,omitempty"`
	PixKey        string            `json:"pix_key,omitempty"`
	ExpiresIn     int               `json:"expires_in,omitempty"`
	Brand         string            `json:"brand,omitempty"`
	VoucherType   string            `json:"voucher_type,omitempty"`
	Receipt       string            `json:"receipt,omitempty"`
	Text          string            `json:"text,omitempty"`
	Settings      map[string]string `json:"settings,omitempty"`
}

type stoneCustomer struct {
	Name     string `json:"name,omitempty"`
	Document string `json:"document,omitempty"`
}

type stoneResponse struct {
	Cmd     string      `json:"cmd"`
	Code    string      `json:"code"`
	Status  string      `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    stoneResult `json:"data"`
}

type stoneResult struct {
	TransactionID string `json:"transaction_id,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	Type          string `json:"type,omitempty"`
	Installments  int    `json:"installments,omitempty"`
	AuthCode      string `json:"authorization_code,omitempty"`
	NSU           string `json:"nsu,omitempty"`
	Brand         string `json:"card_brand,omitempty"`
	Last4         string `json:"card_last4,omitempty"`
	QRCode        string `json:"qr_code,omitempty"`
	PixPayload    string `json:"pix_copy_paste,omitempty"`

	Serial   string `json:"serial_number,omitempty"`
	Model    string `json:"model,omitempty"`
	Firmware string `json:"firmware,omitempty"`
	Battery  optInt `json:"battery"`
	Signal   optInt `json:"signal"`
}

type stoneDialect struct{ methods methodCodes }

func (d stoneDialect) encode(cmd Command, p Payload) (any, error) {
	name, ok := stoneCommands[cmd]
	if !ok {
		return nil, ErrUnsupportedCommand
	}
	req := stoneRequest{Cmd: name}
	switch cmd {
	case CmdInit:
		req.Data = &stoneData{StoneCode: p.MerchantID, TerminalID: p.TerminalID}
	case CmdSale, CmdPix:
		typ, err := d.methods.encode(p.Method)
		if err != nil {
			return nil, err
		}
		data := &stoneData{
			TransactionID: p.TransactionID,
			Amount:        terminal.ToCents(p.Amount),
			Type:          typ,
			Installments:  p.Installments,
			Description:   p.Description,
			Brand:         p.CardBrand,
			VoucherType:   p.VoucherType,
		}
		if p.CustomerName != "" || p.CustomerDocument != "" {
			data.Customer = &stoneCustomer{Name: p.CustomerName, Document: p.CustomerDocument}
		}
		if cmd == CmdPix {
			data.PixKey = p.PixKey
			data.ExpiresIn = seconds(p)
		}
		req.Data = data
	case CmdStatus, CmdCancel, CmdConfirm:
		req.Data = &stoneData{TransactionID: p.TransactionID}
	case CmdPrint:
		req.Data = &stoneData{TransactionID: p.TransactionID, Receipt: receiptCopy(p.Receipt, "CUSTOMER", "MERCHANT")}
	case CmdPrintText:
		req.Data = &stoneData{Text: p.Text}
	case CmdConfigure:
		req.Data = &stoneData{Settings: p.Settings}
	}
	return req, nil
}

func (d stoneDialect) decode(body []byte) (message, error) {
	var resp stoneResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return message{}, err
	}
	return message{
		Code:          resp.Code,
		Status:        resp.Status,
		Message:       resp.Message,
		TransactionID: resp.Data.TransactionID,
		AmountCents:   resp.Data.Amount,
		Method:        resp.Data.Type,
		Installments:  resp.Data.Installments,
		AuthCode:      resp.Data.AuthCode,
		NSU:           resp.Data.NSU,
		CardBrand:     resp.Data.Brand,
		CardLast4:     resp.Data.Last4,
		PixQRCode:     resp.Data.QRCode,
		PixCopyPaste:  resp.Data.PixPayload,
		Serial:        resp.Data.Serial,
		Model:         resp.Data.Model,
		Firmware:      resp.Data.Firmware,
		Battery:       resp.Data.Battery.v,
		Signal:        resp.Data.Signal.v,
	}, nil
}

func (d stoneDialect) reply(r Reply) any {
	typ, _ := d.methods.encode(r.Method)
	return stoneResponse{
		Cmd:     stoneCommands[r.Command],
		Code:    r.code(),
		Status:  stoneStatuses.Reverse(r.Status, stoneReplyOrder),
		Message: r.Message,
		Data: stoneResult{
			TransactionID: r.TransactionID,
			Amount:        terminal.ToCents(r.Amount),
			Type:          typ,
			Installments:  r.Installments,
			AuthCode:      r.AuthorizationCode,
			NSU:           r.NSU,
			Brand:         r.CardBrand,
			Last4:         r.CardLastDigits,
			QRCode:        r.PixQRCode,
			PixPayload:    r.PixCopyPaste,
			Serial:        r.Info.SerialNumber,
			Model:         r.Info.Model,
			Firmware:      r.Info.FirmwareVersion,
			Battery:       someInt(r.Info.BatteryLevel),
			Signal:        someInt(r.Info.SignalStrength),
		},
	}
}

// NewStone speaks the Stone POS text protocol: '#' separated SHA-256 tag.
func NewStone(opts Options) Codec {
	methods := methodCodes{
		terminal.MethodCredit:      "CREDIT",
		terminal.MethodDebit:       "DEBIT",
		terminal.MethodPix:         "PIX",
		terminal.MethodContactless: "CONTACTLESS",
		terminal.MethodVoucher:     "VOUCHER",
	}
	return &textCodec{
		vendor:   "stone",
		sep:      '#',
		tag:      SHA256Tag(opts.Secret),
		statuses: stoneStatuses,
		codes: baseCodes.Extend(pixCodes, CodeTable{
			"S1": "stone code not activated",
			"S2": "terminal not paired",
		}),
		methods: methods,
		dialect: stoneDialect{methods: methods},
	}
}
