package codec

import (
	"encoding/json"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

var getnetRequests = map[Command]string{
	CmdInit:      "INITIALIZE",
	CmdInfo:      "DEVICE_INFO",
	CmdSale:      "SALE",
	CmdPix:       "PIX_SALE",
	CmdStatus:    "QUERY",
	CmdCancel:    "VOID",
	CmdConfirm:   "CONFIRM",
	CmdPrint:     "REPRINT",
	CmdPrintText: "PRINT",
	CmdConfigure: "SETUP",
	CmdPing:      "ECHO",
}

var getnetStatuses = StatusMap{
	"PENDING":        terminal.TxPending,
	"IN_PROGRESS":    terminal.TxProcessing,
	"WAITING":        terminal.TxProcessing,
	"AUTHORIZED":     terminal.TxApproved,
	"CONFIRMED":      terminal.TxApproved,
	"APPROVED":       terminal.TxApproved,
	"DENIED":         terminal.TxDeclined,
	"NOT_AUTHORIZED": terminal.TxDeclined,
	"CANCELED":       terminal.TxCancelled,
	"VOIDED":         terminal.TxCancelled,
	"EXPIRED":        terminal.TxTimeout,
	"TIMED_OUT":      terminal.TxTimeout,
	"FAILED":         terminal.TxError,
	"ERROR":          terminal.TxError,
}

var getnetReplyOrder = []string{"PENDING", "IN_PROGRESS", "CONFIRMED", "DENIED", "CANCELED", "TIMED_OUT", "FAILED"}

type getnetRequest struct {
	Request string      `json:"request"`
	Body    *getnetBody `json:"body,omitempty"`
}

type getnetBody struct {
	SellerID       string            `json:"seller_id,omitempty"`
	TerminalID     string            `json:"terminal_id,omitempty"`
	OrderID        string            `json:"order_id,omitempty"`
	Amount         int64             `json:"amount,omitempty"`
	Product        string            `json:"product,omitempty"`
	Installments   int               `json:"number_installments,omitempty"`
	SoftDescriptor string            `json:"soft_descriptor,omitempty"`
	Customer       *getnetCustomer   `json:"customer,omitempty"`
	PixKey         string            `json:"pix_key,omitempty"`
	Expiration     int               `json:"expiration_seconds,omitempty"`
	Brand          string            `json:"brand,omitempty"`
	VoucherType    string            `json:"voucher_type,omitempty"`
	Copy           string            `json:"copy,omitempty"`
	Text           string            `json:"text,omitempty"`
	Params         map[string]string `json:"params,omitempty"`
}

type getnetCustomer struct {
	Name           string `json:"name,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"`
}

type getnetResponse struct {
	Response          string         `json:"response"`
	ReturnCode        string         `json:"return_code"`
	ReturnMessage     string         `json:"return_message,omitempty"`
	TransactionStatus string         `json:"transaction_status,omitempty"`
	Payment           *getnetPayment `json:"payment,omitempty"`
	Device            *getnetDevice  `json:"device,omitempty"`
}

type getnetPayment struct {
	OrderID           string `json:"order_id,omitempty"`
	Amount            int64  `json:"amount,omitempty"`
	Product           string `json:"product,omitempty"`
	Installments      int    `json:"number_installments,omitempty"`
	AuthorizationCode string `json:"authorization_code,omitempty"`
	NSU               string `json:"nsu,omitempty"`
	Brand             string `json:"brand,omitempty"`
	LastDigits        string `json:"last_digits,omitempty"`
	QRCode            string `json:"qr_code,omitempty"`
	PixEMV            string `json:"pix_emv,omitempty"`
}

type getnetDevice struct {
	SerialNumber string `json:"serial_number,omitempty"`
	Model        string `json:"model,omitempty"`
	AppVersion   string `json:"app_version,omitempty"`
	Battery      optInt `json:"battery_level"`
	Signal       optInt `json:"signal_level"`
}

type getnetDialect struct{ methods methodCodes }

func (d getnetDialect) encode(cmd Command, p Payload) (any, error) {
	name, ok := getnetRequests[cmd]
	if !ok {
		return nil, ErrUnsupportedCommand
	}
	req := getnetRequest{Request: name}
	switch cmd {
	case CmdInit:
		req.Body = &getnetBody{SellerID: p.MerchantID, TerminalID: p.TerminalID}
	case CmdSale, CmdPix:
		product, err := d.methods.encode(p.Method)
		if err != nil {
			return nil, err
		}
		body := &getnetBody{
			OrderID:        p.TransactionID,
			Amount:         terminal.ToCents(p.Amount),
			Product:        product,
			Installments:   p.Installments,
			SoftDescriptor: p.Description,
			Brand:          p.CardBrand,
			VoucherType:    p.VoucherType,
		}
		if p.CustomerName != "" || p.CustomerDocument != "" {
			body.Customer = &getnetCustomer{Name: p.CustomerName, DocumentNumber: p.CustomerDocument}
		}
		if cmd == CmdPix {
			body.PixKey = p.PixKey
			body.Expiration = seconds(p)
		}
		req.Body = body
	case CmdStatus, CmdCancel, CmdConfirm:
		req.Body = &getnetBody{OrderID: p.TransactionID}
	case CmdPrint:
		req.Body = &getnetBody{OrderID: p.TransactionID, Copy: receiptCopy(p.Receipt, "CUSTOMER", "ESTABLISHMENT")}
	case CmdPrintText:
		req.Body = &getnetBody{Text: p.Text}
	case CmdConfigure:
		req.Body = &getnetBody{Params: p.Settings}
	}
	return req, nil
}

func (d getnetDialect) decode(body []byte) (message, error) {
	var resp getnetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return message{}, err
	}
	m := message{Code: resp.ReturnCode, Status: resp.TransactionStatus, Message: resp.ReturnMessage}
	if pay := resp.Payment; pay != nil {
		m.TransactionID = pay.OrderID
		m.AmountCents = pay.Amount
		m.Method = pay.Product
		m.Installments = pay.Installments
		m.AuthCode = pay.AuthorizationCode
		m.NSU = pay.NSU
		m.CardBrand = pay.Brand
		m.CardLast4 = pay.LastDigits
		m.PixQRCode = pay.QRCode
		m.PixCopyPaste = pay.PixEMV
	}
	if dev := resp.Device; dev != nil {
		m.Serial = dev.SerialNumber
		m.Model = dev.Model
		m.Firmware = dev.AppVersion
		m.Battery = dev.Battery.v
		m.Signal = dev.Signal.v
	}
	return m, nil
}

func (d getnetDialect) reply(r Reply) any {
	resp := getnetResponse{
		Response:          getnetRequests[r.Command],
		ReturnCode:        r.code(),
		ReturnMessage:     r.Message,
		TransactionStatus: getnetStatuses.Reverse(r.Status, getnetReplyOrder),
	}
	if r.TransactionID != "" {
		product, _ := d.methods.encode(r.Method)
		resp.Payment = &getnetPayment{
			OrderID:           r.TransactionID,
			Amount:            terminal.ToCents(r.Amount),
			Product:           product,
			Installments:      r.Installments,
			AuthorizationCode: r.AuthorizationCode,
			NSU:               r.NSU,
			Brand:             r.CardBrand,
			LastDigits:        r.CardLastDigits,
			QRCode:            r.PixQRCode,
			PixEMV:            r.PixCopyPaste,
		}
	}
	if r.Command == CmdInfo {
		resp.Device = &getnetDevice{
			SerialNumber: r.Info.SerialNumber,
			Model:        r.Info.Model,
			AppVersion:   r.Info.FirmwareVersion,
			Battery:      someInt(r.Info.BatteryLevel),
			Signal:       someInt(r.Info.SignalStrength),
		}
	}
	return resp
}

// NewGetNet speaks the GetNet POS text protocol: '|' separated SHA3-256 tag.
func NewGetNet(opts Options) Codec {
	methods := methodCodes{
		terminal.MethodCredit:      "CREDIT_CARD",
		terminal.MethodDebit:       "DEBIT_CARD",
		terminal.MethodPix:         "PIX",
		terminal.MethodContactless: "CONTACTLESS",
		terminal.MethodVoucher:     "VOUCHER",
	}
	return &textCodec{
		vendor:   "getnet",
		sep:      '|',
		tag:      SHA3Tag(opts.Secret),
		statuses: getnetStatuses,
		codes: baseCodes.Extend(pixCodes, CodeTable{
			"G1": "seller not enabled for product",
			"G2": "terminal not initialized",
		}),
		methods: methods,
		dialect: getnetDialect{methods: methods},
	}
}
