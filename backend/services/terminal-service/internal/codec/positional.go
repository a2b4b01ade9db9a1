package codec

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

const (
	codeWidth    = 2
	messageWidth = 40
	headerWidth  = codeWidth + messageWidth
)

// positionalCodec frames fixed-width fields as STX + 2-char code + fields + LRC + ETX.
// Requests carry a command code, responses a result code followed by a 40-column
// message and the layout of the answered command.
type positionalCodec struct {
	vendor     string
	commands   map[Command]string
	requests   map[Command]layout
	txn        layout
	info       layout
	statuses   StatusMap
	replyOrder []string
	codes      CodeTable
	methods    methodCodes
	confirm    bool
}

var _ Codec = (*positionalCodec)(nil)

func (c *positionalCodec) Vendor() string                    { return c.vendor }
func (c *positionalCodec) RequiresConfirm() bool             { return c.confirm }
func (c *positionalCodec) Methods() []terminal.PaymentMethod { return c.methods.list() }

func isTransactionCommand(cmd Command) bool {
	switch cmd {
	case CmdSale, CmdPix, CmdStatus, CmdCancel, CmdConfirm:
		return true
	}
	return false
}

func (c *positionalCodec) BuildCommand(cmd Command, p Payload) ([]byte, error) {
	code, ok := c.commands[cmd]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", c.vendor, cmd, ErrUnsupportedCommand)
	}
	values, err := c.requestValues(cmd, p)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.vendor, cmd, err)
	}
	fields, err := c.requests[cmd].encode(values)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.vendor, cmd, err)
	}
	return frameLRC(append([]byte(code), fields...)), nil
}

func (c *positionalCodec) requestValues(cmd Command, p Payload) (map[string]string, error) {
	v := map[string]string{
		"id":           p.TransactionID,
		"amount":       strconv.FormatInt(terminal.ToCents(p.Amount), 10),
		"installments": strconv.Itoa(max(p.Installments, 1)),
		"description":  p.Description,
		"name":         p.CustomerName,
		"document":     p.CustomerDocument,
		"pix_key":      p.PixKey,
		"expiry":       strconv.Itoa(seconds(p)),
		"brand":        p.CardBrand,
		"voucher":      p.VoucherType,
		"receipt":      receiptCopy(p.Receipt, "C", "M"),
		"text":         p.Text,
		"settings":     encodeSettings(p.Settings),
		"merchant":     p.MerchantID,
		"terminal":     p.TerminalID,
	}
	if cmd == CmdSale || cmd == CmdPix {
		method, err := c.methods.encode(p.Method)
		if err != nil {
			return nil, err
		}
		v["method"] = method
	}
	return v, nil
}

// encodeSettings renders key=value pairs joined by ';' in key order.
func encodeSettings(s map[string]string) string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, ";")
}

func frameLRC(body []byte) []byte {
	frame := make([]byte, 0, len(body)+3)
	frame = append(frame, stx)
	frame = append(frame, body...)
	frame = append(frame, LRC(body), etx)
	return frame
}

// Complete checks delimiters and the LRC position, so an LRC byte equal to ETX does not
// end the frame early.
func (c *positionalCodec) Complete(buf []byte) bool {
	i := bytes.IndexByte(buf, stx)
	if i < 0 {
		return false
	}
	f := buf[i:]
	if len(f) < codeWidth+3 || f[len(f)-1] != etx {
		return false
	}
	return LRC(f[1:len(f)-2]) == f[len(f)-2]
}

func (c *positionalCodec) split(frame []byte) ([]byte, error) {
	i := bytes.IndexByte(frame, stx)
	if i < 0 || len(frame)-i < codeWidth+3 || frame[len(frame)-1] != etx {
		return nil, fmt.Errorf("%w: missing delimiters", ErrMalformedFrame)
	}
	f := frame[i:]
	body := f[1 : len(f)-2]
	if LRC(body) != f[len(f)-2] {
		return nil, fmt.Errorf("%w: lrc %02x, want %02x", ErrIntegrity, f[len(f)-2], LRC(body))
	}
	return body, nil
}

// header reads the result code and message; the body after them is returned as is.
func (c *positionalCodec) header(frame []byte) (message, []byte, error) {
	body, err := c.split(frame)
	if err != nil {
		return message{}, nil, err
	}
	m := message{Code: string(body[:codeWidth])}
	rest := body[codeWidth:]
	if len(rest) > 0 {
		w := min(messageWidth, len(rest))
		m.Message = strings.TrimSpace(decodeText(rest[:w]))
		rest = rest[w:]
	}
	return m, rest, nil
}

func (c *positionalCodec) IsSuccess(frame []byte) bool {
	m, _, err := c.header(frame)
	return err == nil && m.Code == CodeApproved
}

func (c *positionalCodec) ErrorMessage(frame []byte) string {
	m, _, err := c.header(frame)
	if err != nil {
		return err.Error()
	}
	return errorMessage(m, c.codes)
}

func (c *positionalCodec) ParseTransactionResponse(id string, frame []byte) (terminal.TransactionResponse, error) {
	m, rest, err := c.header(frame)
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	// A bare header is a refusal with no transaction block.
	if len(rest) > 0 {
		v, err := c.txn.decode(rest)
		if err != nil {
			return terminal.TransactionResponse{}, err
		}
		m.Status = v["status"]
		m.TransactionID = v["id"]
		m.AmountCents = atoi(v["amount"])
		m.Method = v["method"]
		m.Installments = int(atoi(v["installments"]))
		m.AuthCode = v["auth"]
		m.NSU = v["nsu"]
		m.CardBrand = v["brand"]
		m.CardLast4 = v["last4"]
		m.PixCopyPaste = v["pix"]
	}
	return toResponse(id, m, c.statuses, c.codes, c.methods), nil
}

func (c *positionalCodec) ParseTerminalInfo(frame []byte) (terminal.TerminalInfo, error) {
	m, rest, err := c.header(frame)
	if err != nil {
		return terminal.TerminalInfo{}, err
	}
	v, err := c.info.decode(rest)
	if err != nil {
		return terminal.TerminalInfo{}, err
	}
	m.Serial = v["serial"]
	m.Model = v["model"]
	m.Firmware = v["firmware"]
	m.Battery = optionalLevel(v["battery"])
	m.Signal = optionalLevel(v["signal"])
	return toInfo(m), nil
}

func (c *positionalCodec) BuildResponse(r Reply) ([]byte, error) {
	hdr, err := layout{txt("code", codeWidth), txt("message", messageWidth)}.encode(map[string]string{
		"code":    r.code(),
		"message": r.Message,
	})
	if err != nil {
		return nil, err
	}
	var fields []byte
	switch {
	case isTransactionCommand(r.Command):
		method, _ := c.methods.encode(r.Method)
		fields, err = c.txn.encode(map[string]string{
			"status":       c.statuses.Reverse(r.Status, c.replyOrder),
			"id":           r.TransactionID,
			"amount":       strconv.FormatInt(terminal.ToCents(r.Amount), 10),
			"method":       method,
			"installments": strconv.Itoa(r.Installments),
			"auth":         r.AuthorizationCode,
			"nsu":          r.NSU,
			"brand":        r.CardBrand,
			"last4":        r.CardLastDigits,
			"pix":          r.PixCopyPaste,
		})
	case r.Command == CmdInfo:
		fields, err = c.info.encode(map[string]string{
			"serial":   r.Info.SerialNumber,
			"model":    r.Info.Model,
			"firmware": r.Info.FirmwareVersion,
			"battery":  levelString(r.Info.BatteryLevel),
			"signal":   levelString(r.Info.SignalStrength),
		})
	}
	if err != nil {
		return nil, err
	}
	return frameLRC(append(hdr, fields...)), nil
}

func levelString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
