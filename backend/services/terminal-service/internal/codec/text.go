package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

// textDialect is the vendor-specific half of a text protocol: the JSON envelope shapes.
type textDialect interface {
	encode(cmd Command, p Payload) (any, error)
	decode(body []byte) (message, error)
	reply(r Reply) any
}

// textCodec frames JSON envelopes as STX + 6-digit sequence + JSON + [sep + tag] + ETX.
type textCodec struct {
	vendor   string
	sep      byte
	tag      *HashTag
	statuses StatusMap
	codes    CodeTable
	methods  methodCodes
	confirm  bool
	dialect  textDialect
}

var _ Codec = (*textCodec)(nil)

func (c *textCodec) Vendor() string                    { return c.vendor }
func (c *textCodec) RequiresConfirm() bool             { return c.confirm }
func (c *textCodec) Methods() []terminal.PaymentMethod { return c.methods.list() }

func (c *textCodec) BuildCommand(cmd Command, p Payload) ([]byte, error) {
	env, err := c.dialect.encode(cmd, p)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.vendor, cmd, err)
	}
	return c.frame(p.Sequence, env)
}

func (c *textCodec) BuildResponse(r Reply) ([]byte, error) {
	return c.frame(r.Sequence, c.dialect.reply(r))
}

func (c *textCodec) frame(seq uint32, env any) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", c.vendor, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	buf.WriteByte(stx)
	fmt.Fprintf(&buf, "%06d", seq%1_000_000)
	buf.Write(body)
	if c.tag != nil {
		buf.WriteByte(c.sep)
		buf.WriteString(c.tag.Sum(body))
	}
	buf.WriteByte(etx)
	return buf.Bytes(), nil
}

// Complete accepts STX ... ETX. JSON escapes control bytes, so ETX only closes a frame.
func (c *textCodec) Complete(buf []byte) bool {
	i := bytes.IndexByte(buf, stx)
	return i >= 0 && len(buf)-i >= 9 && buf[len(buf)-1] == etx
}

// split returns the sequence and JSON body of a frame after checking its tag.
func (c *textCodec) split(frame []byte) (uint32, []byte, error) {
	i := bytes.IndexByte(frame, stx)
	if i < 0 || len(frame)-i < 9 || frame[len(frame)-1] != etx {
		return 0, nil, fmt.Errorf("%w: missing delimiters", ErrMalformedFrame)
	}
	frame = frame[i+1 : len(frame)-1]
	seq, err := strconv.ParseUint(string(frame[:6]), 10, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad sequence %q", ErrMalformedFrame, frame[:6])
	}
	content := frame[6:]
	end := bytes.LastIndexByte(content, '}')
	if end < 0 {
		return 0, nil, fmt.Errorf("%w: no JSON body", ErrMalformedFrame)
	}
	body, trailer := content[:end+1], content[end+1:]

	if c.tag == nil {
		return uint32(seq), body, nil
	}
	if len(trailer) < 2 || trailer[0] != c.sep {
		return 0, nil, fmt.Errorf("%w: missing tag", ErrIntegrity)
	}
	if !c.tag.Verify(body, string(trailer[1:])) {
		return 0, nil, fmt.Errorf("%w: tag mismatch", ErrIntegrity)
	}
	return uint32(seq), body, nil
}

func (c *textCodec) decode(frame []byte) (message, error) {
	_, body, err := c.split(frame)
	if err != nil {
		return message{}, err
	}
	m, err := c.dialect.decode(body)
	if err != nil {
		return message{}, fmt.Errorf("%w: %s body: %v", ErrMalformedFrame, c.vendor, err)
	}
	m.Code = strings.TrimSpace(m.Code)
	return m, nil
}

func (c *textCodec) IsSuccess(frame []byte) bool {
	m, err := c.decode(frame)
	return err == nil && m.Code == CodeApproved
}

func (c *textCodec) ErrorMessage(frame []byte) string {
	m, err := c.decode(frame)
	if err != nil {
		return err.Error()
	}
	return errorMessage(m, c.codes)
}

func (c *textCodec) ParseTransactionResponse(id string, frame []byte) (terminal.TransactionResponse, error) {
	m, err := c.decode(frame)
	if err != nil {
		return terminal.TransactionResponse{}, err
	}
	return toResponse(id, m, c.statuses, c.codes, c.methods), nil
}

func (c *textCodec) ParseTerminalInfo(frame []byte) (terminal.TerminalInfo, error) {
	m, err := c.decode(frame)
	if err != nil {
		return terminal.TerminalInfo{}, err
	}
	return toInfo(m), nil
}

// optInt decodes a number or numeric string. Anything else reads as unknown rather than
// failing the whole response.
type optInt struct{ v *int }

func (o *optInt) UnmarshalJSON(b []byte) error {
	o.v = optionalLevel(strings.Trim(string(b), `"`))
	return nil
}

func (o optInt) MarshalJSON() ([]byte, error) {
	if o.v == nil {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, int64(*o.v), 10), nil
}

func someInt(v *int) optInt { return optInt{v: v} }

func seconds(p Payload) int {
	return int(p.PixExpiration.Seconds())
}

func receiptCopy(k terminal.ReceiptKind, customer, merchant string) string {
	if k == terminal.ReceiptMerchant {
		return merchant
	}
	return customer
}
