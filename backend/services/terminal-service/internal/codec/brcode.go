package codec

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const pixGUI = "br.gov.bcb.pix"

// BRCode is a static or dynamic PIX charge in EMV merchant-presented QR format.
type BRCode struct {
	Key          string
	MerchantName string
	MerchantCity string
	// Amount is omitted from the payload when zero.
	Amount      decimal.Decimal
	TxID        string
	Description string
}

// Encode renders the copy-paste payload, closed by its CRC16.
func (b BRCode) Encode() (string, error) {
	var errs []error
	key := strings.TrimSpace(b.Key)
	if key == "" {
		errs = append(errs, errors.New("pix key is required"))
	}
	name := asciiFold(b.MerchantName, 25)
	if name == "" {
		errs = append(errs, errors.New("merchant name is required"))
	}
	city := asciiFold(b.MerchantCity, 15)
	if city == "" {
		errs = append(errs, errors.New("merchant city is required"))
	}
	if b.Amount.IsNegative() {
		errs = append(errs, errors.New("amount must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}

	account := tlv("00", pixGUI) + tlv("01", key)
	if desc := asciiFold(b.Description, 99-len(account)-4); desc != "" {
		account += tlv("02", desc)
	}
	if len(account) > 99 {
		return "", fmt.Errorf("pix key too long for merchant account field")
	}

	var sb strings.Builder
	sb.WriteString(tlv("00", "01"))
	if b.Amount.IsPositive() {
		sb.WriteString(tlv("01", "12"))
	}
	sb.WriteString(tlv("26", account))
	sb.WriteString(tlv("52", "0000"))
	sb.WriteString(tlv("53", "986"))
	if b.Amount.IsPositive() {
		sb.WriteString(tlv("54", b.Amount.StringFixed(2)))
	}
	sb.WriteString(tlv("58", "BR"))
	sb.WriteString(tlv("59", name))
	sb.WriteString(tlv("60", city))
	sb.WriteString(tlv("62", tlv("05", pixTxID(b.TxID))))
	sb.WriteString("6304")
	return fmt.Sprintf("%s%04X", sb.String(), CRC16([]byte(sb.String()))), nil
}

// VerifyBRCode checks the trailing CRC of a copy-paste payload.
func VerifyBRCode(payload string) bool {
	if len(payload) < 8 || payload[len(payload)-8:len(payload)-4] != "6304" {
		return false
	}
	body := payload[:len(payload)-4]
	return fmt.Sprintf("%04X", CRC16([]byte(body))) == strings.ToUpper(payload[len(payload)-4:])
}

func tlv(id, value string) string {
	return fmt.Sprintf("%s%02d%s", id, len(value), value)
}

// pixTxID keeps the alphanumerics the PIX arrangement accepts, "***" when none remain.
func pixTxID(id string) string {
	id = strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, id)
	if len(id) > 25 {
		id = id[:25]
	}
	if id == "" {
		return "***"
	}
	return id
}

// asciiFold strips diacritics and anything outside printable ASCII, then upper-cases
// and truncates to limit bytes.
func asciiFold(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return -1
		}
		return r
	}, folded)
	folded = strings.ToUpper(strings.TrimSpace(folded))
	if len(folded) > limit {
		folded = strings.TrimSpace(folded[:limit])
	}
	return folded
}
