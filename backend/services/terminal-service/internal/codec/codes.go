package codec

import "maps"

// CodeTable maps two-character result codes to operator-facing messages.
type CodeTable map[string]string

// baseCodes is shared by every vendor.
var baseCodes = CodeTable{
	"00": "approved",
	"01": "declined by issuer",
	"02": "insufficient funds",
	"03": "invalid card",
	"04": "expired card",
	"05": "wrong PIN",
	"06": "cancelled by user",
	"07": "communication failure",
	"08": "timeout",
	"09": "terminal busy",
	"10": "invalid amount",
	"11": "invalid installments",
	"12": "card blocked",
	"13": "transaction not found",
	"14": "printer failure",
	"15": "out of paper",
	"16": "unsupported payment method",
	"17": "integrity check failed",
	"99": "unknown error",
}

// pixCodes are added by vendors that settle PIX on the device.
var pixCodes = CodeTable{
	"P1": "PIX QR code expired",
	"P2": "PIX not available",
	"P3": "invalid PIX key",
	"P4": "PIX payment not received",
}

// Extend returns a copy of t with extra codes added or overridden.
func (t CodeTable) Extend(extra ...CodeTable) CodeTable {
	out := maps.Clone(t)
	for _, e := range extra {
		maps.Copy(out, e)
	}
	return out
}

// Message describes code, naming it when unknown.
func (t CodeTable) Message(code string) string {
	if msg, ok := t[code]; ok {
		return msg
	}
	if code == "" {
		return "empty response code"
	}
	return "unknown response code " + code
}

// ResponseCodes returns a copy of the vendor-neutral code table.
func ResponseCodes() CodeTable { return baseCodes.Extend(pixCodes) }
