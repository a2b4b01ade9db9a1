package codec

import "kioskpay/backend/services/terminal-service/internal/terminal"

// NewSumUp speaks the SumUp reader positional protocol. The readers are contactless
// first and carry no voucher or boleto.
func NewSumUp(Options) Codec {
	return &positionalCodec{
		vendor: "sumup",
		commands: map[Command]string{
			CmdInit:      "I0",
			CmdInfo:      "I1",
			CmdSale:      "S0",
			CmdPix:       "S1",
			CmdStatus:    "Q0",
			CmdCancel:    "X0",
			CmdConfirm:   "F0",
			CmdPrint:     "P0",
			CmdPrintText: "P1",
			CmdConfigure: "C0",
			CmdPing:      "E0",
		},
		requests: map[Command]layout{
			CmdInit:      {txt("merchant", 12), txt("terminal", 8)},
			CmdSale:      {txt("method", 2), num("amount", 12), num("installments", 2), txt("id", 36), txt("description", 24)},
			CmdPix:       {txt("method", 2), num("amount", 12), txt("id", 36), num("expiry", 6), txt("pix_key", 77)},
			CmdStatus:    {txt("id", 36)},
			CmdCancel:    {txt("id", 36)},
			CmdConfirm:   {txt("id", 36)},
			CmdPrint:     {txt("id", 36), txt("receipt", 1)},
			CmdPrintText: {tail("text")},
			CmdConfigure: {tail("settings")},
		},
		txn: layout{
			txt("status", 2), txt("id", 36), txt("method", 2), num("amount", 12), num("installments", 2),
			txt("brand", 10), txt("last4", 4), txt("auth", 8), txt("nsu", 10), tail("pix"),
		},
		info: layout{txt("serial", 16), txt("firmware", 12), txt("model", 16), txt("battery", 3), txt("signal", 3)},
		statuses: StatusMap{
			"WT": terminal.TxPending,
			"IP": terminal.TxProcessing,
			"OK": terminal.TxApproved,
			"KO": terminal.TxDeclined,
			"CX": terminal.TxCancelled,
			"TO": terminal.TxTimeout,
			"FL": terminal.TxError,
		},
		replyOrder: []string{"WT", "IP", "OK", "KO", "CX", "TO", "FL"},
		codes: baseCodes.Extend(pixCodes, CodeTable{
			"U1": "card reader not paired",
			"U2": "reader battery too low",
		}),
		methods: methodCodes{
			terminal.MethodContactless: "NF",
			terminal.MethodCredit:      "CC",
			terminal.MethodDebit:       "DC",
			terminal.MethodPix:         "PX",
		},
	}
}
