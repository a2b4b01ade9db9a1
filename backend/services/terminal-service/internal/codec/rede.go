package codec

import "kioskpay/backend/services/terminal-service/internal/terminal"

// NewRede speaks the Rede positional protocol with numeric command and status codes.
func NewRede(Options) Codec {
	return &positionalCodec{
		vendor: "rede",
		commands: map[Command]string{
			CmdInit:      "01",
			CmdInfo:      "02",
			CmdSale:      "10",
			CmdPix:       "11",
			CmdStatus:    "20",
			CmdCancel:    "30",
			CmdConfirm:   "31",
			CmdPrint:     "40",
			CmdPrintText: "41",
			CmdConfigure: "50",
			CmdPing:      "99",
		},
		requests: map[Command]layout{
			CmdInit:      {num("merchant", 9), txt("terminal", 8)},
			CmdSale:      {num("amount", 12), txt("method", 2), num("installments", 2), txt("id", 36), txt("document", 14), txt("description", 40)},
			CmdPix:       {num("amount", 12), txt("method", 2), txt("id", 36), num("expiry", 6), txt("document", 14), txt("pix_key", 77)},
			CmdStatus:    {txt("id", 36)},
			CmdCancel:    {txt("id", 36)},
			CmdConfirm:   {txt("id", 36)},
			CmdPrint:     {txt("receipt", 1), txt("id", 36)},
			CmdPrintText: {tail("text")},
			CmdConfigure: {tail("settings")},
		},
		txn: layout{
			txt("status", 2), txt("nsu", 12), txt("auth", 6), txt("id", 36), num("amount", 12),
			txt("method", 2), num("installments", 2), txt("brand", 10), txt("last4", 4), tail("pix"),
		},
		info: layout{txt("model", 16), txt("serial", 16), txt("firmware", 10), txt("battery", 3), txt("signal", 3)},
		statuses: StatusMap{
			"10": terminal.TxPending,
			"11": terminal.TxProcessing,
			"20": terminal.TxApproved,
			"21": terminal.TxApproved,
			"30": terminal.TxDeclined,
			"40": terminal.TxCancelled,
			"41": terminal.TxCancelled,
			"50": terminal.TxTimeout,
			"90": terminal.TxError,
		},
		replyOrder: []string{"10", "11", "20", "30", "40", "50", "90"},
		codes: baseCodes.Extend(pixCodes, CodeTable{
			"R1": "affiliation not found",
			"R2": "terminal not enabled for affiliation",
		}),
		methods: methodCodes{
			terminal.MethodCredit:      "01",
			terminal.MethodDebit:       "02",
			terminal.MethodPix:         "03",
			terminal.MethodContactless: "04",
			terminal.MethodVoucher:     "05",
		},
	}
}
