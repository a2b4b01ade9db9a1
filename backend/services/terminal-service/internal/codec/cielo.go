package codec

import "kioskpay/backend/services/terminal-service/internal/terminal"

// NewCielo speaks the Cielo LIO positional protocol. Approved sales stay authorized until
// an explicit CONFIRM settles them.
func NewCielo(Options) Codec {
	return &positionalCodec{
		vendor: "cielo",
		commands: map[Command]string{
			CmdInit:      "IN",
			CmdInfo:      "IF",
			CmdSale:      "VD",
			CmdPix:       "PX",
			CmdStatus:    "CS",
			CmdCancel:    "CN",
			CmdConfirm:   "CF",
			CmdPrint:     "IR",
			CmdPrintText: "IT",
			CmdConfigure: "CG",
			CmdPing:      "EC",
		},
		requests: map[Command]layout{
			CmdInit:      {txt("merchant", 15), txt("terminal", 8)},
			CmdSale:      {txt("id", 36), num("amount", 12), txt("method", 2), num("installments", 2), txt("description", 30), txt("document", 14)},
			CmdPix:       {txt("id", 36), num("amount", 12), txt("method", 2), num("expiry", 6), txt("document", 14), txt("pix_key", 77)},
			CmdStatus:    {txt("id", 36)},
			CmdCancel:    {txt("id", 36)},
			CmdConfirm:   {txt("id", 36)},
			CmdPrint:     {txt("id", 36), txt("receipt", 1)},
			CmdPrintText: {tail("text")},
			CmdConfigure: {tail("settings")},
		},
		txn: layout{
			txt("status", 2), txt("id", 36), num("amount", 12), txt("method", 2), num("installments", 2),
			txt("auth", 6), txt("nsu", 12), txt("brand", 12), txt("last4", 4), tail("pix"),
		},
		info: layout{txt("serial", 20), txt("model", 20), txt("firmware", 16), txt("battery", 3), txt("signal", 3)},
		statuses: StatusMap{
			"PE": terminal.TxPending,
			"PR": terminal.TxProcessing,
			"AU": terminal.TxApproved,
			"CF": terminal.TxApproved,
			"NG": terminal.TxDeclined,
			"CA": terminal.TxCancelled,
			"DF": terminal.TxCancelled,
			"TO": terminal.TxTimeout,
			"ER": terminal.TxError,
		},
		replyOrder: []string{"PE", "PR", "CF", "NG", "CA", "TO", "ER"},
		codes: baseCodes.Extend(pixCodes, CodeTable{
			"C1": "awaiting confirmation",
			"C2": "confirmation window expired",
			"C3": "undone by host",
		}),
		methods: methodCodes{
			terminal.MethodCredit:      "CR",
			terminal.MethodDebit:       "DB",
			terminal.MethodPix:         "PX",
			terminal.MethodContactless: "CL",
			terminal.MethodVoucher:     "VC",
		},
		confirm: true,
	}
}
