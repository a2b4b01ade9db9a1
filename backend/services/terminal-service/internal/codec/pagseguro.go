package codec

import (
	"encoding/json"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

var pagseguroOperations = map[Command]string{
	CmdInit:      "inicializar",
	CmdInfo:      "dispositivo",
	CmdSale:      "venda",
	CmdPix:       "venda_pix",
	CmdStatus:    "consulta",
	CmdCancel:    "cancelamento",
	CmdConfirm:   "confirmacao",
	CmdPrint:     "reimpressao",
	CmdPrintText: "impressao_livre",
	CmdConfigure: "configuracao",
	CmdPing:      "eco",
}

var pagseguroStatuses = StatusMap{
	"PENDENTE":    terminal.TxPending,
	"PROCESSANDO": terminal.TxProcessing,
	"AGUARDANDO":  terminal.TxProcessing,
	"EM_ANALISE":  terminal.TxProcessing,
	"APROVADA":    terminal.TxApproved,
	"PAGA":        terminal.TxApproved,
	"NEGADA":      terminal.TxDeclined,
	"RECUSADA":    terminal.TxDeclined,
	"CANCELADA":   terminal.TxCancelled,
	"ESTORNADA":   terminal.TxCancelled,
	"EXPIRADA":    terminal.TxTimeout,
	"ERRO":        terminal.TxError,
}

var pagseguroReplyOrder = []string{"PENDENTE", "PROCESSANDO", "APROVADA", "NEGADA", "CANCELADA", "EXPIRADA", "ERRO"}

type pagseguroRequest struct {
	Operacao   string           `json:"operacao"`
	Parametros *pagseguroParams `json:"parametros,omitempty"`
}

type pagseguroParams struct {
	CodigoVendedor string            `json:"codigo_vendedor,omitempty"`
	CodigoTerminal string            `json:"codigo_terminal,omitempty"`
	Codigo         string            `json:"codigo_transacao,omitempty"`
	Valor          int64             `json:"valor,omitempty"`
	Tipo           string            `json:"tipo,omitempty"`
	Parcelas       int               `json:"parcelas,omitempty"`
	Descricao      string            `json:"descricao,omitempty"`
	ClienteNome    string            `json:"cliente_nome,omitempty"`
	ClienteDoc     string            `json:"cliente_documento,omitempty"`
	ChavePix       string            `json:"chave_pix,omitempty"`
	Expiracao      int               `json:"expiracao_segundos,omitempty"`
	Bandeira       string            `json:"bandeira,omitempty"`
	TipoVoucher    string            `json:"tipo_voucher,omitempty"`
	Vencimento     string            `json:"vencimento,omitempty"`
	Multa          string            `json:"multa_percentual,omitempty"`
	Juros          string            `json:"juros_percentual,omitempty"`
	Via            string            `json:"via,omitempty"`
	Texto          string            `json:"texto,omitempty"`
	Configuracoes  map[string]string `json:"configuracoes,omitempty"`
}

type pagseguroResponse struct {
	Operacao    string                `json:"operacao"`
	Resultado   string                `json:"resultado"`
	Situacao    string                `json:"situacao,omitempty"`
	Mensagem    string                `json:"mensagem,omitempty"`
	Transacao   *pagseguroTransacao   `json:"transacao,omitempty"`
	Dispositivo *pagseguroDispositivo `json:"dispositivo,omitempty"`
}

type pagseguroTransacao struct {
	Codigo       string `json:"codigo,omitempty"`
	Valor        int64  `json:"valor,omitempty"`
	Tipo         string `json:"tipo,omitempty"`
	Parcelas     int    `json:"parcelas,omitempty"`
	Autorizacao  string `json:"autorizacao,omitempty"`
	NSU          string `json:"nsu,omitempty"`
	Bandeira     string `json:"bandeira,omitempty"`
	FinalCartao  string `json:"final_cartao,omitempty"`
	QRCode       string `json:"qrcode,omitempty"`
	PixCopiaCola string `json:"pix_copia_cola,omitempty"`
	CodigoBarras string `json:"boleto_codigo_barras,omitempty"`
	BoletoURL    string `json:"boleto_url,omitempty"`
}

type pagseguroDispositivo struct {
	Serial  string `json:"serial,omitempty"`
	Modelo  string `json:"modelo,omitempty"`
	Versao  string `json:"versao,omitempty"`
	Bateria optInt `json:"bateria"`
	Sinal   optInt `json:"sinal"`
}

type pagseguroDialect struct{ methods methodCodes }

func (d pagseguroDialect) encode(cmd Command, p Payload) (any, error) {
	op, ok := pagseguroOperations[cmd]
	if !ok {
		return nil, ErrUnsupportedCommand
	}
	req := pagseguroRequest{Operacao: op}
	switch cmd {
	case CmdInit:
		req.Parametros = &pagseguroParams{CodigoVendedor: p.MerchantID, CodigoTerminal: p.TerminalID}
	case CmdSale, CmdPix:
		tipo, err := d.methods.encode(p.Method)
		if err != nil {
			return nil, err
		}
		params := &pagseguroParams{
			Codigo:      p.TransactionID,
			Valor:       terminal.ToCents(p.Amount),
			Tipo:        tipo,
			Parcelas:    p.Installments,
			Descricao:   p.Description,
			ClienteNome: p.CustomerName,
			ClienteDoc:  p.CustomerDocument,
			Bandeira:    p.CardBrand,
			TipoVoucher: p.VoucherType,
		}
		if cmd == CmdPix {
			params.ChavePix = p.PixKey
			params.Expiracao = seconds(p)
		}
		if p.Method == terminal.MethodBoleto {
			if !p.BoletoDueDate.IsZero() {
				params.Vencimento = p.BoletoDueDate.Format("2006-01-02")
			}
			if !p.BoletoFine.IsZero() {
				params.Multa = p.BoletoFine.StringFixed(2)
			}
			if !p.BoletoInterest.IsZero() {
				params.Juros = p.BoletoInterest.StringFixed(2)
			}
		}
		req.Parametros = params
	case CmdStatus, CmdCancel, CmdConfirm:
		req.Parametros = &pagseguroParams{Codigo: p.TransactionID}
	case CmdPrint:
		req.Parametros = &pagseguroParams{Codigo: p.TransactionID, Via: receiptCopy(p.Receipt, "cliente", "estabelecimento")}
	case CmdPrintText:
		req.Parametros = &pagseguroParams{Texto: p.Text}
	case CmdConfigure:
		req.Parametros = &pagseguroParams{Configuracoes: p.Settings}
	}
	return req, nil
}

func (d pagseguroDialect) decode(body []byte) (message, error) {
	var resp pagseguroResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return message{}, err
	}
	m := message{Code: resp.Resultado, Status: resp.Situacao, Message: resp.Mensagem}
	if t := resp.Transacao; t != nil {
		m.TransactionID = t.Codigo
		m.AmountCents = t.Valor
		m.Method = t.Tipo
		m.Installments = t.Parcelas
		m.AuthCode = t.Autorizacao
		m.NSU = t.NSU
		m.CardBrand = t.Bandeira
		m.CardLast4 = t.FinalCartao
		m.PixQRCode = t.QRCode
		m.PixCopyPaste = t.PixCopiaCola
		m.BoletoBarcode = t.CodigoBarras
		m.BoletoURL = t.BoletoURL
	}
	if dev := resp.Dispositivo; dev != nil {
		m.Serial = dev.Serial
		m.Model = dev.Modelo
		m.Firmware = dev.Versao
		m.Battery = dev.Bateria.v
		m.Signal = dev.Sinal.v
	}
	return m, nil
}

func (d pagseguroDialect) reply(r Reply) any {
	resp := pagseguroResponse{
		Operacao:  pagseguroOperations[r.Command],
		Resultado: r.code(),
		Situacao:  pagseguroStatuses.Reverse(r.Status, pagseguroReplyOrder),
		Mensagem:  r.Message,
	}
	if r.TransactionID != "" {
		tipo, _ := d.methods.encode(r.Method)
		resp.Transacao = &pagseguroTransacao{
			Codigo:       r.TransactionID,
			Valor:        terminal.ToCents(r.Amount),
			Tipo:         tipo,
			Parcelas:     r.Installments,
			Autorizacao:  r.AuthorizationCode,
			NSU:          r.NSU,
			Bandeira:     r.CardBrand,
			FinalCartao:  r.CardLastDigits,
			QRCode:       r.PixQRCode,
			PixCopiaCola: r.PixCopyPaste,
			CodigoBarras: r.BoletoBarcode,
			BoletoURL:    r.BoletoURL,
		}
	}
	if r.Command == CmdInfo {
		resp.Dispositivo = &pagseguroDispositivo{
			Serial:  r.Info.SerialNumber,
			Modelo:  r.Info.Model,
			Versao:  r.Info.FirmwareVersion,
			Bateria: someInt(r.Info.BatteryLevel),
			Sinal:   someInt(r.Info.SignalStrength),
		}
	}
	return resp
}

// NewPagSeguro speaks the PagSeguro (Moderninha) text protocol: '|' separated SHA-256
// tag, Portuguese vocabulary, and on-device boleto issuance.
func NewPagSeguro(opts Options) Codec {
	methods := methodCodes{
		terminal.MethodCredit:      "CREDITO",
		terminal.MethodDebit:       "DEBITO",
		terminal.MethodPix:         "PIX",
		terminal.MethodContactless: "APROXIMACAO",
		terminal.MethodVoucher:     "VOUCHER",
		terminal.MethodBoleto:      "BOLETO",
	}
	return &textCodec{
		vendor:   "pagseguro",
		sep:      '|',
		tag:      SHA256Tag(opts.Secret),
		statuses: pagseguroStatuses,
		codes: baseCodes.Extend(pixCodes, CodeTable{
			"B1": "invalid boleto due date",
			"B2": "boleto issuance failed",
			"M1": "seller account suspended",
		}),
		methods: methods,
		dialect: pagseguroDialect{methods: methods},
	}
}
