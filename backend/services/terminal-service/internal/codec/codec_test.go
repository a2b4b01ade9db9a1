package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"kioskpay/backend/services/terminal-service/internal/terminal"
)

const txID = "3b241101-e2bb-4255-8caf-4136c566a962"

func allCodecs(t *testing.T) []Codec {
	t.Helper()
	var out []Codec
	for _, v := range Vendors() {
		c, err := New(v, Options{Secret: "shared-secret"})
		if err != nil {
			t.Fatalf("new %s: %v", v, err)
		}
		out = append(out, c)
	}
	if len(out) != 6 {
		t.Fatalf("expected six vendor codecs, got %d", len(out))
	}
	return out
}

func TestSaleRoundTripPreservesAmountToTheCent(t *testing.T) {
	amounts := []string{"0.01", "1.00", "25.50", "1234.56", "99999.99"}
	for _, c := range allCodecs(t) {
		for _, a := range amounts {
			amount := decimal.RequireFromString(a)
			frame, err := c.BuildCommand(CmdSale, Payload{
				Sequence:      7,
				TransactionID: txID,
				Amount:        amount,
				Method:        terminal.MethodCredit,
				Installments:  3,
				Description:   "Lavagem #3 | completa",
			})
			if err != nil {
				t.Fatalf("%s build sale %s: %v", c.Vendor(), a, err)
			}
			if frame[0] != stx || frame[len(frame)-1] != etx {
				t.Fatalf("%s frame not delimited: % x", c.Vendor(), frame)
			}

			resp, err := c.BuildResponse(Reply{
				Command:           CmdSale,
				Sequence:          7,
				Status:            terminal.TxApproved,
				TransactionID:     txID,
				Amount:            amount,
				Method:            terminal.MethodCredit,
				Installments:      3,
				AuthorizationCode: "A1B2C3",
				NSU:               "000123",
				CardBrand:         "VISA",
				CardLastDigits:    "4242",
			})
			if err != nil {
				t.Fatalf("%s build response: %v", c.Vendor(), err)
			}
			if !c.Complete(resp) {
				t.Fatalf("%s: response not complete", c.Vendor())
			}
			if !c.IsSuccess(resp) {
				t.Fatalf("%s: response not successful: %s", c.Vendor(), c.ErrorMessage(resp))
			}
			got, err := c.ParseTransactionResponse(txID, resp)
			if err != nil {
				t.Fatalf("%s parse: %v", c.Vendor(), err)
			}
			if got.Status != terminal.TxApproved {
				t.Fatalf("%s: status %s, want approved", c.Vendor(), got.Status)
			}
			if !got.Amount.Equal(amount) {
				t.Fatalf("%s: amount %s, want %s", c.Vendor(), got.Amount, amount)
			}
			if got.TransactionID != txID || got.AuthorizationCode != "A1B2C3" || got.NSU != "000123" {
				t.Fatalf("%s: unexpected response %+v", c.Vendor(), got)
			}
			if got.PaymentMethod != terminal.MethodCredit || got.Installments != 3 || got.CardLastDigits != "4242" {
				t.Fatalf("%s: unexpected card fields %+v", c.Vendor(), got)
			}
		}
	}
}

func TestDeclineCarriesVendorMessage(t *testing.T) {
	for _, c := range allCodecs(t) {
		resp, err := c.BuildResponse(Reply{
			Command:       CmdStatus,
			Code:          "01",
			Status:        terminal.TxDeclined,
			TransactionID: txID,
			Amount:        decimal.RequireFromString("10.00"),
			Method:        terminal.MethodDebit,
			Installments:  1,
		})
		if err != nil {
			t.Fatalf("%s: %v", c.Vendor(), err)
		}
		if c.IsSuccess(resp) {
			t.Fatalf("%s: decline reported as success", c.Vendor())
		}
		if msg := c.ErrorMessage(resp); msg != "declined by issuer" {
			t.Fatalf("%s: message %q", c.Vendor(), msg)
		}
		got, err := c.ParseTransactionResponse(txID, resp)
		if err != nil {
			t.Fatalf("%s parse: %v", c.Vendor(), err)
		}
		if got.Status != terminal.TxDeclined || got.ErrorMessage == "" {
			t.Fatalf("%s: %+v", c.Vendor(), got)
		}
	}
}

func TestEveryTransactionStatusRoundTrips(t *testing.T) {
	statuses := []terminal.TransactionStatus{
		terminal.TxPending, terminal.TxProcessing, terminal.TxApproved, terminal.TxDeclined,
		terminal.TxCancelled, terminal.TxTimeout, terminal.TxError,
	}
	for _, c := range allCodecs(t) {
		for _, st := range statuses {
			resp, err := c.BuildResponse(Reply{Command: CmdStatus, Status: st, TransactionID: txID, Method: terminal.MethodPix})
			if err != nil {
				t.Fatalf("%s %s: %v", c.Vendor(), st, err)
			}
			got, err := c.ParseTransactionResponse(txID, resp)
			if err != nil {
				t.Fatalf("%s %s: %v", c.Vendor(), st, err)
			}
			if got.Status != st {
				t.Fatalf("%s: sent %s, parsed %s", c.Vendor(), st, got.Status)
			}
		}
	}
}

func TestUnknownVendorStatusMapsToError(t *testing.T) {
	text := NewStone(Options{}).(*textCodec)
	frame, err := text.frame(1, map[string]any{"cmd": "STATUS", "code": "00", "status": "ON_THE_MOON"})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	got, err := text.ParseTransactionResponse(txID, frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Status != terminal.TxError || !strings.Contains(got.ErrorMessage, "ON_THE_MOON") {
		t.Fatalf("unexpected %+v", got)
	}

	pos := NewRede(Options{}).(*positionalCodec)
	hdr, _ := layout{txt("code", 2), txt("message", 40)}.encode(map[string]string{"code": "00"})
	body, _ := pos.txn.encode(map[string]string{"status": "77", "id": txID})
	got, err = pos.ParseTransactionResponse(txID, frameLRC(append(hdr, body...)))
	if err != nil {
		t.Fatalf("parse positional: %v", err)
	}
	if got.Status != terminal.TxError {
		t.Fatalf("unknown positional status parsed as %s", got.Status)
	}
}

func TestTextTagIsVerified(t *testing.T) {
	for _, vendor := range []string{"stone", "pagseguro", "getnet"} {
		c, _ := New(vendor, Options{Secret: "shared-secret"})
		resp, err := c.BuildResponse(Reply{Command: CmdPing})
		if err != nil {
			t.Fatalf("%s: %v", vendor, err)
		}
		if !c.IsSuccess(resp) {
			t.Fatalf("%s: ping not successful", vendor)
		}

		other, _ := New(vendor, Options{Secret: "wrong-secret"})
		if other.IsSuccess(resp) {
			t.Fatalf("%s: accepted a frame tagged under another secret", vendor)
		}
		if _, err := other.ParseTransactionResponse(txID, resp); !errors.Is(err, ErrIntegrity) {
			t.Fatalf("%s: expected ErrIntegrity, got %v", vendor, err)
		}

		tampered := bytes.Replace(resp, []byte(`"00"`), []byte(`"01"`), 1)
		if c.IsSuccess(tampered) {
			t.Fatalf("%s: tampered frame accepted", vendor)
		}
	}
}

func TestTextFrameShape(t *testing.T) {
	c := NewPagSeguro(Options{Secret: "k"})
	frame, err := c.BuildCommand(CmdStatus, Payload{Sequence: 1_000_042, TransactionID: txID})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !bytes.HasPrefix(frame, []byte("\x02000042{")) {
		t.Fatalf("unexpected prefix %q", frame[:10])
	}
	sep := bytes.LastIndexByte(frame, '|')
	if sep < 0 || len(frame)-sep-2 != DefaultTagSize {
		t.Fatalf("missing tag in %q", frame)
	}
	if !bytes.Contains(frame, []byte(`"operacao":"consulta"`)) {
		t.Fatalf("unexpected envelope %q", frame)
	}

	untagged := NewPagSeguro(Options{})
	plain, _ := untagged.BuildCommand(CmdPing, Payload{})
	if bytes.IndexByte(plain, '|') >= 0 {
		t.Fatalf("untagged frame carries separator: %q", plain)
	}
	if !untagged.Complete(plain) {
		t.Fatalf("own frame not complete")
	}
}

func TestPositionalIntegrity(t *testing.T) {
	c := NewCielo(Options{})
	resp, err := c.BuildResponse(Reply{Command: CmdStatus, Status: terminal.TxApproved, TransactionID: txID, Amount: decimal.RequireFromString("5.00"), Method: terminal.MethodDebit})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !c.Complete(resp) || c.Complete(resp[:len(resp)-1]) {
		t.Fatalf("completeness check wrong")
	}
	if !c.Complete(append([]byte{0xff, 0x00}, resp...)) {
		t.Fatalf("leading line noise must be skipped")
	}

	corrupt := bytes.Clone(resp)
	corrupt[10] ^= 0x01
	if c.Complete(corrupt) {
		t.Fatalf("corrupted frame reported complete")
	}
	if _, err := c.ParseTransactionResponse(txID, corrupt); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestPositionalRequestLayout(t *testing.T) {
	frame, err := NewRede(Options{}).BuildCommand(CmdSale, Payload{
		TransactionID: txID,
		Amount:        decimal.RequireFromString("25.50"),
		Method:        terminal.MethodDebit,
		Installments:  1,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	body := frame[1 : len(frame)-2]
	if !bytes.HasPrefix(body, []byte("10"+"000000002550"+"02"+"01"+txID)) {
		t.Fatalf("unexpected body %q", body)
	}
	if frame[len(frame)-2] != LRC(body) {
		t.Fatalf("bad lrc")
	}
}

func TestUnsupportedMethodIsRejectedAtEncode(t *testing.T) {
	_, err := NewSumUp(Options{}).BuildCommand(CmdSale, Payload{TransactionID: txID, Amount: decimal.NewFromInt(10), Method: terminal.MethodVoucher})
	if !errors.Is(err, terminal.ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
	methods := NewSumUp(Options{}).Methods()
	if len(methods) != 4 || methods[0] != terminal.MethodCredit {
		t.Fatalf("unexpected sumup methods %v", methods)
	}
	if !slicesContain(NewPagSeguro(Options{}).Methods(), terminal.MethodBoleto) {
		t.Fatalf("pagseguro must carry boleto")
	}
}

func slicesContain(list []terminal.PaymentMethod, m terminal.PaymentMethod) bool {
	for _, v := range list {
		if v == m {
			return true
		}
	}
	return false
}

func TestTerminalInfoDegradesOptionalFields(t *testing.T) {
	battery := 85
	for _, c := range allCodecs(t) {
		resp, err := c.BuildResponse(Reply{Command: CmdInfo, Info: terminal.TerminalInfo{
			SerialNumber:    "SN123",
			Model:           "D195",
			FirmwareVersion: "1.4.2",
			BatteryLevel:    &battery,
		}})
		if err != nil {
			t.Fatalf("%s: %v", c.Vendor(), err)
		}
		info, err := c.ParseTerminalInfo(resp)
		if err != nil {
			t.Fatalf("%s: %v", c.Vendor(), err)
		}
		if info.SerialNumber != "SN123" || info.Model != "D195" || info.FirmwareVersion != "1.4.2" {
			t.Fatalf("%s: %+v", c.Vendor(), info)
		}
		if info.BatteryLevel == nil || *info.BatteryLevel != 85 || info.SignalStrength != nil {
			t.Fatalf("%s: optional levels %v %v", c.Vendor(), info.BatteryLevel, info.SignalStrength)
		}
	}

	getnet := NewGetNet(Options{}).(*textCodec)
	frame, _ := getnet.frame(3, map[string]any{
		"response":    "DEVICE_INFO",
		"return_code": "00",
		"device":      map[string]any{"serial_number": "X", "battery_level": "n/a", "signal_level": "150"},
	})
	info, err := getnet.ParseTerminalInfo(frame)
	if err != nil {
		t.Fatalf("parse lenient info: %v", err)
	}
	if info.SerialNumber != "X" || info.BatteryLevel != nil || info.SignalStrength != nil {
		t.Fatalf("garbage levels must read as unknown: %+v", info)
	}
}

func TestPixAndBoletoFields(t *testing.T) {
	c := NewPagSeguro(Options{})
	frame, err := c.BuildCommand(CmdSale, Payload{
		TransactionID:  txID,
		Amount:         decimal.RequireFromString("150.00"),
		Method:         terminal.MethodBoleto,
		Installments:   1,
		BoletoFine:     decimal.RequireFromString("2"),
		BoletoInterest: decimal.RequireFromString("0.033"),
	})
	if err != nil {
		t.Fatalf("build boleto: %v", err)
	}
	if !bytes.Contains(frame, []byte(`"multa_percentual":"2.00"`)) || !bytes.Contains(frame, []byte(`"juros_percentual":"0.03"`)) {
		t.Fatalf("boleto fields missing: %q", frame)
	}

	for _, codec := range allCodecs(t) {
		resp, err := codec.BuildResponse(Reply{
			Command:       CmdPix,
			Status:        terminal.TxPending,
			TransactionID: txID,
			Amount:        decimal.RequireFromString("12.34"),
			Method:        terminal.MethodPix,
			PixCopyPaste:  "00020101021226...6304ABCD",
		})
		if err != nil {
			t.Fatalf("%s: %v", codec.Vendor(), err)
		}
		got, err := codec.ParseTransactionResponse(txID, resp)
		if err != nil {
			t.Fatalf("%s: %v", codec.Vendor(), err)
		}
		if got.PixCopyPaste != "00020101021226...6304ABCD" || got.Status != terminal.TxPending {
			t.Fatalf("%s: %+v", codec.Vendor(), got)
		}
	}
}

func TestCodeTableMessagesPerVendor(t *testing.T) {
	c := NewStone(Options{})
	resp, _ := c.BuildResponse(Reply{Command: CmdPix, Code: "P1"})
	if msg := c.ErrorMessage(resp); msg != "PIX QR code expired" {
		t.Fatalf("unexpected message %q", msg)
	}
	resp, _ = c.BuildResponse(Reply{Command: CmdPing, Code: "01", Message: "cartao recusado"})
	if msg := c.ErrorMessage(resp); msg != "cartao recusado" {
		t.Fatalf("vendor message must win, got %q", msg)
	}
	if _, err := New("unknown", Options{}); err == nil {
		t.Fatalf("expected error for unknown vendor")
	}
}
