package terminal

import (
	"testing"
	"time"
)

func TestParseConfigVendorSection(t *testing.T) {
	raw := []byte(`{
		// kiosk 12, lobby
		"vendor": "Stone",
		"connection_type": "serial",
		"port": "/dev/ttyUSB0",
		"baudrate": 115200,
		"timeout": 45,
		"retry_attempts": 2,
		"vendor_id": "0x0B00",
		"product_id": 4660,
		"stone": {
			"merchant_id": "M-1",
			"terminal_id": "T-9",
			"api_key": "k",
			"pix": {"pix_key": "kiosk@example.com", "merchant_name": "LOJA", "merchant_city": "SAO PAULO", "timeout": "10m"},
		},
	}`)

	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Vendor != "stone" {
		t.Fatalf("vendor not normalized: %q", cfg.Vendor)
	}
	if cfg.Timeout.Std() != 45*time.Second {
		t.Fatalf("timeout seconds not parsed: %s", cfg.Timeout.Std())
	}
	if cfg.VendorID != 0x0B00 || cfg.ProductID != 4660 {
		t.Fatalf("usb ids not parsed: %s %s", cfg.VendorID, cfg.ProductID)
	}
	if cfg.VendorSettings.MerchantID != "M-1" || cfg.VendorSettings.TerminalID != "T-9" {
		t.Fatalf("vendor section not parsed: %+v", cfg.VendorSettings)
	}
	if cfg.VendorSettings.Pix.Timeout.Std() != 10*time.Minute {
		t.Fatalf("pix timeout not parsed: %s", cfg.VendorSettings.Pix.Timeout.Std())
	}
	if cfg.VendorSettings.Secret() != "k" {
		t.Fatalf("expected api key as secret fallback")
	}
	if len(cfg.VendorRaw) == 0 {
		t.Fatalf("expected raw vendor section to be kept")
	}
}

func TestParseConfigRequiresVendor(t *testing.T) {
	if _, err := ParseConfig([]byte(`{"connection_type": "tcp"}`)); err == nil {
		t.Fatalf("expected error for missing vendor")
	}
	if _, err := ParseConfig([]byte(`{"vendor": `)); err == nil {
		t.Fatalf("expected error for truncated json")
	}
}
