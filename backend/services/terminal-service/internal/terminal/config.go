package terminal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Connection kinds accepted in tenant configuration.
const (
	ConnSerial    = "serial"
	ConnTCP       = "tcp"
	ConnBluetooth = "bluetooth"
	ConnUSB       = "usb"
)

// Config is the per-tenant terminal configuration handed over by the tenant CRUD layer.
// It is immutable once an adapter has been built from it.
type Config struct {
	Vendor           string   `json:"vendor"`
	ConnectionType   string   `json:"connection_type"`
	Port             string   `json:"port,omitempty"`
	Host             string   `json:"host,omitempty"`
	TCPPort          int      `json:"tcp_port,omitempty"`
	BaudRate         int      `json:"baudrate,omitempty"`
	BluetoothAddress string   `json:"bluetooth_address,omitempty"`
	BluetoothChannel int      `json:"bluetooth_channel,omitempty"`
	VendorID         HexID    `json:"vendor_id,omitempty"`
	ProductID        HexID    `json:"product_id,omitempty"`
	Timeout          Duration `json:"timeout,omitempty"`
	RetryAttempts    int      `json:"retry_attempts,omitempty"`

	// Methods overrides DefaultMethodConfig per payment method.
	Methods MethodConfig `json:"methods,omitempty"`

	// VendorSettings is the section keyed by the vendor name, e.g. "stone": {...}.
	VendorSettings VendorSettings `json:"-"`
	// VendorRaw keeps that section verbatim for adapters with extra knobs.
	VendorRaw json.RawMessage `json:"-"`
}

// VendorSettings holds credentials common to every acquirer.
type VendorSettings struct {
	MerchantID   string      `json:"merchant_id"`
	TerminalID   string      `json:"terminal_id"`
	APIKey       string      `json:"api_key"`
	AccessToken  string      `json:"access_token"`
	SharedSecret string      `json:"shared_secret"`
	Pix          PixSettings `json:"pix"`
}

// Secret returns the key used for integrity tags: the shared secret, or the API key.
func (v VendorSettings) Secret() string {
	if v.SharedSecret != "" {
		return v.SharedSecret
	}
	if v.APIKey != "" {
		return v.APIKey
	}
	return v.AccessToken
}

// PixSettings configures PIX charges generated by the terminal.
type PixSettings struct {
	PixKey       string   `json:"pix_key"`
	MerchantName string   `json:"merchant_name"`
	MerchantCity string   `json:"merchant_city"`
	Timeout      Duration `json:"timeout"`
}

// ParseConfig decodes a tenant terminal configuration. Comments and trailing commas are
// tolerated.
func ParseConfig(data []byte) (Config, error) {
	clean := jsonc.ToJSON(data)

	var cfg Config
	if err := json.Unmarshal(clean, &cfg); err != nil {
		return Config{}, fmt.Errorf("terminal: decode config: %w", err)
	}
	cfg.Vendor = strings.ToLower(strings.TrimSpace(cfg.Vendor))
	cfg.ConnectionType = strings.ToLower(strings.TrimSpace(cfg.ConnectionType))
	if cfg.Vendor == "" {
		return Config{}, fmt.Errorf("terminal: config has no vendor")
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(clean, &sections); err != nil {
		return Config{}, fmt.Errorf("terminal: decode config sections: %w", err)
	}
	for key, raw := range sections {
		if strings.EqualFold(key, cfg.Vendor) {
			cfg.VendorRaw = raw
			if err := json.Unmarshal(raw, &cfg.VendorSettings); err != nil {
				return Config{}, fmt.Errorf("terminal: decode %s section: %w", cfg.Vendor, err)
			}
			break
		}
	}
	return cfg, nil
}

// Duration accepts either a number of seconds or a Go duration string.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if str == "" {
			*d = 0
			return nil
		}
		if parsed, err := time.ParseDuration(str); err == nil {
			*d = Duration(parsed)
			return nil
		}
		s = str
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// HexID is a USB vendor or product id, written as a number or a hex string.
type HexID uint16

func (h *HexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(str)), "0x")
		if str == "" {
			*h = 0
			return nil
		}
		v, err := strconv.ParseUint(str, 16, 16)
		if err != nil {
			return fmt.Errorf("invalid usb id %q", str)
		}
		*h = HexID(v)
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid usb id %s", s)
	}
	*h = HexID(v)
	return nil
}

func (h HexID) String() string { return fmt.Sprintf("%04x", uint16(h)) }
