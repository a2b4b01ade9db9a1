// Package factory turns tenant terminal configurations into adapters.
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kioskpay/backend/services/terminal-service/internal/adapter"
	"kioskpay/backend/services/terminal-service/internal/codec"
	"kioskpay/backend/services/terminal-service/internal/simulator"
	"kioskpay/backend/services/terminal-service/internal/terminal"
	"kioskpay/backend/services/terminal-service/internal/transport"
)

var ErrUnknownVendor = errors.New("factory: unknown vendor")

// Credential names usable in Descriptor.Required.
const (
	FieldMerchantID = "merchant_id"
	FieldTerminalID = "terminal_id"
	// FieldSecret is satisfied by shared_secret, api_key or access_token.
	FieldSecret = "secret"
)

// Constructor builds an adapter from a config that already passed validation.
type Constructor func(cfg terminal.Config, logger *zap.Logger) (terminal.Adapter, error)

// Descriptor is a vendor's entry in the registry.
type Descriptor struct {
	Build Constructor
	// NoTransport marks adapters that talk to no device.
	NoTransport bool

	ConnectionType string
	BaudRate       int
	Timeout        time.Duration
	Required       []string
}

func (d Descriptor) withDefaults(cfg terminal.Config) terminal.Config {
	if cfg.ConnectionType == "" {
		cfg.ConnectionType = d.ConnectionType
	}
	if cfg.BaudRate == 0 && cfg.ConnectionType == terminal.ConnSerial {
		cfg.BaudRate = d.BaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = terminal.Duration(d.Timeout)
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	return cfg
}

func (d Descriptor) validate(cfg terminal.Config) error {
	var errs []error
	vs := cfg.VendorSettings
	for _, f := range d.Required {
		var ok bool
		switch f {
		case FieldMerchantID:
			ok = strings.TrimSpace(vs.MerchantID) != ""
		case FieldTerminalID:
			ok = strings.TrimSpace(vs.TerminalID) != ""
		case FieldSecret:
			ok = vs.Secret() != ""
		}
		if !ok {
			errs = append(errs, fmt.Errorf("%s.%s is required", cfg.Vendor, f))
		}
	}
	if cfg.RetryAttempts < 0 {
		errs = append(errs, errors.New("retry_attempts must not be negative"))
	}
	if !d.NoTransport {
		if cfg.ConnectionType == "" {
			errs = append(errs, errors.New("connection_type is required"))
		} else if err := TransportConfig(cfg).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry maps vendor names to descriptors.
type Registry struct {
	mu      sync.RWMutex
	vendors map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{vendors: make(map[string]Descriptor)}
}

// Register adds or replaces a vendor.
func (r *Registry) Register(vendor string, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vendors[strings.ToLower(vendor)] = d
}

// Vendors lists registered vendors, sorted.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.vendors))
	for v := range r.vendors {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Lookup returns the descriptor for vendor.
func (r *Registry) Lookup(vendor string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.vendors[strings.ToLower(vendor)]
	return d, ok
}

// Build applies vendor defaults, validates cfg and constructs the adapter. Every
// configuration problem is reported at once.
func (r *Registry) Build(cfg terminal.Config, logger *zap.Logger) (terminal.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Vendor = strings.ToLower(strings.TrimSpace(cfg.Vendor))
	d, ok := r.Lookup(cfg.Vendor)
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownVendor, cfg.Vendor, strings.Join(r.Vendors(), ", "))
	}
	cfg = d.withDefaults(cfg)
	if err := d.validate(cfg); err != nil {
		return nil, fmt.Errorf("factory: invalid %s config: %w", cfg.Vendor, err)
	}
	a, err := d.Build(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("factory: build %s adapter: %w", cfg.Vendor, err)
	}
	return a, nil
}

// TransportConfig translates the tenant addressing fields.
func TransportConfig(cfg terminal.Config) transport.Config {
	return transport.Config{
		Kind:             transport.Kind(cfg.ConnectionType),
		Port:             cfg.Port,
		BaudRate:         cfg.BaudRate,
		Host:             cfg.Host,
		TCPPort:          cfg.TCPPort,
		BluetoothAddress: cfg.BluetoothAddress,
		BluetoothChannel: cfg.BluetoothChannel,
		VendorID:         uint16(cfg.VendorID),
		ProductID:        uint16(cfg.ProductID),
		Timeout:          cfg.Timeout.Std(),
		RetryAttempts:    cfg.RetryAttempts,
	}.WithDefaults()
}

// Hardware returns a constructor pairing the vendor's codec with a transport.
func Hardware(vendor string) Constructor {
	return func(cfg terminal.Config, logger *zap.Logger) (terminal.Adapter, error) {
		c, err := codec.New(vendor, codec.Options{Secret: cfg.VendorSettings.Secret()})
		if err != nil {
			return nil, err
		}
		t, err := transport.New(TransportConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		return adapter.New(adapter.Config{
			Vendor:        vendor,
			Methods:       c.Methods(),
			Limits:        terminal.DefaultMethodConfig().Merge(cfg.Methods),
			RetryAttempts: cfg.RetryAttempts,
			MerchantID:    cfg.VendorSettings.MerchantID,
			TerminalID:    cfg.VendorSettings.TerminalID,
			Pix:           cfg.VendorSettings.Pix,
			DefaultInfo:   terminal.TerminalInfo{Model: vendor},
		}, t, c, logger), nil
	}
}

// simulatorSettings are the extra knobs read from the "simulator" section.
type simulatorSettings struct {
	Delay        terminal.Duration        `json:"delay"`
	FailureRate  *float64                 `json:"failure_rate"`
	Seed         uint64                   `json:"seed"`
	ConnectDelay terminal.Duration        `json:"connect_delay"`
	Methods      []terminal.PaymentMethod `json:"payment_methods"`
	Info         *terminal.TerminalInfo   `json:"info"`
}

func buildSimulator(cfg terminal.Config, logger *zap.Logger) (terminal.Adapter, error) {
	var s simulatorSettings
	if len(cfg.VendorRaw) > 0 {
		if err := json.Unmarshal(cfg.VendorRaw, &s); err != nil {
			return nil, fmt.Errorf("decode simulator section: %w", err)
		}
	}
	rate := simulator.DefaultFailureRate
	if s.FailureRate != nil {
		rate = *s.FailureRate
	}
	sc := simulator.Config{
		Delay:        s.Delay.Std(),
		FailureRate:  rate,
		Seed:         s.Seed,
		ConnectDelay: s.ConnectDelay.Std(),
		Methods:      s.Methods,
		Limits:       terminal.DefaultMethodConfig().Merge(cfg.Methods),
		Pix:          cfg.VendorSettings.Pix,
	}
	if s.Info != nil {
		sc.Info = *s.Info
	}
	return simulator.New(sc, logger), nil
}

// Default returns a registry with every supported vendor and the simulator.
func Default() *Registry {
	r := NewRegistry()
	text := []string{FieldMerchantID, FieldTerminalID, FieldSecret}
	r.Register("stone", Descriptor{
		Build:          Hardware("stone"),
		ConnectionType: terminal.ConnSerial,
		BaudRate:       115200,
		Timeout:        30 * time.Second,
		Required:       text,
	})
	r.Register("pagseguro", Descriptor{
		Build:          Hardware("pagseguro"),
		ConnectionType: terminal.ConnBluetooth,
		Timeout:        45 * time.Second,
		Required:       []string{FieldMerchantID, FieldSecret},
	})
	r.Register("getnet", Descriptor{
		Build:          Hardware("getnet"),
		ConnectionType: terminal.ConnTCP,
		Timeout:        30 * time.Second,
		Required:       text,
	})
	r.Register("cielo", Descriptor{
		Build:          Hardware("cielo"),
		ConnectionType: terminal.ConnSerial,
		BaudRate:       9600,
		Timeout:        60 * time.Second,
		Required:       []string{FieldMerchantID, FieldTerminalID},
	})
	r.Register("rede", Descriptor{
		Build:          Hardware("rede"),
		ConnectionType: terminal.ConnSerial,
		BaudRate:       9600,
		Timeout:        60 * time.Second,
		Required:       []string{FieldMerchantID},
	})
	r.Register("sumup", Descriptor{
		Build:          Hardware("sumup"),
		ConnectionType: terminal.ConnBluetooth,
		Timeout:        30 * time.Second,
		Required:       []string{FieldMerchantID},
	})
	r.Register(simulator.Vendor, Descriptor{
		Build:       buildSimulator,
		NoTransport: true,
	})
	return r
}
