// Package transport moves raw bytes to and from payment terminals over serial lines, TCP
// sockets, Bluetooth RFCOMM channels and USB bulk endpoints. It has no protocol
// knowledge: callers pass a completeness predicate that tells the read loop when a frame
// has fully arrived.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind names a physical connection type.
type Kind string

// Connection kinds.
const (
	KindSerial    Kind = "serial"
	KindTCP       Kind = "tcp"
	KindBluetooth Kind = "bluetooth"
	KindUSB       Kind = "usb"
)

var (
	ErrTimeout             = errors.New("transport: timeout waiting for response")
	ErrNotOpen             = errors.New("transport: connection not open")
	ErrUnsupportedPlatform = errors.New("transport: not supported on this platform")
	ErrFrameTooLarge       = errors.New("transport: response exceeds maximum frame size")
)

// Transport is a byte-level link to one terminal. SendCommand never blocks longer than
// the configured timeout and never retries; reconnection is the caller's job.
type Transport interface {
	Kind() Kind
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	// SendCommand writes frame and reads until complete reports a full response.
	SendCommand(ctx context.Context, frame []byte, complete Predicate) ([]byte, error)
	// SendRaw writes frame without waiting for an answer.
	SendRaw(ctx context.Context, frame []byte) error
}

// Predicate reports whether buf holds a complete response.
type Predicate func(buf []byte) bool

const (
	etx = 0x03
)

// DefaultPredicate accepts a frame ending in ETX or CRLF.
func DefaultPredicate(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	return buf[len(buf)-1] == etx || bytes.HasSuffix(buf, []byte("\r\n"))
}

// Parity values for serial lines.
const (
	ParityNone = "none"
	ParityEven = "even"
	ParityOdd  = "odd"
)

// Config addresses one terminal. Only the fields of the selected Kind are used.
type Config struct {
	Kind Kind

	// serial
	Port     string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int

	// tcp
	Host    string
	TCPPort int

	// bluetooth
	BluetoothAddress string
	BluetoothChannel int

	// usb
	VendorID    uint16
	ProductID   uint16
	Interface   int
	EndpointIn  uint8
	EndpointOut uint8

	Timeout       time.Duration
	RetryAttempts int
}

const (
	DefaultTimeout  = 30 * time.Second
	DefaultBaudRate = 9600
)

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 1
	}
	switch c.Kind {
	case KindSerial:
		if c.BaudRate <= 0 {
			c.BaudRate = DefaultBaudRate
		}
		if c.DataBits <= 0 {
			c.DataBits = 8
		}
		if c.Parity == "" {
			c.Parity = ParityNone
		}
		if c.StopBits <= 0 {
			c.StopBits = 1
		}
	case KindBluetooth:
		if c.BluetoothChannel <= 0 {
			c.BluetoothChannel = 1
		}
	case KindUSB:
		if c.EndpointIn == 0 {
			c.EndpointIn = 0x81
		}
		if c.EndpointOut == 0 {
			c.EndpointOut = 0x01
		}
		if c.BaudRate <= 0 {
			c.BaudRate = DefaultBaudRate
		}
	}
	return c
}

// Validate reports every missing addressing field for the selected kind.
func (c Config) Validate() error {
	var errs []error
	switch c.Kind {
	case KindSerial:
		if strings.TrimSpace(c.Port) == "" {
			errs = append(errs, errors.New("serial port is required"))
		}
		switch c.Parity {
		case "", ParityNone, ParityEven, ParityOdd:
		default:
			errs = append(errs, fmt.Errorf("unknown parity %q", c.Parity))
		}
		if c.StopBits != 0 && c.StopBits != 1 && c.StopBits != 2 {
			errs = append(errs, fmt.Errorf("stop bits must be 1 or 2, got %d", c.StopBits))
		}
	case KindTCP:
		if strings.TrimSpace(c.Host) == "" {
			errs = append(errs, errors.New("tcp host is required"))
		}
		if c.TCPPort <= 0 || c.TCPPort > 65535 {
			errs = append(errs, fmt.Errorf("tcp port %d out of range", c.TCPPort))
		}
	case KindBluetooth:
		if _, err := parseBDAddr(c.BluetoothAddress); err != nil {
			errs = append(errs, err)
		}
		if c.BluetoothChannel < 0 || c.BluetoothChannel > 30 {
			errs = append(errs, fmt.Errorf("rfcomm channel %d out of range", c.BluetoothChannel))
		}
	case KindUSB:
		if c.VendorID == 0 || c.ProductID == 0 {
			errs = append(errs, errors.New("usb vendor_id and product_id are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown connection type %q", c.Kind))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// parseBDAddr parses "AA:BB:CC:DD:EE:FF" into the little-endian byte order the kernel
// expects.
func parseBDAddr(s string) ([6]byte, error) {
	var out [6]byte
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i, p := range parts {
		var b byte
		if _, err := fmt.Sscanf(p, "%02X", &b); err != nil || len(p) != 2 {
			return out, fmt.Errorf("invalid bluetooth address %q", s)
		}
		out[5-i] = b
	}
	return out, nil
}
