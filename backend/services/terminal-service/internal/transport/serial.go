package transport

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// serialPoll bounds each blocking read so deadline changes are observed promptly.
const serialPoll = 50 * time.Millisecond

func serialMode(cfg Config) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch cfg.Parity {
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	}
	if cfg.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode
}

func dialSerial(ctx context.Context, cfg Config) (conn, error) {
	return openSerialPort(ctx, cfg.Port, cfg)
}

func openSerialPort(ctx context.Context, name string, cfg Config) (conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := serial.Open(name, serialMode(cfg))
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return &serialConn{port: port}, nil
}

// serialConn gives a serial.Port deadline semantics by polling with short read timeouts.
type serialConn struct {
	port     serial.Port
	deadline atomic.Int64
}

func (c *serialConn) Read(p []byte) (int, error) {
	for {
		slice := serialPoll
		if d := c.deadline.Load(); d != 0 {
			remaining := time.Until(time.Unix(0, d))
			if remaining <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			if remaining < slice {
				slice = remaining
			}
		}
		if err := c.port.SetReadTimeout(slice); err != nil {
			return 0, err
		}
		n, err := c.port.Read(p)
		if err != nil || n > 0 {
			return n, err
		}
	}
}

func (c *serialConn) Write(p []byte) (int, error) { return c.port.Write(p) }

func (c *serialConn) Close() error { return c.port.Close() }

func (c *serialConn) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		c.deadline.Store(0)
		return nil
	}
	c.deadline.Store(t.UnixNano())
	return nil
}

// SetWriteDeadline is accepted but ignored: serial writes complete once the driver
// buffers them.
func (c *serialConn) SetWriteDeadline(time.Time) error { return nil }

func (c *serialConn) ResetInputBuffer() error { return c.port.ResetInputBuffer() }
