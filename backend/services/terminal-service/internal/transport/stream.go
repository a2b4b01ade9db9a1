package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxFrameSize = 64 * 1024

// conn is the handle every medium reduces to: a byte pipe with read and write deadlines.
// Reads past the deadline fail with os.ErrDeadlineExceeded.
type conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// inputResetter is implemented by handles that can drop stale unread input.
type inputResetter interface {
	ResetInputBuffer() error
}

type dialFunc func(ctx context.Context, cfg Config) (conn, error)

// Stream implements Transport on top of a dialled conn. Exchanges are serialized by ioMu;
// Disconnect only takes mu so that it can close the handle under a pending read.
type Stream struct {
	cfg    Config
	dial   dialFunc
	logger *zap.Logger

	ioMu sync.Mutex

	mu   sync.Mutex
	conn conn
}

var _ Transport = (*Stream)(nil)

// New builds the transport for cfg.Kind.
func New(cfg Config, logger *zap.Logger) (*Stream, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var dial dialFunc
	switch cfg.Kind {
	case KindSerial:
		dial = dialSerial
	case KindTCP:
		dial = dialTCP
	case KindBluetooth:
		dial = dialBluetooth
	case KindUSB:
		dial = dialUSB
	}
	return newStream(cfg, dial, logger), nil
}

func newStream(cfg Config, dial dialFunc, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		cfg:    cfg,
		dial:   dial,
		logger: logger.With(zap.String("transport", string(cfg.Kind))),
	}
}

// Kind returns the medium.
func (s *Stream) Kind() Kind { return s.cfg.Kind }

// Connect opens the link; calling it on an open link is a no-op.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	c, err := s.dial(dialCtx, s.cfg)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", s.cfg.Kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = c.Close()
		return nil
	}
	s.conn = c
	s.logger.Debug("transport opened")
	return nil
}

// Disconnect closes the link, unblocking any pending read.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	s.logger.Debug("transport closed")
	return c.Close()
}

// IsConnected reports whether a handle is open.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Stream) current() (conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotOpen
	}
	return s.conn, nil
}

func (s *Stream) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// SendRaw writes frame without reading.
func (s *Stream) SendRaw(ctx context.Context, frame []byte) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	c, err := s.current()
	if err != nil {
		return err
	}
	return s.write(ctx, c, frame, s.deadline(ctx))
}

// SendCommand writes frame and accumulates the answer until complete is satisfied or the
// deadline passes. Context cancellation interrupts the read.
func (s *Stream) SendCommand(ctx context.Context, frame []byte, complete Predicate) ([]byte, error) {
	if complete == nil {
		complete = DefaultPredicate
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	c, err := s.current()
	if err != nil {
		return nil, err
	}

	deadline := s.deadline(ctx)
	if r, ok := c.(inputResetter); ok {
		_ = r.ResetInputBuffer()
	}
	if err := s.write(ctx, c, frame, deadline); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { _ = c.SetReadDeadline(time.Now()) })
	defer stop()

	if err := c.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("transport: set read deadline: %w", err)
	}

	buf := make([]byte, 512)
	acc := make([]byte, 0, 256)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			if complete(acc) {
				s.logger.Debug("rx", zap.String("hex", hex.EncodeToString(acc)))
				return acc, nil
			}
			if len(acc) > maxFrameSize {
				return nil, ErrFrameTooLarge
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w after %s (%d bytes read)", ErrTimeout, s.cfg.Timeout, len(acc))
		}
		if errors.Is(err, io.EOF) && len(acc) > 0 {
			return nil, fmt.Errorf("transport: peer closed mid-frame: %w", io.ErrUnexpectedEOF)
		}
		return nil, fmt.Errorf("transport: read: %w", err)
	}
}

func (s *Stream) write(ctx context.Context, c conn, frame []byte, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = c.SetWriteDeadline(deadline)
	s.logger.Debug("tx", zap.String("hex", hex.EncodeToString(frame)))
	for written := 0; written < len(frame); {
		n, err := c.Write(frame[written:])
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return fmt.Errorf("%w: write", ErrTimeout)
			}
			return fmt.Errorf("transport: write: %w", err)
		}
		written += n
	}
	return nil
}
