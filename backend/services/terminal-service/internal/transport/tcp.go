package transport

import (
	"context"
	"net"
	"strconv"
	"time"
)

func dialTCP(ctx context.Context, cfg Config) (conn, error) {
	dialer := net.Dialer{Timeout: cfg.Timeout, KeepAlive: 30 * time.Second}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.TCPPort))
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return c, nil
}
