//go:build linux

package transport

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const rfcommPollSlice = 100 * time.Millisecond

// dialBluetooth opens an RFCOMM stream to a paired device. The socket is switched to
// non-blocking mode before connect so the attempt can be bounded by ctx, and so the
// resulting *os.File supports deadlines.
func dialBluetooth(ctx context.Context, cfg Config) (conn, error) {
	addr, err := parseBDAddr(cfg.BluetoothAddress)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm nonblock: %w", err)
	}

	sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: uint8(cfg.BluetoothChannel)}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm connect %s: %w", cfg.BluetoothAddress, err)
	}
	if err := waitWritable(ctx, fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm connect %s: %w", cfg.BluetoothAddress, err)
	}

	return os.NewFile(uintptr(fd), "rfcomm:"+cfg.BluetoothAddress), nil
}

func waitWritable(ctx context.Context, fd int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(rfcommPollSlice/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}
