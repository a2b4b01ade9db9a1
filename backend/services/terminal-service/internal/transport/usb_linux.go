//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	sysfsUSBDevices = "/sys/bus/usb/devices"
	usbSlice        = 200 * time.Millisecond
)

// usbdevfs_bulktransfer from linux/usbdevice_fs.h.
type bulkTransfer struct {
	ep      uint32
	length  uint32
	timeout uint32
	data    unsafe.Pointer
}

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('U')<<8 | nr
}

var (
	usbdevfsBulk             = ioc(3, 2, unsafe.Sizeof(bulkTransfer{}))
	usbdevfsClaimInterface   = ioc(2, 15, 4)
	usbdevfsReleaseInterface = ioc(2, 16, 4)
)

func dialUSBBulk(ctx context.Context, cfg Config) (conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := findUSBDevice(sysfsUSBDevices, cfg.VendorID, cfg.ProductID)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	iface := uint32(cfg.Interface)
	if err := ioctl(fd, usbdevfsClaimInterface, unsafe.Pointer(&iface)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("claim interface %d on %s: %w", cfg.Interface, path, err)
	}
	return &usbConn{fd: fd, iface: iface, in: cfg.EndpointIn, out: cfg.EndpointOut}, nil
}

// findUSBDevice maps vid:pid to its usbfs node by scanning sysfs.
func findUSBDevice(root string, vid, pid uint16) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("scan usb devices: %w", err)
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		v, err := readHex(filepath.Join(dir, "idVendor"))
		if err != nil || v != vid {
			continue
		}
		p, err := readHex(filepath.Join(dir, "idProduct"))
		if err != nil || p != pid {
			continue
		}
		bus, err := readInt(filepath.Join(dir, "busnum"))
		if err != nil {
			return "", err
		}
		dev, err := readInt(filepath.Join(dir, "devnum"))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("/dev/bus/usb/%03d/%03d", bus, dev), nil
	}
	return "", fmt.Errorf("usb device %04x:%04x not found", vid, pid)
}

func readHex(path string) (uint16, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 16, 16)
	return uint16(v), err
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// usbConn performs bulk transfers in short slices so a close or deadline is noticed
// within usbSlice. Transfers hold fdMu for reading; Close takes it for writing, so the
// descriptor is never released while an ioctl may still use its number.
type usbConn struct {
	fd    int
	iface uint32
	in    uint8
	out   uint8

	readDeadline  atomic.Int64
	writeDeadline atomic.Int64
	closed        atomic.Bool
	closeOnce     sync.Once
	fdMu          sync.RWMutex
}

func (c *usbConn) bulk(ep uint8, p []byte, timeout time.Duration) (int, error) {
	c.fdMu.RLock()
	defer c.fdMu.RUnlock()
	if c.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	xfer := bulkTransfer{
		ep:      uint32(ep),
		length:  uint32(len(p)),
		timeout: uint32(timeout / time.Millisecond),
		data:    unsafe.Pointer(&p[0]),
	}
	n, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), usbdevfsBulk, uintptr(unsafe.Pointer(&xfer)))
	runtime.KeepAlive(p)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

func sliceUntil(deadline int64) (time.Duration, bool) {
	if deadline == 0 {
		return usbSlice, true
	}
	remaining := time.Until(time.Unix(0, deadline))
	if remaining <= 0 {
		return 0, false
	}
	if remaining < usbSlice {
		return remaining, true
	}
	return usbSlice, true
}

func (c *usbConn) Read(p []byte) (int, error) {
	for {
		slice, ok := sliceUntil(c.readDeadline.Load())
		if !ok {
			return 0, os.ErrDeadlineExceeded
		}
		n, err := c.bulk(c.in, p, slice)
		if errors.Is(err, unix.ETIMEDOUT) {
			continue
		}
		if err != nil || n > 0 {
			return n, err
		}
	}
}

func (c *usbConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		slice, ok := sliceUntil(c.writeDeadline.Load())
		if !ok {
			return written, os.ErrDeadlineExceeded
		}
		n, err := c.bulk(c.out, p[written:], slice)
		if errors.Is(err, unix.ETIMEDOUT) {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (c *usbConn) SetReadDeadline(t time.Time) error {
	c.readDeadline.Store(unixNanoOrZero(t))
	return nil
}

func (c *usbConn) SetWriteDeadline(t time.Time) error {
	c.writeDeadline.Store(unixNanoOrZero(t))
	return nil
}

func (c *usbConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.fdMu.Lock()
		defer c.fdMu.Unlock()
		_ = ioctl(c.fd, usbdevfsReleaseInterface, unsafe.Pointer(&c.iface))
		err = unix.Close(c.fd)
	})
	return err
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
