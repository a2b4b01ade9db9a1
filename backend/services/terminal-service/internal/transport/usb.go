package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

var errNoCDCPort = errors.New("no cdc serial port for device")

// dialUSB prefers a CDC-ACM serial interface exposed by the kernel for the vid:pid and
// falls back to raw bulk endpoints.
func dialUSB(ctx context.Context, cfg Config) (conn, error) {
	name, err := findCDCPort(cfg.VendorID, cfg.ProductID)
	if err == nil {
		return openSerialPort(ctx, name, cfg)
	}
	if !errors.Is(err, errNoCDCPort) {
		return nil, err
	}
	return dialUSBBulk(ctx, cfg)
}

var listPorts = enumerator.GetDetailedPortsList

func findCDCPort(vid, pid uint16) (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("enumerate serial ports: %w", err)
	}
	wantVID := fmt.Sprintf("%04x", vid)
	wantPID := fmt.Sprintf("%04x", pid)
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		if strings.EqualFold(p.VID, wantVID) && strings.EqualFold(p.PID, wantPID) {
			return p.Name, nil
		}
	}
	return "", errNoCDCPort
}

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// Ports lists the serial ports of the host, with USB ids where known.
func Ports() ([]PortInfo, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	out := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		if p == nil {
			continue
		}
		out = append(out, PortInfo{
			Name:    p.Name,
			USB:     p.IsUSB,
			VID:     strings.ToLower(p.VID),
			PID:     strings.ToLower(p.PID),
			Serial:  p.SerialNumber,
			Product: p.Product,
		})
	}
	return out, nil
}
