//go:build !linux

package transport

import "context"

func dialBluetooth(context.Context, Config) (conn, error) {
	return nil, ErrUnsupportedPlatform
}
