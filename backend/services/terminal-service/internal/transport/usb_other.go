//go:build !linux

package transport

import "context"

func dialUSBBulk(context.Context, Config) (conn, error) {
	return nil, ErrUnsupportedPlatform
}
