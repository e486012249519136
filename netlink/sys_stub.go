//go:build !linux

package netlink

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("netlink discovery is only available on linux")

func dialSys(protocol int, timeout time.Duration) (sock, error) {
	return nil, errUnsupported
}
