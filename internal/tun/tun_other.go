//go:build !linux

package tun

import (
	"fmt"
	"net/netip"
	"runtime"
)

func open(string, netip.Prefix, int) (*Device, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOOS)
}
