// Package tun opens the layer-3 device a session hands over to the
// engine. The engine only ever sees the raw descriptor; addressing and
// link state are settled here before the hand-off.
package tun

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
)

// MTU leaves room for the overlay's encapsulation on every transport it
// may pick.
const MTU = 1300

// ErrUnsupported is returned on platforms without a TUN driver binding.
var ErrUnsupported = errors.New("tun: not supported on this platform")

// Options configures Open. Addr is mandatory and must be an IPv4 CIDR
// such as "10.144.144.1/24"; the rest defaults.
type Options struct {
	Name string // interface name, %d expanded by the kernel
	Addr string
	MTU  int
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "lanroom%d"
	}
	if o.MTU == 0 {
		o.MTU = MTU
	}
	return o
}

// Device is an opened TUN interface. It keeps ownership of the
// descriptor; Close invalidates what FD returned.
type Device struct {
	name string
	file *os.File
}

func (d *Device) Name() string { return d.name }

// FD returns the raw descriptor to hand to the engine.
func (d *Device) FD() int { return int(d.file.Fd()) }

func (d *Device) Close() error { return d.file.Close() }

// Open creates the device, assigns its address and brings the link up.
func Open(opts Options) (*Device, error) {
	opts = opts.withDefaults()
	prefix, err := netip.ParsePrefix(opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("tun: parse address %q: %w", opts.Addr, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("tun: address %q is not IPv4", opts.Addr)
	}
	return open(opts.Name, prefix, opts.MTU)
}
