// Package engine wraps the embedded EasyTier networking core. The core is
// linked in as a native library and driven through a small C surface:
// feed it a TOML descriptor, start the instance, hand it a TUN device,
// and poll its key/value telemetry. Everything above this package talks
// to the Engine interface so tests can substitute a scripted fake.
package engine

import "errors"

// KV is one telemetry entry reported by a running network instance.
// Keys are dotted paths such as "instance.running" or
// "instance.virtual_ipv4"; values are stringified by the core.
type KV struct {
	Key   string
	Value string
}

// Engine drives the native networking core.
//
// Run launches a network instance from its rendered TOML descriptor and
// returns once the core has accepted it; the instance itself keeps
// running in the background until released via Retain. SetTunFD hands
// the instance an opened TUN device. Infos snapshots the telemetry of
// every live instance. Retain keeps exactly the named instances alive
// and tears down the rest, so Retain(nil) stops everything.
type Engine interface {
	Run(cfg *Config) error
	SetTunFD(instance string, fd int) error
	Infos() ([]KV, error)
	Retain(names []string) error
}

// ErrUnavailable is returned by every call when the binary was built
// without the native core (the "easytier" build tag).
var ErrUnavailable = errors.New("engine: native core not linked into this build")
