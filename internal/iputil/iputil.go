// Package iputil owns the overlay addressing policy: which fixed address a
// host claims, which deterministic address a guest derives for itself, and
// the small local-network lookups (free UDP port, IPv4 capability) the
// session needs while building a tunnel config.
package iputil

import (
	"crypto/sha256"
	"fmt"
	"net"

	"github.com/lanroom/lanroom/internal/invite"
)

// Overlay subnets per room format. The three-octet prefix strings also feed
// the address digest below, so they are wire-level constants.
const (
	terracottaBase = "10.144.144"
	pclBase        = "10.114.51"
)

// HostIPv4 returns the fixed overlay address of the room's host side:
// Terracotta rooms pin the host at .1 in their subnet, compact rooms at .41.
func HostIPv4(kind invite.Kind) string {
	if kind == invite.KindTerracotta {
		return terracottaBase + ".1"
	}
	return pclBase + ".41"
}

// GuestIPv4 derives this device's overlay address for a room. The result is
// a pure function of the inputs, so rejoining the same room from the same
// device always lands on the same address.
func GuestIPv4(deviceID string, kind invite.Kind, name, secret string) string {
	base := subnetBase(kind)
	seed := deviceID + "|" + seedLabel(kind) + "|" + name + "|" + secret + "|" + base
	digest := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%s.%d", base, octetFor(digest[0], kind))
}

// octetFor maps a digest byte into the host range 2..254. The Terracotta
// host address .1 sits below that range already; the compact format's .41
// does not, so it is stepped over.
func octetFor(b byte, kind invite.Kind) int {
	host := int(b)%253 + 2
	if kind == invite.KindPCL2CE && host == 41 {
		host++
	}
	return host
}

func subnetBase(kind invite.Kind) string {
	if kind == invite.KindTerracotta {
		return terracottaBase
	}
	return pclBase
}

// seedLabel is the kind's spelling inside the address digest. Other
// implementations hash these exact labels, so they are fixed independently
// of Kind.String.
func seedLabel(kind invite.Kind) string {
	switch kind {
	case invite.KindTerracotta:
		return "TERRACOTTA"
	case invite.KindPCL2CE:
		return "PCL2CE"
	default:
		return "INVALID"
	}
}

// RandomUDPPort asks the OS for a free UDP port by binding port zero. The
// fixed fallback keeps guest startup going even when binding fails.
func RandomUDPPort() int {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return 35781
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

// HasIPv4Interface reports whether any non-loopback interface is up with an
// IPv4 address. Guests use it to decide whether an IPv4 port-forward rule
// is worth emitting next to the IPv6 one.
func HasIPv4Interface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := addrIP(addr)
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				return true
			}
		}
	}
	return false
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPNet:
		return a.IP
	case *net.IPAddr:
		return a.IP
	default:
		return nil
	}
}
