//go:build linux

package tun

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

const devicePath = "/dev/net/tun"

func open(name string, prefix netip.Prefix, mtu int) (*Device, error) {
	fd, err := unix.Open(devicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("tun: open %s: %w", devicePath, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: interface name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: create %q: %w", name, err)
	}
	// The kernel may have expanded a %d pattern.
	realName := ifr.Name()

	if err := configure(realName, prefix, mtu); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Device{name: realName, file: os.NewFile(uintptr(fd), devicePath)}, nil
}

// configure assigns address and mask, sets the MTU and flips the link
// up, all through a throwaway datagram socket.
func configure(name string, prefix netip.Prefix, mtu int) error {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("tun: control socket: %w", err)
	}
	defer unix.Close(sock)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("tun: interface name %q: %w", name, err)
	}

	addr := prefix.Addr().As4()
	if err := ifr.SetInet4Addr(addr[:]); err != nil {
		return fmt.Errorf("tun: set address: %w", err)
	}
	if err := unix.IoctlIfreq(sock, unix.SIOCSIFADDR, ifr); err != nil {
		return fmt.Errorf("tun: assign %s to %s: %w", prefix.Addr(), name, err)
	}

	mask := net.CIDRMask(prefix.Bits(), 32)
	if err := ifr.SetInet4Addr(mask); err != nil {
		return fmt.Errorf("tun: set netmask: %w", err)
	}
	if err := unix.IoctlIfreq(sock, unix.SIOCSIFNETMASK, ifr); err != nil {
		return fmt.Errorf("tun: netmask on %s: %w", name, err)
	}

	ifr.SetUint32(uint32(mtu))
	if err := unix.IoctlIfreq(sock, unix.SIOCSIFMTU, ifr); err != nil {
		return fmt.Errorf("tun: mtu on %s: %w", name, err)
	}

	if err := unix.IoctlIfreq(sock, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("tun: read flags of %s: %w", name, err)
	}
	ifr.SetUint16(ifr.Uint16() | unix.IFF_UP)
	if err := unix.IoctlIfreq(sock, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("tun: bring %s up: %w", name, err)
	}
	return nil
}
