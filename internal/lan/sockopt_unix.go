//go:build unix

package lan

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// broadcastListen opens a UDP socket permitted to send to broadcast
// addresses.
func broadcastListen(addr string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	return lc.ListenPacket(context.Background(), "udp4", addr)
}
