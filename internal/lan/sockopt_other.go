//go:build !unix

package lan

import (
	"context"
	"net"
)

func broadcastListen(addr string) (net.PacketConn, error) {
	var lc net.ListenConfig
	return lc.ListenPacket(context.Background(), "udp4", addr)
}
