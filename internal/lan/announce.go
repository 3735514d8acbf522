package lan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/lanroom/lanroom/internal/util"
)

// Announcer beacons a joined room to game clients on this machine's
// networks. One primary path is chosen so clients do not list the same
// world twice: the subnet broadcast of the best interface when one
// exists, IPv4 multicast otherwise. The extra paths are additive and
// default off.
type Announcer struct {
	MOTD string
	Port int

	Group4   string
	Group6   string
	DestPort int
	Every    time.Duration

	IPv6Multicast   bool
	GlobalBroadcast bool
	Loopback        bool
}

type sender struct {
	conn  net.PacketConn
	dst   net.Addr
	label string
}

func (a Announcer) withDefaults() Announcer {
	if a.Group4 == "" {
		a.Group4 = GroupV4
	}
	if a.Group6 == "" {
		a.Group6 = GroupV6
	}
	if a.DestPort == 0 {
		a.DestPort = BeaconPort
	}
	if a.Every == 0 {
		a.Every = 1500 * time.Millisecond
	}
	return a
}

// Run beacons until ctx is cancelled. The first beacon goes out
// immediately; it fails fast when no send path can be opened at all.
func (a Announcer) Run(ctx context.Context) error {
	a = a.withDefaults()
	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("lan: cannot announce port %d", a.Port)
	}

	senders := a.open()
	if len(senders) == 0 {
		return errors.New("lan: no announcement path available")
	}
	defer func() {
		for _, s := range senders {
			s.conn.Close()
		}
	}()

	payload := Announcement(a.MOTD, a.Port)
	beacon := func() {
		for _, s := range senders {
			if _, err := s.conn.WriteTo(payload, s.dst); err != nil {
				util.Debugf("lan: %s send failed: %v", s.label, err)
			}
		}
	}

	beacon()
	timer := time.NewTimer(a.Every)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			beacon()
			timer.Reset(a.Every)
		}
	}
}

func (a Announcer) open() []sender {
	var senders []sender

	if s, ok := a.openBroadcast(); ok {
		senders = append(senders, s)
	} else if s, ok := a.openMulticast4(); ok {
		senders = append(senders, s)
	}
	if a.IPv6Multicast {
		if s, ok := a.openMulticast6(); ok {
			senders = append(senders, s)
		}
	}
	if a.GlobalBroadcast {
		if s, ok := a.openGlobal(); ok {
			senders = append(senders, s)
		}
	}
	if a.Loopback {
		senders = append(senders, a.openLoopback()...)
	}
	return senders
}

// openBroadcast binds to the best interface's IPv4 address and targets
// its subnet broadcast.
func (a Announcer) openBroadcast() (sender, bool) {
	path, ok := bestBroadcastPath()
	if !ok {
		return sender{}, false
	}
	conn, err := broadcastListen(net.JoinHostPort(path.local.String(), "0"))
	if err != nil {
		util.Debugf("lan: broadcast socket on %s: %v", path.ifc.Name, err)
		return sender{}, false
	}
	util.Debugf("lan: announcing via %s broadcast %s:%d", path.ifc.Name, path.bcast, a.DestPort)
	return sender{conn, &net.UDPAddr{IP: path.bcast, Port: a.DestPort}, "broadcast"}, true
}

func (a Announcer) openMulticast4() (sender, bool) {
	group := net.ParseIP(a.Group4)
	ifc := firstIfaceWith(func(ip net.IP) bool { return ip.To4() != nil })
	if group == nil || ifc == nil {
		return sender{}, false
	}
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		util.Debugf("lan: multicast socket: %v", err)
		return sender{}, false
	}
	p := ipv4.NewPacketConn(conn)
	_ = p.SetMulticastInterface(ifc)
	_ = p.SetMulticastTTL(1)
	_ = p.SetMulticastLoopback(true)
	util.Debugf("lan: announcing via multicast on %s", ifc.Name)
	return sender{conn, &net.UDPAddr{IP: group, Port: a.DestPort}, "multicast"}, true
}

func (a Announcer) openMulticast6() (sender, bool) {
	group := net.ParseIP(a.Group6)
	ifc := firstIfaceWith(func(ip net.IP) bool { return ip.To4() == nil && ip.To16() != nil })
	if group == nil || ifc == nil {
		return sender{}, false
	}
	conn, err := net.ListenPacket("udp6", ":0")
	if err != nil {
		util.Debugf("lan: multicast6 socket: %v", err)
		return sender{}, false
	}
	p := ipv6.NewPacketConn(conn)
	_ = p.SetMulticastInterface(ifc)
	_ = p.SetMulticastHopLimit(1)
	_ = p.SetMulticastLoopback(true)
	return sender{conn, &net.UDPAddr{IP: group, Port: a.DestPort}, "multicast6"}, true
}

// openGlobal targets 255.255.255.255, which many networks filter.
func (a Announcer) openGlobal() (sender, bool) {
	conn, err := broadcastListen(":0")
	if err != nil {
		util.Debugf("lan: global broadcast socket: %v", err)
		return sender{}, false
	}
	return sender{conn, &net.UDPAddr{IP: net.IPv4bcast, Port: a.DestPort}, "global broadcast"}, true
}

// openLoopback is same-machine delivery, for clients running next to
// the guest.
func (a Announcer) openLoopback() []sender {
	var out []sender
	if conn, err := net.ListenPacket("udp4", "127.0.0.1:0"); err == nil {
		out = append(out, sender{conn, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: a.DestPort}, "loopback4"})
	}
	if conn, err := net.ListenPacket("udp6", "[::1]:0"); err == nil {
		out = append(out, sender{conn, &net.UDPAddr{IP: net.IPv6loopback, Port: a.DestPort}, "loopback6"})
	}
	return out
}

type broadcastPath struct {
	ifc   *net.Interface
	local net.IP
	bcast net.IP
}

// bestBroadcastPath picks the interface whose subnet broadcast should
// carry the beacon. Wireless names win, then any usable IPv4 carrier.
func bestBroadcastPath() (broadcastPath, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return broadcastPath{}, false
	}
	var first broadcastPath
	for i := range ifaces {
		ifc := &ifaces[i]
		if !usableIface(ifc) {
			continue
		}
		local, bcast, ok := broadcastOf(ifc)
		if !ok {
			continue
		}
		p := broadcastPath{ifc, local, bcast}
		if strings.HasPrefix(strings.ToLower(ifc.Name), "wl") {
			return p, true
		}
		if first.ifc == nil {
			first = p
		}
	}
	return first, first.ifc != nil
}

// usableIface filters out interfaces that would route the beacon into
// the tunnel itself or nowhere useful.
func usableIface(ifc *net.Interface) bool {
	if ifc.Flags&net.FlagUp == 0 ||
		ifc.Flags&net.FlagLoopback != 0 ||
		ifc.Flags&net.FlagPointToPoint != 0 {
		return false
	}
	name := strings.ToLower(ifc.Name)
	for _, prefix := range []string{"lo", "tun", "ppp", "lanroom"} {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return !strings.Contains(name, "vpn")
}

// broadcastOf returns the first IPv4 address of ifc together with its
// subnet broadcast.
func broadcastOf(ifc *net.Interface) (local, bcast net.IP, ok bool) {
	addrs, err := ifc.Addrs()
	if err != nil {
		return nil, nil, false
	}
	for _, addr := range addrs {
		ipnet, isNet := addr.(*net.IPNet)
		if !isNet {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil {
			continue
		}
		mask := ipnet.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		if len(mask) != net.IPv4len {
			continue
		}
		b := make(net.IP, net.IPv4len)
		for i := range b {
			b[i] = ip4[i] | ^mask[i]
		}
		if b.Equal(ip4) {
			// A /32 has no subnet to broadcast into.
			continue
		}
		return ip4, b, true
	}
	return nil, nil, false
}

func firstIfaceWith(want func(net.IP) bool) *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		ifc := &ifaces[i]
		if !usableIface(ifc) {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, isNet := addr.(*net.IPNet); isNet && want(ipnet.IP) {
				return ifc
			}
		}
	}
	return nil
}
