package lan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/lanroom/lanroom/internal/util"
)

// Scanner listens for the first beacon on this machine's networks.
// The zero value scans the standard groups with a 200ms poll.
type Scanner struct {
	Group4 string
	Group6 string
	Port   int
	Poll   time.Duration
}

func (s Scanner) withDefaults() Scanner {
	if s.Group4 == "" {
		s.Group4 = GroupV4
	}
	if s.Group6 == "" {
		s.Group6 = GroupV6
	}
	if s.Port == 0 {
		s.Port = BeaconPort
	}
	if s.Poll == 0 {
		s.Poll = 200 * time.Millisecond
	}
	return s
}

// Scan blocks until a beacon advertises a port, then reports it. Both
// address families are listened on when available; a family that
// cannot be opened is skipped, and only a total failure is an error.
func (s Scanner) Scan(ctx context.Context) (int, error) {
	s = s.withDefaults()

	var conns []net.PacketConn
	for _, fam := range []struct{ network, group string }{
		{"udp4", s.Group4},
		{"udp6", s.Group6},
	} {
		conn, err := s.listen(fam.network, fam.group)
		if err != nil {
			util.Debugf("lan: %s listener unavailable: %v", fam.network, err)
			continue
		}
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		return 0, errors.New("lan: no beacon listener could be opened")
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	found := make(chan int, len(conns))
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c net.PacketConn) {
			defer wg.Done()
			s.receive(ctx, c, found)
		}(conn)
	}
	idle := make(chan struct{})
	go func() { wg.Wait(); close(idle) }()

	select {
	case port := <-found:
		return port, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-idle:
		// All receivers exited; one may still have scored just before.
		select {
		case port := <-found:
			return port, nil
		default:
		}
		return 0, errors.New("lan: beacon listeners failed")
	}
}

func (s Scanner) listen(network, group string) (net.PacketConn, error) {
	conn, err := net.ListenPacket(network, fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return nil, err
	}
	joinBeaconGroup(conn, network, group)
	return conn, nil
}

// joinBeaconGroup subscribes conn to the beacon group on every
// eligible interface. Zero joins is not fatal: the bound socket still
// hears subnet broadcasts, which announcers prefer anyway.
func joinBeaconGroup(conn net.PacketConn, network, group string) {
	ip := net.ParseIP(group)
	if ip == nil {
		return
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		util.Debugf("lan: list interfaces: %v", err)
		return
	}

	gaddr := &net.UDPAddr{IP: ip}
	var join func(*net.Interface) error
	if network == "udp4" {
		p := ipv4.NewPacketConn(conn)
		join = func(ifc *net.Interface) error { return p.JoinGroup(ifc, gaddr) }
	} else {
		p := ipv6.NewPacketConn(conn)
		join = func(ifc *net.Interface) error { return p.JoinGroup(ifc, gaddr) }
	}

	joined := 0
	for i := range ifaces {
		ifc := &ifaces[i]
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if err := join(ifc); err == nil {
			joined++
		}
	}
	util.Debugf("lan: joined %s group %s on %d interface(s)", network, group, joined)
}

func (s Scanner) receive(ctx context.Context, conn net.PacketConn, found chan<- int) {
	buf := make([]byte, 2048)
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(s.Poll))
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}
		if port, ok := ParsePort(buf[:n]); ok {
			util.Debugf("lan: beacon from %s advertises port %d", from, port)
			select {
			case found <- port:
			default:
			}
			return
		}
	}
}
