package lan

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestAnnouncementRoundTrip(t *testing.T) {
	payload := Announcement("My World", 25565)
	if want := "[MOTD]My World[/MOTD][AD]25565[/AD]"; string(payload) != want {
		t.Fatalf("payload = %q, want %q", payload, want)
	}
	port, ok := ParsePort(payload)
	if !ok || port != 25565 {
		t.Fatalf("ParsePort = %d, %v", port, ok)
	}
}

func TestParsePort(t *testing.T) {
	cases := []struct {
		in   string
		port int
		ok   bool
	}{
		{"[MOTD]x[/MOTD][AD]25565[/AD]", 25565, true},
		{"junk [AD] 8080 [/AD] junk", 8080, true},
		{"[AD]1[/AD]", 1, true},
		{"[AD]65535[/AD]", 65535, true},
		{"[AD][/AD]", 0, false},
		{"[AD]abc[/AD]", 0, false},
		{"[AD]0[/AD]", 0, false},
		{"[AD]65536[/AD]", 0, false},
		{"[AD]-5[/AD]", 0, false},
		{"no tags at all", 0, false},
		{"[/AD]123[AD]", 0, false},
		{"[AD]123", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		port, ok := ParsePort([]byte(tc.in))
		if port != tc.port || ok != tc.ok {
			t.Errorf("ParsePort(%q) = %d, %v, want %d, %v", tc.in, port, ok, tc.port, tc.ok)
		}
	}
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func TestScannerFindsBeacon(t *testing.T) {
	port := freeUDPPort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type result struct {
		port int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		s := Scanner{Port: port, Poll: 50 * time.Millisecond}
		p, err := s.Scan(ctx)
		done <- result{p, err}
	}()

	// Unicast into the scanner's socket; group membership is not needed
	// for delivery on loopback.
	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial scanner: %v", err)
	}
	defer conn.Close()

	payload := Announcement("w", 34567)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			if r.err != nil {
				t.Fatalf("Scan: %v", r.err)
			}
			if r.port != 34567 {
				t.Fatalf("Scan found port %d, want 34567", r.port)
			}
			return
		case <-ticker.C:
			conn.Write(payload)
		case <-ctx.Done():
			t.Fatal("scanner never saw the beacon")
		}
	}
}

func TestScannerIgnoresMalformedBeacons(t *testing.T) {
	port := freeUDPPort(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		s := Scanner{Port: port, Poll: 50 * time.Millisecond}
		_, err := s.Scan(ctx)
		done <- err
	}()

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial scanner: %v", err)
	}
	defer conn.Close()

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != context.DeadlineExceeded {
				t.Fatalf("Scan = %v, want deadline after only junk beacons", err)
			}
			return
		case <-ticker.C:
			conn.Write([]byte("[AD]not a port[/AD]"))
		}
	}
}

func TestScannerCancel(t *testing.T) {
	port := freeUDPPort(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		s := Scanner{Port: port, Poll: 50 * time.Millisecond}
		_, err := s.Scan(ctx)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Scan = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Scan did not return after cancel")
	}
}

func TestAnnouncerLoopback(t *testing.T) {
	port := freeUDPPort(t)
	recv, err := net.ListenPacket("udp4", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer recv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		a := Announcer{
			MOTD:     "Joined World",
			Port:     34567,
			DestPort: port,
			Every:    50 * time.Millisecond,
			Loopback: true,
		}
		done <- a.Run(ctx)
	}()

	recv.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := recv.ReadFrom(buf)
	if err != nil {
		t.Fatalf("no beacon received: %v", err)
	}
	if got, ok := ParsePort(buf[:n]); !ok || got != 34567 {
		t.Fatalf("beacon %q parsed to %d, %v", buf[:n], got, ok)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAnnouncerRejectsBadPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		a := Announcer{Port: port, Loopback: true}
		if err := a.Run(context.Background()); err == nil {
			t.Fatalf("Run accepted port %d", port)
		}
	}
}
