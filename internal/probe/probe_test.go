package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/lanroom/lanroom/internal/engine"
)

// fakeServer runs handler for every accepted connection and returns the
// bound port.
func fakeServer(t *testing.T, handler func(net.Conn)) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handler(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func pingResponder(reply byte) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 1)
		if _, err := conn.Read(buf); err != nil || buf[0] != 0xFE {
			return
		}
		conn.Write([]byte{reply})
	}
}

func TestReachable(t *testing.T) {
	port := fakeServer(t, pingResponder(0xFF))
	if !Reachable(context.Background(), port, time.Second) {
		t.Fatal("expected reachable against a well-behaved responder")
	}
}

func TestReachableWrongReply(t *testing.T) {
	port := fakeServer(t, pingResponder(0x00))
	if Reachable(context.Background(), port, time.Second) {
		t.Fatal("a non-0xFF reply must count as unreachable")
	}
}

func TestReachableImmediateClose(t *testing.T) {
	port := fakeServer(t, func(conn net.Conn) { conn.Close() })
	if Reachable(context.Background(), port, time.Second) {
		t.Fatal("EOF before the reply must count as unreachable")
	}
}

func TestReachableClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	if Reachable(context.Background(), port, 500*time.Millisecond) {
		t.Fatal("expected unreachable on a closed port")
	}
}

func TestReachableTimeout(t *testing.T) {
	port := fakeServer(t, func(conn net.Conn) {
		defer conn.Close()
		time.Sleep(2 * time.Second)
	})

	start := time.Now()
	if Reachable(context.Background(), port, 100*time.Millisecond) {
		t.Fatal("expected timeout against a silent server")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("probe did not respect its deadline, took %v", elapsed)
	}
}

func TestAlive(t *testing.T) {
	kvs := func(pairs ...string) []engine.KV {
		out := make([]engine.KV, 0, len(pairs)/2)
		for i := 0; i+1 < len(pairs); i += 2 {
			out = append(out, engine.KV{Key: pairs[i], Value: pairs[i+1]})
		}
		return out
	}

	cases := []struct {
		name  string
		infos []engine.KV
		want  bool
	}{
		{
			"dotted keys healthy",
			kvs("inst.running", "true", "inst.virtual_ipv4", "10.144.144.1", "inst.error_msg", ""),
			true,
		},
		{
			"bare keys healthy",
			kvs("running", "1", "virtual_ipv4_addr", "10.114.51.42"),
			true,
		},
		{
			"running uppercase",
			kvs("inst.running", "TRUE", "inst.virtual_ipv4", "10.0.0.2"),
			true,
		},
		{
			"error_msg literal null is fine",
			kvs("running", "true", "virtual_ipv4", "10.0.0.2", "error_msg", "null"),
			true,
		},
		{
			"not running",
			kvs("inst.running", "false", "inst.virtual_ipv4", "10.0.0.2"),
			false,
		},
		{
			"running flag absent",
			kvs("inst.virtual_ipv4", "10.0.0.2"),
			false,
		},
		{
			"prefix does not match running",
			kvs("xrunning", "true", "virtual_ipv4", "10.0.0.2"),
			false,
		},
		{
			"address null",
			kvs("running", "true", "virtual_ipv4", "null"),
			false,
		},
		{
			"address empty",
			kvs("running", "true", "virtual_ipv4", ""),
			false,
		},
		{
			"error message set",
			kvs("running", "true", "virtual_ipv4", "10.0.0.2", "inst.error_msg", "tun device gone"),
			false,
		},
		{
			"later empty address does not clear an earlier one",
			kvs("running", "true", "a.virtual_ipv4", "10.0.0.2", "b.virtual_ipv4", ""),
			true,
		},
		{
			"empty snapshot",
			nil,
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Alive(tc.infos); got != tc.want {
				t.Fatalf("Alive() = %v, want %v", got, tc.want)
			}
		})
	}
}
