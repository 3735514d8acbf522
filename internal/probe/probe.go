// Package probe holds the two health checks a session runs while its
// tunnel is up: a TCP reachability probe against the forwarded game
// port and a liveness read over the engine telemetry.
package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/lanroom/lanroom/internal/engine"
)

// Reachable dials 127.0.0.1:port and performs the legacy server list
// ping: send 0xFE and require the first reply byte to be 0xFF. EOF,
// timeouts and stray bytes all count as unreachable. timeout bounds
// the dial and the reply read separately.
func Reachable(ctx context.Context, port int, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte{0xFE}); err != nil {
		return false
	}
	var reply [1]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return false
	}
	return reply[0] == 0xFF
}

// Alive reports whether a telemetry snapshot describes a healthy
// instance: a true "running" flag, a populated virtual address and an
// empty error message. Keys arrive as dotted paths, so "running" and
// "error_msg" match the bare key or any ".running"/".error_msg" leaf;
// the address key only has to contain "virtual_ipv4" because the core
// nests it differently across versions.
func Alive(infos []engine.KV) bool {
	var (
		running bool
		address string
		errMsg  string
	)
	for _, kv := range infos {
		switch {
		case keyIs(kv.Key, "running"):
			running = truthy(kv.Value)
		case strings.Contains(kv.Key, "virtual_ipv4"):
			if v := clean(kv.Value); v != "" {
				address = v
			}
		case keyIs(kv.Key, "error_msg"):
			errMsg = clean(kv.Value)
		}
	}
	return running && address != "" && errMsg == ""
}

func keyIs(key, name string) bool {
	return key == name || strings.HasSuffix(key, "."+name)
}

func truthy(v string) bool {
	v = strings.TrimSpace(v)
	return strings.EqualFold(v, "true") || v == "1"
}

// clean trims and folds the literal "null" the core emits for unset
// strings.
func clean(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}
