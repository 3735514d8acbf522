package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// Subscribe dials a feed endpoint and hands every message to fn until
// the context ends or the connection drops. addr may be a bare
// host:port; the scheme and /feed path are filled in.
func Subscribe(ctx context.Context, addr string, fn func(Message)) error {
	url := addr
	if !strings.Contains(url, "://") {
		url = "ws://" + url
	}
	if !strings.HasSuffix(url, "/feed") {
		url = strings.TrimSuffix(url, "/") + "/feed"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", url, err)
	}
	defer conn.Close()

	// Unblock the read loop when the context ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		fn(msg)
	}
}
