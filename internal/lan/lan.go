// Package lan speaks the stock "LAN world" beacon: a UDP datagram of
// the form "[MOTD]name[/MOTD][AD]port[/AD]" sent to 224.0.2.60:4445 or
// its IPv6 twin. A host scans for the beacon its local game emits to
// learn the port being served; a guest re-emits the beacon so games on
// its machine list the forwarded world.
package lan

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	GroupV4    = "224.0.2.60"
	GroupV6    = "ff75:230::60"
	BeaconPort = 4445
)

// Announcement renders one beacon datagram.
func Announcement(motd string, port int) []byte {
	return []byte(fmt.Sprintf("[MOTD]%s[/MOTD][AD]%d[/AD]", motd, port))
}

// ParsePort extracts the advertised port from a beacon. Junk around
// the tags is tolerated, out-of-range ports are not.
func ParsePort(payload []byte) (int, bool) {
	msg := string(payload)
	start := strings.Index(msg, "[AD]")
	end := strings.Index(msg, "[/AD]")
	if start < 0 || end <= start+len("[AD]") {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(msg[start+len("[AD]") : end]))
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
