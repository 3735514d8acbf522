package engine

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/lanroom/lanroom/internal/invite"
	"github.com/lanroom/lanroom/internal/iputil"
)

const (
	listenPort = 11010
	rpcPortal  = "0.0.0.0:0"

	// Extra relay used by rooms from the compact grammar. Their clients
	// expect this peer to be reachable, so joining one without it tends
	// to stall at hole punching.
	pclPeer = "tcp://43.139.42.188:11010"
)

// Community relays tried in order until one answers.
var defaultPeers = []string{
	"tcp://public.easytier.top:11010",
	"tcp://ah.nkbpal.cn:11010",
	"tcp://turn.hb.629957.xyz:11010",
	"tcp://turn.js.629957.xyz:11012",
	"tcp://sh.993555.xyz:11010",
	"tcp://turn.bj.629957.xyz:11010",
	"tcp://et.sh.suhoan.cn:11010",
	"tcp://et-hk.clickor.click:11010",
	"tcp://et.01130328.xyz:11010",
	"tcp://et.gbc.moe:11011",
}

// Config is the instance descriptor fed to the core, rendered as TOML.
// Field order matters to the renderer only insofar as plain keys must
// precede the tables; the core accepts any order.
type Config struct {
	InstanceName string   `toml:"instance_name"`
	InstanceID   string   `toml:"instance_id"`
	IPv4         string   `toml:"ipv4"`
	DHCP         bool     `toml:"dhcp"`
	Listeners    []string `toml:"listeners"`
	RPCPortal    string   `toml:"rpc_portal"`

	Identity Identity `toml:"network_identity"`
	Flags    Flags    `toml:"flags"`

	PortForwards []PortForward `toml:"port_forward,omitempty"`
	Peers        []Peer        `toml:"peer"`
}

// Identity names the overlay network a peer joins. Both sides derive it
// from the invite code, so matching codes land in the same network.
type Identity struct {
	NetworkName   string `toml:"network_name"`
	NetworkSecret string `toml:"network_secret"`
}

type Flags struct {
	LatencyFirst   bool `toml:"latency_first"`
	EnableKCPProxy bool `toml:"enable_kcp_proxy"`
}

type Peer struct {
	URI string `toml:"uri"`
}

// PortForward exposes the host's game port on a loopback port of the
// guest machine.
type PortForward struct {
	Proto    string `toml:"proto"`
	BindAddr string `toml:"bind_addr"`
	DstAddr  string `toml:"dst_addr"`
}

// HostConfig builds the descriptor for the hosting side of a room. The
// host always owns the .1 of its subnet and exposes no forwards; guests
// reach the game port directly over the overlay.
func HostConfig(room invite.Room) (*Config, error) {
	if !room.Valid() {
		return nil, fmt.Errorf("engine: cannot host an invalid room")
	}
	c := baseConfig("lanroom-host-"+room.Secret, room)
	c.IPv4 = iputil.HostIPv4(room.Kind)
	return c, nil
}

// GuestConfig builds the descriptor for a joining peer. guestIP is the
// address derived for this device, without a mask. The room's game port
// is forwarded to localPort on loopback; bindIPv4 adds the 0.0.0.0
// listener and should reflect whether the machine has any IPv4
// interface at all, since binding one without it fails outright.
func GuestConfig(room invite.Room, guestIP string, localPort int, bindIPv4 bool) (*Config, error) {
	if !room.Valid() {
		return nil, fmt.Errorf("engine: cannot join an invalid room")
	}
	if guestIP == "" {
		return nil, fmt.Errorf("engine: guest address is empty")
	}
	if localPort < 1 || localPort > 65535 {
		return nil, fmt.Errorf("engine: forward port %d out of range", localPort)
	}

	c := baseConfig("lanroom-guest-"+room.Secret, room)
	c.IPv4 = guestIP + "/24"

	hostAddr := fmt.Sprintf("%s:%d", iputil.HostIPv4(room.Kind), room.Port)
	c.PortForwards = []PortForward{{
		Proto:    "tcp",
		BindAddr: fmt.Sprintf("[::]:%d", localPort),
		DstAddr:  hostAddr,
	}}
	if bindIPv4 {
		c.PortForwards = append(c.PortForwards, PortForward{
			Proto:    "tcp",
			BindAddr: fmt.Sprintf("0.0.0.0:%d", localPort),
			DstAddr:  hostAddr,
		})
	}

	if room.Kind == invite.KindPCL2CE {
		c.Peers = append([]Peer{{URI: pclPeer}}, c.Peers...)
	}
	return c, nil
}

// SetPeers replaces the bootstrap peer list, including any grammar
// specific extras. Used for operator overrides; an empty list is
// ignored rather than leaving the instance peerless.
func (c *Config) SetPeers(uris []string) {
	if len(uris) == 0 {
		return
	}
	peers := make([]Peer, 0, len(uris))
	for _, uri := range uris {
		peers = append(peers, Peer{URI: uri})
	}
	c.Peers = peers
}

func baseConfig(instance string, room invite.Room) *Config {
	peers := make([]Peer, 0, len(defaultPeers)+1)
	for _, uri := range defaultPeers {
		peers = append(peers, Peer{URI: uri})
	}
	return &Config{
		InstanceName: instance,
		InstanceID:   uuid.NewString(),
		DHCP:         false,
		Listeners: []string{
			fmt.Sprintf("tcp://0.0.0.0:%d", listenPort),
			fmt.Sprintf("udp://0.0.0.0:%d", listenPort),
			fmt.Sprintf("wg://0.0.0.0:%d", listenPort),
		},
		RPCPortal: rpcPortal,
		Identity: Identity{
			NetworkName:   room.Name,
			NetworkSecret: room.Secret,
		},
		Flags: Flags{
			LatencyFirst:   true,
			EnableKCPProxy: true,
		},
		Peers: peers,
	}
}

// Render serializes the descriptor to the TOML the core parses.
func (c *Config) Render() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return "", fmt.Errorf("engine: encode config: %w", err)
	}
	return buf.String(), nil
}
