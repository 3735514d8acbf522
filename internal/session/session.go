// Package session drives the life of one tunnel session, host or
// guest: start the engine, probe until the tunnel can be armed, watch
// it afterwards, and classify the ways it can die. All collaborators
// enter through small interfaces so the whole machine runs against
// scripted fakes in tests.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Role of the active session.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleGuest
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

func (r Role) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "none":
		*r = RoleNone
	case "host":
		*r = RoleHost
	case "guest":
		*r = RoleGuest
	default:
		return fmt.Errorf("session: unknown role %q", s)
	}
	return nil
}

// Phase of the session state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseScanning
	PhaseProbing
	PhaseArmed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseScanning:
		return "scanning"
	case PhaseProbing:
		return "probing"
	case PhaseArmed:
		return "armed"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

func (p Phase) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

func (p *Phase) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "idle":
		*p = PhaseIdle
	case "scanning":
		*p = PhaseScanning
	case "probing":
		*p = PhaseProbing
	case "armed":
		*p = PhaseArmed
	case "failed":
		*p = PhaseFailed
	default:
		return fmt.Errorf("session: unknown phase %q", s)
	}
	return nil
}

// FailReason is the fixed failure taxonomy. Lower-level errors never
// cross the session boundary raw; they are folded into one of these.
type FailReason int

const (
	ReasonNone FailReason = iota
	ReasonStartFailed
	ReasonTimeout
	ReasonConnectionLost
	ReasonEngineCrashed
)

func (f FailReason) String() string {
	switch f {
	case ReasonStartFailed:
		return "start_failed"
	case ReasonTimeout:
		return "timeout"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonEngineCrashed:
		return "engine_crashed"
	default:
		return ""
	}
}

func (f FailReason) MarshalJSON() ([]byte, error) { return json.Marshal(f.String()) }

func (f *FailReason) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "":
		*f = ReasonNone
	case "start_failed":
		*f = ReasonStartFailed
	case "timeout":
		*f = ReasonTimeout
	case "connection_lost":
		*f = ReasonConnectionLost
	case "engine_crashed":
		*f = ReasonEngineCrashed
	default:
		return fmt.Errorf("session: unknown fail reason %q", s)
	}
	return nil
}

// Snapshot is the immutable view emitted on every transition. Host
// sessions carry their issued invite code from the probing phase on;
// guest sessions carry the backup endpoint once armed.
type Snapshot struct {
	Role           Role       `json:"role"`
	Phase          Phase      `json:"phase"`
	Reason         FailReason `json:"reason,omitempty"`
	Message        string     `json:"message,omitempty"`
	InviteCode     string     `json:"invite_code,omitempty"`
	BackupEndpoint string     `json:"backup_endpoint,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Observer receives transitions. Calls arrive in order on a single
// dispatcher goroutine; implementations must return quickly or events
// will be dropped for everyone.
type Observer interface {
	OnSnapshot(Snapshot)
	// OnInvite surfaces the host's invite code exactly once per
	// session, for copying.
	OnInvite(code string)
}

// Discoverer locates the local service port a host shares.
type Discoverer interface {
	Discover(ctx context.Context) (int, error)
}

// DiscoverFunc adapts a plain function to the Discoverer interface.
type DiscoverFunc func(ctx context.Context) (int, error)

func (f DiscoverFunc) Discover(ctx context.Context) (int, error) { return f(ctx) }

// FixedPort is the trivial Discoverer for callers that already know
// the port.
type FixedPort int

func (p FixedPort) Discover(context.Context) (int, error) {
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("session: fixed port %d out of range", int(p))
	}
	return int(p), nil
}

// TunDevice is the opened tunnel device a session hands to the engine.
type TunDevice interface {
	Name() string
	FD() int
	Close() error
}

// TunOpener opens the tunnel device for the given IPv4 CIDR address.
type TunOpener func(addr string) (TunDevice, error)

// AnnouncerFunc rebroadcasts a joined room on the LAN until ctx ends.
// It runs on its own goroutine from the moment a guest session arms.
type AnnouncerFunc func(ctx context.Context, motd string, port int) error
