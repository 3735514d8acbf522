// Package feed streams session state to WebSocket subscribers, letting
// launchers and overlay UIs follow a session without owning it.
package feed

import "github.com/lanroom/lanroom/internal/session"

// MessageType identifies the kind of feed message.
type MessageType string

const (
	TypeSnapshot MessageType = "snapshot"
	TypeInvite   MessageType = "invite"
)

// Message is the JSON structure pushed to every subscriber.
type Message struct {
	Type     MessageType       `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Code     string            `json:"code,omitempty"`
}
