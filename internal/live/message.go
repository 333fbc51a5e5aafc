package live

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MessageType is the discriminator for signaling messages.
type MessageType string

const (
	TypeViewerJoin   MessageType = "viewer-join"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
)

// Message is one signaling event on a session's broadcast topic.
// The topic is shared by every participant of a session, so To/From carry
// the addressing: a receiver must ignore messages whose To is not its own
// identity. SDP and Candidate are opaque payloads, passed through unmodified.
type Message struct {
	Type      MessageType     `json:"type"`
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	ViewerID  string          `json:"viewerId,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Validate checks the fields required for the message's type.
func (m Message) Validate() error {
	switch m.Type {
	case TypeViewerJoin:
		if m.ViewerID == "" {
			return fmt.Errorf("viewer-join: missing viewerId")
		}
	case TypeOffer, TypeAnswer:
		if m.To == "" || m.From == "" || len(m.SDP) == 0 {
			return fmt.Errorf("%s: missing to/from/sdp", m.Type)
		}
	case TypeICECandidate:
		if m.To == "" || m.From == "" || len(m.Candidate) == 0 {
			return fmt.Errorf("ice-candidate: missing to/from/candidate")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

// addressedTo reports whether the message targets the given identity.
// viewer-join carries no To field: it is addressed to whoever hosts the session.
func (m Message) addressedTo(identity string) bool {
	return m.To == identity
}

// NewViewerIdentity returns a fresh opaque participant identity for one
// playback attempt. Never reused across attempts.
func NewViewerIdentity() string {
	return "viewer-" + uuid.New().String()
}

// SignalingTopic returns the broadcast topic name for a session.
func SignalingTopic(sessionID string) string {
	return "webrtc:live:" + sessionID
}

// PresenceTopic returns the presence topic name for a session.
func PresenceTopic(sessionID string) string {
	return "presence:live:" + sessionID
}
