package live

import (
	"context"

	"github.com/google/uuid"

	"github.com/pulselive/backend/internal/models"
)

// SessionRegistry is the persistence boundary for live session records.
type SessionRegistry interface {
	// Create inserts a new live session record with is_live = true.
	Create(ctx context.Context, hostHandle, title string) (*models.LiveSession, error)
	// MarkEnded flips is_live to false and stamps ended_at. Idempotent: a
	// record that is already ended is left untouched.
	MarkEnded(ctx context.Context, id uuid.UUID) error
	// ListActive returns live sessions ordered by most-recently-started first.
	ListActive(ctx context.Context) ([]models.LiveSession, error)
}

// SubscriptionHandle identifies one active signaling subscription.
// Close is idempotent and safe on an already-closed handle.
type SubscriptionHandle interface {
	Close()
}

// SignalingChannel is a per-session broadcast topic carrying Messages
// between the host and all viewers. Delivery is at-most-once with no
// acknowledgement; ordering is FIFO per publisher only. Every subscriber
// receives every message published on the topic, including its own.
type SignalingChannel interface {
	Subscribe(ctx context.Context, sessionID string, onMessage func(Message)) (SubscriptionHandle, error)
	Publish(ctx context.Context, sessionID string, msg Message) error
}

// PresenceMeta is the payload a participant announces with its presence key.
type PresenceMeta struct {
	Role     string `json:"role"` // "host" or "viewer"
	JoinedAt string `json:"joinedAt"`
}

// Membership is one participant's announced presence on a session topic.
// Leave withdraws the announcement; it is idempotent.
type Membership interface {
	// OnSync registers the callback invoked with the full set of announced
	// identities whenever the membership snapshot changes. The set is
	// recomputed from scratch on every sync, never patched incrementally.
	OnSync(fn func(identities []string))
	Leave()
}

// PresenceChannel is a per-session membership topic. Liveness tracking
// (heartbeat/timeout for participants that vanish without leaving) belongs
// to the channel implementation; sessions only consume sync snapshots.
type PresenceChannel interface {
	Join(ctx context.Context, sessionID, identity string, meta PresenceMeta) (Membership, error)
}
