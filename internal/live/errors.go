package live

import (
	"errors"
	"fmt"
)

// ErrNotEligible is returned by GoLive when the host's follower count is
// below the configured minimum. Not retryable until the condition is met.
var ErrNotEligible = errors.New("follower count below go-live threshold")

// ErrSessionEnded is returned when an operation is invoked on a session
// instance that has already reached its terminal state.
var ErrSessionEnded = errors.New("session already ended")

// ErrAlreadyLive is returned by GoLive and StartPreview while a broadcast
// is in progress.
var ErrAlreadyLive = errors.New("broadcast already live")

// DeviceError reports that the local camera/microphone could not be
// acquired. User-facing; retryable after permissions are fixed.
type DeviceError struct {
	Reason string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("media device unavailable: %s", e.Reason)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// PersistenceError reports that the session record could not be created or
// updated. A failed create aborts the whole go-live attempt: no channels
// are opened and no partial state is left behind.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SignalingError reports that the pub/sub dependency is unreachable or a
// channel operation failed. Surfaced as a disabled-feature state, not a crash.
type SignalingError struct {
	Op  string
	Err error
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling %s failed: %v", e.Op, e.Err)
}

func (e *SignalingError) Unwrap() error { return e.Err }

// NegotiationError reports an SDP/ICE failure for a single peer link.
// Local to that link: it is logged and the link torn down without touching
// other viewers or the host's live state.
type NegotiationError struct {
	Peer string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed: %v", e.Peer, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
