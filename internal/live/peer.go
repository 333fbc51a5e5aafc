package live

import (
	"context"
	"encoding/json"
)

// MediaSource is an exclusively-owned local capture handle (camera +
// microphone). The host session shares it read-only across its peer links
// for track attachment and releases it on teardown.
type MediaSource interface {
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Close()
}

// MediaDevices acquires local capture. Injected by the surrounding
// application; returns *DeviceError when no device is available or
// permission is denied.
type MediaDevices interface {
	Acquire(ctx context.Context) (MediaSource, error)
}

// RemoteStream is an inbound media stream surfaced to the viewer for
// rendering.
type RemoteStream interface {
	ID() string
}

// PeerLink is one direct peer connection. The host owns one per joined
// viewer; a viewer owns exactly one. SDP and candidate payloads are opaque
// JSON passed through the signaling channel unmodified.
type PeerLink interface {
	// AttachSource adds the local media tracks to the connection (host side).
	AttachSource(src MediaSource) error
	// OnICECandidate registers the callback invoked for each locally
	// discovered candidate.
	OnICECandidate(fn func(candidate json.RawMessage))
	// OnRemoteStream registers the callback invoked when the first inbound
	// media track becomes available (viewer side).
	OnRemoteStream(fn func(stream RemoteStream))
	CreateOffer(ctx context.Context) (sdp json.RawMessage, err error)
	SetRemoteDescription(sdp json.RawMessage) error
	CreateAnswer(ctx context.Context) (sdp json.RawMessage, err error)
	AddICECandidate(candidate json.RawMessage) error
	Close() error
}

// PeerConnector creates peer links. Injected so tests can substitute a
// double for the WebRTC engine.
type PeerConnector interface {
	NewPeer() (PeerLink, error)
}
