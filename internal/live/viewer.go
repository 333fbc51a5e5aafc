package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ViewerStatus is the playback session lifecycle state.
type ViewerStatus int32

const (
	ViewerIdle ViewerStatus = iota
	ViewerConnecting
	ViewerLive
	ViewerError
)

func (s ViewerStatus) String() string {
	switch s {
	case ViewerIdle:
		return "idle"
	case ViewerConnecting:
		return "connecting"
	case ViewerLive:
		return "live"
	case ViewerError:
		return "error"
	}
	return "unknown"
}

// ViewerSession owns a single peer link to a host and drives the
// join -> negotiate -> play sequence. One instance covers one attempt: on
// failure the caller discards it and joins again, which mints a fresh
// identity.
type ViewerSession struct {
	signals  SignalingChannel
	presence PresenceChannel
	peers    PeerConnector
	timeout  time.Duration
	log      *zap.Logger

	identity string

	mu         sync.Mutex
	joined     bool
	status     ViewerStatus
	reason     string
	host       string
	peer       PeerLink
	sub        SubscriptionHandle
	member     Membership
	stream     RemoteStream
	offerSeen  bool
	offerTimer *time.Timer
}

// NewViewerSession creates a playback session. offerTimeout bounds the wait
// for the host's offer after the join message is published.
func NewViewerSession(signals SignalingChannel, presence PresenceChannel, peers PeerConnector, offerTimeout time.Duration, logger *zap.Logger) *ViewerSession {
	identity := NewViewerIdentity()
	return &ViewerSession{
		signals:  signals,
		presence: presence,
		peers:    peers,
		timeout:  offerTimeout,
		identity: identity,
		log:      logger.With(zap.String("viewer", identity)),
	}
}

// Identity returns the session's participant identity. Fresh per instance.
func (v *ViewerSession) Identity() string { return v.identity }

// Status returns the current playback status.
func (v *ViewerSession) Status() ViewerStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Reason returns the human-readable failure reason once status is error.
func (v *ViewerSession) Reason() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reason
}

// Stream returns the inbound media stream once status is live, else nil.
func (v *ViewerSession) Stream() RemoteStream {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stream
}

// Join announces presence, subscribes to the session's signaling topic,
// creates the peer link and publishes the join message that asks the host
// for an offer. Any setup failure moves the session to the error status and
// releases whatever was opened.
func (v *ViewerSession) Join(ctx context.Context, sessionID, hostIdentity string) error {
	v.mu.Lock()
	if v.joined || v.status != ViewerIdle {
		v.mu.Unlock()
		return ErrSessionEnded
	}
	v.joined = true
	v.status = ViewerConnecting
	v.host = hostIdentity
	v.mu.Unlock()

	log := v.log.With(zap.String("session_id", sessionID))

	member, err := v.presence.Join(ctx, sessionID, v.identity, PresenceMeta{
		Role:     "viewer",
		JoinedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		v.fail("presence unavailable")
		return &SignalingError{Op: "presence join", Err: err}
	}

	peer, err := v.peers.NewPeer()
	if err != nil {
		member.Leave()
		v.fail("peer connection failed")
		return &NegotiationError{Peer: hostIdentity, Err: err}
	}

	peer.OnRemoteStream(func(stream RemoteStream) {
		v.mu.Lock()
		if v.status != ViewerConnecting {
			v.mu.Unlock()
			return
		}
		v.status = ViewerLive
		v.stream = stream
		timer := v.offerTimer
		v.offerTimer = nil
		v.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		log.Info("playback live", zap.String("stream_id", stream.ID()))
	})

	peer.OnICECandidate(func(candidate json.RawMessage) {
		if !v.alive() {
			return
		}
		err := v.signals.Publish(context.Background(), sessionID, Message{
			Type:      TypeICECandidate,
			To:        hostIdentity,
			From:      v.identity,
			Candidate: candidate,
		})
		if err != nil {
			log.Warn("candidate publish failed", zap.Error(err))
		}
	})

	sub, err := v.signals.Subscribe(ctx, sessionID, func(msg Message) {
		v.handleSignal(sessionID, msg)
	})
	if err != nil {
		_ = peer.Close()
		member.Leave()
		v.fail("signaling unavailable")
		return &SignalingError{Op: "subscribe", Err: err}
	}

	v.mu.Lock()
	if v.status != ViewerConnecting {
		// Leave raced the setup.
		v.mu.Unlock()
		sub.Close()
		_ = peer.Close()
		member.Leave()
		return ErrSessionEnded
	}
	v.member = member
	v.peer = peer
	v.sub = sub
	if v.timeout > 0 {
		v.offerTimer = time.AfterFunc(v.timeout, v.onOfferTimeout)
	}
	v.mu.Unlock()

	err = v.signals.Publish(ctx, sessionID, Message{
		Type:     TypeViewerJoin,
		ViewerID: v.identity,
	})
	if err != nil {
		v.teardown()
		v.fail("join publish failed")
		return &SignalingError{Op: "publish join", Err: err}
	}
	log.Info("join requested", zap.String("host", hostIdentity))
	return nil
}

// handleSignal processes one inbound message. Offers and candidates
// addressed to other participants are dropped without any state change.
func (v *ViewerSession) handleSignal(sessionID string, msg Message) {
	if err := msg.Validate(); err != nil {
		return
	}
	if msg.Type == TypeViewerJoin || !msg.addressedTo(v.identity) {
		return
	}
	switch msg.Type {
	case TypeOffer:
		v.handleOffer(sessionID, msg.From, msg.SDP)
	case TypeICECandidate:
		v.mu.Lock()
		peer := v.peer
		v.mu.Unlock()
		if peer == nil {
			return
		}
		if err := peer.AddICECandidate(msg.Candidate); err != nil {
			v.log.Debug("stale candidate ignored", zap.Error(err))
		}
	}
}

// handleOffer applies the host's offer, generates the answer and publishes
// it back addressed to the host. A duplicate offer after the first is
// ignored.
func (v *ViewerSession) handleOffer(sessionID, from string, sdp json.RawMessage) {
	v.mu.Lock()
	if v.offerSeen || v.peer == nil {
		v.mu.Unlock()
		return
	}
	v.offerSeen = true
	peer := v.peer
	timer := v.offerTimer
	v.offerTimer = nil
	v.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}

	if err := peer.SetRemoteDescription(sdp); err != nil {
		v.log.Error("offer apply failed", zap.Error(err))
		v.teardown()
		v.fail("negotiation failed")
		return
	}
	answer, err := peer.CreateAnswer(context.Background())
	if err != nil {
		v.log.Error("answer create failed", zap.Error(err))
		v.teardown()
		v.fail("negotiation failed")
		return
	}
	err = v.signals.Publish(context.Background(), sessionID, Message{
		Type: TypeAnswer,
		To:   from,
		From: v.identity,
		SDP:  answer,
	})
	if err != nil {
		v.log.Warn("answer publish failed", zap.Error(err))
	}
}

// onOfferTimeout fires when no offer arrived within the configured bound.
func (v *ViewerSession) onOfferTimeout() {
	v.mu.Lock()
	expired := v.status == ViewerConnecting && !v.offerSeen
	v.mu.Unlock()
	if !expired {
		return
	}
	v.teardown()
	v.fail("no offer from host before timeout")
}

func (v *ViewerSession) alive() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status == ViewerConnecting || v.status == ViewerLive
}

// fail records the error status unless the session already reached a
// terminal outcome.
func (v *ViewerSession) fail(reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status == ViewerError {
		return
	}
	v.status = ViewerError
	v.reason = reason
}

// teardown releases the peer link and both channel memberships. Idempotent.
func (v *ViewerSession) teardown() {
	v.mu.Lock()
	peer := v.peer
	sub := v.sub
	member := v.member
	timer := v.offerTimer
	v.peer = nil
	v.sub = nil
	v.member = nil
	v.offerTimer = nil
	v.stream = nil
	v.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if peer != nil {
		_ = peer.Close()
	}
	if sub != nil {
		sub.Close()
	}
	if member != nil {
		member.Leave()
	}
}

// Leave closes the peer link and unsubscribes both channels. Safe to call
// multiple times; a session that was live ends in the idle status so the
// caller can distinguish a clean exit from an error.
func (v *ViewerSession) Leave() {
	v.teardown()
	v.mu.Lock()
	if v.status != ViewerError {
		v.status = ViewerIdle
	}
	v.mu.Unlock()
}
