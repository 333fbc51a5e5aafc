package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/models"
)

// HostState is the broadcast session lifecycle state.
type HostState int32

const (
	HostIdle HostState = iota
	HostPreviewing
	HostLive
	HostEnded
)

func (s HostState) String() string {
	switch s {
	case HostIdle:
		return "idle"
	case HostPreviewing:
		return "previewing"
	case HostLive:
		return "live"
	case HostEnded:
		return "ended"
	}
	return "unknown"
}

// HostConfig describes the broadcasting host.
type HostConfig struct {
	Handle       string
	Title        string
	Followers    int
	MinFollowers int
}

// HostSession owns the local media capture and one independent peer link
// per joined viewer. It reacts to join/negotiation events on the session's
// signaling topic and reports the presence-derived viewer count.
//
// Lifecycle: Idle -> Previewing -> Live -> Ended. Ended is terminal for the
// instance; start a new session to broadcast again.
type HostSession struct {
	cfg      HostConfig
	registry SessionRegistry
	signals  SignalingChannel
	presence PresenceChannel
	devices  MediaDevices
	peers    PeerConnector
	log      *zap.Logger

	mu          sync.Mutex
	state       HostState
	starting    bool
	source      MediaSource
	record      *models.LiveSession
	recordEnded bool
	sub         SubscriptionHandle
	member      Membership
	links       map[string]PeerLink
	viewers     int
}

// NewHostSession creates a broadcast session for one host. All
// collaborators are injected; nothing is opened until GoLive.
func NewHostSession(cfg HostConfig, registry SessionRegistry, signals SignalingChannel, presence PresenceChannel, devices MediaDevices, peers PeerConnector, logger *zap.Logger) *HostSession {
	return &HostSession{
		cfg:      cfg,
		registry: registry,
		signals:  signals,
		presence: presence,
		devices:  devices,
		peers:    peers,
		log:      logger.With(zap.String("host", cfg.Handle)),
		links:    make(map[string]PeerLink),
	}
}

// State returns the current lifecycle state.
func (s *HostSession) State() HostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the persisted record for the current broadcast, or nil
// before GoLive succeeds.
func (s *HostSession) Session() *models.LiveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil
	}
	rec := *s.record
	return &rec
}

// ViewerCount returns the number of distinct announced viewer identities,
// excluding the host's own presence key. Recomputed on every presence sync.
func (s *HostSession) ViewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewers
}

// PeerCount returns the number of open peer links.
func (s *HostSession) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// presenceKey is the host's identity on the presence topic. Distinct from
// the signaling identity so a viewer picking a colliding handle cannot
// shadow the host entry.
func (s *HostSession) presenceKey() string {
	return "host:" + s.cfg.Handle
}

// StartPreview acquires the local camera/microphone. Calling it again while
// previewing releases the old capture and re-acquires. Returns *DeviceError
// when no device is available or permission is denied.
func (s *HostSession) StartPreview(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case HostEnded:
		s.mu.Unlock()
		return ErrSessionEnded
	case HostLive:
		s.mu.Unlock()
		return ErrAlreadyLive
	}
	old := s.source
	s.source = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	src, err := s.devices.Acquire(ctx)
	if err != nil {
		s.mu.Lock()
		if s.state == HostPreviewing {
			s.state = HostIdle
		}
		s.mu.Unlock()
		var devErr *DeviceError
		if errors.As(err, &devErr) {
			return err
		}
		return &DeviceError{Reason: err.Error(), Err: err}
	}

	s.mu.Lock()
	if s.state == HostEnded {
		// Torn down while acquiring; release immediately.
		s.mu.Unlock()
		src.Close()
		return ErrSessionEnded
	}
	s.source = src
	s.state = HostPreviewing
	s.mu.Unlock()
	return nil
}

// StopPreview releases the local capture without ending the session.
// No-op unless previewing.
func (s *HostSession) StopPreview() {
	s.mu.Lock()
	if s.state != HostPreviewing {
		s.mu.Unlock()
		return
	}
	src := s.source
	s.source = nil
	s.state = HostIdle
	s.mu.Unlock()
	if src != nil {
		src.Close()
	}
}

// SetMicEnabled toggles the audio tracks on the local capture.
func (s *HostSession) SetMicEnabled(enabled bool) {
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	if src != nil {
		src.SetAudioEnabled(enabled)
	}
}

// SetCamEnabled toggles the video tracks on the local capture.
func (s *HostSession) SetCamEnabled(enabled bool) {
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	if src != nil {
		src.SetVideoEnabled(enabled)
	}
}

// GoLive starts broadcasting: checks eligibility, creates the session
// record, announces presence as host and subscribes to the signaling topic.
// Auto-starts the preview when called from Idle. On any failure the state
// machine is left in Idle/Previewing with nothing opened: a failed record
// create opens no channels, a failed channel open marks the record ended.
func (s *HostSession) GoLive(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case HostEnded:
		s.mu.Unlock()
		return ErrSessionEnded
	case HostLive:
		s.mu.Unlock()
		return ErrAlreadyLive
	}
	if s.starting {
		s.mu.Unlock()
		return ErrAlreadyLive
	}
	s.starting = true
	needPreview := s.source == nil
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	if s.cfg.Followers < s.cfg.MinFollowers {
		return ErrNotEligible
	}
	if needPreview {
		if err := s.StartPreview(ctx); err != nil {
			return err
		}
	}

	rec, err := s.registry.Create(ctx, s.cfg.Handle, s.cfg.Title)
	if err != nil {
		return &PersistenceError{Op: "create", Err: err}
	}
	sid := rec.ID.String()
	log := s.log.With(zap.String("session_id", sid))

	member, err := s.presence.Join(ctx, sid, s.presenceKey(), PresenceMeta{
		Role:     "host",
		JoinedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		_ = s.registry.MarkEnded(ctx, rec.ID)
		return &SignalingError{Op: "presence join", Err: err}
	}
	member.OnSync(func(identities []string) {
		s.onPresenceSync(identities)
	})

	sub, err := s.signals.Subscribe(ctx, sid, s.handleSignal)
	if err != nil {
		member.Leave()
		_ = s.registry.MarkEnded(ctx, rec.ID)
		return &SignalingError{Op: "subscribe", Err: err}
	}

	s.mu.Lock()
	if s.state == HostEnded {
		// EndLive raced the start; unwind everything we just opened.
		s.mu.Unlock()
		sub.Close()
		member.Leave()
		_ = s.registry.MarkEnded(ctx, rec.ID)
		return ErrSessionEnded
	}
	s.record = rec
	s.member = member
	s.sub = sub
	s.state = HostLive
	s.mu.Unlock()

	log.Info("broadcast live", zap.String("title", s.cfg.Title))
	return nil
}

// handleSignal dispatches one inbound signaling message. The topic is a
// broadcast medium: answers and candidates addressed to other participants
// are dropped without any state change.
func (s *HostSession) handleSignal(msg Message) {
	if err := msg.Validate(); err != nil {
		s.log.Debug("dropping malformed signal", zap.Error(err))
		return
	}
	switch msg.Type {
	case TypeViewerJoin:
		s.handleViewerJoin(msg.ViewerID)
	case TypeAnswer:
		if !msg.addressedTo(s.cfg.Handle) {
			return
		}
		s.handleAnswer(msg.From, msg.SDP)
	case TypeICECandidate:
		if !msg.addressedTo(s.cfg.Handle) {
			return
		}
		s.handleRemoteCandidate(msg.From, msg.Candidate)
	}
}

// handleViewerJoin creates a dedicated peer link for the viewer and starts
// the offer/answer exchange addressed to its identity. A duplicate join for
// an already-linked identity is ignored.
func (s *HostSession) handleViewerJoin(viewerID string) {
	s.mu.Lock()
	if s.state != HostLive {
		s.mu.Unlock()
		return
	}
	if _, ok := s.links[viewerID]; ok {
		s.mu.Unlock()
		return
	}
	sid := s.record.ID.String()
	source := s.source

	peer, err := s.peers.NewPeer()
	if err != nil {
		s.mu.Unlock()
		s.log.Error("peer create failed", zap.String("viewer", viewerID), zap.Error(err))
		return
	}
	s.links[viewerID] = peer
	s.mu.Unlock()

	log := s.log.With(zap.String("session_id", sid), zap.String("viewer", viewerID))

	// The candidate callback closes over the identity, not the link: it
	// re-checks the map at fire time, so a candidate discovered after the
	// link was torn down becomes a no-op.
	peer.OnICECandidate(func(candidate json.RawMessage) {
		if !s.linkAlive(viewerID) {
			return
		}
		err := s.signals.Publish(context.Background(), sid, Message{
			Type:      TypeICECandidate,
			To:        viewerID,
			From:      s.cfg.Handle,
			Candidate: candidate,
		})
		if err != nil {
			log.Warn("candidate publish failed", zap.Error(err))
		}
	})

	if source != nil {
		if err := peer.AttachSource(source); err != nil {
			log.Error("track attach failed", zap.Error(err))
			s.dropLink(viewerID)
			return
		}
	}

	// Offer generation runs outside the map guard: negotiation has no
	// cross-viewer dependency.
	sdp, err := peer.CreateOffer(context.Background())
	if err != nil {
		log.Error("negotiation failed", zap.Error(&NegotiationError{Peer: viewerID, Err: err}))
		s.dropLink(viewerID)
		return
	}
	err = s.signals.Publish(context.Background(), sid, Message{
		Type: TypeOffer,
		To:   viewerID,
		From: s.cfg.Handle,
		SDP:  sdp,
	})
	if err != nil {
		log.Warn("offer publish failed", zap.Error(err))
		s.dropLink(viewerID)
		return
	}
	log.Info("offer sent")
}

// handleAnswer applies the viewer's answer to the matching link. A late or
// duplicate answer with no matching link is ignored.
func (s *HostSession) handleAnswer(viewerID string, sdp json.RawMessage) {
	s.mu.Lock()
	peer := s.links[viewerID]
	s.mu.Unlock()
	if peer == nil {
		return
	}
	if err := peer.SetRemoteDescription(sdp); err != nil {
		s.log.Error("negotiation failed", zap.Error(&NegotiationError{Peer: viewerID, Err: err}))
		s.dropLink(viewerID)
	}
}

// handleRemoteCandidate applies a viewer's ICE candidate to the matching
// link. Stale candidates are logged and swallowed without dropping the link.
func (s *HostSession) handleRemoteCandidate(viewerID string, candidate json.RawMessage) {
	s.mu.Lock()
	peer := s.links[viewerID]
	s.mu.Unlock()
	if peer == nil {
		return
	}
	if err := peer.AddICECandidate(candidate); err != nil {
		s.log.Debug("stale candidate ignored", zap.String("viewer", viewerID), zap.Error(err))
	}
}

func (s *HostSession) linkAlive(viewerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.links[viewerID]
	return ok
}

// dropLink removes and closes a single viewer's link without touching the
// rest of the broadcast.
func (s *HostSession) dropLink(viewerID string) {
	s.mu.Lock()
	peer := s.links[viewerID]
	delete(s.links, viewerID)
	s.mu.Unlock()
	if peer != nil {
		_ = peer.Close()
	}
}

// DisconnectViewer tears down the link for one viewer identity, if any.
func (s *HostSession) DisconnectViewer(viewerID string) {
	s.dropLink(viewerID)
}

func (s *HostSession) onPresenceSync(identities []string) {
	own := s.presenceKey()
	count := 0
	for _, id := range identities {
		if id != own {
			count++
		}
	}
	s.mu.Lock()
	s.viewers = count
	s.mu.Unlock()
}

// EndLive closes every peer link, withdraws presence, unsubscribes the
// signaling topic, marks the session record ended and releases the local
// capture. Safe to call any number of times and from any error path; the
// first call tears everything down, and repeat calls only retry the record
// mark if the store rejected it earlier, so a transient outage cannot
// strand the record live.
func (s *HostSession) EndLive(ctx context.Context) error {
	s.mu.Lock()
	if s.state == HostEnded {
		record, ended := s.record, s.recordEnded
		s.mu.Unlock()
		if record == nil || ended {
			return nil
		}
		return s.finishRecord(ctx, record)
	}
	s.state = HostEnded
	links := s.links
	s.links = make(map[string]PeerLink)
	sub := s.sub
	member := s.member
	source := s.source
	record := s.record
	s.sub = nil
	s.member = nil
	s.source = nil
	s.viewers = 0
	s.mu.Unlock()

	for id, peer := range links {
		if err := peer.Close(); err != nil {
			s.log.Debug("peer close", zap.String("viewer", id), zap.Error(err))
		}
	}
	if sub != nil {
		sub.Close()
	}
	if member != nil {
		member.Leave()
	}
	if source != nil {
		source.Close()
	}

	if record == nil {
		return nil
	}
	return s.finishRecord(ctx, record)
}

func (s *HostSession) finishRecord(ctx context.Context, record *models.LiveSession) error {
	if err := s.registry.MarkEnded(ctx, record.ID); err != nil {
		s.log.Error("mark session ended failed", zap.String("session_id", record.ID.String()), zap.Error(err))
		return &PersistenceError{Op: "mark ended", Err: err}
	}
	s.mu.Lock()
	s.recordEnded = true
	s.mu.Unlock()
	s.log.Info("broadcast ended", zap.String("session_id", record.ID.String()))
	return nil
}
