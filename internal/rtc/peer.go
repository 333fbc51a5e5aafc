package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/live"
)

// peer wraps one pion PeerConnection behind the live.PeerLink contract.
// SDP and candidates cross the boundary as their JSON encodings, so the
// signaling layer can pass them through untouched.
type peer struct {
	pc  *webrtc.PeerConnection
	log *zap.Logger

	mu         sync.Mutex
	streamSeen bool
}

func newPeer(pc *webrtc.PeerConnection, log *zap.Logger) *peer {
	return &peer{pc: pc, log: log}
}

func (p *peer) OnICECandidate(fn func(candidate json.RawMessage)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(b)
	})
}

// OnRemoteStream fires once, for the first inbound track. Subsequent tracks
// belong to the same remote stream.
func (p *peer) OnRemoteStream(fn func(stream live.RemoteStream)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.mu.Lock()
		first := !p.streamSeen
		p.streamSeen = true
		p.mu.Unlock()
		if first {
			fn(&remoteStream{id: track.StreamID()})
		}
	})
}

func (p *peer) AttachSource(src live.MediaSource) error {
	source, ok := src.(*Source)
	if !ok {
		return fmt.Errorf("unsupported media source %T", src)
	}
	for _, track := range source.Tracks() {
		if _, err := p.pc.AddTrack(track); err != nil {
			return fmt.Errorf("add track: %w", err)
		}
	}
	return nil
}

func (p *peer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(offer)
}

func (p *peer) SetRemoteDescription(sdp json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(sdp, &desc); err != nil {
		return fmt.Errorf("decode session description: %w", err)
	}
	return p.pc.SetRemoteDescription(desc)
}

func (p *peer) CreateAnswer(ctx context.Context) (json.RawMessage, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(answer)
}

func (p *peer) AddICECandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}

func (p *peer) Close() error {
	return p.pc.Close()
}

type remoteStream struct {
	id string
}

func (r *remoteStream) ID() string { return r.id }
