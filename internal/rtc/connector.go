package rtc

import (
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/live"
)

var defaultICE = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// Connector creates pion-backed peer links with a shared ICE configuration.
type Connector struct {
	cfg webrtc.Configuration
	log *zap.Logger
}

// NewConnector builds a connector from STUN/TURN URLs. Empty input falls
// back to the public Google STUN server.
func NewConnector(iceURLs []string, logger *zap.Logger) *Connector {
	return &Connector{
		cfg: webrtc.Configuration{ICEServers: parseICEServers(iceURLs)},
		log: logger,
	}
}

// NewPeer creates one peer connection with the default codecs registered.
func (c *Connector) NewPeer() (live.PeerLink, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(c.cfg)
	if err != nil {
		return nil, err
	}
	return newPeer(pc, c.log), nil
}

func parseICEServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return defaultICE
	}
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		out = append(out, webrtc.ICEServer{URLs: []string{u}})
	}
	if len(out) == 0 {
		return defaultICE
	}
	return out
}
