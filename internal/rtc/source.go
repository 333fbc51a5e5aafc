package rtc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/live"
)

// Source is the local capture handle: one audio and one video track fed by
// the application's capture pipeline via WriteAudioSample/WriteVideoSample.
// Toggling mic/cam gates the writes; no renegotiation is needed.
type Source struct {
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu           sync.Mutex
	audioEnabled bool
	videoEnabled bool
	closed       bool
}

// NewSource creates an Opus/VP8 capture source with both tracks enabled.
func NewSource() (*Source, error) {
	streamID := "capture-" + uuid.New().String()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID,
	)
	if err != nil {
		return nil, err
	}
	return &Source{audio: audio, video: video, audioEnabled: true, videoEnabled: true}, nil
}

// Tracks returns the local tracks for attachment to a peer connection.
func (s *Source) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.audio, s.video}
}

// WriteAudioSample forwards one captured audio sample. Dropped silently
// while the mic is muted or the source is closed.
func (s *Source) WriteAudioSample(sample media.Sample) error {
	s.mu.Lock()
	ok := s.audioEnabled && !s.closed
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.audio.WriteSample(sample)
}

// WriteVideoSample forwards one captured video frame. Dropped silently
// while the camera is off or the source is closed.
func (s *Source) WriteVideoSample(sample media.Sample) error {
	s.mu.Lock()
	ok := s.videoEnabled && !s.closed
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.video.WriteSample(sample)
}

func (s *Source) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audioEnabled = enabled
	s.mu.Unlock()
}

func (s *Source) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.videoEnabled = enabled
	s.mu.Unlock()
}

// Close stops accepting samples. The tracks themselves are owned by the
// peer connections and close with them.
func (s *Source) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Devices acquires capture sources. The frame producer (camera/microphone
// integration) is supplied by the surrounding application; when none is
// configured, Acquire reports a device error the way a denied permission
// would.
type Devices struct {
	open func(ctx context.Context) (*Source, error)
	log  *zap.Logger
}

// NewDevices creates the capture boundary. open may be nil when the
// process has no capture capability.
func NewDevices(open func(ctx context.Context) (*Source, error), logger *zap.Logger) *Devices {
	return &Devices{open: open, log: logger}
}

// Acquire opens the local camera/microphone.
func (d *Devices) Acquire(ctx context.Context) (live.MediaSource, error) {
	if d.open == nil {
		return nil, &live.DeviceError{Reason: "no capture device configured"}
	}
	src, err := d.open(ctx)
	if err != nil {
		return nil, &live.DeviceError{Reason: err.Error(), Err: err}
	}
	return src, nil
}
