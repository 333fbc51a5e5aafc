package live

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulselive/backend/internal/models"
)

// fakeBus is an in-memory broadcast signaling channel. Delivery is
// synchronous and fans out to every subscriber, including the publisher's
// own subscription, mirroring the shared-topic semantics.
type fakeBus struct {
	mu            sync.Mutex
	failSubscribe bool
	failPublish   bool
	subs          map[string][]*fakeSub
	published     map[string][]Message
}

type fakeSub struct {
	bus    *fakeBus
	sid    string
	fn     func(Message)
	closed bool
	mu     sync.Mutex
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		subs:      make(map[string][]*fakeSub),
		published: make(map[string][]Message),
	}
}

func (b *fakeBus) Subscribe(_ context.Context, sessionID string, onMessage func(Message)) (SubscriptionHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubscribe {
		return nil, errors.New("broker unreachable")
	}
	s := &fakeSub{bus: b, sid: sessionID, fn: onMessage}
	b.subs[sessionID] = append(b.subs[sessionID], s)
	return s, nil
}

func (b *fakeBus) Publish(_ context.Context, sessionID string, msg Message) error {
	b.mu.Lock()
	if b.failPublish {
		b.mu.Unlock()
		return errors.New("broker unreachable")
	}
	b.published[sessionID] = append(b.published[sessionID], msg)
	targets := make([]*fakeSub, len(b.subs[sessionID]))
	copy(targets, b.subs[sessionID])
	b.mu.Unlock()

	for _, s := range targets {
		s.mu.Lock()
		closed := s.closed
		fn := s.fn
		s.mu.Unlock()
		if !closed {
			fn(msg)
		}
	}
	return nil
}

func (b *fakeBus) messages(sessionID string, t MessageType) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.published[sessionID] {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (b *fakeBus) openSubs(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs[sessionID] {
		s.mu.Lock()
		if !s.closed {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

func (s *fakeSub) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// fakePresence keeps the per-session membership sets and pushes a full
// snapshot to every member on each change.
type fakePresence struct {
	mu       sync.Mutex
	failJoin bool
	sessions map[string]map[string]PresenceMeta
	members  map[string][]*fakeMembership
}

type fakeMembership struct {
	presence *fakePresence
	sid      string
	identity string
	mu       sync.Mutex
	onSync   func([]string)
	left     bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		sessions: make(map[string]map[string]PresenceMeta),
		members:  make(map[string][]*fakeMembership),
	}
}

func (p *fakePresence) Join(_ context.Context, sessionID, identity string, meta PresenceMeta) (Membership, error) {
	p.mu.Lock()
	if p.failJoin {
		p.mu.Unlock()
		return nil, errors.New("presence unreachable")
	}
	if p.sessions[sessionID] == nil {
		p.sessions[sessionID] = make(map[string]PresenceMeta)
	}
	p.sessions[sessionID][identity] = meta
	m := &fakeMembership{presence: p, sid: sessionID, identity: identity}
	p.members[sessionID] = append(p.members[sessionID], m)
	p.mu.Unlock()

	p.broadcastSync(sessionID)
	return m, nil
}

func (p *fakePresence) snapshot(sessionID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.sessions[sessionID]))
	for id := range p.sessions[sessionID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *fakePresence) broadcastSync(sessionID string) {
	ids := p.snapshot(sessionID)
	p.mu.Lock()
	targets := make([]*fakeMembership, len(p.members[sessionID]))
	copy(targets, p.members[sessionID])
	p.mu.Unlock()
	for _, m := range targets {
		m.mu.Lock()
		fn := m.onSync
		left := m.left
		m.mu.Unlock()
		if fn != nil && !left {
			fn(ids)
		}
	}
}

func (m *fakeMembership) OnSync(fn func([]string)) {
	m.mu.Lock()
	m.onSync = fn
	m.mu.Unlock()
	fn(m.presence.snapshot(m.sid))
}

func (m *fakeMembership) Leave() {
	m.mu.Lock()
	if m.left {
		m.mu.Unlock()
		return
	}
	m.left = true
	m.mu.Unlock()

	m.presence.mu.Lock()
	delete(m.presence.sessions[m.sid], m.identity)
	m.presence.mu.Unlock()
	m.presence.broadcastSync(m.sid)
}

// fakeRegistry is an in-memory session store.
type fakeRegistry struct {
	mu            sync.Mutex
	failCreate    bool
	failMarkEnded bool
	records       []*models.LiveSession
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{}
}

func (r *fakeRegistry) Create(_ context.Context, hostHandle, title string) (*models.LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return nil, errors.New("store unreachable")
	}
	now := time.Now()
	rec := &models.LiveSession{
		ID:         uuid.New(),
		HostHandle: hostHandle,
		Title:      title,
		IsLive:     true,
		StartedAt:  &now,
		CreatedAt:  now,
	}
	r.records = append(r.records, rec)
	return rec, nil
}

func (r *fakeRegistry) MarkEnded(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMarkEnded {
		return errors.New("store unreachable")
	}
	for _, rec := range r.records {
		if rec.ID == id && rec.EndedAt == nil {
			now := time.Now()
			rec.IsLive = false
			rec.EndedAt = &now
		}
	}
	return nil
}

func (r *fakeRegistry) ListActive(_ context.Context) ([]models.LiveSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LiveSession
	for _, rec := range r.records {
		if rec.IsLive {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeRegistry) record(i int) *models.LiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[i]
}

func (r *fakeRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// fakeConnector mints scripted peer links.
type fakeConnector struct {
	mu      sync.Mutex
	failNew bool
	peers   []*fakePeer
}

type fakePeer struct {
	mu               sync.Mutex
	closed           bool
	attached         MediaSource
	onICE            func(json.RawMessage)
	onStream         func(RemoteStream)
	remoteSDP        json.RawMessage
	addedCandidates  []json.RawMessage
	failOffer        bool
	failSetRemote    bool
	failAddCandidate bool
}

func newFakeConnector() *fakeConnector { return &fakeConnector{} }

func (c *fakeConnector) NewPeer() (PeerLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNew {
		return nil, errors.New("engine unavailable")
	}
	p := &fakePeer{}
	c.peers = append(c.peers, p)
	return p, nil
}

func (c *fakeConnector) peer(i int) *fakePeer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers[i]
}

func (c *fakeConnector) created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

func (p *fakePeer) AttachSource(src MediaSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = src
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(json.RawMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePeer) OnRemoteStream(fn func(RemoteStream)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStream = fn
}

func (p *fakePeer) CreateOffer(context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOffer {
		return nil, errors.New("offer generation failed")
	}
	return json.RawMessage(`{"type":"offer","sdp":"v=0 fake"}`), nil
}

func (p *fakePeer) SetRemoteDescription(sdp json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSetRemote {
		return errors.New("sdp apply failed")
	}
	p.remoteSDP = sdp
	return nil
}

func (p *fakePeer) CreateAnswer(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"type":"answer","sdp":"v=0 fake"}`), nil
}

func (p *fakePeer) AddICECandidate(candidate json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAddCandidate {
		return errors.New("stale candidate")
	}
	p.addedCandidates = append(p.addedCandidates, candidate)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) fireStream(id string) {
	p.mu.Lock()
	fn := p.onStream
	p.mu.Unlock()
	if fn != nil {
		fn(fakeStream(id))
	}
}

func (p *fakePeer) hasRemote() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.remoteSDP) > 0
}

type fakeStream string

func (s fakeStream) ID() string { return string(s) }

// fakeDevices hands out fake capture sources.
type fakeDevices struct {
	mu       sync.Mutex
	fail     bool
	acquired []*fakeSource
}

type fakeSource struct {
	mu     sync.Mutex
	audio  bool
	video  bool
	closed bool
}

func newFakeDevices() *fakeDevices { return &fakeDevices{} }

func (d *fakeDevices) Acquire(context.Context) (MediaSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, &DeviceError{Reason: "permission denied"}
	}
	s := &fakeSource{audio: true, video: true}
	d.acquired = append(d.acquired, s)
	return s, nil
}

func (d *fakeDevices) source(i int) *fakeSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired[i]
}

func (s *fakeSource) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audio = enabled
	s.mu.Unlock()
}

func (s *fakeSource) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.video = enabled
	s.mu.Unlock()
}

func (s *fakeSource) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
