package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/live"
)

const syncEvent = "sync"

// Presence implements live.PresenceChannel over Redis. Members of a session
// live in a sorted set scored by their last heartbeat; a member whose score
// falls outside the TTL window disappears from the next snapshot, which is
// the failure detection the sessions rely on. Consumers never patch counts
// incrementally: every sync recomputes the full set.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewPresence creates the Redis presence channel. ttl is the liveness
// window: a member that misses heartbeats for longer is dropped.
func NewPresence(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Presence {
	return &Presence{client: client, ttl: ttl, logger: logger}
}

func (p *Presence) membersKey(sessionID string) string {
	return live.PresenceTopic(sessionID) + ":members"
}

func (p *Presence) metaKey(sessionID string) string {
	return live.PresenceTopic(sessionID) + ":meta"
}

// Snapshot returns the identities currently announced on a session,
// dropping members whose heartbeat fell outside the TTL window.
func (p *Presence) Snapshot(ctx context.Context, sessionID string) ([]string, error) {
	key := p.membersKey(sessionID)
	cutoff := strconv.FormatInt(time.Now().Add(-p.ttl).UnixMilli(), 10)
	if err := p.client.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		return nil, fmt.Errorf("presence reap: %w", err)
	}
	ids, err := p.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("presence snapshot: %w", err)
	}
	return ids, nil
}

// Join announces the identity on the session's presence topic and starts
// the heartbeat that keeps it alive. The returned membership delivers full
// snapshots to its OnSync callback until Leave.
func (p *Presence) Join(ctx context.Context, sessionID, identity string, meta live.PresenceMeta) (live.Membership, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal presence meta: %w", err)
	}
	now := float64(time.Now().UnixMilli())
	pipe := p.client.TxPipeline()
	pipe.ZAdd(ctx, p.membersKey(sessionID), redis.Z{Score: now, Member: identity})
	pipe.HSet(ctx, p.metaKey(sessionID), identity, metaJSON)
	pipe.Expire(ctx, p.membersKey(sessionID), p.ttl*2)
	pipe.Expire(ctx, p.metaKey(sessionID), p.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence join: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := p.client.Subscribe(subCtx, live.PresenceTopic(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("presence subscribe: %w", err)
	}

	m := &membership{
		presence:  p,
		sessionID: sessionID,
		identity:  identity,
		ctx:       subCtx,
		cancel:    cancel,
	}
	go m.run(pubsub)

	p.notify(ctx, sessionID)
	return m, nil
}

// notify pokes every subscriber of the session to recompute its snapshot.
func (p *Presence) notify(ctx context.Context, sessionID string) {
	ctx, cancelFn := context.WithTimeout(ctx, publishTimeout)
	defer cancelFn()
	if err := p.client.Publish(ctx, live.PresenceTopic(sessionID), syncEvent).Err(); err != nil {
		p.logger.Debug("presence notify failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// membership is one participant's announced presence entry.
type membership struct {
	presence  *Presence
	sessionID string
	identity  string
	ctx       context.Context
	cancel    context.CancelFunc

	mu     sync.Mutex
	onSync func([]string)
	once   sync.Once
}

// OnSync registers the snapshot callback and delivers an initial snapshot
// so the caller does not wait for the next membership change.
func (m *membership) OnSync(fn func(identities []string)) {
	m.mu.Lock()
	m.onSync = fn
	m.mu.Unlock()
	go m.recompute()
}

// run refreshes the member's heartbeat and recomputes the snapshot on every
// sync notification and on each heartbeat tick, so silently expired members
// are noticed even when nobody publishes a sync.
func (m *membership) run(pubsub *redis.PubSub) {
	defer pubsub.Close()
	interval := m.presence.ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ch := pubsub.Channel()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.heartbeat()
			m.recompute()
		case _, ok := <-ch:
			if !ok {
				return
			}
			m.recompute()
		}
	}
}

func (m *membership) heartbeat() {
	ctx, cancelFn := context.WithTimeout(m.ctx, publishTimeout)
	defer cancelFn()
	key := m.presence.membersKey(m.sessionID)
	now := float64(time.Now().UnixMilli())
	pipe := m.presence.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: now, Member: m.identity})
	pipe.Expire(ctx, key, m.presence.ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		m.presence.logger.Debug("presence heartbeat failed", zap.String("identity", m.identity), zap.Error(err))
	}
}

func (m *membership) recompute() {
	m.mu.Lock()
	fn := m.onSync
	m.mu.Unlock()
	if fn == nil {
		return
	}
	ctx, cancelFn := context.WithTimeout(m.ctx, publishTimeout)
	defer cancelFn()
	ids, err := m.presence.Snapshot(ctx, m.sessionID)
	if err != nil {
		if m.ctx.Err() == nil {
			m.presence.logger.Debug("presence recompute failed", zap.Error(err))
		}
		return
	}
	fn(ids)
}

// Leave withdraws the announcement and stops the heartbeat. Idempotent.
func (m *membership) Leave() {
	m.once.Do(func() {
		m.cancel()
		ctx, cancelFn := context.WithTimeout(context.Background(), publishTimeout)
		defer cancelFn()
		pipe := m.presence.client.TxPipeline()
		pipe.ZRem(ctx, m.presence.membersKey(m.sessionID), m.identity)
		pipe.HDel(ctx, m.presence.metaKey(m.sessionID), m.identity)
		if _, err := pipe.Exec(ctx); err != nil {
			m.presence.logger.Debug("presence leave failed", zap.String("identity", m.identity), zap.Error(err))
		}
		m.presence.notify(ctx, m.sessionID)
	})
}
