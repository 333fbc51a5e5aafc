package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pulselive/backend/internal/live"
)

const publishTimeout = 5 * time.Second

// Signaling implements live.SignalingChannel over Redis pub/sub. One Redis
// channel per session (webrtc:live:<sessionId>); every subscriber receives
// every message, delivery is at-most-once with FIFO per publisher, which is
// exactly what the join handshake tolerates.
type Signaling struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSignaling creates the Redis signaling channel.
func NewSignaling(client *redis.Client, logger *zap.Logger) *Signaling {
	return &Signaling{client: client, logger: logger}
}

// Publish sends one signaling message on the session topic. A message
// published while nobody is subscribed is lost silently.
func (s *Signaling) Publish(ctx context.Context, sessionID string, msg live.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return s.client.Publish(ctx, live.SignalingTopic(sessionID), body).Err()
}

// Subscribe listens on the session topic and calls onMessage for each
// decoded signaling message. Undecodable payloads are dropped.
func (s *Signaling) Subscribe(ctx context.Context, sessionID string, onMessage func(live.Message)) (live.SubscriptionHandle, error) {
	topic := live.SignalingTopic(sessionID)
	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(subCtx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg live.Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					s.logger.Debug("undecodable signal dropped", zap.String("topic", topic), zap.Error(err))
					continue
				}
				onMessage(msg)
			}
		}
	}()
	return &subscription{cancel: cancel}, nil
}

// subscription cancels the topic listener. Close is idempotent.
type subscription struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (s *subscription) Close() {
	s.once.Do(s.cancel)
}
