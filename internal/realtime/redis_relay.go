package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"hisens-cloud/internal/logging"
)

const relayBuffer = 256

type relayEnvelope struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// RedisRelay shares live events between replicas over Redis pub/sub. Each
// replica delivers its own events locally and skips them on the way back.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	hub     *Hub
	out     chan Message
	ready   chan struct{}
	logger  *zap.Logger
}

// NewRedisClient opens a Redis client.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisRelay constructs a relay and attaches it to hub.
func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *zap.Logger) (*RedisRelay, error) {
	if client == nil {
		return nil, errors.New("relay: nil redis client")
	}
	if hub == nil {
		return nil, errors.New("relay: nil hub")
	}
	if channel == "" {
		return nil, errors.New("relay: empty channel")
	}
	relay := &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		out:     make(chan Message, relayBuffer),
		ready:   make(chan struct{}),
		logger:  logging.OrNop(logger),
	}
	hub.SetRelay(relay)
	return relay, nil
}

// Forward queues a local message for publishing. It drops when the queue is full.
func (r *RedisRelay) Forward(msg Message) {
	select {
	case r.out <- msg:
	default:
		r.logger.Warn("relay queue full, dropping live event", zap.String("event", msg.Event))
	}
}

// Ready is closed once the relay is subscribed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes and pumps messages both ways until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	close(r.ready)
	r.logger.Info("live relay subscribed", zap.String("channel", r.channel), zap.String("origin", r.origin))

	inbound := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-r.out:
			payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: msg.Event, Data: msg.Data})
			if err != nil {
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				r.logger.Warn("relay publish failed", zap.Error(err))
			}
		case in, ok := <-inbound:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(in.Payload), &env); err != nil {
				r.logger.Debug("relay decode failed", zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.hub.Broadcast(Message{Event: env.Event, Data: env.Data})
		}
	}
}
