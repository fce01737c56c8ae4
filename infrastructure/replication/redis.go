package replication

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "collabsync-backend/pkg/errors"
)

// channelName is the shared broker channel all coordinator instances use
const channelName = "collabsync:events"

// RedisBridge replicates events between instances over a redis pub/sub
// channel. Broker loss is non-fatal: the system degrades to single-instance
// visibility and the transition is logged once per state change.
type RedisBridge struct {
	client     *redis.Client
	instanceID string
	logger     *zap.Logger
	pubsub     *redis.PubSub
}

// NewRedisBridge creates a bridge connected to the given redis address. An
// unreachable broker at startup is reported but does not fail construction;
// publish and subscribe recover when the broker comes back.
func NewRedisBridge(addr, password string, db int, logger *zap.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	b := &RedisBridge{
		client:     client,
		instanceID: uuid.New().String(),
		logger:     logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Replication broker unreachable at startup, continuing with single-instance visibility",
			zap.String("addr", addr),
			zap.Error(err),
		)
	} else {
		logger.Info("Replication broker connected",
			zap.String("addr", addr),
			zap.String("instanceID", b.instanceID),
		)
	}

	return b
}

// Publish sends a locally-originated envelope to the shared channel
func (b *RedisBridge) Publish(ctx context.Context, env Envelope) error {
	env.Origin = b.instanceID
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return appErrors.NewReplicationUnavailable("failed to marshal envelope", err)
	}

	if err := b.client.Publish(ctx, channelName, data).Err(); err != nil {
		return appErrors.NewReplicationUnavailable("broker publish failed", err)
	}
	return nil
}

// Subscribe consumes the shared channel and hands sibling-instance envelopes
// to handler. It returns once ctx is cancelled.
func (b *RedisBridge) Subscribe(ctx context.Context, handler Handler) error {
	b.pubsub = b.client.Subscribe(ctx, channelName)

	go b.consume(ctx, handler)
	return nil
}

func (b *RedisBridge) consume(ctx context.Context, handler Handler) {
	degraded := false

	for {
		msg, err := b.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			if !degraded {
				degraded = true
				b.logger.Warn("Lost connectivity to replication broker, degrading to single-instance visibility",
					zap.Error(err),
				)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if degraded {
			degraded = false
			b.logger.Info("Replication broker connectivity regained")
		}

		b.dispatch([]byte(msg.Payload), handler)
	}
}

// dispatch decodes one broker message and applies the loop guard: envelopes
// published by this instance are never re-delivered or re-published.
func (b *RedisBridge) dispatch(payload []byte, handler Handler) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("Discarding malformed replication envelope", zap.Error(err))
		return
	}

	if env.Origin == "" || env.Origin == b.instanceID {
		return
	}

	handler(env)
}

// Close shuts down the subscription and the client
func (b *RedisBridge) Close() error {
	if b.pubsub != nil {
		if err := b.pubsub.Close(); err != nil {
			b.logger.Warn("Failed to close broker subscription", zap.Error(err))
		}
	}
	return b.client.Close()
}
