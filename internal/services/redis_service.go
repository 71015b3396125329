package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/auth"
	"github.com/52200132/SuaChuaXeMay-sub000/internal/database"

	"github.com/redis/go-redis/v9"
)

// relayChannel is the Redis pub/sub channel every relay node publishes
// triggered events to and consumes remote events from.
const relayChannel = "pusher:events"

// RelayEnvelope wraps an event for cross-instance distribution. Node is the
// publishing instance's id so consumers can skip their own messages.
type RelayEnvelope struct {
	Node    string          `json:"node"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

type RedisService struct {
	client *database.RedisClient
}

func NewRedisService(client *database.RedisClient) *RedisService {
	return &RedisService{
		client: client,
	}
}

// =============================================================================
// Presence Bookkeeping
// =============================================================================

func (r *RedisService) AddChannelMember(ctx context.Context, channel, socketID string, member *auth.PresenceMember) error {
	pipe := r.client.GetClient().Pipeline()

	pipe.SAdd(ctx, fmt.Sprintf("channel:%s:sockets", channel), socketID)
	if member != nil {
		data, err := json.Marshal(member)
		if err != nil {
			return fmt.Errorf("failed to marshal presence member: %w", err)
		}
		pipe.HSet(ctx, fmt.Sprintf("channel:%s:members", channel), socketID, data)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		slog.Error("Failed to add channel member", "channel", channel, "socketID", socketID, "error", err)
		return err
	}

	slog.Debug("Channel member added", "channel", channel, "socketID", socketID)
	return nil
}

func (r *RedisService) RemoveChannelMember(ctx context.Context, channel, socketID string) error {
	pipe := r.client.GetClient().Pipeline()

	pipe.SRem(ctx, fmt.Sprintf("channel:%s:sockets", channel), socketID)
	pipe.HDel(ctx, fmt.Sprintf("channel:%s:members", channel), socketID)

	_, err := pipe.Exec(ctx)
	if err != nil {
		slog.Error("Failed to remove channel member", "channel", channel, "socketID", socketID, "error", err)
		return err
	}

	slog.Debug("Channel member removed", "channel", channel, "socketID", socketID)
	return nil
}

// ChannelRoster returns the presence identities currently joined to a
// channel, keyed by socket id.
func (r *RedisService) ChannelRoster(ctx context.Context, channel string) (map[string]*auth.PresenceMember, error) {
	raw, err := r.client.GetClient().HGetAll(ctx, fmt.Sprintf("channel:%s:members", channel)).Result()
	if err != nil {
		return nil, err
	}

	roster := make(map[string]*auth.PresenceMember, len(raw))
	for socketID, data := range raw {
		var member auth.PresenceMember
		if err := json.Unmarshal([]byte(data), &member); err != nil {
			slog.Warn("Skipping unreadable presence entry", "channel", channel, "socketID", socketID, "error", err)
			continue
		}
		roster[socketID] = &member
	}
	return roster, nil
}

func (r *RedisService) ChannelSocketCount(ctx context.Context, channel string) (int64, error) {
	return r.client.GetClient().SCard(ctx, fmt.Sprintf("channel:%s:sockets", channel)).Result()
}

// =============================================================================
// Cross-Instance Event Relay
// =============================================================================

// PublishEvent relays a broadcast to every other node.
func (r *RedisService) PublishEvent(ctx context.Context, env *RelayEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}

	if err := r.client.GetClient().Publish(ctx, relayChannel, data).Err(); err != nil {
		slog.Error("Failed to publish relay event", "channel", env.Channel, "event", env.Event, "error", err)
		return err
	}

	slog.Debug("Relay event published", "channel", env.Channel, "event", env.Event)
	return nil
}

// SubscribeEvents opens the relay subscription. The caller owns the returned
// PubSub and must close it on shutdown.
func (r *RedisService) SubscribeEvents(ctx context.Context) *redis.PubSub {
	pubsub := r.client.GetClient().Subscribe(ctx, relayChannel)
	slog.Debug("Subscribed to relay events", "channel", relayChannel)
	return pubsub
}

// =============================================================================
// Rate Limiting
// =============================================================================

func (r *RedisService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).Unix()

	pipe := r.client.GetClient().Pipeline()

	// Remove old entries
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))

	// Count current entries
	pipe.ZCard(ctx, key)

	// Add current request
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.Unix()), Member: now.UnixNano()})

	// Set expiration
	pipe.Expire(ctx, key, window)

	results, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}

	count := results[1].(*redis.IntCmd).Val()

	return count < int64(limit), nil
}
