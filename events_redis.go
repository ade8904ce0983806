package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 1000

// RedisStreamPublisher appends every turn event to a per-conversation Redis
// stream so other processes can follow a turn.
type RedisStreamPublisher struct {
	rdb    *redis.Client
	maxLen int64
}

// NewRedisStreamPublisher connects to Redis and verifies the connection.
func NewRedisStreamPublisher(ctx context.Context, addr, password string, db int) (*RedisStreamPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStreamPublisher{rdb: rdb, maxLen: defaultStreamMaxLen}, nil
}

// StreamKey is the Redis stream holding a conversation's events.
func StreamKey(conversationID string) string {
	return fmt.Sprintf("council:%s:events", conversationID)
}

func (p *RedisStreamPublisher) Emit(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(ev.ConversationID),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(ev.Type),
			"turn_id": ev.TurnID,
			"seq":     ev.Seq,
			"event":   payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish event to stream: %w", err)
	}
	return nil
}

func (p *RedisStreamPublisher) Close() error {
	return p.rdb.Close()
}
