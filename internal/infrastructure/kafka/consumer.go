package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/parley-chat/parley/internal/infrastructure/redis"
	"github.com/segmentio/kafka-go"
)

// UsageConsumer aggregates per-user token usage from message_created
// events into Redis counters. The counters back the /usage endpoint.
type UsageConsumer struct {
	reader      *kafka.Reader
	redisClient redis.RedisClient
}

func NewUsageConsumer(brokers []string, topic, groupID string, redisClient redis.RedisClient) *UsageConsumer {
	return &UsageConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		redisClient: redisClient,
	}
}

func (c *UsageConsumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event struct {
			EventType  string `json:"event_type"`
			UserID     int64  `json:"user_id"`
			Role       string `json:"role"`
			TokenCount int32  `json:"token_count"`
		}
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal chat event", "error", err)
			continue
		}

		if event.EventType != "message_created" || event.UserID == 0 {
			continue
		}

		usageKey := fmt.Sprintf("user:%d:tokens", event.UserID)
		total, err := c.redisClient.IncrBy(ctx, usageKey, int64(event.TokenCount))
		if err != nil {
			slog.Error("failed to increment usage counter", "user_id", event.UserID, "error", err)
			continue
		}

		slog.Info("usage counter updated", "user_id", event.UserID, "role", event.Role, "total_tokens", total)
	}
}

func (c *UsageConsumer) Close() error {
	return c.reader.Close()
}
