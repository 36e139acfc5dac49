package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type ConsumerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	Block     time.Duration
	// MinIdle is how long a delivered message may stay unacked before
	// Reclaim hands it to this consumer.
	MinIdle time.Duration
}

type Consumer struct {
	client redis.UniversalClient
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer creates the consumer group if needed. The group starts at "0"
// so entries added before the first worker came up are not skipped.
func NewConsumer(ctx context.Context, client redis.UniversalClient, cfg ConsumerConfig, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "queue.consumer", "stream", cfg.Stream, "consumer", cfg.Consumer),
	}
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}
	return c, nil
}

// limit caps a request at max entries; max <= 0 means the batch size.
func (c *Consumer) limit(max int64) int64 {
	if max <= 0 || (c.cfg.BatchSize > 0 && max > c.cfg.BatchSize) {
		return c.cfg.BatchSize
	}
	return max
}

// Read blocks up to cfg.Block for at most max new entries. Entries that
// cannot be decoded are acked and dropped so they are not redelivered
// forever.
func (c *Consumer) Read(ctx context.Context, max int64) ([]Message, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.limit(max),
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		messages = append(messages, c.parse(ctx, stream.Messages)...)
	}
	if len(messages) > 0 {
		c.logger.DebugContext(ctx, "read messages from stream", "count", len(messages))
	}
	return messages, nil
}

// Reclaim claims at most max entries that other consumers (or a previous
// run of this one) received but never acked within cfg.MinIdle. Claiming
// resets an entry's idle time, so callers ask only for what they can start
// right away.
func (c *Consumer) Reclaim(ctx context.Context, max int64) ([]Message, error) {
	limit := c.limit(max)
	var out []Message
	start := "0-0"
	for {
		count := limit
		if limit > 0 {
			count = limit - int64(len(out))
		}
		msgs, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			MinIdle:  c.cfg.MinIdle,
			Start:    start,
			Count:    count,
		}).Result()
		if err != nil {
			return out, fmt.Errorf("xautoclaim: %w", err)
		}
		out = append(out, c.parse(ctx, msgs)...)
		if next == "0-0" || next == "" || len(msgs) == 0 {
			break
		}
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
		start = next
	}
	if len(out) > 0 {
		c.logger.InfoContext(ctx, "reclaimed stale messages", "count", len(out))
	}
	return out, nil
}

func (c *Consumer) Ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}
	c.logger.DebugContext(ctx, "message acknowledged", "message_id", id)
	return nil
}

func (c *Consumer) parse(ctx context.Context, raw []redis.XMessage) []Message {
	out := make([]Message, 0, len(raw))
	for _, msg := range raw {
		parsed, err := ParseMessage(msg)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to parse message", "error", err, "message_id", msg.ID)
			_ = c.Ack(ctx, msg.ID)
			continue
		}
		out = append(out, parsed)
	}
	return out
}
