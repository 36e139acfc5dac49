package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/wall-e/internal/types"
)

type Producer struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewProducer appends to stream, trimming it to roughly maxLen entries when
// maxLen is positive.
func NewProducer(client redis.UniversalClient, stream string, maxLen int64, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

// Enqueue adds job to the stream and returns the entry id.
func (p *Producer) Enqueue(ctx context.Context, job types.Job) (string, error) {
	if job.LockID == "" {
		job.LockID = job.Context.LockID()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{JobField: string(data)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued job",
		"message_id", id,
		"command", job.Command.Name,
		"lock_id", job.LockID,
		"installation_id", job.InstallationID)
	return id, nil
}
