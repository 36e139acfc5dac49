package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/af-corp/wall-e/internal/queue"
	"github.com/af-corp/wall-e/internal/types"
)

const ackTimeout = 5 * time.Second

// Source is the queue side of the runner. max caps how many messages a call
// may deliver.
type Source interface {
	Read(ctx context.Context, max int64) ([]queue.Message, error)
	Reclaim(ctx context.Context, max int64) ([]queue.Message, error)
	Ack(ctx context.Context, id string) error
}

// JobHandler processes one job to a terminal outcome.
type JobHandler interface {
	Process(ctx context.Context, job types.Job) Outcome
}

type RunnerConfig struct {
	Concurrency     int
	JobTimeout      time.Duration
	ReclaimInterval time.Duration
}

// Runner processes up to Concurrency jobs at once. It only takes as many
// messages from the queue as it has free slots, so a delivered message
// starts right away instead of aging in the pending list where the
// reclaimer of another worker would pick it up a second time. Messages idle
// past the delivery timeout are reclaimed periodically and handed to the
// same handler.
type Runner struct {
	source  Source
	handler JobHandler
	cfg     RunnerConfig
	logger  *slog.Logger
}

func NewRunner(source Source, handler JobHandler, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Runner{source: source, handler: handler, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs. Jobs do
// not observe ctx: an LLM call in progress runs to completion, bounded by
// JobTimeout.
func (r *Runner) Run(ctx context.Context) error {
	var jobs errgroup.Group
	defer jobs.Wait()
	slots := make(chan struct{}, r.cfg.Concurrency)

	r.logger.Info("worker started",
		"concurrency", r.cfg.Concurrency,
		"job_timeout", r.cfg.JobTimeout,
		"reclaim_interval", r.cfg.ReclaimInterval,
	)

	var lastReclaim time.Time
	for {
		free := reserve(ctx, slots)
		if ctx.Err() != nil {
			release(slots, free)
			r.logger.Info("worker stopping, waiting for in-flight jobs")
			return nil
		}

		if r.cfg.ReclaimInterval > 0 && time.Since(lastReclaim) >= r.cfg.ReclaimInterval {
			lastReclaim = time.Now()
			msgs, err := r.source.Reclaim(ctx, int64(free))
			if err != nil && ctx.Err() == nil {
				r.logger.Error("reclaim cycle error", "error", err)
			}
			if len(msgs) > 0 {
				r.logger.Info("reclaimed stale messages", "count", len(msgs))
			}
			free = r.start(ctx, &jobs, slots, free, msgs)
			if free == 0 {
				continue
			}
		}

		msgs, err := r.source.Read(ctx, int64(free))
		if err != nil {
			release(slots, free)
			if ctx.Err() != nil {
				continue
			}
			r.logger.Error("batch read error", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		release(slots, r.start(ctx, &jobs, slots, free, msgs))
	}
}

// reserve blocks until at least one slot is free, then takes every free
// slot. It returns 0 only when ctx is done.
func reserve(ctx context.Context, slots chan struct{}) int {
	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return 0
	}
	n := 1
	for {
		select {
		case slots <- struct{}{}:
			n++
		default:
			return n
		}
	}
}

func release(slots chan struct{}, n int) {
	for range n {
		<-slots
	}
}

// start runs msgs on the reserved slots and returns how many reserved slots
// are left unused. A source that over-delivers makes start wait for slots.
func (r *Runner) start(ctx context.Context, jobs *errgroup.Group, slots chan struct{}, reserved int, msgs []queue.Message) int {
	for i, msg := range msgs {
		if i >= reserved {
			slots <- struct{}{}
		}
		jobs.Go(func() error {
			defer func() { <-slots }()
			r.handle(ctx, msg)
			return nil
		})
	}
	return max(reserved-len(msgs), 0)
}

// handle processes and acknowledges one message. The message is acked
// whatever the outcome.
func (r *Runner) handle(ctx context.Context, msg queue.Message) {
	base := context.WithoutCancel(ctx)

	jobCtx := base
	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(base, r.cfg.JobTimeout)
		defer cancel()
	}

	outcome := r.handler.Process(jobCtx, msg.Job)

	ackCtx, cancel := context.WithTimeout(base, ackTimeout)
	defer cancel()
	if err := r.source.Ack(ackCtx, msg.ID); err != nil {
		// the reclaimer redelivers it; the lock rejects a concurrent duplicate
		r.logger.Warn("failed to ack message", "message_id", msg.ID, "outcome", outcome, "error", err)
	}
}
