package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/af-corp/wall-e/internal/queue"
	"github.com/af-corp/wall-e/internal/types"
)

// fakeSource hands out the queued batches, at most max messages per call,
// then blocks like XREADGROUP until the context is done. It tracks how many
// delivered messages are still unacked so tests can check that a read never
// asks for more than the runner can start.
type fakeSource struct {
	mu        sync.Mutex
	batches   [][]queue.Message
	reclaim   []queue.Message
	acked     []string
	ackErr    error
	reclaims  int
	delivered int
	maxAsked  []int64
	capacity  int
	overAsked bool
	drained   chan struct{}
	once      sync.Once
}

// take must be called with mu held.
func (s *fakeSource) take(from []queue.Message, max int64) (out, rest []queue.Message) {
	s.maxAsked = append(s.maxAsked, max)
	if s.capacity > 0 && s.delivered-len(s.acked)+int(max) > s.capacity {
		s.overAsked = true
	}
	n := len(from)
	if max > 0 && int(max) < n {
		n = int(max)
	}
	s.delivered += n
	return from[:n], from[n:]
}

func (s *fakeSource) Read(ctx context.Context, max int64) ([]queue.Message, error) {
	s.mu.Lock()
	if len(s.batches) > 0 {
		b, rest := s.take(s.batches[0], max)
		if len(rest) > 0 {
			s.batches[0] = rest
		} else {
			s.batches = s.batches[1:]
		}
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.drained) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSource) Reclaim(_ context.Context, max int64) ([]queue.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reclaims++
	out, rest := s.take(s.reclaim, max)
	s.reclaim = rest
	return out, nil
}

func (s *fakeSource) Ack(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, id)
	return s.ackErr
}

type countingHandler struct {
	active  atomic.Int32
	peak    atomic.Int32
	handled atomic.Int32
	delay   time.Duration
	sawDone atomic.Bool
}

func (h *countingHandler) Process(ctx context.Context, _ types.Job) Outcome {
	n := h.active.Add(1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(h.delay)
	if ctx.Err() != nil {
		h.sawDone.Store(true)
	}
	h.active.Add(-1)
	h.handled.Add(1)
	return OutcomeSucceeded
}

func messages(ids ...string) []queue.Message {
	out := make([]queue.Message, len(ids))
	for i, id := range ids {
		out[i] = queue.Message{ID: id, Job: types.Job{LockID: "octo/repo/" + id}}
	}
	return out
}

func TestRunner_ProcessesAndAcksEverything(t *testing.T) {
	src := &fakeSource{
		batches: [][]queue.Message{messages("1", "2", "3"), messages("4", "5")},
		reclaim: messages("0"),
		drained: make(chan struct{}),
	}
	h := &countingHandler{delay: 20 * time.Millisecond}
	r := NewRunner(src, h, RunnerConfig{Concurrency: 2, JobTimeout: time.Minute, ReclaimInterval: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-src.drained
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if got := h.handled.Load(); got != 6 {
		t.Errorf("handled %d jobs, want 6", got)
	}
	if got := h.peak.Load(); got > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", got)
	}
	if h.sawDone.Load() {
		t.Error("jobs observed shutdown cancellation")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.acked) != 6 {
		t.Errorf("acked %v, want 6 ids", src.acked)
	}
	if src.reclaims != 1 {
		t.Errorf("reclaims = %d, want 1 within the interval", src.reclaims)
	}
}

func TestRunner_AckFailureIsNotFatal(t *testing.T) {
	src := &fakeSource{
		batches: [][]queue.Message{messages("1")},
		ackErr:  errors.New("redis down"),
		drained: make(chan struct{}),
	}
	h := &countingHandler{}
	r := NewRunner(src, h, RunnerConfig{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	<-src.drained
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if h.handled.Load() != 1 {
		t.Errorf("handled = %d", h.handled.Load())
	}
}

type deadlineHandler struct{ deadline atomic.Bool }

func (h *deadlineHandler) Process(ctx context.Context, _ types.Job) Outcome {
	_, ok := ctx.Deadline()
	h.deadline.Store(ok)
	return OutcomeSucceeded
}

func TestRunner_JobTimeout(t *testing.T) {
	src := &fakeSource{batches: [][]queue.Message{messages("1")}, drained: make(chan struct{})}
	h := &deadlineHandler{}
	r := NewRunner(src, h, RunnerConfig{JobTimeout: time.Minute}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	<-src.drained
	cancel()
	<-done

	if !h.deadline.Load() {
		t.Error("job context has no deadline")
	}
}

func TestRunner_ReadsOnlyWhatItCanStart(t *testing.T) {
	src := &fakeSource{
		batches:  [][]queue.Message{messages("1", "2", "3", "4", "5", "6", "7")},
		reclaim:  messages("0"),
		capacity: 2,
		drained:  make(chan struct{}),
	}
	h := &countingHandler{delay: 20 * time.Millisecond}
	r := NewRunner(src, h, RunnerConfig{Concurrency: 2, JobTimeout: time.Minute, ReclaimInterval: time.Hour}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-src.drained
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if got := h.handled.Load(); got != 8 {
		t.Errorf("handled %d jobs, want 8", got)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.overAsked {
		t.Errorf("runner asked for more messages than it had free slots: %v", src.maxAsked)
	}
	for _, m := range src.maxAsked {
		if m < 1 || m > 2 {
			t.Errorf("asked for %d messages with concurrency 2", m)
		}
	}
}
