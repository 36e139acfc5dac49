package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const releaseTimeout = 10 * time.Second

// Guard is a held lock. Release it with defer so every exit path frees the
// conversation.
type Guard struct {
	store Store
	id    string
	once  sync.Once
	err   error
}

// Acquire takes the lock for id, returning ErrConflict when another
// execution holds it.
func Acquire(ctx context.Context, store Store, id string) (*Guard, error) {
	ok, err := store.Acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire lock %s: %w", id, ErrConflict)
	}
	return &Guard{store: store, id: id}, nil
}

// ID returns the lock id.
func (g *Guard) ID() string { return g.id }

// Release frees the lock once; later calls return the first result. The
// release still runs when ctx is already cancelled.
func (g *Guard) Release(ctx context.Context) error {
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := g.store.Release(ctx, g.id); err != nil {
			g.err = fmt.Errorf("release lock %s: %w", g.id, err)
		}
	})
	return g.err
}
