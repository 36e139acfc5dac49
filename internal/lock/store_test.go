package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/wall-e/internal/config"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newRedisStore(t *testing.T, lease time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, lease), mr
}

func newHTTPStore(t *testing.T, backing Store) *HTTPClient {
	t.Helper()
	r := chi.NewRouter()
	r.Mount("/locks", NewHandler(backing, nil, quietLogger).Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/locks", "", srv.Client())
}

// stores returns every Store implementation under test, keyed by name.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	redisStore, _ := newRedisStore(t, time.Minute)
	out := map[string]Store{
		"memory": NewMemoryStore(time.Minute),
		"redis":  redisStore,
		"http":   newHTTPStore(t, NewMemoryStore(time.Minute)),
	}
	if dsn := os.Getenv("WALLE_TEST_DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			t.Fatalf("connect postgres: %v", err)
		}
		t.Cleanup(pool.Close)
		_, err = pool.Exec(context.Background(), `
			CREATE TABLE IF NOT EXISTS invocation_locks (
				id TEXT PRIMARY KEY,
				running BOOLEAN NOT NULL DEFAULT false,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`)
		if err != nil {
			t.Fatalf("create table: %v", err)
		}
		_, _ = pool.Exec(context.Background(), `DELETE FROM invocation_locks WHERE id LIKE 'test-owner/%'`)
		out["postgres"] = NewPostgresStore(pool, time.Minute)
	}
	return out
}

func TestStore_AcquireReleaseSequence(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id := "test-owner/repo/1"

			ok, err := s.Acquire(ctx, id)
			if err != nil || !ok {
				t.Fatalf("first acquire: ok=%v err=%v", ok, err)
			}
			held, err := s.Held(ctx, id)
			if err != nil || !held {
				t.Fatalf("expected held after acquire: held=%v err=%v", held, err)
			}

			ok, err = s.Acquire(ctx, id)
			if err != nil || ok {
				t.Fatalf("second acquire should be rejected: ok=%v err=%v", ok, err)
			}

			if err := s.Release(ctx, id); err != nil {
				t.Fatalf("release: %v", err)
			}
			held, err = s.Held(ctx, id)
			if err != nil || held {
				t.Fatalf("expected free after release: held=%v err=%v", held, err)
			}

			ok, err = s.Acquire(ctx, id)
			if err != nil || !ok {
				t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
			}
			if err := s.Release(ctx, id); err != nil {
				t.Fatalf("final release: %v", err)
			}
		})
	}
}

func TestStore_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id := "test-owner/repo/2"
			const callers = 32

			var wins atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					ok, err := s.Acquire(ctx, id)
					if err != nil {
						t.Errorf("acquire: %v", err)
						return
					}
					if ok {
						wins.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			if got := wins.Load(); got != 1 {
				t.Errorf("expected exactly one winner, got %d", got)
			}
			_ = s.Release(ctx, id)
		})
	}
}

func TestStore_IndependentIDs(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a, b := "test-owner/repo/3", "test-owner/repo/4"
			if ok, _ := s.Acquire(ctx, a); !ok {
				t.Fatal("acquire a")
			}
			if ok, _ := s.Acquire(ctx, b); !ok {
				t.Fatal("acquire b should not be blocked by a")
			}
			_ = s.Release(ctx, a)
			_ = s.Release(ctx, b)
		})
	}
}

func TestStore_ReleaseUnheld(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Release(ctx, "test-owner/repo/5"); err != nil {
				t.Errorf("release of unheld lock should succeed: %v", err)
			}
		})
	}
}

func TestRedisStore_LeaseExpires(t *testing.T) {
	s, mr := newRedisStore(t, 30*time.Minute)
	ctx := context.Background()

	if ok, _ := s.Acquire(ctx, "o/r/1"); !ok {
		t.Fatal("acquire")
	}
	if ttl := mr.TTL(redisKeyPrefix + "o/r/1"); ttl != 30*time.Minute {
		t.Errorf("expected 30m ttl, got %v", ttl)
	}

	mr.FastForward(31 * time.Minute)

	if ok, _ := s.Acquire(ctx, "o/r/1"); !ok {
		t.Error("expired lease should allow a new acquire")
	}
}

func TestRedisStore_NoLease(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	ctx := context.Background()

	if ok, _ := s.Acquire(ctx, "o/r/1"); !ok {
		t.Fatal("acquire")
	}
	if ttl := mr.TTL(redisKeyPrefix + "o/r/1"); ttl != 0 {
		t.Errorf("expected no ttl, got %v", ttl)
	}
	if got := mr.HGet(redisKeyPrefix+"o/r/1", "running"); got != "1" {
		t.Errorf("expected running=1, got %q", got)
	}

	if err := s.Release(ctx, "o/r/1"); err != nil {
		t.Fatal(err)
	}
	if got := mr.HGet(redisKeyPrefix+"o/r/1", "running"); got != "0" {
		t.Errorf("expected running=0, got %q", got)
	}
	if ttl := mr.TTL(redisKeyPrefix + "o/r/1"); ttl != releasedTTL {
		t.Errorf("expected released ttl %v, got %v", releasedTTL, ttl)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	mr.Close()

	if _, err := s.Acquire(context.Background(), "o/r/1"); err == nil {
		t.Error("expected error when redis is down")
	}
}

func TestMemoryStore_LeaseExpires(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := s.Acquire(ctx, "o/r/1"); !ok {
		t.Fatal("acquire")
	}
	now = now.Add(59 * time.Second)
	if ok, _ := s.Acquire(ctx, "o/r/1"); ok {
		t.Fatal("lease should still be held")
	}
	now = now.Add(time.Second)
	if ok, _ := s.Acquire(ctx, "o/r/1"); !ok {
		t.Error("lease should have expired")
	}
}

func TestNewStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	tests := []struct {
		name    string
		cfg     config.LockConfig
		rdb     redis.UniversalClient
		wantErr bool
	}{
		{"default is redis", config.LockConfig{}, rdb, false},
		{"redis without client", config.LockConfig{Backend: "redis"}, nil, true},
		{"postgres without pool", config.LockConfig{Backend: "postgres"}, nil, true},
		{"http", config.LockConfig{Backend: "http", URL: "http://localhost/locks"}, nil, false},
		{"http without url", config.LockConfig{Backend: "http"}, nil, true},
		{"memory", config.LockConfig{Backend: "memory"}, nil, false},
		{"unknown", config.LockConfig{Backend: "etcd"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.cfg, tt.rdb, nil)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got store %T", s)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

type failingStore struct {
	*MemoryStore
	releases atomic.Int32
	err      error
}

func (f *failingStore) Release(ctx context.Context, id string) error {
	f.releases.Add(1)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return f.err
}

func TestGuard(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	g, err := Acquire(ctx, store, "o/r/9")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if g.ID() != "o/r/9" {
		t.Errorf("unexpected id %q", g.ID())
	}

	_, err = Acquire(ctx, store, "o/r/9")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := g.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if err := g.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if held, _ := store.Held(ctx, "o/r/9"); held {
		t.Error("lock should be free after release")
	}
}

func TestGuard_ReleaseOnceWithCancelledContext(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(0)}
	ctx, cancel := context.WithCancel(context.Background())

	g, err := Acquire(ctx, store, "o/r/10")
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	if err := g.Release(ctx); err != nil {
		t.Errorf("release should ignore parent cancellation: %v", err)
	}
	_ = g.Release(ctx)
	if n := store.releases.Load(); n != 1 {
		t.Errorf("expected one release call, got %d", n)
	}
}

func TestGuard_StoreError(t *testing.T) {
	boom := errors.New("store down")
	store := &failingStore{MemoryStore: NewMemoryStore(0), err: boom}

	g, err := Acquire(context.Background(), store, "o/r/11")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Release(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected store error, got %v", err)
	}
}

func TestHTTPClient_InvalidID(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1/locks", "", nil)
	for _, id := range []string{"", "o/r", "o//1", "a/b/c/d"} {
		if _, err := c.Acquire(context.Background(), id); err == nil {
			t.Errorf("expected error for id %q", id)
		}
	}
}

func TestHTTPClient_SendsToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		if r.URL.Path != "/locks/o/r/1/start" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/locks/", "secret", srv.Client())
	if ok, err := c.Acquire(context.Background(), "o/r/1"); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if got != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", got)
	}
}

func TestHTTPClient_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", srv.Client())
	if _, err := c.Acquire(context.Background(), "o/r/1"); err == nil {
		t.Error("expected error on 401")
	}
	if err := c.Release(context.Background(), "o/r/1"); err == nil {
		t.Error("expected error on 401")
	}
	if _, err := c.Held(context.Background(), "o/r/1"); err == nil {
		t.Error("expected error on 401")
	}
}

func TestNewStore_HTTPClientTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    time.Duration
	}{
		{"configured", 3 * time.Second, 3 * time.Second},
		{"unset falls back", 0, defaultHTTPTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(config.LockConfig{Backend: "http", URL: "http://localhost/locks", Timeout: tt.timeout}, nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			c, ok := s.(*HTTPClient)
			if !ok {
				t.Fatalf("expected *HTTPClient, got %T", s)
			}
			if c.http.Timeout != tt.want {
				t.Errorf("timeout = %s, want %s", c.http.Timeout, tt.want)
			}
		})
	}
}

func TestHTTPClient_HungActorTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s, err := NewStore(config.LockConfig{Backend: "http", URL: srv.URL + "/locks", Timeout: 50 * time.Millisecond}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if _, err := s.Acquire(context.Background(), "o/r/1"); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("acquire took %s, expected the client timeout to bound it", elapsed)
	}
}
