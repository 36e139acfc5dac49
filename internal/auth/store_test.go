package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

type fakeRow struct {
	meta *TokenMetadata
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.meta.ID
	*dest[1].(*string) = r.meta.Name
	*dest[2].(*time.Time) = r.meta.ExpiresAt
	return nil
}

type fakeDB struct {
	mu      sync.Mutex
	rows    map[string]*TokenMetadata
	queries int
	err     error
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return fakeRow{err: f.err}
	}
	meta, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{meta: meta}
}

func (f *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeDB) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func TestCachedTokenStore_CachesHits(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hash := HashKey("walle-prod-cachedtoken")
	db := &fakeDB{rows: map[string]*TokenMetadata{
		hash: {ID: "tok-1", Name: "ci", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	store := NewCachedTokenStore(db, rdb)

	for i := range 3 {
		meta, err := store.Lookup(context.Background(), hash)
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if meta == nil || meta.ID != "tok-1" {
			t.Fatalf("lookup %d: unexpected metadata %+v", i, meta)
		}
	}
	if got := db.count(); got != 1 {
		t.Errorf("expected 1 database query, got %d", got)
	}
	if !mr.Exists(redisKeyPrefix + hash) {
		t.Error("expected token to be cached in redis")
	}
}

func TestCachedTokenStore_Unknown(t *testing.T) {
	store := NewCachedTokenStore(&fakeDB{rows: map[string]*TokenMetadata{}}, nil)

	meta, err := store.Lookup(context.Background(), HashKey("nope"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta != nil {
		t.Errorf("expected nil metadata, got %+v", meta)
	}
}

func TestCachedTokenStore_DatabaseError(t *testing.T) {
	boom := errors.New("connection refused")
	store := NewCachedTokenStore(&fakeDB{err: boom}, nil)

	_, err := store.Lookup(context.Background(), HashKey("x"))
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped database error, got %v", err)
	}
}

func TestChainStore(t *testing.T) {
	static := NewStaticTokenStore("walle-dev-first")
	db := &fakeDB{rows: map[string]*TokenMetadata{
		HashKey("walle-dev-second"): {ID: "tok-2", Name: "db", ExpiresAt: time.Now().Add(time.Hour)},
	}}
	chain := ChainStore{static, NewCachedTokenStore(db, nil)}

	meta, err := chain.Lookup(context.Background(), HashKey("walle-dev-first"))
	if err != nil || meta == nil || meta.ID != "static-0" {
		t.Fatalf("static lookup: %+v, %v", meta, err)
	}
	if db.count() != 0 {
		t.Error("static match should not query the database")
	}

	meta, err = chain.Lookup(context.Background(), HashKey("walle-dev-second"))
	if err != nil || meta == nil || meta.ID != "tok-2" {
		t.Fatalf("db lookup: %+v, %v", meta, err)
	}

	meta, err = chain.Lookup(context.Background(), HashKey("walle-dev-third"))
	if err != nil || meta != nil {
		t.Fatalf("unknown lookup: %+v, %v", meta, err)
	}
}
