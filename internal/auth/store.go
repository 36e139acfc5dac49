package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

const redisCacheTTL = 5 * time.Minute
const redisKeyPrefix = "wall-e:token:"

// TokenStore looks up service token metadata by hash. A nil result with a nil
// error means the token is unknown.
type TokenStore interface {
	Lookup(ctx context.Context, tokenHash string) (*TokenMetadata, error)
}

// StaticTokenStore accepts a fixed set of tokens from configuration.
type StaticTokenStore struct {
	tokens map[string]*TokenMetadata
}

// NewStaticTokenStore hashes each non-empty token. Names are derived from the
// token prefix.
func NewStaticTokenStore(tokens ...string) *StaticTokenStore {
	s := &StaticTokenStore{tokens: make(map[string]*TokenMetadata, len(tokens))}
	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		s.tokens[HashKey(tok)] = &TokenMetadata{
			ID:   fmt.Sprintf("static-%d", i),
			Name: KeyPrefix(tok),
		}
	}
	return s
}

func (s *StaticTokenStore) Lookup(_ context.Context, tokenHash string) (*TokenMetadata, error) {
	return s.tokens[tokenHash], nil
}

// Len reports how many tokens the store accepts.
func (s *StaticTokenStore) Len() int { return len(s.tokens) }

// ChainStore consults each store in order and returns the first match.
type ChainStore []TokenStore

func (c ChainStore) Lookup(ctx context.Context, tokenHash string) (*TokenMetadata, error) {
	for _, s := range c {
		meta, err := s.Lookup(ctx, tokenHash)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			return meta, nil
		}
	}
	return nil, nil
}

// DB is the subset of pgxpool.Pool used by the token store.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CachedTokenStore implements TokenStore with PostgreSQL + Redis cache.
type CachedTokenStore struct {
	db    DB
	redis redis.Cmdable
}

func NewCachedTokenStore(db DB, rdb redis.Cmdable) *CachedTokenStore {
	return &CachedTokenStore{db: db, redis: rdb}
}

func (s *CachedTokenStore) Lookup(ctx context.Context, tokenHash string) (*TokenMetadata, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, redisKeyPrefix+tokenHash).Bytes()
		if err == nil {
			var meta TokenMetadata
			if err := json.Unmarshal(cached, &meta); err == nil && meta.ExpiresAt.After(time.Now()) {
				return &meta, nil
			}
		}
	}

	meta, err := s.lookupDB(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	if s.redis != nil {
		data, err := json.Marshal(meta)
		if err == nil {
			s.redis.Set(ctx, redisKeyPrefix+tokenHash, data, redisCacheTTL)
		}
	}

	return meta, nil
}

func (s *CachedTokenStore) lookupDB(ctx context.Context, tokenHash string) (*TokenMetadata, error) {
	var meta TokenMetadata
	err := s.db.QueryRow(ctx, `
		SELECT id, name, expires_at
		FROM api_tokens
		WHERE token_hash = $1
		  AND status = 'active'
		  AND expires_at > NOW()
	`, tokenHash).Scan(&meta.ID, &meta.Name, &meta.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query api_tokens: %w", err)
	}

	// Fire-and-forget usage stamp.
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := s.db.Exec(bgCtx, `UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`, meta.ID); err != nil {
			slog.Debug("token usage stamp failed", "token_id", meta.ID, "error", err)
		}
	}()

	return &meta, nil
}
