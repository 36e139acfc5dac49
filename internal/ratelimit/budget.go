package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// BudgetResult is the outcome of a budget check.
type BudgetResult struct {
	Allowed bool
	Spent   int64
	Limit   int64
}

// BudgetTracker counts LLM tokens per installation per UTC day.
type BudgetTracker struct {
	rdb redis.UniversalClient
	now func() time.Time
}

// NewBudgetTracker creates a budget tracker. If rdb is nil, all checks pass.
func NewBudgetTracker(rdb redis.UniversalClient) *BudgetTracker {
	return &BudgetTracker{rdb: rdb, now: time.Now}
}

func (b *BudgetTracker) dailyKey(installationID int64) string {
	day := b.now().UTC().Format("2006-01-02")
	return fmt.Sprintf("wall-e:budget:tokens:%d:%s", installationID, day)
}

// CheckDailyTokens reports whether the installation is under limit today. A
// non-positive limit disables the check.
func (b *BudgetTracker) CheckDailyTokens(ctx context.Context, installationID, limit int64) (BudgetResult, error) {
	if b == nil || b.rdb == nil || limit <= 0 {
		return BudgetResult{Allowed: true, Limit: limit}, nil
	}

	spent, err := b.rdb.Get(ctx, b.dailyKey(installationID)).Int64()
	if err != nil && err != redis.Nil {
		slog.Warn("budget check failed, allowing", "installation_id", installationID, "error", err)
		return BudgetResult{Allowed: true, Limit: limit}, nil
	}

	return BudgetResult{
		Allowed: spent < limit,
		Spent:   spent,
		Limit:   limit,
	}, nil
}

// RecordTokens adds tokens to the installation's counter for today.
func (b *BudgetTracker) RecordTokens(ctx context.Context, installationID, tokens int64) error {
	if b == nil || b.rdb == nil || tokens <= 0 {
		return nil
	}

	key := b.dailyKey(installationID)
	pipe := b.rdb.Pipeline()
	pipe.IncrBy(ctx, key, tokens)
	// Expire at end of day UTC + 1 hour buffer
	now := b.now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
