package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/wall-e/internal/auth"
	"github.com/af-corp/wall-e/internal/config"
	"github.com/af-corp/wall-e/internal/httputil"
	"github.com/af-corp/wall-e/internal/telemetry"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// Middleware returns chi middleware that limits each authenticated service
// token to rpm requests per minute. It must run after auth.Middleware.
func Middleware(limiter *Limiter, rpm int64, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authInfo, ok := auth.AuthFromContext(r.Context())
			if !ok || rpm <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			result, _ := limiter.Check(r.Context(), "rpm:"+authInfo.TokenID, rpm, time.Minute)

			w.Header().Set(headerRateLimitRequests, strconv.FormatInt(rpm, 10))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"token_id", authInfo.TokenID,
					"dimension", "actor_rpm",
					"limit", rpm,
				)
				metrics.RecordRateLimitHit("actor_rpm")
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
				httputil.WriteRateLimitError(w, reqID,
					fmt.Sprintf("Rate limit exceeded: %d requests per minute. Retry after %s", rpm, result.ResetAt.Format(time.RFC3339)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Rejection reasons returned by CommandGuard.
const (
	ReasonRateLimit = "rate_limit"
	ReasonBudget    = "budget"
)

// Decision is the outcome of CommandGuard.Allow. Message is user-facing.
type Decision struct {
	Allowed bool
	Reason  string
	Message string
}

// CommandGuard applies the per-installation command rate limit and daily
// token budget before a command is queued.
type CommandGuard struct {
	limiter *Limiter
	budget  *BudgetTracker
	cfg     config.RateLimitConfig
	metrics *telemetry.Metrics
}

func NewCommandGuard(limiter *Limiter, budget *BudgetTracker, cfg config.RateLimitConfig, metrics *telemetry.Metrics) *CommandGuard {
	return &CommandGuard{limiter: limiter, budget: budget, cfg: cfg, metrics: metrics}
}

// Allow checks whether installationID may run another command now.
func (g *CommandGuard) Allow(ctx context.Context, installationID int64) Decision {
	if g == nil || !g.cfg.Enabled {
		return Decision{Allowed: true}
	}

	if g.cfg.CommandsPerWindow > 0 {
		key := fmt.Sprintf("cmd:%d", installationID)
		result, _ := g.limiter.Check(ctx, key, g.cfg.CommandsPerWindow, g.cfg.Window)
		if !result.Allowed {
			slog.Warn("command rate limit exceeded",
				"installation_id", installationID,
				"limit", g.cfg.CommandsPerWindow,
				"window", g.cfg.Window,
			)
			g.metrics.RecordRateLimitHit(ReasonRateLimit)
			return Decision{
				Reason: ReasonRateLimit,
				Message: fmt.Sprintf("Too many commands: the limit is %d per %s. Please try again later.",
					g.cfg.CommandsPerWindow, g.cfg.Window),
			}
		}
	}

	res, _ := g.budget.CheckDailyTokens(ctx, installationID, g.cfg.DailyTokenBudget)
	if !res.Allowed {
		slog.Warn("daily token budget exceeded",
			"installation_id", installationID,
			"spent", res.Spent,
			"limit", res.Limit,
		)
		g.metrics.RecordRateLimitHit(ReasonBudget)
		return Decision{
			Reason:  ReasonBudget,
			Message: fmt.Sprintf("The daily token budget for this installation is used up (%d of %d tokens). It resets at midnight UTC.", res.Spent, res.Limit),
		}
	}
	return Decision{Allowed: true}
}
