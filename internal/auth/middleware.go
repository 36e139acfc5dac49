package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/wall-e/internal/httputil"
)

const usage = "Use: Authorization: Bearer <service token>"

// Middleware authenticates lock API callers by service token. A token whose
// expiry has passed is refused even while a cached lookup still returns it.
func Middleware(store TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			token, msg := bearerToken(r.Header.Get("Authorization"))
			if msg != "" {
				httputil.WriteAuthError(w, reqID, msg)
				return
			}

			meta, err := store.Lookup(r.Context(), HashKey(token))
			if err != nil {
				slog.Error("service token lookup failed", "error", err, "token_prefix", logPrefix(token))
				httputil.WriteInternalError(w, reqID, "Internal error during authentication")
				return
			}
			if meta == nil {
				slog.Warn("lock api call with unknown token", "token_prefix", logPrefix(token), "path", r.URL.Path)
				httputil.WriteAuthError(w, reqID, "Invalid service token")
				return
			}
			if !meta.ExpiresAt.IsZero() && !time.Now().Before(meta.ExpiresAt) {
				slog.Warn("lock api call with expired token", "token_id", meta.ID, "expired_at", meta.ExpiresAt)
				httputil.WriteAuthError(w, reqID, "Service token expired")
				return
			}

			ctx := ContextWithAuth(r.Context(), &AuthInfo{TokenID: meta.ID, Name: meta.Name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an Authorization header. The scheme is
// matched case-insensitively. A non-empty msg explains the rejection.
func bearerToken(header string) (token, msg string) {
	if header == "" {
		return "", "Missing Authorization header. " + usage
	}
	scheme, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Invalid Authorization format. " + usage
	}
	token = strings.TrimSpace(rest)
	if token == "" {
		return "", "Empty service token"
	}
	return token, ""
}

// logPrefix shows at most the first 8 characters of a token, and nothing of
// tokens too short for that to be safe.
func logPrefix(token string) string {
	if len(token) < 24 {
		return "***"
	}
	return token[:8] + "..."
}
