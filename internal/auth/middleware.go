package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/groupspend/groupspend/internal/platform/httpx"
	"github.com/groupspend/groupspend/internal/shared"
)

// Middleware rejects requests without a valid bearer token and stores the
// caller's user id in the request context.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				httpx.RespondError(w, ErrMissingToken)
				return
			}
			claims, err := v.Verify(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(r.Context(), "token rejected", slog.String("path", r.URL.Path), slog.Any("error", err))
				httpx.RespondError(w, ErrInvalidToken)
				return
			}
			ctx := shared.ContextWithUserID(r.Context(), claims.Caller())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
