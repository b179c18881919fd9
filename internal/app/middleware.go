package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/cors"
	"github.com/unrolled/secure"

	"github.com/groupspend/groupspend/internal/observability"
	"github.com/groupspend/groupspend/internal/platform/httpx"
)

// MiddlewareConfig carries what the global middleware needs. Config may be
// nil, in which case development defaults apply.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack returns the global chain in the order it should be applied.
// Metrics come last so they see the route pattern of the matched handler.
func MiddlewareStack(mc MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := mc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout, perMinute := 30*time.Second, 120
	var origins []string
	if c := mc.Config; c != nil {
		if c.AppRequestTimeout > 0 {
			timeout = c.AppRequestTimeout
		}
		if c.RateLimitPerMinute > 0 {
			perMinute = c.RateLimitPerMinute
		}
		origins = c.CORSAllowedOrigins
	}

	stack := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		securityHeaders(mc.Config.IsProduction(), logger),
		corsPolicy(origins),
		middleware.Compress(5),
		perIPLimit(perMinute),
	}
	if mc.Metrics != nil {
		stack = append(stack, mc.Metrics.Middleware)
	}
	return stack
}

func securityHeaders(production bool, logger *slog.Logger) func(http.Handler) http.Handler {
	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !production,
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sec.Process(w, r); err != nil {
				logger.WarnContext(r.Context(), "request blocked by security policy", slog.Any("error", err))
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "request rejected by security policy")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsPolicy allows bearer-token calls from the configured web origins only.
func corsPolicy(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         600,
	}).Handler
}

func perIPLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded")
		}),
	)
}
