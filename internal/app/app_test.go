package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/groupspend/groupspend/internal/auth"
	"github.com/groupspend/groupspend/internal/groups"
)

func validConfig() Config {
	return Config{
		DataBackend:     BackendSQLite,
		SQLitePath:      "test.db",
		JWTSecret:       "secret",
		DefaultCurrency: "USD",
		DivergencePct:   25,
		MaxImageBytes:   1 << 20,
		LogLevel:        "info",
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg = Config{
		DataBackend:     "mysql",
		AMQPURL:         "http://broker",
		DefaultCurrency: "ZZZ",
		DivergencePct:   -1,
		LogLevel:        "loud",
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"AUTH_JWT_SECRET",
		`DATA_BACKEND "mysql"`,
		"AMQP_URL",
		"DEFAULT_CURRENCY",
		"DIVERGENCE_TOLERANCE_PCT",
		"MAX_IMAGE_BYTES",
		`LOG_LEVEL "loud"`,
	} {
		require.Contains(t, err.Error(), want)
	}
}

func TestConfigValidateBackendPaths(t *testing.T) {
	cfg := validConfig()
	cfg.SQLitePath = ""
	require.ErrorContains(t, cfg.Validate(), "SQLITE_PATH")

	cfg = validConfig()
	cfg.DataBackend, cfg.PGDSN = BackendPostgres, ""
	require.ErrorContains(t, cfg.Validate(), "PG_DSN")
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("DATA_BACKEND", "sqlite")
	t.Setenv("BALANCE_CACHE_TTL", "90s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.JWTSecret)
	require.Equal(t, 90*time.Second, cfg.BalanceCacheTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, "USD", cfg.DefaultCurrency)
	require.EqualValues(t, 4<<20, cfg.MaxImageBytes)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AUTH_JWT_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "shown", entry["msg"])
	require.Equal(t, "v", entry["k"])

	buf.Reset()
	newLogger(&Config{LogFormat: "pretty", LogLevel: "info"}, &buf).Info("colourful")
	require.Contains(t, buf.String(), "colourful")
}

func TestRefreshTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "yes")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func newTestRouter(t *testing.T, ready func(context.Context) error) (http.Handler, *auth.Verifier) {
	t.Helper()
	cfg := validConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "app.db")
	cfg.CORSAllowedOrigins = []string{"https://app.example"}

	storage, err := OpenStorage(context.Background(), &cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(storage.Close)

	verifier := auth.NewVerifier(cfg.JWTSecret, "")
	groupsHandler := groups.NewHandler(slog.Default(), groups.NewService(storage.Groups, slog.Default()))
	if ready == nil {
		ready = storage.Ping
	}
	return NewRouter(RouterParams{
		Logger:        slog.Default(),
		Config:        &cfg,
		Verifier:      verifier,
		GroupsHandler: groupsHandler,
		Ready:         ready,
	}), verifier
}

func TestRouterHealthAndReadiness(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	down, _ := newTestRouter(t, func(context.Context) error { return errors.New("db gone") })
	rr = httptest.NewRecorder()
	down.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouterRequiresBearerToken(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/groups", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterServesGroupsForCaller(t *testing.T) {
	router, verifier := newTestRouter(t, nil)
	token, err := verifier.Issue("alice", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/groups", strings.NewReader(`{"name":"Lisbon trip"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Groups []groups.Summary `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Groups, 1)
	require.Equal(t, "Lisbon trip", body.Groups[0].Name)
	require.Equal(t, groups.RoleAdmin, body.Groups[0].Role)
}

func TestRouterCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/groups", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, "https://app.example", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouterUnknownRouteIsProblem(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "application/problem+json")
}
