package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/ledgerdesk/internal/inventory"
	"github.com/ledgerdesk/ledgerdesk/internal/observability"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

type routerEnv struct {
	redis    *miniredis.Miniredis
	sessions *shared.SessionManager
	csrf     *shared.CSRFManager
	logger   *slog.Logger
}

func newRouterEnv(t *testing.T) routerEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return routerEnv{
		redis:    mr,
		sessions: shared.NewSessionManager(client, "ledgerdesk_session", time.Hour, false),
		csrf:     shared.NewCSRFManager("csrf-secret"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "ledgerdesk_session" {
			return c
		}
	}
	t.Fatalf("session cookie not set")
	return nil
}

func TestRouterHealthz(t *testing.T) {
	env := newRouterEnv(t)
	router := NewRouter(RouterParams{
		Logger:         env.logger,
		Config:         &Config{AppEnv: "test", RateLimitPerMin: 1000},
		SessionManager: env.sessions,
		CSRFManager:    env.csrf,
		Metrics:        observability.NewMetrics(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouterBusinessRoutesRequireSession(t *testing.T) {
	env := newRouterEnv(t)
	router := NewRouter(RouterParams{
		Logger:           env.logger,
		Config:           &Config{AppEnv: "test", RateLimitPerMin: 1000},
		SessionManager:   env.sessions,
		CSRFManager:      env.csrf,
		InventoryHandler: inventory.NewHandler(env.logger, nil),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionMiddlewarePersistsValues(t *testing.T) {
	env := newRouterEnv(t)
	handler := SessionMiddleware(env.sessions, env.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		shared.SessionFromContext(r.Context()).Set("greeting", "hello")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	cookie := sessionCookie(t, rec)
	assert.True(t, env.redis.Exists("session:"+cookie.Value))

	var seen string
	reader := SessionMiddleware(env.sessions, env.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.SessionFromContext(r.Context()).Get("greeting")
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	reader.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "hello", seen)
}

func TestCSRFMiddleware(t *testing.T) {
	env := newRouterEnv(t)
	var token string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			token = env.csrf.EnsureToken(shared.SessionFromContext(r.Context()))
		}
		w.WriteHeader(http.StatusNoContent)
	})
	handler := SessionMiddleware(env.sessions, env.logger)(CSRFMiddleware(env.csrf, env.logger)(next))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, token)
	cookie := sessionCookie(t, rec)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing token", header: "", status: http.StatusForbidden},
		{name: "wrong token", header: "forged", status: http.StatusForbidden},
		{name: "valid token", header: token, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.AddCookie(cookie)
			if tc.header != "" {
				req.Header.Set(shared.CSRFHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
