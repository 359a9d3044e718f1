package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "sid", time.Hour, false), mr
}

func requestWithCookie(value string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if value != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: value})
	}
	return req
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, requestWithCookie(""))
	require.NoError(t, err)
	sess.SetUser(17)
	sess.Set("note", "hello")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	require.True(t, mr.Exists("session:"+sess.ID))
	require.Equal(t, time.Hour, mr.TTL("session:"+sess.ID))

	loaded, err := sm.Load(ctx, requestWithCookie(sess.ID))
	require.NoError(t, err)
	require.Equal(t, int64(17), loaded.User())
	require.Equal(t, "hello", loaded.Get("note"))
}

func TestSessionUnknownIDIsNotAdopted(t *testing.T) {
	sm, _ := newTestSessionManager(t)

	sess, err := sm.Load(context.Background(), requestWithCookie("attacker-chosen"))
	require.NoError(t, err)
	require.NotEqual(t, "attacker-chosen", sess.ID)
	require.Zero(t, sess.User())
}

func TestSessionAnonymousWithoutStateIsNotStored(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, requestWithCookie(""))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, sess))
	require.Empty(t, mr.Keys())
	require.Empty(t, rec.Result().Cookies())
}

func TestSessionRenewAndDestroy(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, _ := sm.Load(ctx, requestWithCookie(""))
	sess.SetUser(3)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))
	oldID := sess.ID

	loaded, err := sm.Load(ctx, requestWithCookie(oldID))
	require.NoError(t, err)
	sm.Renew(loaded)
	require.NotEqual(t, oldID, loaded.ID)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), loaded))
	require.False(t, mr.Exists("session:"+oldID))
	require.True(t, mr.Exists("session:"+loaded.ID))

	sm.Destroy(loaded)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, loaded))
	require.False(t, mr.Exists("session:"+loaded.ID))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	csrf := NewCSRFManager("secret")
	sess, _ := sm.Load(context.Background(), requestWithCookie(""))

	token := csrf.EnsureToken(sess)
	require.Equal(t, token, csrf.EnsureToken(sess))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.ErrorIs(t, csrf.VerifyRequest(req, sess), ErrCSRFTokenMissing)
	req.Header.Set(CSRFHeader, "nope")
	require.ErrorIs(t, csrf.VerifyRequest(req, sess), ErrCSRFTokenMismatch)
	req.Header.Set(CSRFHeader, token)
	require.NoError(t, csrf.VerifyRequest(req, sess))

	other, _ := sm.Load(context.Background(), requestWithCookie(""))
	require.ErrorIs(t, csrf.VerifyRequest(req, other), ErrCSRFTokenMissing)
}
