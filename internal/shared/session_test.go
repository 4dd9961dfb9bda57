package shared

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "stock_session", time.Hour, false), mr
}

func TestSessionMiddlewareCommitsBeforeBody(t *testing.T) {
	sm, mr := newTestManager(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := sm.Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SessionFromContext(r.Context()).SetUser("7", []string{PermInventoryView})
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "stock_session", cookies[0].Name)
	require.True(t, mr.Exists("session:"+cookies[0].Value))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "7", sess.User())
	require.Equal(t, []string{PermInventoryView}, sess.Capabilities())
}

func TestAnonymousSessionIsNotStored(t *testing.T) {
	sm, mr := newTestManager(t)
	handler := sm.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Empty(t, rec.Result().Cookies())
	require.Empty(t, mr.Keys())
}

func TestDestroyRemovesSession(t *testing.T) {
	sm, mr := newTestManager(t)
	sess := sm.newSession()
	sess.SetUser("3", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rec, sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	sm.Destroy(sess)
	rec = httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rec, sess))
	require.False(t, mr.Exists("session:"+sess.ID))
	require.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}
