package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func newTestServer(t *testing.T, script string) (*Server, *Application) {
	t.Helper()
	opts := Options{}
	if script != "" {
		opts.Script = writeScript(t, script)
	}
	a := startApp(t, nil, opts)
	return NewServer("127.0.0.1:0", a.Module(), a.Metrics(), NullLogger()), a
}

func TestServer_Health(t *testing.T) {
	s, a := newTestServer(t, "")

	code, body := serve(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	require.NoError(t, a.Module().Close())
	code, body = serve(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "closed", body["status"])
}

func TestServer_StatsAndShared(t *testing.T) {
	s, a := newTestServer(t, tapScript)
	require.Eventually(t, func() bool {
		return a.Module().IsAnyHandlerWaitingForEvent("onTap")
	}, 2*time.Second, 5*time.Millisecond)

	code, body := serve(t, s, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "js", body["engine"])
	assert.Equal(t, 1.0, body["handlers"])

	code, body = serve(t, s, http.MethodGet, "/shared/ready", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["value"])

	code, _ = serve(t, s, http.MethodGet, "/shared/missing", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = serve(t, s, http.MethodGet, "/shared", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ready")
}

func TestServer_PostEvent(t *testing.T) {
	s, a := newTestServer(t, tapScript)
	m := a.Module()
	require.Eventually(t, func() bool {
		return m.IsAnyHandlerWaitingForEvent("onTap")
	}, 2*time.Second, 5*time.Millisecond)

	code, body := serve(t, s, http.MethodPost, "/events/onTap", `{"x": 9}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["dispatched"])
	require.NoError(t, m.Flush(context.Background()))

	v, ok := m.Store().Get("x")
	require.True(t, ok)
	assert.EqualValues(t, 9, v)

	code, body = serve(t, s, http.MethodPost, "/events/onNothing", `{}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, false, body["dispatched"])

	code, _ = serve(t, s, http.MethodPost, "/events/onTap", `{"x":`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "worklets_event_handlers")
}

func TestServer_Run(t *testing.T) {
	s, _ := newTestServer(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
