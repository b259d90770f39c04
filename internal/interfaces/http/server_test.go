package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/case-event-handler/internal/domain/event"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type fakeProcessor struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (f *fakeProcessor) ProcessMessage(ctx context.Context, raw []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, string(raw))
	return f.err
}

type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (string, error) {
	if token == "good" {
		return "ccd_case_event_publisher", nil
	}
	return "", errors.New("bad signature")
}

func newTestServer(p MessageProcessor, opts ...ServerOption) *Server {
	return NewServer(DefaultServerConfig(), p, nopLogger{}, opts...)
}

func post(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestPostMessage(t *testing.T) {
	t.Run("accepted event returns 204", func(t *testing.T) {
		p := &fakeProcessor{}
		rec := post(t, newTestServer(p), `{"CaseId":"C1"}`, nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())
		require.Len(t, p.bodies, 1)
		assert.Equal(t, `{"CaseId":"C1"}`, p.bodies[0])
	})

	t.Run("validation error returns 400", func(t *testing.T) {
		p := &fakeProcessor{err: &event.ValidationError{Fields: []string{"UserId"}}}
		rec := post(t, newTestServer(p), `{}`, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "UserId")
	})

	t.Run("deserialization error returns 400", func(t *testing.T) {
		p := &fakeProcessor{err: &event.DeserializationError{Err: errors.New("unexpected end of input")}}
		rec := post(t, newTestServer(p), `{`, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unexpected error returns 500", func(t *testing.T) {
		p := &fakeProcessor{err: errors.New("boom")}
		rec := post(t, newTestServer(p), `{}`, nil)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("assigns request id", func(t *testing.T) {
		rec := post(t, newTestServer(&fakeProcessor{}), `{}`, nil)
		assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

		rec = post(t, newTestServer(&fakeProcessor{}), `{}`, map[string]string{requestIDHeader: "abc"})
		assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
	})
}

func TestPostMessage_ServiceAuthorization(t *testing.T) {
	p := &fakeProcessor{}
	s := newTestServer(p, WithTokenVerifier(fakeVerifier{}))

	rec := post(t, s, `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, s, `{}`, map[string]string{ServiceAuthorizationHeader: "Bearer nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = post(t, s, `{}`, map[string]string{ServiceAuthorizationHeader: "Bearer good"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Len(t, p.bodies, 1)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(&fakeProcessor{}, WithVersion("1.2.3"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool           `json:"success"`
		Data    HealthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "healthy", resp.Data.Status)
	assert.Equal(t, "1.2.3", resp.Data.Version)
}

func TestHealthCheck_Unhealthy(t *testing.T) {
	check := func(ctx context.Context) (bool, interface{}) {
		return false, map[string]string{"feature_flags": "dial tcp: connection refused"}
	}
	s := newTestServer(&fakeProcessor{}, WithHealthCheck(check))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "unhealthy", resp.Data.Status)
	assert.Equal(t, "dial tcp: connection refused", resp.Data.Components["feature_flags"])
}

func TestHealthCheck_HealthyWithCheck(t *testing.T) {
	check := func(ctx context.Context) (bool, interface{}) {
		return true, map[string]string{"feature_flags": "ok"}
	}
	s := newTestServer(&fakeProcessor{}, WithHealthCheck(check))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"feature_flags":"ok"`)
}

func TestPostMessage_BodyTooLarge(t *testing.T) {
	p := &fakeProcessor{}
	cfg := DefaultServerConfig()
	cfg.MaxBodyBytes = 64
	s := NewServer(cfg, p, nopLogger{})

	rec := post(t, s, `{"CaseId":"`+strings.Repeat("x", 100)+`"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, p.bodies)

	rec = post(t, s, `{"CaseId":"C1"}`, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, p.bodies, 1)
}

func TestServer_Address(t *testing.T) {
	s := newTestServer(&fakeProcessor{})
	assert.Equal(t, "0.0.0.0:8080", s.Address())
	assert.NoError(t, s.Stop())
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("case_event_handler_events_processed_total 1\n"))
	})

	without := newTestServer(&fakeProcessor{})
	rec := httptest.NewRecorder()
	without.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	with := newTestServer(&fakeProcessor{}, WithMetricsHandler(metrics))
	rec = httptest.NewRecorder()
	with.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "events_processed_total")
}
