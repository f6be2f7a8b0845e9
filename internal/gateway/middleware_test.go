package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware(t *testing.T) {
	engine, _ := newTestEngine(nil)
	m := NewMiddleware(engine)

	var seen string
	handler := m.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-Id"))

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	assert.NotEqual(t, w.Header().Get("X-Request-Id"), w2.Header().Get("X-Request-Id"))
}

func TestCORSOriginList(t *testing.T) {
	cfg := testConfig()
	cfg.CORSAllowAll = false
	cfg.CORSOrigins = []string{"https://allowed.example"}
	engine, _ := newTestEngine(cfg)
	m := NewMiddleware(engine)

	handler := m.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	t.Run("listed origin echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Origin", "https://allowed.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, "https://allowed.example", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unlisted origin gets no allow header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestBodyLimitMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 16
	engine, stub := newTestEngine(cfg)
	stub.rows = []map[string]interface{}{{"id": int64(1)}}
	server := NewServer(engine, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"`+strings.Repeat("x", 64)+`"}`))
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExtractCredential(t *testing.T) {
	t.Run("bearer wins over api key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer tok-a")
		r.Header.Set("X-API-Key", "tok-b")
		assert.Equal(t, "tok-a", extractCredential(r))
	})

	t.Run("malformed authorization falls back to api key", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic abc")
		r.Header.Set("X-API-Key", "tok-b")
		assert.Equal(t, "tok-b", extractCredential(r))
	})

	t.Run("bearer is case-insensitive", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "bearer tok")
		assert.Equal(t, "tok", extractCredential(r))
	})

	t.Run("nothing presented", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Empty(t, extractCredential(r))
	})
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	cfg := testConfig()
	cfg.AuthEnabled = true
	cfg.APIKeySecret = "s"
	engine, _ := newTestEngine(cfg)
	server := NewServer(engine, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pgcrud_requests_total")
}
