package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(status StatusFunc) *Server {
	return New(0, status)
}

func TestHealthz(t *testing.T) {
	s := testServer(func() (any, error) {
		return map[string]any{"status": "ok", "queuedMessages": 0}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.svr.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthzStatusError(t *testing.T) {
	s := testServer(func() (any, error) {
		return nil, errors.New("queue unavailable")
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.svr.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnknownPath(t *testing.T) {
	s := testServer(func() (any, error) { return map[string]any{}, nil })

	for _, path := range []string{"/", "/health", "/healthz/extra", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.svr.Handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestStartStop(t *testing.T) {
	s := New(0, func() (any, error) { return map[string]any{"status": "ok"}, nil })
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}
