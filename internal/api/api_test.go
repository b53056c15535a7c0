package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApiHandler(t *testing.T) {
	r := httptest.NewRequest("GET", "/api", nil)
	w := httptest.NewRecorder()

	apiHandler(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, MimeJSON, w.Header().Get("Content-Type"))
	require.Contains(t, w.Body.String(), "version")
}

func TestMiddlewareAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := middlewareAuth("user", "pass", next)

	r := httptest.NewRequest("GET", "/api", nil)
	r.RemoteAddr = "192.168.1.2:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	r.SetBasicAuth("user", "pass")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	// localhost bypasses basic auth
	r = httptest.NewRequest("GET", "/api", nil)
	r.RemoteAddr = "127.0.0.1:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
}
