package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/mevsim/internal/server/middleware"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := middleware.Auth("secret", "/api/health")(ok)

	tests := []struct {
		name   string
		path   string
		header [2]string
		want   int
	}{
		{name: "open path", path: "/api/health", want: http.StatusOK},
		{name: "missing", path: "/api/stats", want: http.StatusUnauthorized},
		{name: "bearer", path: "/api/stats", header: [2]string{"Authorization", "Bearer secret"}, want: http.StatusOK},
		{name: "api key", path: "/api/stats", header: [2]string{"X-API-Key", "secret"}, want: http.StatusOK},
		{name: "wrong", path: "/api/stats", header: [2]string{"Authorization", "Bearer nope"}, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header[0] != "" {
				req.Header.Set(tt.header[0], tt.header[1])
			}
			if got := serve(h, req).Code; got != tt.want {
				t.Errorf("status %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	h := middleware.Auth("")(ok)
	if got := serve(h, httptest.NewRequest(http.MethodGet, "/api/stats", nil)).Code; got != http.StatusOK {
		t.Errorf("status %d", got)
	}
}

func TestCORS(t *testing.T) {
	h := middleware.CORS([]string{"http://dash.local"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := serve(h, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Errorf("allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = serve(h, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

type fakeLimiter struct {
	allow map[string]int
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return false, f.err
	}
	f.allow[key]++
	return f.allow[key] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &fakeLimiter{allow: map[string]int{}}
	h := middleware.RateLimit(lim, 2, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))(ok)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
		codes = append(codes, serve(h, req).Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes %v", codes)
	}
	if lim.keys[0] != "api:10.0.0.1" {
		t.Errorf("key %q", lim.keys[0])
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.RemoteAddr = "192.168.1.9:5555"
	serve(h, req)
	if got := lim.keys[len(lim.keys)-1]; got != "api:192.168.1.9" {
		t.Errorf("remote addr key %q", got)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	lim := &fakeLimiter{err: errors.New("redis down")}
	h := middleware.RateLimit(lim, 1, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))(ok)
	if got := serve(h, httptest.NewRequest(http.MethodGet, "/", nil)).Code; got != http.StatusOK {
		t.Errorf("status %d, want 200", got)
	}
}

func TestLoggingAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	id := rec.Header().Get(middleware.RequestIDHeader)
	if len(id) != 36 {
		t.Errorf("request id %q", id)
	}
	line := buf.String()
	if !strings.Contains(line, `"status":418`) || !strings.Contains(line, id) {
		t.Errorf("log line %s", line)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set(middleware.RequestIDHeader, "given")
	if got := serve(h, req).Header().Get(middleware.RequestIDHeader); got != "given" {
		t.Errorf("request id %q, want given", got)
	}
}
