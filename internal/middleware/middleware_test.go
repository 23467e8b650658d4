package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/database"
	"github.com/certgen/certgen/internal/logger"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	mw := New(nil, logger.Nop(), &config.Config{})
	var seen string
	h := mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "upstream-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "upstream-42", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad id\x7f")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "bad id\x7f", seen)
}

func TestRecover(t *testing.T) {
	mw := New(nil, logger.Nop(), &config.Config{})
	h := mw.Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestWebhookAuth(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.WebhookSecret = "s3cret"
	h := New(nil, logger.Nop(), cfg).WebhookAuth(ok)

	tests := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Basic s3cret", http.StatusUnauthorized},
		{"Bearer s3cret", http.StatusOK},
		{"bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/generateCertificate", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, "header %q", tt.header)
	}

	open := New(nil, logger.Nop(), &config.Config{}).WebhookAuth(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generateCertificate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogger_CapturesStatus(t *testing.T) {
	mw := New(nil, logger.Nop(), &config.Config{})
	h := mw.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", clientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.3")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}

func TestRateLimit_DisabledWithoutRedis(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.RateLimit.Enabled = true
	h := New(nil, logger.Nop(), cfg).RateLimit(RateLimitConfig{
		Route: "test", Limit: 1, Window: time.Minute, KeyFn: IPKey,
	})(ok)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimit_Redis(t *testing.T) {
	addr := os.Getenv("CERTGEN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CERTGEN_TEST_REDIS_ADDR not set")
	}
	host, port, found := strings.Cut(addr, ":")
	require.True(t, found)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	rdb, err := database.NewRedis(config.RedisConfig{Host: host, Port: p})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{}
	cfg.Server.RateLimit.Enabled = true
	h := New(rdb, logger.Nop(), cfg).RateLimit(RateLimitConfig{
		Route: "test-" + strconv.FormatInt(time.Now().UnixNano(), 10), Limit: 2, Window: time.Minute, KeyFn: IPKey,
	})(ok)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
