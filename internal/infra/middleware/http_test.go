package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func request(remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = remote
	return req
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, request("127.0.0.1:5000"))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(okHandler, mark("outer"), mark("inner")).ServeHTTP(httptest.NewRecorder(), request("1.2.3.4:1"))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRateLimitBlocksOverBurst(t *testing.T) {
	h := RateLimit(NewClientLimiter(0.1, 3, 0))(okHandler)

	ok, blocked := 0, 0
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request("192.168.1.1:12345"))
		switch w.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			blocked++
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, blocked)
}

func TestRateLimitSeparatesClients(t *testing.T) {
	h := RateLimit(NewClientLimiter(0.1, 1, 0))(okHandler)

	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, request("10.0.0.1:1"))
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, request("10.0.0.1:2"))
	w3 := httptest.NewRecorder()
	h.ServeHTTP(w3, request("10.0.0.2:1"))

	assert.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code, "same IP, different port")
	assert.Equal(t, http.StatusOK, w3.Code)
}

func TestClientLimiterSweep(t *testing.T) {
	l := NewClientLimiter(1, 1, time.Minute)
	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	assert.Equal(t, 0, l.Sweep(time.Now()))
	assert.Equal(t, 2, l.Sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, l.Len())
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "192.168.1.1", ClientIP(request("192.168.1.1:80")))
	assert.Equal(t, "::1", ClientIP(request("[::1]:8420")))
	assert.Equal(t, "pipe", ClientIP(request("pipe")))

	spoofed := request("10.0.0.9:1")
	spoofed.Header.Set("X-Forwarded-For", "1.1.1.1")
	assert.Equal(t, "10.0.0.9", ClientIP(spoofed))
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	RequestLog(logger)(okHandler).ServeHTTP(httptest.NewRecorder(), request("127.0.0.1:9"))
	assert.Contains(t, buf.String(), "path=/ws")
	assert.Contains(t, buf.String(), "remote=127.0.0.1")
}
