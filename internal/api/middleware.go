package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"churchtransport/internal/metrics"
	"churchtransport/pkg/logger"
)

// statusRecorder captures the response code. It passes Flush and Hijack through so SSE and
// websocket handlers keep working behind the middleware chain.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

// Middleware wraps h with CORS, per-IP rate limiting, metrics and the access log.
func (s *Server) Middleware(h http.Handler) http.Handler {
	h = NewRateLimiter(s.Config.RateRPS, s.Config.RateBurst).Limit(h)
	h = cors.New(cors.Options{
		AllowedOrigins:   s.Config.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Role", "X-Driver-Id"},
		AllowCredentials: true,
	}).Handler(h)
	return logMiddleware(s.Log, h)
}

func logMiddleware(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		path := metricPath(r.URL.Path)
		code := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
		log.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "remote", r.RemoteAddr, "duration_ms", dur.Milliseconds())
	})
}

// metricPath collapses ids so the path label stays bounded: /v1/events/abc/route -> /v1/events/:id/route
func metricPath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i := range parts {
		if i >= 2 && i%2 == 0 {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter returns a limiter; rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	lim := rate.Limit(rps)
	if rps <= 0 {
		lim = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{visitors: map[string]*visitor{}, rps: lim, burst: burst}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	if v, ok := rl.visitors[ip]; ok {
		v.lastSeen = now
		return v.limiter
	}
	// drop idle visitors on insert
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > 10*time.Minute {
			delete(rl.visitors, k)
		}
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[ip] = &visitor{limiter: l, lastSeen: now}
	return l
}

// Limit rejects requests over the per-IP budget with 429.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.getLimiter(ip).Allow() {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
