package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openedc/ledgercore/pkg/session"
	"github.com/openedc/ledgercore/pkg/store"
)

type callerKey struct{}

// CallerFrom returns the authenticated caller attached by the auth
// middleware.
func CallerFrom(ctx context.Context) (store.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(store.Caller)
	return c, ok
}

// Authenticator validates bearer tokens and attaches the caller identity.
// The token's granted-role list is treated as a hint only; the store
// re-resolves authority from the assignment table inside every transaction.
type Authenticator struct {
	verifier *session.Verifier
	logger   *slog.Logger
}

// NewAuthenticator builds the auth middleware around a token verifier.
func NewAuthenticator(v *session.Verifier) *Authenticator {
	return &Authenticator{
		verifier: v,
		logger:   slog.Default().With("component", "api.auth"),
	}
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			WriteProblem(w, r, http.StatusUnauthorized, "Unauthorized", "bearer token required")
			return
		}

		claims, err := a.verifier.Verify(token)
		if err != nil {
			a.logger.DebugContext(r.Context(), "token rejected", "error", err)
			WriteProblem(w, r, http.StatusUnauthorized, "Unauthorized", "token validation failed")
			return
		}
		role, err := claims.Role()
		if err != nil {
			WriteProblem(w, r, http.StatusUnauthorized, "Unauthorized", "token names an unknown role")
			return
		}

		caller := store.Caller{
			ActorID:    claims.Subject,
			ActiveRole: role,
			SessionID:  claims.SessionID,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

// RateLimiter enforces a per-client token bucket keyed by remote IP.
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

// NewRateLimiter creates a per-IP limiter and starts its stale-entry sweep.
func NewRateLimiter(rps, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// sweep removes stale visitor entries so the map cannot grow unbounded.
func (rl *RateLimiter) sweep() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = strings.Trim(r.RemoteAddr, "[]")
		}
		if !rl.limiterFor(ip).Allow() {
			w.Header().Set("Retry-After", "1")
			WriteProblem(w, r, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger emits one structured line per request.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
