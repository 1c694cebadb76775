package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"neighborly/internal/help/gateway"
	helphttp "neighborly/internal/help/http"
)

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("X-Frame-Options", "deny")
		next.ServeHTTP(w, r)
	})
}

func makeResponseJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func addSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// logRequest writes the path only. The query can carry access_token on
// websocket upgrades.
func (app *application) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.logger.Infof("%s - %s %s %s", r.RemoteAddr, r.Proto, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (app *application) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				app.serverError(w, fmt.Errorf("%s", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (app *application) serverError(w http.ResponseWriter, err error) {
	app.logger.Errorf("%s\n%s", err, debug.Stack())
	writeJSONError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// bearerToken reads the access token from the Authorization header, or from
// the access_token query parameter that browsers use for websocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

// JWTMiddleware verifies the backend-issued access token and attaches the
// viewer session. The raw token travels with the session so the backend can
// apply its own row policies.
func (app *application) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeJSONError(w, http.StatusUnauthorized, "Authorization header missing or invalid")
			return
		}

		claims, err := app.tokens.Parse(raw)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := helphttp.WithSession(r.Context(), gateway.Session{UserID: claims.Subject, AccessToken: raw})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

const (
	limiterIdle    = 10 * time.Minute
	limiterViewers = 10000
)

// viewerLimiter keeps one token bucket per viewer. Buckets unused for the
// idle period are evicted; by then they would be full again anyway.
type viewerLimiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
	every    time.Duration
	burst    int
}

// newViewerLimiter allows perMinute requests per viewer. Zero disables it.
func newViewerLimiter(perMinute int) *viewerLimiter {
	return newViewerLimiterIdle(perMinute, limiterIdle)
}

func newViewerLimiterIdle(perMinute int, idle time.Duration) *viewerLimiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 4
	if burst < 1 {
		burst = 1
	}
	return &viewerLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterViewers, nil, idle),
		every:    time.Minute / time.Duration(perMinute),
		burst:    burst,
	}
}

func (l *viewerLimiter) get(key string) *rate.Limiter {
	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), l.burst)
	}
	// Re-adding renews the idle deadline.
	l.limiters.Add(key, lim)
	return lim
}

// rateLimit keys on the viewer when a session is present, else on the
// client address.
func (app *application) rateLimit(next http.Handler) http.Handler {
	if app.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := helphttp.ViewerID(r)
		if !ok {
			key, _, _ = net.SplitHostPort(r.RemoteAddr)
			if key == "" {
				key = r.RemoteAddr
			}
		}
		if !app.limiter.get(key).Allow() {
			app.logger.Infof("rate limit exceeded for %s", key)
			writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
