package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"neighborly/internal/auth"
	helphttp "neighborly/internal/help/http"
	"neighborly/internal/logger"
)

const testSecret = "test-secret"

func signed(t *testing.T, secret, subject string, exp time.Time) string {
	t.Helper()
	m, err := auth.NewManager(secret)
	require.NoError(t, err)
	s, err := m.NewJWT(subject, "authenticated", time.Until(exp))
	require.NoError(t, err)
	return s
}

func testApp(t *testing.T, perMinute int) *application {
	t.Helper()
	tokens, err := auth.NewManager(testSecret)
	require.NoError(t, err)
	return &application{
		logger:  logger.NewTestLogger(),
		tokens:  tokens,
		limiter: newViewerLimiter(perMinute),
	}
}

func echoViewer(w http.ResponseWriter, r *http.Request) {
	s, ok := helphttp.SessionFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Write([]byte(s.UserID + "|" + s.AccessToken))
}

func TestJWTMiddleware(t *testing.T) {
	app := testApp(t, 0)
	h := app.JWTMiddleware(http.HandlerFunc(echoViewer))
	good := signed(t, testSecret, "user-1", time.Now().Add(time.Hour))

	cases := map[string]struct {
		header string
		query  string
		status int
		body   string
	}{
		"bearer":       {header: "Bearer " + good, status: http.StatusOK, body: "user-1|" + good},
		"query token":  {query: "?access_token=" + good, status: http.StatusOK, body: "user-1|" + good},
		"missing":      {status: http.StatusUnauthorized},
		"wrong secret": {header: "Bearer " + signed(t, "other", "user-1", time.Now().Add(time.Hour)), status: http.StatusUnauthorized},
		"expired":      {header: "Bearer " + signed(t, testSecret, "user-1", time.Now().Add(-time.Hour)), status: http.StatusUnauthorized},
		"no subject":   {header: "Bearer " + signed(t, testSecret, "", time.Now().Add(time.Hour)), status: http.StatusUnauthorized},
		"not a bearer": {header: "Basic abc", status: http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/help/feed"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				require.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestRateLimitPerViewer(t *testing.T) {
	app := testApp(t, 4)
	h := app.JWTMiddleware(app.rateLimit(http.HandlerFunc(echoViewer)))
	alice := signed(t, testSecret, "alice", time.Now().Add(time.Hour))
	bob := signed(t, testSecret, "bob", time.Now().Add(time.Hour))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusOK, call(alice))
	require.Equal(t, http.StatusTooManyRequests, call(alice))
	require.Equal(t, http.StatusOK, call(bob))
}

func TestViewerLimiterForgetsIdleViewers(t *testing.T) {
	l := newViewerLimiterIdle(60, 50*time.Millisecond)

	alice := l.get("alice")
	l.get("bob")
	require.Equal(t, 2, l.limiters.Len())
	require.Same(t, alice, l.get("alice"))

	require.Eventually(t, func() bool { return l.limiters.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.NotSame(t, alice, l.get("alice"))
}

func TestLogRequestOmitsQuery(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	app := testApp(t, 0)
	app.logger = zap.New(core).Sugar()
	token := signed(t, testSecret, "user-1", time.Now().Add(time.Hour))

	h := app.logRequest(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws/help?access_token="+token, nil))

	require.Equal(t, 1, logs.Len())
	msg := logs.All()[0].Message
	require.Contains(t, msg, "GET /ws/help")
	require.NotContains(t, msg, token)
	require.NotContains(t, msg, "access_token")
}

func TestRecoverPanic(t *testing.T) {
	app := testApp(t, 0)
	h := app.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "close", rec.Header().Get("Connection"))
}

func TestRequestID(t *testing.T) {
	h := requestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "6f1c2a4e-9b7d-4c2a-8e1f-0a1b2c3d4e5f")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "6f1c2a4e-9b7d-4c2a-8e1f-0a1b2c3d4e5f", rec.Header().Get("X-Request-ID"))
}
