package helphttp

import (
	"context"
	"net/http"

	"neighborly/internal/help/gateway"
)

type sessionKey struct{}

// WithSession attaches the authenticated viewer to ctx.
func WithSession(ctx context.Context, s gateway.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the viewer attached by WithSession.
func SessionFrom(ctx context.Context) (gateway.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(gateway.Session)
	return s, ok && s.UserID != ""
}

// ViewerID is a ws.ViewerFunc over the request session.
func ViewerID(r *http.Request) (string, bool) {
	s, ok := SessionFrom(r.Context())
	return s.UserID, ok
}
