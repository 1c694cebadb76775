package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInFlight is returned when the same action is already running for the
// viewer.
var ErrInFlight = errors.New("action already in progress")

// PreconditionError is a local validation failure. It is raised before any
// remote call and names the form field to highlight.
type PreconditionError struct {
	Field   string
	Message string
	Err     error
}

func (e *PreconditionError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func precondition(field, message string) *PreconditionError {
	return &PreconditionError{Field: field, Message: message}
}

// AsPrecondition unwraps err into a *PreconditionError.
func AsPrecondition(err error) (*PreconditionError, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// inFlight admits one holder per key; a second acquire fails until the
// first is released.
type inFlight struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInFlight() *inFlight {
	return &inFlight{keys: make(map[string]struct{})}
}

func (g *inFlight) acquire(key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.keys[key]; busy {
		return nil, ErrInFlight
	}
	g.keys[key] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.keys, key)
		g.mu.Unlock()
	}, nil
}

// busy reports whether key is held.
func (g *inFlight) busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.keys[key]
	return ok
}
