// Package duration turns the duration inputs of the request form into a
// normalized number of minutes.
package duration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"neighborly/internal/help/taxonomy"
)

// DateLayout is the wire format of item pickup/return dates.
const DateLayout = "2006-01-02"

const (
	DefaultItemFloor      = 60
	DefaultServiceMinutes = 30
)

// DefaultQuickPicks are the service durations offered in the form.
var DefaultQuickPicks = []int{15, 30, 60, 90}

var ErrNotQuickPick = errors.New("duration: not one of the offered durations")

// Input carries whichever duration fields the form filled in.
type Input struct {
	ServiceMinutes int    `json:"service_minutes,omitempty"`
	Pickup         string `json:"pickup,omitempty"`
	Return         string `json:"return,omitempty"`
}

// Resolver picks the service or item algorithm by request type.
type Resolver struct {
	floor int
	picks []int
}

// NewResolver builds a resolver; non-positive floor and empty picks fall
// back to the defaults.
func NewResolver(floor int, picks []int) *Resolver {
	if floor <= 0 {
		floor = DefaultItemFloor
	}
	if len(picks) == 0 {
		picks = DefaultQuickPicks
	}
	cp := make([]int, len(picks))
	copy(cp, picks)
	return &Resolver{floor: floor, picks: cp}
}

// QuickPicks returns the offered service durations.
func (r *Resolver) QuickPicks() []int {
	out := make([]int, len(r.picks))
	copy(out, r.picks)
	return out
}

// Floor is the minimum resolved item duration.
func (r *Resolver) Floor() int {
	return r.floor
}

// Service echoes the selected quick pick.
func (r *Resolver) Service(minutes int) (int, error) {
	for _, p := range r.picks {
		if p == minutes {
			return minutes, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrNotQuickPick, minutes)
}

// Item computes the borrow window length in whole minutes, clamped to the
// floor. It reports false when either endpoint is unset.
func (r *Resolver) Item(pickup, ret time.Time) (int, bool) {
	if pickup.IsZero() || ret.IsZero() {
		return 0, false
	}
	mins := int(ret.Sub(pickup) / time.Minute)
	if mins < r.floor {
		mins = r.floor
	}
	return mins, true
}

// Resolve derives the duration for the given request type. ok is false when
// the inputs cannot produce a value yet.
func (r *Resolver) Resolve(kind taxonomy.RequestType, in Input) (int, bool, error) {
	switch kind {
	case taxonomy.TypeService:
		if in.ServiceMinutes == 0 {
			return 0, false, nil
		}
		m, err := r.Service(in.ServiceMinutes)
		if err != nil {
			return 0, false, err
		}
		return m, true, nil
	case taxonomy.TypeItem:
		pickup, err := ParseDate(in.Pickup)
		if err != nil {
			return 0, false, err
		}
		ret, err := ParseDate(in.Return)
		if err != nil {
			return 0, false, err
		}
		m, ok := r.Item(pickup, ret)
		return m, ok, nil
	default:
		return 0, false, fmt.Errorf("duration: unknown request type %q", kind)
	}
}

// ParseDate parses a date-only value as midnight UTC. An empty string is the
// zero time.
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("duration: bad date %q: %w", v, err)
	}
	return t, nil
}
