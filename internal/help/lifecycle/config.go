package lifecycle

import "time"

// Config aggregates behavioural parameters for the request lifecycle.
type Config struct {
	// ScheduleWindow is how far ahead a request may be scheduled.
	ScheduleWindow time.Duration
	// NoteLimit caps the free-text note of requests and offers, in runes.
	NoteLimit int
	// DefaultServiceMinutes is used when a service draft carries no pick.
	DefaultServiceMinutes int
}

// DefaultConfig mirrors the limits the web client enforces.
func DefaultConfig() Config {
	return Config{
		ScheduleWindow:        14 * 24 * time.Hour,
		NoteLimit:             280,
		DefaultServiceMinutes: 30,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ScheduleWindow <= 0 {
		c.ScheduleWindow = d.ScheduleWindow
	}
	if c.NoteLimit <= 0 {
		c.NoteLimit = d.NoteLimit
	}
	if c.DefaultServiceMinutes <= 0 {
		c.DefaultServiceMinutes = d.DefaultServiceMinutes
	}
	return c
}
