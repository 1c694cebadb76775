package help

import (
	"fmt"
	"time"

	"neighborly/internal/help/duration"
	"neighborly/internal/help/lifecycle"
)

const (
	defaultScheduleWindow  = 14 * 24 * time.Hour
	defaultNoteLimit       = 280
	defaultCacheTTL        = 30 * time.Second
	defaultClockRefresh    = 30 * time.Second
	defaultGeocodeDebounce = 400 * time.Millisecond
)

// HelpConfig holds runtime configuration for the help module.
type HelpConfig struct {
	ScheduleWindow        time.Duration
	ItemFloorMinutes      int
	QuickPicks            []int
	NoteLimit             int
	DefaultServiceMinutes int
	CacheTTL              time.Duration
	ClockRefresh          time.Duration
	GeocodeDebounce       time.Duration
	MapboxToken           string
	AllowedOrigins        []string
}

// DefaultHelpConfig returns the production defaults.
func DefaultHelpConfig() HelpConfig {
	return HelpConfig{
		ScheduleWindow:        defaultScheduleWindow,
		ItemFloorMinutes:      duration.DefaultItemFloor,
		QuickPicks:            append([]int(nil), duration.DefaultQuickPicks...),
		NoteLimit:             defaultNoteLimit,
		DefaultServiceMinutes: duration.DefaultServiceMinutes,
		CacheTTL:              defaultCacheTTL,
		ClockRefresh:          defaultClockRefresh,
		GeocodeDebounce:       defaultGeocodeDebounce,
	}
}

// Validate checks the tunables for consistency.
func (c HelpConfig) Validate() error {
	if c.ScheduleWindow <= 0 {
		return fmt.Errorf("schedule window must be positive")
	}
	if c.ItemFloorMinutes <= 0 {
		return fmt.Errorf("item floor must be positive")
	}
	if len(c.QuickPicks) == 0 {
		return fmt.Errorf("at least one quick pick is required")
	}
	found := false
	for _, p := range c.QuickPicks {
		if p <= 0 {
			return fmt.Errorf("quick pick %d must be positive", p)
		}
		if p == c.DefaultServiceMinutes {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("default service duration %d is not a quick pick", c.DefaultServiceMinutes)
	}
	if c.NoteLimit <= 0 {
		return fmt.Errorf("note limit must be positive")
	}
	if c.CacheTTL <= 0 || c.ClockRefresh <= 0 {
		return fmt.Errorf("cache ttl and clock refresh must be positive")
	}
	return nil
}

func (c HelpConfig) lifecycle() lifecycle.Config {
	return lifecycle.Config{
		ScheduleWindow:        c.ScheduleWindow,
		NoteLimit:             c.NoteLimit,
		DefaultServiceMinutes: c.DefaultServiceMinutes,
	}
}

func (c HelpConfig) originAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
