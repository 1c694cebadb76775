package help

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"neighborly/internal/help/gateway"
	"neighborly/internal/help/realtime"
	"neighborly/internal/help/taxonomy"
	"neighborly/internal/help/timeutil"
	"neighborly/internal/models"
)

// Logger provides minimal logging required by the help module.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// HelpDeps groups external dependencies needed by the help module.
type HelpDeps struct {
	Backend    gateway.Backend
	Table      *taxonomy.Table
	RDB        *redis.Client
	Source     realtime.Source
	Metrics    models.MetricService
	Clock      timeutil.Clock
	Logger     Logger
	Config     HelpConfig
	HTTPClient *http.Client
	module     *moduleState
}

// Validate ensures required dependencies are provided. RDB, Source and
// Clock are optional: without them the cache is in memory, nothing pushes
// changes and time comes from the system clock.
func (d *HelpDeps) Validate() error {
	if d.Backend == nil {
		return errors.New("help deps: Backend is required")
	}
	if d.Table == nil {
		return errors.New("help deps: Table is required")
	}
	if d.Logger == nil {
		return errors.New("help deps: Logger is required")
	}
	if err := d.Config.Validate(); err != nil {
		return fmt.Errorf("help deps: %w", err)
	}
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	return nil
}
