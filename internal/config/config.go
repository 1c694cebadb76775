package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	TransportREST     = "rest"
	TransportPostgres = "postgres"

	SourceWebsocket = "websocket"
	SourcePostgres  = "postgres"
	SourceNone      = "none"
)

type Config struct {
	Server struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
	Backend struct {
		URL         string `mapstructure:"url"`
		AnonKey     string `mapstructure:"anon_key"`
		JWTSecret   string `mapstructure:"jwt_secret"`
		Transport   string `mapstructure:"transport"`
		DatabaseURL string `mapstructure:"database_url"`
	} `mapstructure:"backend"`
	Realtime struct {
		Source  string `mapstructure:"source"`
		Channel string `mapstructure:"channel"`
	} `mapstructure:"realtime"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Cache struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"cache"`
	Clock struct {
		Refresh time.Duration `mapstructure:"refresh"`
	} `mapstructure:"clock"`
	Mapbox struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"mapbox"`
	Rate struct {
		PerMinute int `mapstructure:"per_minute"`
	} `mapstructure:"rate"`
	Taxonomy struct {
		File string `mapstructure:"file"`
	} `mapstructure:"taxonomy"`
	CORS struct {
		Origins []string `mapstructure:"origins"`
	} `mapstructure:"cors"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Metrics struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"metrics"`
	Help struct {
		ScheduleWindow        time.Duration `mapstructure:"schedule_window"`
		ItemFloorMinutes      int           `mapstructure:"item_floor_minutes"`
		QuickPicks            []int         `mapstructure:"quick_picks"`
		NoteLimit             int           `mapstructure:"note_limit"`
		DefaultServiceMinutes int           `mapstructure:"default_service_minutes"`
		GeocodeDebounce       time.Duration `mapstructure:"geocode_debounce"`
	} `mapstructure:"help"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":4001")
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.anon_key", "")
	v.SetDefault("backend.jwt_secret", "")
	v.SetDefault("backend.transport", TransportREST)
	v.SetDefault("backend.database_url", "")
	v.SetDefault("realtime.source", SourceWebsocket)
	v.SetDefault("realtime.channel", "help_changes")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("clock.refresh", "30s")
	v.SetDefault("mapbox.token", "")
	v.SetDefault("rate.per_minute", 120)
	v.SetDefault("taxonomy.file", "")
	v.SetDefault("cors.origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.interval", "1m")
	v.SetDefault("help.schedule_window", "336h")
	v.SetDefault("help.item_floor_minutes", 60)
	v.SetDefault("help.quick_picks", []int{15, 30, 60, 90})
	v.SetDefault("help.note_limit", 280)
	v.SetDefault("help.default_service_minutes", 30)
	v.SetDefault("help.geocode_debounce", "400ms")
}

// Load reads the optional YAML file at path and applies environment
// overrides. Keys map to upper-case variables with dots replaced by
// underscores, so backend.url is BACKEND_URL.
func Load(path string) (Config, error) {
	var cfg Config
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Backend.JWTSecret == "" {
		return errors.New("backend.jwt_secret is required")
	}
	switch c.Backend.Transport {
	case TransportREST:
		if c.Backend.URL == "" || c.Backend.AnonKey == "" {
			return errors.New("backend.url and backend.anon_key are required for the rest transport")
		}
	case TransportPostgres:
		if c.Backend.DatabaseURL == "" {
			return errors.New("backend.database_url is required for the postgres transport")
		}
	default:
		return fmt.Errorf("unknown backend.transport %q", c.Backend.Transport)
	}
	switch c.Realtime.Source {
	case SourceWebsocket:
		if c.Backend.URL == "" || c.Backend.AnonKey == "" {
			return errors.New("realtime.source websocket needs backend.url and backend.anon_key")
		}
	case SourcePostgres:
		if c.Backend.DatabaseURL == "" {
			return errors.New("realtime.source postgres needs backend.database_url")
		}
	case SourceNone:
	default:
		return fmt.Errorf("unknown realtime.source %q", c.Realtime.Source)
	}
	if c.Rate.PerMinute < 0 {
		return errors.New("rate.per_minute must not be negative")
	}
	return nil
}
