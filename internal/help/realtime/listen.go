package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DefaultChannel is the NOTIFY channel the database triggers publish to.
// Each payload is a JSON object with table, type, record and old_record.
const DefaultChannel = "help_changes"

// ListenSource receives changes through Postgres LISTEN/NOTIFY.
type ListenSource struct {
	dsn     string
	channel string
	logger  Logger
}

func NewListenSource(dsn, channel string, logger Logger) *ListenSource {
	if channel == "" {
		channel = DefaultChannel
	}
	return &ListenSource{dsn: dsn, channel: channel, logger: logger}
}

func (s *ListenSource) Run(ctx context.Context, publish func(Change)) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("realtime: connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("realtime: listen: %w", err)
	}
	if s.logger != nil {
		s.logger.Infof("realtime: listening on %s", s.channel)
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("realtime: wait: %w", err)
		}
		var c Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil || c.Table == "" {
			if s.logger != nil {
				s.logger.Errorf("realtime: bad notification payload on %s: %q", n.Channel, n.Payload)
			}
			continue
		}
		publish(c)
	}
}
