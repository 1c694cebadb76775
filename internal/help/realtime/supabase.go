package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	phxJoin      = "phx_join"
	phxReply     = "phx_reply"
	phxHeartbeat = "heartbeat"
	pgChanges    = "postgres_changes"
)

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// SupabaseSource subscribes to postgres_changes on the backend's realtime
// websocket endpoint.
type SupabaseSource struct {
	endpoint  string
	apiKey    string
	tables    []string
	heartbeat time.Duration
	dialer    *websocket.Dialer
	logger    Logger
}

// NewSupabaseSource builds a source for the project at baseURL (http(s)
// scheme is rewritten to ws(s)).
func NewSupabaseSource(baseURL, apiKey string, tables []string, logger Logger) (*SupabaseSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	if len(tables) == 0 {
		tables = WatchedTables
	}
	return &SupabaseSource{
		endpoint:  u.String(),
		apiKey:    apiKey,
		tables:    tables,
		heartbeat: 30 * time.Second,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:    logger,
	}, nil
}

// Run connects, joins the change channel and publishes until the
// connection drops or ctx is done.
func (s *SupabaseSource) Run(ctx context.Context, publish func(Change)) error {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}
	defer conn.Close()

	var (
		wmu sync.Mutex
		ref int
	)
	send := func(topic, event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		wmu.Lock()
		defer wmu.Unlock()
		ref++
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteJSON(phxMessage{Topic: topic, Event: event, Payload: data, Ref: strconv.Itoa(ref)})
	}

	filters := make([]changeFilter, 0, len(s.tables))
	for _, t := range s.tables {
		filters = append(filters, changeFilter{Event: "*", Schema: "public", Table: t})
	}
	join := map[string]interface{}{
		"config": map[string]interface{}{
			"postgres_changes": filters,
		},
		"access_token": s.apiKey,
	}
	if err := send("realtime:help", phxJoin, join); err != nil {
		return fmt.Errorf("realtime: join: %w", err)
	}
	if s.logger != nil {
		s.logger.Infof("realtime: joined changes for %s", strings.Join(s.tables, ","))
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				wmu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				wmu.Unlock()
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := send("phoenix", phxHeartbeat, struct{}{}); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("realtime: read: %w", err)
		}
		switch msg.Event {
		case pgChanges:
			if c, ok := decodeSupabaseChange(msg.Payload); ok {
				publish(c)
			}
		case phxReply:
			var reply struct {
				Status   string          `json:"status"`
				Response json.RawMessage `json:"response"`
			}
			if json.Unmarshal(msg.Payload, &reply) == nil && reply.Status == "error" {
				return fmt.Errorf("realtime: channel error: %s", string(reply.Response))
			}
		}
	}
}

func decodeSupabaseChange(payload json.RawMessage) (Change, bool) {
	var body struct {
		Data struct {
			Table     string          `json:"table"`
			Type      string          `json:"type"`
			Record    json.RawMessage `json:"record"`
			OldRecord json.RawMessage `json:"old_record"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Data.Table == "" {
		return Change{}, false
	}
	return Change{
		Table:     body.Data.Table,
		Type:      body.Data.Type,
		Record:    body.Data.Record,
		OldRecord: body.Data.OldRecord,
	}, true
}
