package gateway

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"neighborly/internal/models"
)

// PostgresBackend calls the stored procedures over a direct database
// connection. Every call runs in its own transaction with the viewer's JWT
// claims set locally, so row level security sees the same identity as it
// would through PostgREST.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) CreateRequest(ctx context.Context, s Session, p CreateRequestParams) (string, error) {
	var id string
	err := b.inTx(ctx, s, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`SELECT create_neighborhood_request($1, $2, $3, $4, $5, $6, $7, $8)::text`,
			p.CategoryID, p.ActionID, p.RequestType, p.SubjectTag, p.Details, p.Duration, p.ScheduledTime, p.HelpDetailID,
		).Scan(&id)
	})
	return id, err
}

func (b *PostgresBackend) GetRequest(ctx context.Context, s Session, requestID string) (models.HelpRequest, error) {
	var out models.HelpRequest
	err := b.inTx(ctx, s, func(tx *sql.Tx) error {
		return scanJSON(tx.QueryRowContext(ctx, `SELECT to_jsonb(r) FROM requests r WHERE r.id = $1`, requestID), &out)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return models.HelpRequest{}, models.ErrNoRecord
	}
	return out, err
}

func (b *PostgresBackend) ListHelpDetails(ctx context.Context, s Session) ([]models.HelpDetail, error) {
	var out []models.HelpDetail
	err := b.inTx(ctx, s, func(tx *sql.Tx) error {
		return scanJSON(tx.QueryRowContext(ctx,
			`SELECT coalesce(jsonb_agg(jsonb_build_object('id', d.id, 'name', d.name)), '[]'::jsonb) FROM help_details d`,
		), &out)
	})
	return out, err
}

func (b *PostgresBackend) ListPendingOffers(ctx context.Context, s Session, requestID string) ([]models.Offer, error) {
	var out []models.Offer
	err := b.inTx(ctx, s, func(tx *sql.Tx) error {
		return scanJSON(tx.QueryRowContext(ctx, `
			SELECT coalesce(jsonb_agg(to_jsonb(o) || jsonb_build_object('helper_display_name', p.display_name)
			                          ORDER BY o.created_at), '[]'::jsonb)
			FROM offers o
			LEFT JOIN profiles p ON p.id = o.helper_id
			WHERE o.request_id = $1 AND o.status = 'pending'`, requestID), &out)
	})
	return out, err
}

func (b *PostgresBackend) GetMyOffer(ctx context.Context, s Session, requestID string) (*models.Offer, error) {
	var out models.Offer
	err := b.inTx(ctx, s, func(tx *sql.Tx) error {
		return scanJSON(tx.QueryRowContext(ctx, `
			SELECT to_jsonb(o) FROM offers o
			WHERE o.request_id = $1 AND o.helper_id = $2
			ORDER BY o.created_at DESC
			LIMIT 1`, requestID, s.UserID), &out)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *PostgresBackend) SubmitOffer(ctx context.Context, s Session, p OfferParams) error {
	return b.inTx(ctx, s, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO offers (request_id, helper_id, note, share_phone, share_email, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.RequestID, p.HelperID, p.Note, p.SharePhone, p.ShareEmail, p.Status)
		return err
	})
}

func (b *PostgresBackend) AcceptOffer(ctx context.Context, s Session, offerID string) error {
	return b.inTx(ctx, s, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `SELECT accept_neighborhood_offer($1)`, offerID)
		return err
	})
}

func (b *PostgresBackend) GetAssist(ctx context.Context, s Session, assistID string) (models.Assist, error) {
	var out models.Assist
	err := b.inTx(ctx, s, func(tx *sql.Tx) error {
		return scanJSON(tx.QueryRowContext(ctx, `SELECT get_assist_details($1)::jsonb`, assistID), &out)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return models.Assist{}, models.ErrNoRecord
	}
	if err != nil {
		return models.Assist{}, err
	}
	if out.ID == "" {
		return models.Assist{}, models.ErrNoRecord
	}
	out.ApplySnapshot()
	return out, nil
}

func (b *PostgresBackend) UpdateAssistStatus(ctx context.Context, s Session, assistID, status string) error {
	return b.inTx(ctx, s, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `SELECT update_assist_status($1, $2)`, assistID, status)
		return err
	})
}

func (b *PostgresBackend) Feed(ctx context.Context, s Session) (models.Feed, error) {
	var out models.Feed
	err := b.inTx(ctx, s, func(tx *sql.Tx) error {
		return scanJSON(tx.QueryRowContext(ctx, `SELECT get_neighborhood_feed()::jsonb`), &out)
	})
	return out, err
}

func (b *PostgresBackend) GenerateInviteCode(ctx context.Context, s Session) (string, error) {
	return b.scalar(ctx, s, `SELECT generate_invite_code()::text`)
}

func (b *PostgresBackend) RequestVouchHandshake(ctx context.Context, s Session) (string, error) {
	return b.scalar(ctx, s, `SELECT request_vouch_handshake()::text`)
}

func (b *PostgresBackend) VouchViaHandshake(ctx context.Context, s Session, code string) error {
	return b.inTx(ctx, s, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `SELECT vouch_via_handshake($1)`, code)
		return err
	})
}

func (b *PostgresBackend) scalar(ctx context.Context, s Session, query string, args ...interface{}) (string, error) {
	var out sql.NullString
	err := b.inTx(ctx, s, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query, args...).Scan(&out)
	})
	return out.String, err
}

func (b *PostgresBackend) inTx(ctx context.Context, s Session, fn func(tx *sql.Tx) error) error {
	if b.db == nil {
		return ErrNotConfigured
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return translatePgError(fmt.Errorf("gateway: begin: %w", err))
	}
	defer tx.Rollback()

	claims, err := json.Marshal(map[string]string{"sub": s.UserID, "role": "authenticated"})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`SELECT set_config('request.jwt.claims', $1, true), set_config('role', 'authenticated', true)`,
		string(claims),
	); err != nil {
		return fmt.Errorf("gateway: set claims: %w", err)
	}
	if err := fn(tx); err != nil {
		return translatePgError(err)
	}
	return tx.Commit()
}

// translatePgError surfaces procedure failures with their message intact.
// Connection failures read as an unreachable backend.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RemoteError{Status: 400, Message: pgErr.Message}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) {
		return &RemoteError{Status: 502, Message: MsgUnreachable, Err: err}
	}
	return err
}

func scanJSON(row *sql.Row, out interface{}) error {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return sql.ErrNoRows
	}
	return json.Unmarshal(raw, out)
}

var _ Backend = (*PostgresBackend)(nil)
