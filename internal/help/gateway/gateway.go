// Package gateway holds the call contracts of the managed backend and the two
// transports that speak them: PostgREST over HTTP and a direct Postgres
// connection invoking the same stored procedures.
package gateway

import (
	"context"
	"errors"
	"time"

	"neighborly/internal/models"
)

// Remote procedure names.
const (
	FnCreateRequest      = "create_neighborhood_request"
	FnAcceptOffer        = "accept_neighborhood_offer"
	FnUpdateAssistStatus = "update_assist_status"
	FnAssistDetails      = "get_assist_details"
	FnFeed               = "get_neighborhood_feed"
	FnInviteCode         = "generate_invite_code"
	FnVouchHandshake     = "request_vouch_handshake"
	FnVouchViaHandshake  = "vouch_via_handshake"
)

// Session identifies the viewer on whose behalf a call is made.
type Session struct {
	UserID      string
	AccessToken string
}

// CreateRequestParams is the argument set of the create request procedure.
type CreateRequestParams struct {
	CategoryID    string    `json:"p_category_id"`
	ActionID      string    `json:"p_action_id"`
	RequestType   string    `json:"p_request_type"`
	SubjectTag    string    `json:"p_subject_tag"`
	Details       *string   `json:"p_details"`
	Duration      int       `json:"p_duration"`
	ScheduledTime time.Time `json:"p_scheduled_time"`
	HelpDetailID  *string   `json:"p_help_detail_id"`
}

// OfferParams is the row inserted when a helper offers.
type OfferParams struct {
	RequestID  string  `json:"request_id"`
	HelperID   string  `json:"helper_id"`
	Note       *string `json:"note"`
	SharePhone bool    `json:"share_phone"`
	ShareEmail bool    `json:"share_email"`
	Status     string  `json:"status"`
}

// Backend is everything the workflow asks of the remote side.
type Backend interface {
	CreateRequest(ctx context.Context, s Session, p CreateRequestParams) (string, error)
	GetRequest(ctx context.Context, s Session, requestID string) (models.HelpRequest, error)
	ListHelpDetails(ctx context.Context, s Session) ([]models.HelpDetail, error)
	ListPendingOffers(ctx context.Context, s Session, requestID string) ([]models.Offer, error)
	GetMyOffer(ctx context.Context, s Session, requestID string) (*models.Offer, error)
	SubmitOffer(ctx context.Context, s Session, p OfferParams) error
	AcceptOffer(ctx context.Context, s Session, offerID string) error
	GetAssist(ctx context.Context, s Session, assistID string) (models.Assist, error)
	UpdateAssistStatus(ctx context.Context, s Session, assistID, status string) error
	Feed(ctx context.Context, s Session) (models.Feed, error)
	GenerateInviteCode(ctx context.Context, s Session) (string, error)
	RequestVouchHandshake(ctx context.Context, s Session) (string, error)
	VouchViaHandshake(ctx context.Context, s Session, code string) error
}

// RemoteError is a failure reported by the backend, or a failure to reach
// it. Message is shown to the user as is. Err holds the transport error,
// when there is one.
type RemoteError struct {
	Status  int
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// MsgUnreachable is shown when the backend could not be reached at all.
const MsgUnreachable = "Could not reach the server. Check your connection and try again."

// AsRemote unwraps err into a *RemoteError.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ErrNotConfigured is returned by a transport that is missing its endpoint.
var ErrNotConfigured = errors.New("gateway: backend not configured")
