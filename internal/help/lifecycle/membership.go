package lifecycle

import (
	"context"
	"errors"
	"strings"

	"neighborly/internal/help/gateway"
	"neighborly/internal/help/projection"
	"neighborly/internal/models"
)

// ErrVouchCode is returned when the handshake code is blank.
var ErrVouchCode = errors.New("vouch code is required")

// InviteCode asks the backend for a fresh neighborhood invite code.
func (s *Service) InviteCode(ctx context.Context, sess gateway.Session) (string, error) {
	var code string
	err := s.run(ctx, sess.UserID+":invite", "invite_code", models.MetricMembershipCall, func() error {
		var err error
		code, err = s.backend.GenerateInviteCode(ctx, sess)
		return err
	})
	return code, err
}

// VouchHandshake asks the backend for a short-lived code the viewer can hand
// to a neighbor who will vouch for them.
func (s *Service) VouchHandshake(ctx context.Context, sess gateway.Session) (string, error) {
	var code string
	err := s.run(ctx, sess.UserID+":handshake", "vouch_handshake", models.MetricMembershipCall, func() error {
		var err error
		code, err = s.backend.RequestVouchHandshake(ctx, sess)
		return err
	})
	return code, err
}

// Vouch redeems a neighbor's handshake code.
func (s *Service) Vouch(ctx context.Context, sess gateway.Session, code string) error {
	const op = "vouch"
	code = strings.TrimSpace(code)
	if code == "" {
		return s.rejected(ctx, op, &PreconditionError{Field: "code", Message: "Enter the code your neighbor shared.", Err: ErrVouchCode})
	}
	return s.run(ctx, sess.UserID+":vouch", op, models.MetricMembershipCall, func() error {
		return s.backend.VouchViaHandshake(ctx, sess, code)
	}, projection.ScopeFeed)
}
