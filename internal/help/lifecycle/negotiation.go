package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"neighborly/internal/help/fsm"
	"neighborly/internal/help/gateway"
	"neighborly/internal/help/projection"
	"neighborly/internal/models"
)

// Role is the viewer's relationship to a request.
type Role string

const (
	RoleOwner           Role = "owner"
	RoleHelper          Role = "helper"
	RoleHelperWithOffer Role = "helper_with_offer"
)

// NegotiationView is the request detail as one viewer sees it.
type NegotiationView struct {
	Request   projection.RequestCard `json:"request"`
	Role      Role                   `json:"role"`
	Closed    bool                   `json:"closed"`
	Offers    []models.Offer         `json:"offers,omitempty"`
	MyOffer   *models.Offer          `json:"my_offer,omitempty"`
	CanOffer  bool                   `json:"can_offer"`
	CanAccept bool                   `json:"can_accept"`
}

// Negotiation derives the viewer's role and affordances for a request. A
// closed request exposes no actions, whoever is looking.
func (s *Service) Negotiation(ctx context.Context, sess gateway.Session, requestID string) (NegotiationView, error) {
	req, err := s.proj.Request(ctx, sess, requestID)
	if err != nil {
		return NegotiationView{}, err
	}
	now := s.now()
	closed := !projection.IsOpen(req, now)

	if req.SeekerID == sess.UserID {
		offers, err := s.proj.PendingOffers(ctx, sess, requestID)
		if err != nil {
			return NegotiationView{}, err
		}
		if offers == nil {
			offers = []models.Offer{}
		}
		return NegotiationView{
			Request:   s.deriver.RequestCard(req, sess.UserID, false, now),
			Role:      RoleOwner,
			Closed:    closed,
			Offers:    offers,
			CanAccept: !closed && len(offers) > 0,
		}, nil
	}

	mine, err := s.proj.MyOffer(ctx, sess, requestID)
	if err != nil {
		return NegotiationView{}, err
	}
	view := NegotiationView{
		Request: s.deriver.RequestCard(req, sess.UserID, mine != nil, now),
		Role:    RoleHelper,
		Closed:  closed,
		MyOffer: mine,
	}
	if mine != nil && fsm.OfferBlocksReoffer(mine.Status) {
		view.Role = RoleHelperWithOffer
	} else {
		view.CanOffer = !closed
	}
	return view, nil
}

// OfferInput is what a helper fills in to offer.
type OfferInput struct {
	Note       string `json:"note" validate:"note"`
	SharePhone bool   `json:"share_phone"`
	ShareEmail bool   `json:"share_email"`
}

var offerMessages = map[string]string{
	"note": "Note is too long.",
}

// SubmitOffer records the viewer's offer on a request. At least one contact
// method must be shared; that is checked before anything else.
func (s *Service) SubmitOffer(ctx context.Context, sess gateway.Session, requestID string, in OfferInput) error {
	const op = "submit_offer"
	if !in.SharePhone && !in.ShareEmail {
		return s.rejected(ctx, op, precondition("share_phone", "Please share at least one contact method."))
	}
	if err := s.check(in, offerMessages); err != nil {
		return s.rejected(ctx, op, err)
	}

	req, err := s.proj.Request(ctx, sess, requestID)
	if err != nil {
		return err
	}
	if req.SeekerID == sess.UserID {
		return models.ErrForbidden
	}
	if !projection.IsOpen(req, s.current()) {
		return s.rejected(ctx, op, &PreconditionError{Message: "This request is no longer open.", Err: models.ErrRequestClosed})
	}
	mine, err := s.proj.MyOffer(ctx, sess, requestID)
	if err != nil {
		return err
	}
	if mine != nil && fsm.OfferBlocksReoffer(mine.Status) {
		msg := fmt.Sprintf("You already offered to help (%s).", mine.Status)
		return s.rejected(ctx, op, &PreconditionError{Message: msg, Err: models.ErrAlreadyOffered})
	}

	var note *string
	if n := strings.TrimSpace(in.Note); n != "" {
		note = &n
	}
	params := gateway.OfferParams{
		RequestID:  requestID,
		HelperID:   sess.UserID,
		Note:       note,
		SharePhone: in.SharePhone,
		ShareEmail: in.ShareEmail,
		Status:     fsm.OfferPending,
	}
	return s.run(ctx, sess.UserID+":offer:"+requestID, op, models.MetricOfferSubmitted, func() error {
		return s.backend.SubmitOffer(ctx, sess, params)
	}, projection.OffersScope(requestID), projection.RequestScope(requestID), projection.ScopeFeed)
}

// AcceptOffer commits the owner to one pending offer. Declining the
// competing offers and creating the assist happen on the backend.
func (s *Service) AcceptOffer(ctx context.Context, sess gateway.Session, requestID, offerID string) error {
	const op = "accept_offer"
	req, err := s.proj.Request(ctx, sess, requestID)
	if err != nil {
		return err
	}
	if req.SeekerID != sess.UserID {
		return models.ErrForbidden
	}
	if !projection.IsOpen(req, s.current()) {
		return s.rejected(ctx, op, &PreconditionError{Message: "This request is no longer open.", Err: models.ErrRequestClosed})
	}

	pending, err := s.isPending(ctx, sess, requestID, offerID)
	if err != nil {
		return err
	}
	if !pending {
		// The cached list may predate the offer; look once more.
		s.proj.Invalidate(ctx, projection.OffersScope(requestID))
		if pending, err = s.isPending(ctx, sess, requestID, offerID); err != nil {
			return err
		}
	}
	if !pending {
		return s.rejected(ctx, op, &PreconditionError{Message: "This offer is no longer pending.", Err: models.ErrOfferNotPending})
	}

	return s.run(ctx, sess.UserID+":accept:"+requestID, op, models.MetricOfferAccepted, func() error {
		return s.backend.AcceptOffer(ctx, sess, offerID)
	}, projection.RequestScope(requestID), projection.OffersScope(requestID), projection.ScopeFeed)
}

func (s *Service) isPending(ctx context.Context, sess gateway.Session, requestID, offerID string) (bool, error) {
	offers, err := s.proj.PendingOffers(ctx, sess, requestID)
	if err != nil {
		return false, err
	}
	for _, o := range offers {
		if o.ID == offerID {
			status := o.Status
			if status == "" {
				status = fsm.OfferPending
			}
			return fsm.CanTransitionOffer(status, fsm.OfferAccepted), nil
		}
	}
	return false, nil
}
