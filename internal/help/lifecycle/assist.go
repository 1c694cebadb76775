package lifecycle

import (
	"context"
	"fmt"

	"neighborly/internal/help/fsm"
	"neighborly/internal/help/gateway"
	"neighborly/internal/help/projection"
	"neighborly/internal/models"
)

// Assist returns the assist decorated for the viewer. Only its seeker and
// helper may see it.
func (s *Service) Assist(ctx context.Context, sess gateway.Session, assistID string) (projection.AssistCard, error) {
	a, err := s.proj.Assist(ctx, sess, assistID)
	if err != nil {
		return projection.AssistCard{}, err
	}
	if a.SeekerID != sess.UserID && a.HelperID != sess.UserID {
		return projection.AssistCard{}, models.ErrForbidden
	}
	return s.deriver.AssistCard(a, sess.UserID), nil
}

// AdvanceAssist moves an assist to status. Only the helper may do it, and
// only one step forward.
func (s *Service) AdvanceAssist(ctx context.Context, sess gateway.Session, assistID, status string) error {
	const op = "advance_assist"
	a, err := s.proj.Assist(ctx, sess, assistID)
	if err != nil {
		return err
	}
	if a.HelperID != sess.UserID {
		return models.ErrForbidden
	}
	if err := fsm.AdvanceAssist(a.Status, status); err != nil {
		msg := fmt.Sprintf("Cannot move from %s to %s.", a.Status, status)
		if next := fsm.NextAssistStatus(a.Status); next == "" {
			msg = "This assist is already finished."
		}
		return s.rejected(ctx, op, &PreconditionError{Field: "status", Message: msg, Err: err})
	}

	scopes := []string{projection.AssistScope(assistID), projection.ScopeFeed}
	if a.RequestID != "" {
		scopes = append(scopes, projection.RequestScope(a.RequestID))
	}
	return s.run(ctx, sess.UserID+":assist:"+assistID, op, models.MetricAssistAdvanced, func() error {
		return s.backend.UpdateAssistStatus(ctx, sess, assistID, status)
	}, scopes...)
}

// Feed returns the viewer's dashboard. categoryID, when set, keeps only that
// category.
func (s *Service) Feed(ctx context.Context, sess gateway.Session, categoryID string) (projection.FeedView, error) {
	if categoryID != "" {
		if _, ok := s.table.Category(categoryID); !ok {
			return projection.FeedView{}, precondition("categoryId", "Unknown category.")
		}
	}
	f, err := s.proj.Feed(ctx, sess)
	if err != nil {
		return projection.FeedView{}, err
	}
	return s.deriver.Feed(f, sess.UserID, categoryID, s.now()), nil
}

// HelpDetails lists the viewer's dependent records for the details form.
func (s *Service) HelpDetails(ctx context.Context, sess gateway.Session) ([]models.HelpDetail, error) {
	details, err := s.proj.HelpDetails(ctx, sess)
	if err != nil {
		return nil, err
	}
	if details == nil {
		details = []models.HelpDetail{}
	}
	return details, nil
}
