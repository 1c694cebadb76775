package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"neighborly/internal/help/duration"
	"neighborly/internal/help/gateway"
	"neighborly/internal/help/projection"
	"neighborly/internal/help/taxonomy"
	"neighborly/internal/models"
)

// Timeframe says whether a request is for now or a scheduled time.
type Timeframe string

const (
	TimeframeNow       Timeframe = "now"
	TimeframeScheduled Timeframe = "scheduled"
)

// Draft is the details form of the wizard.
type Draft struct {
	CategoryID    string         `json:"categoryId" validate:"required"`
	ActionID      string         `json:"actionId" validate:"required"`
	HelpDetailID  *string        `json:"help_detail_id,omitempty"`
	Timeframe     Timeframe      `json:"timeframe" validate:"omitempty,oneof=now scheduled"`
	Duration      duration.Input `json:"duration"`
	ScheduledTime *time.Time     `json:"scheduled_time,omitempty"`
	Note          string         `json:"note" validate:"note"`
}

var draftMessages = map[string]string{
	"categoryId": "Choose a category.",
	"actionId":   "Choose what you need.",
	"timeframe":  "Choose now or a scheduled time.",
	"note":       "Note is too long.",
}

// Prepared is a draft that passed every precondition, ready to send.
type Prepared struct {
	Action taxonomy.Action
	Params gateway.CreateRequestParams
}

// Prepare checks the submission preconditions and builds the creation
// payload. It never calls the backend.
func (s *Service) Prepare(d Draft) (Prepared, error) {
	if err := s.check(d, draftMessages); err != nil {
		return Prepared{}, err
	}

	res := s.table.ResolveAction(d.CategoryID, d.ActionID)
	if !res.Resolved() {
		return Prepared{}, precondition("actionId", "Choose what you need.")
	}
	action := res.Action

	var helpDetailID *string
	if d.HelpDetailID != nil && strings.TrimSpace(*d.HelpDetailID) != "" {
		id := strings.TrimSpace(*d.HelpDetailID)
		helpDetailID = &id
	}
	if c, ok := s.table.Category(d.CategoryID); ok && c.RequiresProfile && helpDetailID == nil {
		return Prepared{}, precondition("help_detail_id", "Select who this request is for.")
	}

	minutes, err := s.resolveDuration(action.Type, d.Duration)
	if err != nil {
		return Prepared{}, err
	}

	now := s.current()
	scheduled := now
	if d.Timeframe == TimeframeScheduled {
		if d.ScheduledTime == nil || d.ScheduledTime.IsZero() {
			return Prepared{}, precondition("scheduled_time", "Pick a time.")
		}
		at := d.ScheduledTime.UTC()
		earliest := now.Truncate(time.Minute)
		latest := now.Add(s.cfg.ScheduleWindow)
		if at.Before(earliest) || at.After(latest) {
			days := int(s.cfg.ScheduleWindow / (24 * time.Hour))
			return Prepared{}, precondition("scheduled_time", fmt.Sprintf("Pick a time within the next %d days.", days))
		}
		scheduled = at
	}

	var details *string
	if note := strings.TrimSpace(d.Note); note != "" {
		details = &note
	}

	return Prepared{
		Action: action,
		Params: gateway.CreateRequestParams{
			CategoryID:    d.CategoryID,
			ActionID:      action.ID,
			RequestType:   string(action.Type),
			SubjectTag:    action.Tag,
			Details:       details,
			Duration:      minutes,
			ScheduledTime: scheduled.UTC().Truncate(time.Minute),
			HelpDetailID:  helpDetailID,
		},
	}, nil
}

func (s *Service) resolveDuration(kind taxonomy.RequestType, in duration.Input) (int, error) {
	if kind == taxonomy.TypeService && in.ServiceMinutes == 0 {
		in.ServiceMinutes = s.cfg.DefaultServiceMinutes
	}
	minutes, ok, err := s.resolver.Resolve(kind, in)
	if err != nil {
		return 0, &PreconditionError{Field: "duration", Message: "Pick a valid duration.", Err: err}
	}
	if !ok || minutes < 1 {
		if kind == taxonomy.TypeItem {
			return 0, precondition("duration", "Pick up and return dates are required.")
		}
		return 0, precondition("duration", "Pick a duration.")
	}
	return minutes, nil
}

// SubmitResult identifies the created request.
type SubmitResult struct {
	RequestID string `json:"request_id"`
}

// Submit validates the draft and issues exactly one creation call. A
// failure leaves the draft with the caller for resubmission.
func (s *Service) Submit(ctx context.Context, sess gateway.Session, d Draft) (SubmitResult, error) {
	const op = "submit_request"
	prepared, err := s.Prepare(d)
	if err != nil {
		return SubmitResult{}, s.rejected(ctx, op, err)
	}
	var id string
	err = s.run(ctx, sess.UserID+":submit", op, models.MetricRequestSubmitted, func() error {
		var err error
		id, err = s.backend.CreateRequest(ctx, sess, prepared.Params)
		return err
	}, projection.ScopeFeed)
	if err != nil {
		return SubmitResult{}, err
	}
	if s.logger != nil {
		s.logger.Infof("request %s created by %s (%s/%s, %d min)", id, sess.UserID, d.CategoryID, prepared.Action.ID, prepared.Params.Duration)
	}
	return SubmitResult{RequestID: id}, nil
}
