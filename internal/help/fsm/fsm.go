package fsm

import "errors"

// Request statuses.
const (
	RequestActive    = "active"
	RequestFilled    = "filled"
	RequestExpired   = "expired"
	RequestCancelled = "cancelled"
	RequestArchived  = "archived"
)

// Offer statuses.
const (
	OfferPending   = "pending"
	OfferAccepted  = "accepted"
	OfferDeclined  = "declined"
	OfferCancelled = "cancelled"
)

// Assist statuses.
const (
	AssistConfirmed  = "confirmed"
	AssistInProgress = "in_progress"
	AssistCompleted  = "completed"
	AssistCancelled  = "cancelled"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// assistTransitions lists what a helper may request. Only the immediate next
// status is reachable; cancellation is a backend decision.
var assistTransitions = map[string]map[string]struct{}{
	AssistConfirmed:  {AssistInProgress: {}},
	AssistInProgress: {AssistCompleted: {}},
	AssistCompleted:  {},
	AssistCancelled:  {},
}

// offerTransitions mirrors what the backend does to an offer.
var offerTransitions = map[string]map[string]struct{}{
	OfferPending: {
		OfferAccepted:  {},
		OfferDeclined:  {},
		OfferCancelled: {},
	},
	OfferAccepted:  {},
	OfferDeclined:  {},
	OfferCancelled: {},
}

// CanAdvanceAssist reports whether a helper may move an assist from one
// status to another.
func CanAdvanceAssist(from, to string) bool {
	return allowed(assistTransitions, from, to)
}

// CanTransitionOffer reports whether an offer can move between statuses.
func CanTransitionOffer(from, to string) bool {
	return allowed(offerTransitions, from, to)
}

// NextAssistStatus returns the single forward status for an assist, or ""
// when the assist is terminal.
func NextAssistStatus(current string) string {
	switch current {
	case AssistConfirmed:
		return AssistInProgress
	case AssistInProgress:
		return AssistCompleted
	default:
		return ""
	}
}

// AdvanceAssist validates a helper-requested change.
func AdvanceAssist(from, to string) error {
	if !CanAdvanceAssist(from, to) {
		return ErrInvalidTransition
	}
	return nil
}

// OfferBlocksReoffer reports whether an existing offer in this status keeps
// the helper from offering again on the same request.
func OfferBlocksReoffer(status string) bool {
	return status != "" && status != OfferCancelled
}

func allowed(table map[string]map[string]struct{}, from, to string) bool {
	next, ok := table[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}
