package fsm

import "testing"

func TestAssistForwardOnly(t *testing.T) {
	if !CanAdvanceAssist(AssistConfirmed, AssistInProgress) {
		t.Fatal("expected confirmed -> in_progress to be allowed")
	}
	if !CanAdvanceAssist(AssistInProgress, AssistCompleted) {
		t.Fatal("expected in_progress -> completed to be allowed")
	}
	if CanAdvanceAssist(AssistConfirmed, AssistCompleted) {
		t.Fatal("skipping in_progress must be rejected")
	}
	if CanAdvanceAssist(AssistInProgress, AssistConfirmed) {
		t.Fatal("regression must be rejected")
	}
	if CanAdvanceAssist(AssistCompleted, AssistCompleted) {
		t.Fatal("completed is terminal")
	}
	if err := AdvanceAssist(AssistCancelled, AssistInProgress); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestNextAssistStatus(t *testing.T) {
	cases := map[string]string{
		AssistConfirmed:  AssistInProgress,
		AssistInProgress: AssistCompleted,
		AssistCompleted:  "",
		AssistCancelled:  "",
		"unknown":        "",
	}
	for from, want := range cases {
		if got := NextAssistStatus(from); got != want {
			t.Fatalf("NextAssistStatus(%q) = %q, want %q", from, got, want)
		}
	}
}

func TestOfferTransitions(t *testing.T) {
	if !CanTransitionOffer(OfferPending, OfferAccepted) {
		t.Fatal("expected pending -> accepted to be allowed")
	}
	if CanTransitionOffer(OfferDeclined, OfferPending) {
		t.Fatal("declined is terminal")
	}
	if OfferBlocksReoffer(OfferCancelled) || OfferBlocksReoffer("") {
		t.Fatal("cancelled or missing offer must not block")
	}
	if !OfferBlocksReoffer(OfferDeclined) || !OfferBlocksReoffer(OfferPending) {
		t.Fatal("pending and declined offers block a new offer")
	}
	if CanTransitionOffer("", OfferAccepted) {
		t.Fatal("unknown status must not be accepted")
	}
}
