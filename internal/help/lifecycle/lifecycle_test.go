package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"neighborly/internal/help/duration"
	"neighborly/internal/help/fsm"
	"neighborly/internal/help/gateway"
	"neighborly/internal/help/gateway/gatewaytest"
	"neighborly/internal/help/projection"
	"neighborly/internal/help/taxonomy"
	"neighborly/internal/help/timeutil"
	"neighborly/internal/models"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[models.MetricName]int
}

func (m *recordingMetrics) Count(_ context.Context, name models.MetricName, _ string, val int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[models.MetricName]int)
	}
	m.counts[name] += val
	return nil
}

func (m *recordingMetrics) Distribution(context.Context, models.MetricName, string, int) error {
	return nil
}

func (m *recordingMetrics) Shutdown(context.Context) {}

func (m *recordingMetrics) get(name models.MetricName) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

type fixture struct {
	svc     *Service
	fake    *gatewaytest.Fake
	clock   *timeutil.ManualClock
	metrics *recordingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	table, err := taxonomy.Default()
	require.NoError(t, err)
	fake := gatewaytest.New()
	clock := timeutil.NewManualClock(now)
	proj := projection.New(fake, projection.NewMemoryStore(), time.Minute, clock, nil)
	m := &recordingMetrics{}
	svc := NewService(DefaultConfig(), table, duration.NewResolver(0, nil), fake, proj, m, nil)
	return &fixture{svc: svc, fake: fake, clock: clock, metrics: m}
}

func strPtr(s string) *string { return &s }

var (
	seeker = gateway.Session{UserID: "seeker", AccessToken: "t1"}
	helper = gateway.Session{UserID: "helper", AccessToken: "t2"}
	other  = gateway.Session{UserID: "other", AccessToken: "t3"}
)

func drillDraft() Draft {
	return Draft{
		CategoryID: "home_repair",
		ActionID:   "borrow_drill",
		Timeframe:  TimeframeNow,
		Duration:   duration.Input{Pickup: "2024-06-01", Return: "2024-06-03"},
	}
}

func walkDraft() Draft {
	return Draft{
		CategoryID:   "pet_care",
		ActionID:     "quick_walk",
		HelpDetailID: strPtr("pet-1"),
		Timeframe:    TimeframeNow,
		Duration:     duration.Input{ServiceMinutes: 30},
	}
}

func TestSubmitBorrowDrill(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Submit(context.Background(), seeker, drillDraft())
	require.NoError(t, err)
	require.NotEmpty(t, res.RequestID)

	require.Len(t, f.fake.Created, 1)
	want := gateway.CreateRequestParams{
		CategoryID:    "home_repair",
		ActionID:      "borrow_drill",
		RequestType:   "item",
		SubjectTag:    "Drill",
		Duration:      2880,
		ScheduledTime: now,
	}
	if diff := cmp.Diff(want, f.fake.Created[0]); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, f.metrics.get(models.MetricRequestSubmitted))
}

func TestSubmitPetCareWithoutDetailIsBlocked(t *testing.T) {
	f := newFixture(t)
	d := walkDraft()
	d.HelpDetailID = nil

	_, err := f.svc.Submit(context.Background(), seeker, d)
	pe, ok := AsPrecondition(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, "help_detail_id", pe.Field)
	require.Zero(t, f.fake.Total())
	require.Equal(t, 1, f.metrics.get(models.MetricPreconditionRejected))
}

func TestSubmitPreconditionsIndependently(t *testing.T) {
	past := now.Add(-time.Hour)
	late := now.Add(15 * 24 * time.Hour)
	cases := []struct {
		name   string
		base   func() Draft
		mutate func(*Draft)
		field  string
	}{
		{"missing category", drillDraft, func(d *Draft) { d.CategoryID = "" }, "categoryId"},
		{"missing action", drillDraft, func(d *Draft) { d.ActionID = "" }, "actionId"},
		{"unresolved action", drillDraft, func(d *Draft) { d.ActionID = "teleport" }, "actionId"},
		{"missing help detail", walkDraft, func(d *Draft) { d.HelpDetailID = strPtr("  ") }, "help_detail_id"},
		{"missing return date", drillDraft, func(d *Draft) { d.Duration.Return = "" }, "duration"},
		{"bad date", drillDraft, func(d *Draft) { d.Duration.Pickup = "June 1" }, "duration"},
		{"off-menu service duration", walkDraft, func(d *Draft) { d.Duration.ServiceMinutes = 45 }, "duration"},
		{"scheduled without time", drillDraft, func(d *Draft) { d.Timeframe = TimeframeScheduled }, "scheduled_time"},
		{"scheduled in the past", drillDraft, func(d *Draft) {
			d.Timeframe = TimeframeScheduled
			d.ScheduledTime = &past
		}, "scheduled_time"},
		{"scheduled too late", drillDraft, func(d *Draft) {
			d.Timeframe = TimeframeScheduled
			d.ScheduledTime = &late
		}, "scheduled_time"},
		{"unknown timeframe", drillDraft, func(d *Draft) { d.Timeframe = "later" }, "timeframe"},
		{"note too long", drillDraft, func(d *Draft) { d.Note = string(make([]rune, 281)) }, "note"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			d := tc.base()
			_, err := f.svc.Submit(context.Background(), seeker, d)
			require.NoError(t, err, "base draft must be valid")

			f = newFixture(t)
			tc.mutate(&d)
			_, err = f.svc.Submit(context.Background(), seeker, d)
			pe, ok := AsPrecondition(err)
			require.True(t, ok, "got %v", err)
			require.Equal(t, tc.field, pe.Field)
			require.Zero(t, f.fake.Total())
		})
	}
}

func TestSubmitScheduledAndCustom(t *testing.T) {
	f := newFixture(t)
	at := now.Add(48*time.Hour + 30*time.Second)
	d := Draft{
		CategoryID:    "home_repair",
		ActionID:      string(taxonomy.CustomService),
		Timeframe:     TimeframeScheduled,
		ScheduledTime: &at,
		Note:          "  fix a squeaky door  ",
	}
	_, err := f.svc.Submit(context.Background(), seeker, d)
	require.NoError(t, err)

	got := f.fake.Created[0]
	require.Equal(t, "service", got.RequestType)
	require.Equal(t, taxonomy.CustomTag, got.SubjectTag)
	require.Equal(t, 30, got.Duration)
	require.Equal(t, now.Add(48*time.Hour), got.ScheduledTime)
	require.NotNil(t, got.Details)
	require.Equal(t, "fix a squeaky door", *got.Details)
}

func TestSubmitRemoteFailureKeepsMessage(t *testing.T) {
	f := newFixture(t)
	f.fake.Err["CreateRequest"] = "You must be inside your neighborhood"
	_, err := f.svc.Submit(context.Background(), seeker, drillDraft())
	re, ok := gateway.AsRemote(err)
	require.True(t, ok)
	require.Equal(t, "You must be inside your neighborhood", re.Error())
	require.Equal(t, 1, f.metrics.get(models.MetricRemoteFailure))

	delete(f.fake.Err, "CreateRequest")
	_, err = f.svc.Submit(context.Background(), seeker, drillDraft())
	require.NoError(t, err)
	require.Equal(t, 2, f.fake.CallCount("CreateRequest"))
}

func TestSubmitInFlightRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.fake.Block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(context.Background(), seeker, drillDraft())
		done <- err
	}()
	require.Eventually(t, func() bool { return f.svc.guard.busy(seeker.UserID + ":submit") }, time.Second, time.Millisecond)

	_, err := f.svc.Submit(context.Background(), seeker, drillDraft())
	require.ErrorIs(t, err, ErrInFlight)

	close(f.fake.Block)
	require.NoError(t, <-done)
	require.Equal(t, 1, f.fake.CallCount("CreateRequest"))
	require.Equal(t, 1, f.metrics.get(models.MetricInFlightRejected))
}

func seedRequest(f *fixture, id string, expires time.Time) {
	f.fake.Requests[id] = models.HelpRequest{
		ID:          id,
		SeekerID:    seeker.UserID,
		CategoryID:  "home_repair",
		ActionID:    "borrow_drill",
		RequestType: "item",
		Status:      fsm.RequestActive,
		ExpiresAt:   expires,
	}
}

func TestOfferScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedRequest(f, "r1", now.Add(time.Hour))

	view, err := f.svc.Negotiation(ctx, helper, "r1")
	require.NoError(t, err)
	require.Equal(t, RoleHelper, view.Role)
	require.True(t, view.CanOffer)

	err = f.svc.SubmitOffer(ctx, helper, "r1", OfferInput{SharePhone: true})
	require.NoError(t, err)
	require.Len(t, f.fake.Submits, 1)
	require.Equal(t, fsm.OfferPending, f.fake.Submits[0].Status)
	require.Nil(t, f.fake.Submits[0].Note)

	view, err = f.svc.Negotiation(ctx, helper, "r1")
	require.NoError(t, err)
	require.Equal(t, RoleHelperWithOffer, view.Role)
	require.False(t, view.CanOffer)
	require.Equal(t, fsm.OfferPending, view.MyOffer.Status)

	err = f.svc.SubmitOffer(ctx, helper, "r1", OfferInput{ShareEmail: true})
	pe, ok := AsPrecondition(err)
	require.True(t, ok, "got %v", err)
	require.ErrorIs(t, pe, models.ErrAlreadyOffered)
	require.Equal(t, 1, f.fake.CallCount("SubmitOffer"))
}

func TestOfferNeedsContactMethod(t *testing.T) {
	f := newFixture(t)
	seedRequest(f, "r1", now.Add(time.Hour))

	err := f.svc.SubmitOffer(context.Background(), helper, "r1", OfferInput{Note: "happy to help"})
	pe, ok := AsPrecondition(err)
	require.True(t, ok)
	require.Equal(t, "Please share at least one contact method.", pe.Message)
	require.Zero(t, f.fake.Total())

	require.NoError(t, f.svc.SubmitOffer(context.Background(), helper, "r1", OfferInput{ShareEmail: true}))
}

func TestOfferAfterCancelledIsAllowed(t *testing.T) {
	f := newFixture(t)
	seedRequest(f, "r1", now.Add(time.Hour))
	f.fake.Offers["o0"] = models.Offer{ID: "o0", RequestID: "r1", HelperID: helper.UserID, Status: fsm.OfferCancelled}

	require.NoError(t, f.svc.SubmitOffer(context.Background(), helper, "r1", OfferInput{SharePhone: true}))
	require.Len(t, f.fake.Submits, 1)
}

func TestOfferOnOwnOrClosedRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedRequest(f, "r1", now.Add(time.Hour))
	seedRequest(f, "r2", now.Add(-time.Minute))

	err := f.svc.SubmitOffer(ctx, seeker, "r1", OfferInput{SharePhone: true})
	require.ErrorIs(t, err, models.ErrForbidden)

	err = f.svc.SubmitOffer(ctx, helper, "r2", OfferInput{SharePhone: true})
	require.ErrorIs(t, err, models.ErrRequestClosed)
	require.Zero(t, f.fake.CallCount("SubmitOffer"))

	view, err := f.svc.Negotiation(ctx, helper, "r2")
	require.NoError(t, err)
	require.True(t, view.Closed)
	require.False(t, view.CanOffer)
}

func TestRequestClosesWhenClockPassesExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedRequest(f, "r1", now.Add(10*time.Minute))

	view, err := f.svc.Negotiation(ctx, helper, "r1")
	require.NoError(t, err)
	require.False(t, view.Closed)

	f.clock.Advance(10 * time.Minute)
	view, err = f.svc.Negotiation(ctx, helper, "r1")
	require.NoError(t, err)
	require.True(t, view.Closed)
	require.False(t, view.CanOffer)
}

func TestAcceptOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedRequest(f, "r1", now.Add(time.Hour))
	require.NoError(t, f.svc.SubmitOffer(ctx, helper, "r1", OfferInput{SharePhone: true}))
	require.NoError(t, f.svc.SubmitOffer(ctx, other, "r1", OfferInput{ShareEmail: true}))

	view, err := f.svc.Negotiation(ctx, seeker, "r1")
	require.NoError(t, err)
	require.Equal(t, RoleOwner, view.Role)
	require.True(t, view.CanAccept)
	require.Len(t, view.Offers, 2)

	var target string
	for _, o := range view.Offers {
		if o.HelperID == helper.UserID {
			target = o.ID
		}
	}
	require.ErrorIs(t, f.svc.AcceptOffer(ctx, helper, "r1", target), models.ErrForbidden)
	require.NoError(t, f.svc.AcceptOffer(ctx, seeker, "r1", target))
	require.Equal(t, []string{target}, f.fake.Accepted)

	view, err = f.svc.Negotiation(ctx, seeker, "r1")
	require.NoError(t, err)
	require.True(t, view.Closed)
	require.False(t, view.CanAccept)
	require.Empty(t, view.Offers)

	err = f.svc.AcceptOffer(ctx, seeker, "r1", target)
	require.ErrorIs(t, err, models.ErrRequestClosed)
	require.Equal(t, 1, f.fake.CallCount("AcceptOffer"))
}

func TestAcceptUnknownOfferIsRejectedLocally(t *testing.T) {
	f := newFixture(t)
	seedRequest(f, "r1", now.Add(time.Hour))

	err := f.svc.AcceptOffer(context.Background(), seeker, "r1", "nope")
	require.ErrorIs(t, err, models.ErrOfferNotPending)
	require.Zero(t, f.fake.CallCount("AcceptOffer"))
	require.Equal(t, 2, f.fake.CallCount("ListPendingOffers"))
}

func TestAcceptRemoteFailureInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedRequest(f, "r1", now.Add(time.Hour))
	f.fake.Offers["o1"] = models.Offer{ID: "o1", RequestID: "r1", HelperID: helper.UserID, Status: fsm.OfferPending}
	f.fake.Err["AcceptOffer"] = "Request is no longer active"

	err := f.svc.AcceptOffer(ctx, seeker, "r1", "o1")
	re, ok := gateway.AsRemote(err)
	require.True(t, ok)
	require.Equal(t, "Request is no longer active", re.Message)

	reads := f.fake.CallCount("GetRequest")
	_, err = f.svc.Negotiation(ctx, seeker, "r1")
	require.NoError(t, err)
	require.Equal(t, reads+1, f.fake.CallCount("GetRequest"))
}

func seedAssist(f *fixture, id, status string) {
	f.fake.Assists[id] = models.Assist{
		ID:               id,
		RequestID:        "r1",
		SeekerID:         seeker.UserID,
		HelperID:         helper.UserID,
		SeekerName:       "Sam",
		HelperName:       "Hana",
		VerificationCode: "1234",
		ExpectedDuration: 30,
		Status:           status,
		ScheduledTime:    now,
	}
}

func TestAssistProgression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedAssist(f, "a1", fsm.AssistConfirmed)

	err := f.svc.AdvanceAssist(ctx, seeker, "a1", fsm.AssistInProgress)
	require.ErrorIs(t, err, models.ErrForbidden)

	err = f.svc.AdvanceAssist(ctx, helper, "a1", fsm.AssistCompleted)
	require.ErrorIs(t, err, fsm.ErrInvalidTransition)
	require.Zero(t, f.fake.CallCount("UpdateAssistStatus"))

	require.NoError(t, f.svc.AdvanceAssist(ctx, helper, "a1", fsm.AssistInProgress))
	card, err := f.svc.Assist(ctx, helper, "a1")
	require.NoError(t, err)
	require.Equal(t, fsm.AssistInProgress, card.Status)
	require.Equal(t, fsm.AssistCompleted, card.NextStatus)
	require.Equal(t, "Sam", card.Counterpart)

	err = f.svc.AdvanceAssist(ctx, helper, "a1", fsm.AssistConfirmed)
	require.ErrorIs(t, err, fsm.ErrInvalidTransition)

	require.NoError(t, f.svc.AdvanceAssist(ctx, helper, "a1", fsm.AssistCompleted))
	require.Equal(t, []string{"a1:in_progress", "a1:completed"}, f.fake.Advanced)

	err = f.svc.AdvanceAssist(ctx, helper, "a1", fsm.AssistCompleted)
	pe, ok := AsPrecondition(err)
	require.True(t, ok)
	require.Equal(t, "This assist is already finished.", pe.Message)
}

func TestAssistVisibility(t *testing.T) {
	f := newFixture(t)
	seedAssist(f, "a1", fsm.AssistConfirmed)

	card, err := f.svc.Assist(context.Background(), seeker, "a1")
	require.NoError(t, err)
	require.False(t, card.IsHelper)
	require.Equal(t, "Hana", card.Counterpart)
	require.Empty(t, card.NextStatus)
	require.Equal(t, now.Add(30*time.Minute), card.ExpectedEnd)

	_, err = f.svc.Assist(context.Background(), other, "a1")
	require.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.Assist(context.Background(), other, "missing")
	require.ErrorIs(t, err, models.ErrNoRecord)
}

func TestFeed(t *testing.T) {
	f := newFixture(t)
	f.fake.FeedData = models.Feed{
		MyRequests: []models.HelpRequest{
			{ID: "m1", SeekerID: seeker.UserID, CategoryID: "pet_care", Status: fsm.RequestActive, ExpiresAt: now.Add(time.Hour)},
		},
		Neighborhood: []models.HelpRequest{
			{ID: "n1", SeekerID: "x", CategoryID: "home_repair", Status: fsm.RequestActive, ExpiresAt: now.Add(time.Hour)},
			{ID: "n2", SeekerID: "x", CategoryID: "home_repair", Status: fsm.RequestActive, ExpiresAt: now.Add(-time.Hour)},
		},
		MyOfferIDs: []string{"n1"},
	}

	view, err := f.svc.Feed(context.Background(), seeker, "")
	require.NoError(t, err)
	require.Len(t, view.MyRequests, 1)
	require.Len(t, view.Neighborhood, 1)
	require.True(t, view.Neighborhood[0].HasMyOffer)

	view, err = f.svc.Feed(context.Background(), seeker, "home_repair")
	require.NoError(t, err)
	require.Empty(t, view.MyRequests)
	require.Len(t, view.Neighborhood, 1)

	_, err = f.svc.Feed(context.Background(), seeker, "nope")
	_, ok := AsPrecondition(err)
	require.True(t, ok)
}

func TestMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, err := f.svc.InviteCode(ctx, seeker)
	require.NoError(t, err)
	require.Equal(t, "INVITE42", code)

	code, err = f.svc.VouchHandshake(ctx, seeker)
	require.NoError(t, err)
	require.Equal(t, "482913", code)

	err = f.svc.Vouch(ctx, helper, " ")
	require.True(t, errors.Is(err, ErrVouchCode))
	require.Zero(t, f.fake.CallCount("VouchViaHandshake"))

	err = f.svc.Vouch(ctx, helper, "000000")
	re, ok := gateway.AsRemote(err)
	require.True(t, ok)
	require.Equal(t, "Invalid or expired code", re.Message)

	require.NoError(t, f.svc.Vouch(ctx, helper, "482913"))
}

func TestSubmitReadsClockSourceNotCachedReading(t *testing.T) {
	table, err := taxonomy.Default()
	require.NoError(t, err)
	fake := gatewaytest.New()
	src := timeutil.NewManualClock(now)
	clock := timeutil.NewRefreshingClock(src, time.Hour)
	proj := projection.New(fake, projection.NewMemoryStore(), time.Minute, clock, nil)
	svc := NewService(DefaultConfig(), table, duration.NewResolver(0, nil), fake, proj, nil, nil)
	ctx := context.Background()

	src.Advance(90 * time.Second)
	require.Equal(t, now, proj.Now())

	_, err = svc.Submit(ctx, seeker, drillDraft())
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Minute), fake.Created[0].ScheduledTime)

	past := now.Add(30 * time.Second)
	d := drillDraft()
	d.Timeframe = TimeframeScheduled
	d.ScheduledTime = &past
	_, err = svc.Submit(ctx, seeker, d)
	pe, ok := AsPrecondition(err)
	require.True(t, ok)
	require.Equal(t, "scheduled_time", pe.Field)
	require.Len(t, fake.Created, 1)
}
