// Package gatewaytest provides an in-memory Backend for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"neighborly/internal/help/fsm"
	"neighborly/internal/help/gateway"
	"neighborly/internal/models"
)

// Fake records every call and serves canned state. Set Err[name] to make the
// named method fail with a RemoteError carrying that message.
type Fake struct {
	mu sync.Mutex

	Requests    map[string]models.HelpRequest
	Offers      map[string]models.Offer
	Assists     map[string]models.Assist
	HelpDetails map[string][]models.HelpDetail
	FeedData    models.Feed
	Err         map[string]string

	Created  []gateway.CreateRequestParams
	Submits  []gateway.OfferParams
	Accepted []string
	Advanced []string
	Calls    map[string]int

	// Block, when set, is received from before a mutating call returns.
	Block chan struct{}

	seq int
}

func New() *Fake {
	return &Fake{
		Requests:    make(map[string]models.HelpRequest),
		Offers:      make(map[string]models.Offer),
		Assists:     make(map[string]models.Assist),
		HelpDetails: make(map[string][]models.HelpDetail),
		Err:         make(map[string]string),
		Calls:       make(map[string]int),
	}
}

// CallCount returns how often name was called.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}

// Total returns the number of calls across all methods.
func (f *Fake) Total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		n += c
	}
	return n
}

func (f *Fake) enter(name string) error {
	f.mu.Lock()
	f.Calls[name]++
	msg := f.Err[name]
	f.mu.Unlock()
	if msg != "" {
		return &gateway.RemoteError{Status: 400, Message: msg}
	}
	return nil
}

func (f *Fake) wait() {
	if f.Block != nil {
		<-f.Block
	}
}

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *Fake) CreateRequest(_ context.Context, s gateway.Session, p gateway.CreateRequestParams) (string, error) {
	if err := f.enter("CreateRequest"); err != nil {
		return "", err
	}
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Created = append(f.Created, p)
	id := f.nextID("req")
	f.Requests[id] = models.HelpRequest{
		ID: id, SeekerID: s.UserID, CategoryID: p.CategoryID, ActionID: p.ActionID,
		RequestType: p.RequestType, SubjectTag: p.SubjectTag, Duration: p.Duration,
		ScheduledTime: p.ScheduledTime, Status: fsm.RequestActive, HelpDetailID: p.HelpDetailID,
	}
	return id, nil
}

func (f *Fake) GetRequest(_ context.Context, _ gateway.Session, id string) (models.HelpRequest, error) {
	if err := f.enter("GetRequest"); err != nil {
		return models.HelpRequest{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Requests[id]
	if !ok {
		return models.HelpRequest{}, models.ErrNoRecord
	}
	return r, nil
}

func (f *Fake) ListHelpDetails(_ context.Context, s gateway.Session) ([]models.HelpDetail, error) {
	if err := f.enter("ListHelpDetails"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.HelpDetail(nil), f.HelpDetails[s.UserID]...), nil
}

func (f *Fake) ListPendingOffers(_ context.Context, _ gateway.Session, requestID string) ([]models.Offer, error) {
	if err := f.enter("ListPendingOffers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Offer{}
	for _, o := range f.Offers {
		if o.RequestID == requestID && o.Status == fsm.OfferPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *Fake) GetMyOffer(_ context.Context, s gateway.Session, requestID string) (*models.Offer, error) {
	if err := f.enter("GetMyOffer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *models.Offer
	for _, o := range f.Offers {
		if o.RequestID == requestID && o.HelperID == s.UserID {
			o := o
			if found == nil || o.Status != fsm.OfferCancelled {
				found = &o
			}
		}
	}
	return found, nil
}

func (f *Fake) SubmitOffer(_ context.Context, _ gateway.Session, p gateway.OfferParams) error {
	if err := f.enter("SubmitOffer"); err != nil {
		return err
	}
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.Offers {
		if o.RequestID == p.RequestID && o.HelperID == p.HelperID && o.Status != fsm.OfferCancelled {
			return &gateway.RemoteError{Status: 409, Message: "duplicate key value violates unique constraint"}
		}
	}
	f.Submits = append(f.Submits, p)
	id := f.nextID("offer")
	f.Offers[id] = models.Offer{
		ID: id, RequestID: p.RequestID, HelperID: p.HelperID, Note: p.Note,
		SharePhone: p.SharePhone, ShareEmail: p.ShareEmail, Status: p.Status,
	}
	return nil
}

func (f *Fake) AcceptOffer(_ context.Context, _ gateway.Session, offerID string) error {
	if err := f.enter("AcceptOffer"); err != nil {
		return err
	}
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.Offers[offerID]
	if !ok || o.Status != fsm.OfferPending {
		return &gateway.RemoteError{Status: 400, Message: "Offer is no longer pending"}
	}
	f.Accepted = append(f.Accepted, offerID)
	for id, other := range f.Offers {
		if other.RequestID == o.RequestID && other.Status == fsm.OfferPending {
			other.Status = fsm.OfferDeclined
			f.Offers[id] = other
		}
	}
	o.Status = fsm.OfferAccepted
	f.Offers[offerID] = o
	if r, ok := f.Requests[o.RequestID]; ok {
		r.Status = fsm.RequestFilled
		f.Requests[o.RequestID] = r
	}
	aid := f.nextID("assist")
	f.Assists[aid] = models.Assist{
		ID: aid, RequestID: o.RequestID, OfferID: &offerID, HelperID: o.HelperID,
		SeekerID: f.Requests[o.RequestID].SeekerID, Status: fsm.AssistConfirmed,
	}
	return nil
}

func (f *Fake) GetAssist(_ context.Context, _ gateway.Session, id string) (models.Assist, error) {
	if err := f.enter("GetAssist"); err != nil {
		return models.Assist{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Assists[id]
	if !ok {
		return models.Assist{}, models.ErrNoRecord
	}
	return a, nil
}

func (f *Fake) UpdateAssistStatus(_ context.Context, _ gateway.Session, id, status string) error {
	if err := f.enter("UpdateAssistStatus"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Assists[id]
	if !ok {
		return &gateway.RemoteError{Status: 404, Message: "Assist not found"}
	}
	f.Advanced = append(f.Advanced, id+":"+status)
	a.Status = status
	f.Assists[id] = a
	return nil
}

func (f *Fake) Feed(_ context.Context, _ gateway.Session) (models.Feed, error) {
	if err := f.enter("Feed"); err != nil {
		return models.Feed{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FeedData, nil
}

func (f *Fake) GenerateInviteCode(context.Context, gateway.Session) (string, error) {
	if err := f.enter("GenerateInviteCode"); err != nil {
		return "", err
	}
	return "INVITE42", nil
}

func (f *Fake) RequestVouchHandshake(context.Context, gateway.Session) (string, error) {
	if err := f.enter("RequestVouchHandshake"); err != nil {
		return "", err
	}
	return "482913", nil
}

func (f *Fake) VouchViaHandshake(_ context.Context, _ gateway.Session, code string) error {
	if err := f.enter("VouchViaHandshake"); err != nil {
		return err
	}
	if code != "482913" {
		return &gateway.RemoteError{Status: 400, Message: "Invalid or expired code"}
	}
	return nil
}

var _ gateway.Backend = (*Fake)(nil)
