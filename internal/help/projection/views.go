package projection

import (
	"time"

	"neighborly/internal/help/fsm"
	"neighborly/internal/help/taxonomy"
	"neighborly/internal/models"
)

// IsOpen reports whether a request still takes offers at now. A past expiry
// closes it whatever status the backend last reported.
func IsOpen(r models.HelpRequest, now time.Time) bool {
	if r.Status != fsm.RequestActive {
		return false
	}
	return r.ExpiresAt.IsZero() || r.ExpiresAt.After(now)
}

// Heading builds the card title: "<display name> - <action label>", falling
// back to whichever half exists, then to a generic title by request type.
func Heading(displayName, actionLabel, requestType string) string {
	heading := displayName
	if actionLabel != "" {
		if heading != "" {
			heading = heading + " - " + actionLabel
		} else {
			heading = actionLabel
		}
	}
	if heading == "" {
		if requestType == string(taxonomy.TypeItem) {
			return "Item Requested"
		}
		return "Service Requested"
	}
	return heading
}

// RequestCard is a request with everything a listing needs to render it.
type RequestCard struct {
	models.HelpRequest
	Heading     string            `json:"heading"`
	Branding    taxonomy.Branding `json:"branding"`
	ActionLabel string            `json:"action_label,omitempty"`
	IsMine      bool              `json:"is_mine"`
	HasMyOffer  bool              `json:"has_my_offer"`
	Closed      bool              `json:"closed"`
	ShowDetails bool              `json:"show_details"`
	WindowEnd   time.Time         `json:"window_end"`
}

// AssistCard is an assist decorated for the viewer.
type AssistCard struct {
	models.Assist
	Heading     string            `json:"heading"`
	Branding    taxonomy.Branding `json:"branding"`
	IsHelper    bool              `json:"is_helper"`
	Counterpart string            `json:"counterpart"`
	ExpectedEnd time.Time         `json:"expected_end"`
	NextStatus  string            `json:"next_status,omitempty"`
	IsCustom    bool              `json:"is_custom"`
}

// FeedView is the dashboard split of the neighborhood feed.
type FeedView struct {
	MyRequests   []RequestCard `json:"my_requests"`
	Neighborhood []RequestCard `json:"neighborhood_requests"`
	MyAssists    []AssistCard  `json:"my_assists"`
}

// Deriver turns backend rows into view models. It holds no state besides the
// taxonomy, so every call re-derives from scratch.
type Deriver struct {
	table *taxonomy.Table
}

func NewDeriver(table *taxonomy.Table) *Deriver {
	return &Deriver{table: table}
}

// RequestCard decorates a single request.
func (d *Deriver) RequestCard(r models.HelpRequest, viewerID string, hasMyOffer bool, now time.Time) RequestCard {
	label := d.table.ActionLabel(r.CategoryID, r.ActionID)
	return RequestCard{
		HelpRequest: r,
		Heading:     Heading(r.DisplayName, label, r.RequestType),
		Branding:    d.table.Branding(r.CategoryID),
		ActionLabel: label,
		IsMine:      viewerID != "" && r.SeekerID == viewerID,
		HasMyOffer:  hasMyOffer,
		Closed:      !IsOpen(r, now),
		ShowDetails: r.Details != "" && label == "",
		WindowEnd:   r.ScheduledTime.Add(time.Duration(r.Duration) * time.Minute),
	}
}

// AssistCard decorates a single assist for viewerID.
func (d *Deriver) AssistCard(a models.Assist, viewerID string) AssistCard {
	label := d.table.ActionLabel(a.CategoryID, a.ActionID)
	if label == "" {
		label = a.SubjectTag
	}
	isHelper := viewerID != "" && a.HelperID == viewerID
	card := AssistCard{
		Assist:      a,
		Heading:     Heading(a.DisplayName, label, a.RequestType),
		Branding:    d.table.Branding(a.CategoryID),
		IsHelper:    isHelper,
		ExpectedEnd: a.ScheduledTime.Add(time.Duration(a.ExpectedDuration) * time.Minute),
		IsCustom:    taxonomy.IsCustom(a.ActionID),
	}
	if isHelper {
		card.Counterpart = a.SeekerName
		card.NextStatus = fsm.NextAssistStatus(a.Status)
	} else {
		card.Counterpart = a.HelperName
	}
	return card
}

// Feed splits and filters a raw feed. Closed requests are dropped from both
// request lists; finished assists are dropped from the assist list. An empty
// categoryID keeps every category.
func (d *Deriver) Feed(f models.Feed, viewerID, categoryID string, now time.Time) FeedView {
	offered := make(map[string]struct{}, len(f.MyOfferIDs))
	for _, id := range f.MyOfferIDs {
		offered[id] = struct{}{}
	}
	view := FeedView{
		MyRequests:   []RequestCard{},
		Neighborhood: []RequestCard{},
		MyAssists:    []AssistCard{},
	}
	for _, r := range f.MyRequests {
		if !IsOpen(r, now) || (categoryID != "" && r.CategoryID != categoryID) {
			continue
		}
		view.MyRequests = append(view.MyRequests, d.RequestCard(r, viewerID, false, now))
	}
	for _, r := range f.Neighborhood {
		if !IsOpen(r, now) || (categoryID != "" && r.CategoryID != categoryID) {
			continue
		}
		if viewerID != "" && r.SeekerID == viewerID {
			continue
		}
		_, mine := offered[r.ID]
		view.Neighborhood = append(view.Neighborhood, d.RequestCard(r, viewerID, mine, now))
	}
	for _, a := range f.MyAssists {
		if a.Status == fsm.AssistCompleted || a.Status == fsm.AssistCancelled {
			continue
		}
		if categoryID != "" && a.CategoryID != categoryID {
			continue
		}
		view.MyAssists = append(view.MyAssists, d.AssistCard(a, viewerID))
	}
	return view
}
