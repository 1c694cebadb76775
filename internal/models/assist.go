package models

import "time"

// Assist is the engagement the backend creates once an offer is accepted.
type Assist struct {
	ID               string     `json:"id"`
	RequestID        string     `json:"request_id"`
	OfferID          *string    `json:"offer_id,omitempty"`
	SeekerID         string     `json:"seeker_id"`
	HelperID         string     `json:"helper_id"`
	SeekerName       string     `json:"seeker_name,omitempty"`
	HelperName       string     `json:"helper_name,omitempty"`
	VerificationCode string     `json:"verification_code"`
	ExpectedDuration int        `json:"expected_duration"`
	Status           string     `json:"status"`
	CategoryID       string     `json:"category_id,omitempty"`
	ActionID         string     `json:"action_id,omitempty"`
	RequestType      string     `json:"request_type,omitempty"`
	SubjectTag       string     `json:"subject_tag,omitempty"`
	Details          string     `json:"details,omitempty"`
	ScheduledTime    time.Time  `json:"scheduled_time"`
	DisplayName      string     `json:"display_name,omitempty"`
	Size             string     `json:"size,omitempty"`
	Temperament      []string   `json:"temperament,omitempty"`
	SpecialNeeds     string     `json:"special_needs,omitempty"`
	Snapshot         *Snapshot  `json:"snapshot_data,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
}

// Snapshot is the copy of the help detail taken when the request was made.
type Snapshot struct {
	Name         string   `json:"name"`
	Size         string   `json:"size"`
	Temperament  []string `json:"temperament"`
	SpecialNeeds string   `json:"special_needs"`
}

// ApplySnapshot lifts the snapshot fields onto the assist so callers do not
// need to know where they came from.
func (a *Assist) ApplySnapshot() {
	if a.Snapshot == nil {
		return
	}
	a.DisplayName = a.Snapshot.Name
	a.Size = a.Snapshot.Size
	a.Temperament = a.Snapshot.Temperament
	a.SpecialNeeds = a.Snapshot.SpecialNeeds
}

// Feed is the neighborhood feed snapshot returned by the backend.
type Feed struct {
	MyRequests   []HelpRequest `json:"my_requests"`
	Neighborhood []HelpRequest `json:"neighborhood_requests"`
	MyAssists    []Assist      `json:"my_assists"`
	MyOfferIDs   []string      `json:"my_offer_request_ids"`
}
