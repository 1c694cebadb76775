package models

import "time"

// HelpRequest mirrors a row of the backend requests table. The service only
// reads it; every mutation goes through a remote procedure.
type HelpRequest struct {
	ID             string     `json:"id"`
	NeighborhoodID string     `json:"neighborhood_id,omitempty"`
	SeekerID       string     `json:"seeker_id"`
	CategoryID     string     `json:"category_id"`
	ActionID       string     `json:"action_id"`
	RequestType    string     `json:"request_type"`
	SubjectTag     string     `json:"subject_tag"`
	Details        string     `json:"details,omitempty"`
	ScheduledTime  time.Time  `json:"scheduled_time"`
	Duration       int        `json:"duration"`
	ExpiresAt      time.Time  `json:"expires_at"`
	Status         string     `json:"status"`
	StreetName     string     `json:"street_name"`
	HelpDetailID   *string    `json:"help_detail_id,omitempty"`
	DisplayName    string     `json:"display_name,omitempty"`
	Size           string     `json:"size,omitempty"`
	Temperament    []string   `json:"temperament,omitempty"`
	SpecialNeeds   string     `json:"special_needs,omitempty"`
	OfferCount     int        `json:"offer_count,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// HelpDetail is a profile-linked dependent record (a pet) that some
// categories require before a request can be created.
type HelpDetail struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Size         string   `json:"dog_size,omitempty"`
	PhotoURL     string   `json:"photo_url,omitempty"`
	Temperament  []string `json:"temperament,omitempty"`
	SpecialNeeds string   `json:"special_needs,omitempty"`
}
