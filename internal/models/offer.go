package models

import "time"

type Offer struct {
	ID                string     `json:"id"`
	RequestID         string     `json:"request_id"`
	HelperID          string     `json:"helper_id"`
	HelperDisplayName string     `json:"helper_display_name,omitempty"`
	Note              *string    `json:"note,omitempty"`
	SharePhone        bool       `json:"share_phone"`
	ShareEmail        bool       `json:"share_email"`
	Status            string     `json:"status"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
}
