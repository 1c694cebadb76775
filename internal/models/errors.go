package models

import (
	"errors"
)

var (
	ErrNoRecord        = errors.New("models: no matching record found")
	ErrForbidden       = errors.New("models: forbidden")
	ErrUnauthorized    = errors.New("models: unauthorized")
	ErrAlreadyOffered  = errors.New("models: helper already offered on this request")
	ErrRequestClosed   = errors.New("models: request is no longer open")
	ErrOfferNotPending = errors.New("models: offer is not pending")
)
