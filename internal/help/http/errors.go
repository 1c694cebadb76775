package helphttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"neighborly/internal/help/gateway"
	"neighborly/internal/help/lifecycle"
	"neighborly/internal/help/wizard"
	"neighborly/internal/models"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeFailure maps a workflow error onto a status code. Backend messages
// pass through untouched.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if pe, ok := lifecycle.AsPrecondition(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: pe.Message, Field: pe.Field})
		return
	}
	if re, ok := gateway.AsRemote(err); ok {
		writeError(w, http.StatusBadGateway, re.Message)
		return
	}
	switch {
	case errors.Is(err, lifecycle.ErrInFlight):
		writeError(w, http.StatusConflict, "This action is already in progress.")
	case errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusForbidden, "You are not allowed to do that.")
	case errors.Is(err, models.ErrNoRecord):
		writeError(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, models.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Sign in to continue.")
	case errors.Is(err, wizard.ErrWrongStep), errors.Is(err, wizard.ErrUnknownCategory), errors.Is(err, wizard.ErrUnknownAction):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, gateway.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "Backend is not configured.")
	default:
		if s.logger != nil {
			s.logger.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		}
		writeError(w, http.StatusInternalServerError, "Something went wrong.")
	}
}
