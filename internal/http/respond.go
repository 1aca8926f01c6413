package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

type errorBody struct {
	Error        string        `json:"error"`
	Message      string        `json:"message,omitempty"`
	Remediation  string        `json:"remediation,omitempty"`
	CurrentRole  domain.Role   `json:"current_role,omitempty"`
	AllowedRoles []domain.Role `json:"allowed_roles,omitempty"`
	OfferingID   string        `json:"offering_id,omitempty"`
	Requested    int           `json:"requested,omitempty"`
	Available    *int          `json:"available,omitempty"`
	Selection    interface{}   `json:"selection,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeDenied(w http.ResponseWriter, d domain.Decision, allowed []domain.Role) {
	if d.Reason == domain.ReasonNotAuthenticated {
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error:       string(domain.KindNotAuthenticated),
			Message:     "sign in to continue",
			Remediation: "sign_in",
		})
		return
	}
	writeJSON(w, http.StatusForbidden, errorBody{
		Error:        string(domain.KindRoleNotAllowed),
		Message:      "current role cannot access this resource",
		Remediation:  "switch_role",
		CurrentRole:  d.CurrentRole,
		AllowedRoles: allowed,
	})
}

// decode reads a JSON body into v and runs struct validation.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func statusOf(err error) (int, string) {
	if kind, ok := domain.KindOf(err); ok {
		switch kind {
		case domain.KindExceedsAvailability, domain.KindExceedsLimit:
			return http.StatusConflict, string(kind)
		case domain.KindUnknownOffering:
			return http.StatusNotFound, string(kind)
		case domain.KindEmptySelection, domain.KindInvalidQuantity:
			return http.StatusUnprocessableEntity, string(kind)
		case domain.KindNotAuthenticated:
			return http.StatusUnauthorized, string(kind)
		case domain.KindRoleNotAllowed:
			return http.StatusForbidden, string(kind)
		}
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrSerializationFailure):
		return http.StatusConflict, "retry"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "invalid_input"
	}
	return http.StatusInternalServerError, "internal"
}

// writeSelectionError reports a rejected selection change together with the
// selection as it stood before the change.
func writeSelectionError(w http.ResponseWriter, err error, selection interface{}) {
	status, code := statusOf(err)
	body := errorBody{Error: code, Message: err.Error(), Selection: selection}
	var de *domain.Error
	if errors.As(err, &de) {
		body.OfferingID = de.OfferingID
		body.Requested = de.Requested
		if de.Kind == domain.KindExceedsAvailability || de.Kind == domain.KindExceedsLimit {
			available := de.Available
			body.Available = &available
		}
	}
	writeJSON(w, status, body)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		LoggerFrom(r.Context(), h.logger).Error("request failed: ", err)
		message = "internal error"
	}
	writeError(w, status, code, message)
}
