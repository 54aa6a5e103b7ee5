package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashir-ayaz/container-service-cloud-platform/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the service error taxonomy to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrCatalogEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNameConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrImageNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPortExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRuntimeUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
