package server

import (
	"net/http"

	"github.com/researchintegrity/elis-backend/errors"
)

// writeDomainError maps domain sentinel errors to HTTP status codes.
// Unrecognized errors become 500 with the error text preserved; terminal
// failures are never silently truncated.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.IsInvalidConfigError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.IsForbiddenError(err):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errors.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.IsCollaboratorUnavailableError(err):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
