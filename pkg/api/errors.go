package api

import (
	"errors"
	"net/http"

	"github.com/tcmartin/devportal/pkg/crm"
	"github.com/tcmartin/devportal/pkg/docs"
	"github.com/tcmartin/devportal/pkg/logging"
	"github.com/tcmartin/devportal/pkg/services"
	"github.com/tcmartin/devportal/pkg/storage"
	"github.com/tcmartin/devportal/pkg/utils"
	"github.com/tcmartin/devportal/pkg/workspace"
)

// statusFor maps a service error to an HTTP status and a client message
func statusFor(err error) (int, string) {
	var verr *services.ValidationError
	var serr *utils.StatusError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, workspace.ErrNotMember),
		errors.Is(err, services.ErrInvalidInvitationToken):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, storage.ErrKeyNotFound),
		errors.Is(err, storage.ErrInvitationNotFound),
		errors.Is(err, docs.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrInvitationAccepted),
		errors.Is(err, services.ErrInvitationExpired):
		return http.StatusGone, err.Error()
	case errors.Is(err, crm.ErrUnknownProvider):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, crm.ErrMissingCredentials):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &serr):
		return http.StatusBadGateway, "upstream service error"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError writes {"error": ...} for err
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error("request failed",
			logging.F("path", r.URL.Path), logging.Err(err))
	}
	writeJSON(w, status, map[string]string{"error": message})
}
