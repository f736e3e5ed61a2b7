package httpadapter

import (
	"net/http"

	"github.com/stewmckendry/health-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrMisconfigured):
		return http.StatusInternalServerError
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrAllSourcesFailed),
		domain.IsKind(err, domain.ErrSourceUnavailable),
		domain.IsKind(err, domain.ErrSourceTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorKind(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_input"
	case domain.IsKind(err, domain.ErrMisconfigured):
		return "misconfigured"
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrAllSourcesFailed),
		domain.IsKind(err, domain.ErrSourceUnavailable),
		domain.IsKind(err, domain.ErrSourceTimeout):
		return "temporary"
	default:
		return "internal"
	}
}
