package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/backend"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/export"
	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/gitrepo"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// rejection reports whether err is a write the engine refused on its merits.
// Those are answered with result 0, not an HTTP error.
func rejection(err error) (code string, ok bool) {
	switch {
	case errors.Is(err, backend.ErrForbidden):
		return "FORBIDDEN", true
	case errors.Is(err, backend.ErrRowNotFound):
		return "ROW_NOT_FOUND", true
	case errors.Is(err, backend.ErrInvalidMove):
		return "INVALID_MOVE", true
	case errors.Is(err, backend.ErrStale):
		return "STALE", true
	}
	return "", false
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, backend.ErrUnknownAction):
		return http.StatusNotFound, "UNKNOWN_ACTION", err.Error(), nil
	case errors.Is(err, backend.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil
	case errors.Is(err, backend.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, backend.ErrRowNotFound), errors.Is(err, gitrepo.ErrNoHistory),
		errors.Is(err, gitrepo.ErrRevisionNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "EXPORT_UNAVAILABLE", "Plan could not be loaded for export", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_DEPENDENCY_MISSING", "PDF export is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
