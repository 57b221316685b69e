package app

import (
	"errors"
	"fmt"
	"net/http"

	"slateboard/core/internal/gate"
	"slateboard/core/internal/permission"
)

// ErrNotOwner means a non-owner tried to change a room's permission
// configuration.
var ErrNotOwner = errors.New("not room owner")

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

// mapError turns service errors into HTTP responses. Remote write
// failures are retryable and say so; batch denials carry the denied
// count.
func mapError(err error) *DomainError {
	var domain *DomainError
	switch {
	case errors.As(err, &domain):
		return domain
	case errors.Is(err, ErrNotOwner):
		return domainError(http.StatusForbidden, "NOT_OWNER", "Only the room owner can change permissions", nil)
	case errors.Is(err, permission.ErrRemoteWrite):
		return domainError(http.StatusBadGateway, "REMOTE_WRITE_FAILED", "Permission change did not persist; retry", nil)
	case errors.Is(err, gate.ErrAllDenied):
		return domainError(http.StatusForbidden, "ALL_DENIED", "Every item in the batch was denied", nil)
	case errors.Is(err, gate.ErrLockHeld):
		return domainError(http.StatusForbidden, "LOCK_HELD", "Item is locked by another participant", nil)
	case errors.Is(err, gate.ErrNotAllowed):
		return domainError(http.StatusForbidden, "NOT_ALLOWED", "Permission level does not allow this action", nil)
	default:
		return domainError(http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
	}
}
