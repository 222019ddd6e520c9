package app

import (
	"fmt"
	"net/http"
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

// Is matches on Code so callers can compare against the sentinels below even
// when the message or details differ.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrNotFound      = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	ErrForbidden     = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	ErrInvalidParent = domainError(http.StatusUnprocessableEntity, "INVALID_PARENT", "Parent comment does not belong to this task", nil)
	ErrTeamMismatch  = domainError(http.StatusForbidden, "TEAM_MISMATCH", "You can only send messages to your own team", nil)
	ErrNoTeam        = domainError(http.StatusBadRequest, "NO_TEAM", "You are not assigned to any team", nil)
	ErrValidation    = domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", nil)
)

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}
