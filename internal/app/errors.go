package app

import (
	"errors"
	"net/http"

	"reviewflow/api/internal/apperr"
	"reviewflow/api/internal/store"
)

// forbiddenCodes are precondition failures about who is asking rather than
// about the state of the phase.
var forbiddenCodes = map[string]bool{
	"NOT_OWNER":          true,
	"OWNER_CANNOT_GRADE": true,
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		switch domainErr.Kind {
		case apperr.KindNotFound:
			status = http.StatusNotFound
		case apperr.KindConflict:
			status = http.StatusConflict
		case apperr.KindInvalidInput:
			status = http.StatusUnprocessableEntity
		case apperr.KindPreconditionFailed:
			status = http.StatusPreconditionFailed
			if forbiddenCodes[domainErr.Code] {
				status = http.StatusForbidden
			}
		case apperr.KindDependency:
			status = http.StatusBadGateway
		default:
			status = http.StatusInternalServerError
		}
		return status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
