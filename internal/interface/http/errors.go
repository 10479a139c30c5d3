package http

import (
	"errors"

	"github.com/housecup/points-engine/internal/domain/shared"
	"github.com/housecup/points-engine/pkg/apierror"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// preconditionCodes names the business rules clients branch on.
var preconditionCodes = []struct {
	err  error
	code string
}{
	{shared.ErrInsufficientPoints, "INSUFFICIENT_POINTS"},
	{shared.ErrOutOfStock, "OUT_OF_STOCK"},
	{shared.ErrItemInactive, "ITEM_INACTIVE"},
	{shared.ErrHouseMismatch, "HOUSE_MISMATCH"},
	{shared.ErrNotAStudent, "NOT_A_STUDENT"},
	{shared.ErrStudentHasNoHouse, "STUDENT_HAS_NO_HOUSE"},
}

// toAPIError translates an engine error into its HTTP form. Contention is
// checked before conflict: both are 409 but only contention asks for a retry.
func toAPIError(err error) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var domainErr *shared.DomainError
	message := err.Error()
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}

	switch {
	case shared.IsValidation(err):
		return apierror.ValidationError(message)
	case errors.Is(err, shared.ErrUnauthorized):
		return apierror.Unauthorized(message)
	case errors.Is(err, shared.ErrForbidden):
		return apierror.Forbidden(message)
	case shared.IsNotFound(err):
		return apierror.NotFound(message)
	}

	for _, pc := range preconditionCodes {
		if errors.Is(err, pc.err) {
			return apierror.PreconditionFailed(pc.code, message)
		}
	}

	switch {
	case errors.Is(err, shared.ErrRequestNotPending), errors.Is(err, shared.ErrPurchaseNotPending):
		return apierror.Conflict(message)
	case shared.IsPrecondition(err):
		return apierror.PreconditionFailed("PRECONDITION_FAILED", message)
	case shared.IsAlreadyExists(err):
		return apierror.Conflict(message)
	case shared.IsContention(err):
		return apierror.Contention("The operation kept conflicting with concurrent updates, retry shortly")
	case shared.IsConflict(err):
		return apierror.Conflict(message)
	case shared.IsCommitUnknown(err):
		return apierror.CommitUnknown("The store lost contact while committing; check whether the change was applied before retrying")
	case shared.IsUnavailable(err):
		return apierror.ServiceUnavailable("")
	}
	return apierror.InternalError("")
}
