package http

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/domain"
	apperrors "github.com/spec-kit/request-engine/pkg/util/errorutil"
)

// toDomainError maps engine errors onto the API error envelope.
func toDomainError(err error) *apperrors.DomainError {
	var (
		accepted   *domain.AlreadyAcceptedError
		transition *domain.InvalidTransitionError
		domainErr  *apperrors.DomainError
		fiberErr   *fiber.Error
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr
	case errors.As(err, &accepted):
		return apperrors.NewDomainError(apperrors.CodeAlreadyAccepted, err.Error(), http.StatusConflict,
			map[string]any{"accepted_by": accepted.By})
	case errors.As(err, &transition):
		return apperrors.NewDomainError(apperrors.CodeInvalidTransition, err.Error(), http.StatusConflict,
			map[string]any{"from": string(transition.From), "to": string(transition.To)})
	case errors.Is(err, domain.ErrNotEligible):
		return apperrors.NewDomainError(apperrors.CodeNotEligible, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, domain.ErrNotAcceptor):
		return apperrors.NewDomainError(apperrors.CodeNotAcceptor, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, domain.ErrNotFound):
		return apperrors.NewDomainError(apperrors.CodeNotFound, "resource not found", http.StatusNotFound, nil)
	case errors.Is(err, domain.ErrInvalidRule):
		return apperrors.NewDomainError(apperrors.CodeValidationFailed, err.Error(), http.StatusBadRequest, nil)
	case errors.As(err, &fiberErr):
		return apperrors.NewDomainError(fiberCode(fiberErr.Code), fiberErr.Message, fiberErr.Code, nil)
	}
	return apperrors.ToDomainError(err)
}

func fiberCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity, http.StatusBadRequest:
		return "VALIDATION_FAILED"
	}
	if status >= 500 {
		return "INTERNAL_ERROR"
	}
	return "REQUEST_FAILED"
}
