package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/api/dto"
	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/service"
	apperrors "github.com/spec-kit/request-engine/pkg/util/errorutil"
)

// RequestsHandler exposes the request lifecycle.
type RequestsHandler struct {
	requests   *service.RequestService
	acceptance *service.AcceptanceService
}

// NewRequestsHandler constructs handler.
func NewRequestsHandler(requests *service.RequestService, acceptance *service.AcceptanceService) *RequestsHandler {
	return &RequestsHandler{requests: requests, acceptance: acceptance}
}

// Create POST /requests.
func (h *RequestsHandler) Create(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreateRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	created, err := h.requests.Create(c.UserContext(), viewer, service.CreateRequestInput{
		RequestTypeID: req.RequestTypeID,
		Title:         req.Title,
		Description:   req.Description,
		Priority:      req.Priority,
		FormData:      req.FormData,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewRequestResponse(created)})
}

// Get GET /requests/:id.
func (h *RequestsHandler) Get(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	req, err := h.requests.Get(c.UserContext(), viewer, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRequestResponse(req)})
}

// Accept POST /requests/:id/accept.
func (h *RequestsHandler) Accept(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	if _, err := h.requests.Get(c.UserContext(), viewer, c.Params("id")); err != nil {
		return err
	}
	req, err := h.acceptance.Accept(c.UserContext(), c.Params("id"), viewer.MemberID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRequestResponse(req)})
}

// Complete POST /requests/:id/complete.
func (h *RequestsHandler) Complete(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	var body dto.CompleteRequestRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if _, err := h.requests.Get(c.UserContext(), viewer, c.Params("id")); err != nil {
		return err
	}
	req, err := h.acceptance.Complete(c.UserContext(), c.Params("id"), viewer.MemberID, body.Notes)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRequestResponse(req)})
}

// Cancel POST /requests/:id/cancel.
func (h *RequestsHandler) Cancel(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	var body dto.CancelRequestRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	req, err := h.requests.Cancel(c.UserContext(), viewer, c.Params("id"), body.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRequestResponse(req)})
}

// Timeline GET /requests/:id/timeline.
func (h *RequestsHandler) Timeline(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	entries, err := h.requests.GetTimeline(c.UserContext(), viewer, c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.TimelineEntry, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewTimelineEntry(entry))
	}
	return c.JSON(fiber.Map{"data": items})
}

// AddComment POST /requests/:id/comments.
func (h *RequestsHandler) AddComment(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	var body dto.AddCommentRequest
	if err := c.BodyParser(&body); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	entry, err := h.requests.AddComment(c.UserContext(), viewer, c.Params("id"), body.Content, body.IsInternal)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTimelineEntry(*entry)})
}

func viewerFrom(c *fiber.Ctx) (service.Viewer, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return service.Viewer{}, apperrors.NewUnauthorized("authentication required")
	}
	return service.ViewerOf(principal.Member), nil
}
