package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/api/dto"
	"github.com/spec-kit/request-engine/internal/service"
)

// AnalyticsHandler exposes assignment reporting.
type AnalyticsHandler struct {
	requests *service.RequestService
}

// NewAnalyticsHandler constructs handler.
func NewAnalyticsHandler(requests *service.RequestService) *AnalyticsHandler {
	return &AnalyticsHandler{requests: requests}
}

// Assignments GET /analytics/assignments?days=30.
func (h *AnalyticsHandler) Assignments(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	stats, err := h.requests.AssignmentAnalytics(c.UserContext(), viewer, c.QueryInt("days"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAssignmentAnalyticsResponse(stats)})
}
