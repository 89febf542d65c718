package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/api/dto"
	"github.com/spec-kit/request-engine/internal/service"
	apperrors "github.com/spec-kit/request-engine/pkg/util/errorutil"
)

// RulesHandler exposes assignment rule management.
type RulesHandler struct {
	rules *service.RuleService
}

// NewRulesHandler constructs handler.
func NewRulesHandler(rules *service.RuleService) *RulesHandler {
	return &RulesHandler{rules: rules}
}

// List GET /request-types/:typeId/rules. Managers may add ?include_inactive=true.
func (h *RulesHandler) List(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	typeID := c.Params("typeId")
	if c.QueryBool("include_inactive") {
		rules, err := h.rules.ListRules(c.UserContext(), viewer, typeID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": dto.NewRuleResponses(rules)})
	}
	rules, err := h.rules.GetEligibleRules(c.UserContext(), viewer, typeID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRuleResponses(rules)})
}

// Create POST /request-types/:typeId/rules.
func (h *RulesHandler) Create(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	var body dto.RuleRequest
	if err := c.BodyParser(&body); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	rule, err := h.rules.Create(c.UserContext(), viewer, c.Params("typeId"), ruleInput(body))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewRuleResponse(rule)})
}

// Update PUT /rules/:id.
func (h *RulesHandler) Update(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	var body dto.RuleRequest
	if err := c.BodyParser(&body); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	rule, err := h.rules.Update(c.UserContext(), viewer, c.Params("id"), ruleInput(body))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRuleResponse(rule)})
}

// Delete DELETE /rules/:id.
func (h *RulesHandler) Delete(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	if err := h.rules.Delete(c.UserContext(), viewer, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Reorder POST /request-types/:typeId/rules/reorder.
func (h *RulesHandler) Reorder(c *fiber.Ctx) error {
	viewer, err := viewerFrom(c)
	if err != nil {
		return err
	}
	var body dto.ReorderRulesRequest
	if err := c.BodyParser(&body); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if len(body.RuleIDs) == 0 {
		return apperrors.NewValidationError("rule_ids required", nil)
	}
	rules, err := h.rules.Reorder(c.UserContext(), viewer, c.Params("typeId"), body.RuleIDs)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewRuleResponses(rules)})
}

func ruleInput(body dto.RuleRequest) service.RuleInput {
	return service.RuleInput{
		Name:       body.RuleName,
		Type:       body.RuleType,
		Strategy:   body.AssignmentStrategy,
		IsActive:   body.IsActive,
		Conditions: body.Conditions,
		Escalation: body.EscalationRules,
	}
}
