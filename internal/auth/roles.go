package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/domain"
	apperrors "github.com/spec-kit/request-engine/pkg/util/errorutil"
)

// RequireRole ensures the principal holds one of the allowed organization roles.
func RequireRole(allowed ...domain.OrgRole) fiber.Handler {
	allowedSet := make(map[domain.OrgRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[principal.Role()]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// RequireRuleManager allows admins and superadmins.
func RequireRuleManager() fiber.Handler {
	return RequireRole(domain.RoleAdmin, domain.RoleSuperAdmin)
}
