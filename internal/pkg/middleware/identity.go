package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/visionboardai/visionboard/internal/pkg/identity"
	"github.com/visionboardai/visionboard/internal/pkg/session"
	"github.com/visionboardai/visionboard/internal/pkg/usercontext"
)

// IdentityMiddleware resolves every request to a profile: an authenticated
// session wins, otherwise the X-Visitor-Id fingerprint header. Requests with
// neither pass through unresolved and are stopped later by RequireIdentity.
func IdentityMiddleware(svc *identity.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Goth keeps its own session store on /auth/*; stay out of the way.
		if strings.HasPrefix(c.Path(), "/auth/") {
			return c.Next()
		}

		if authUserID := session.GetSessionValue(c, usercontext.KeyAuthUserID); authUserID != "" {
			profile, err := svc.ResolveAuthenticated(c.UserContext(), authUserID)
			if err != nil {
				log.Errorf("identity: resolve auth user %q failed: %v", authUserID, err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error":   "internal_server_error",
					"message": "identity resolution failed",
				})
			}
			c.Locals(usercontext.KeyIdentity, usercontext.Identity{
				ProfileID:       profile.ID,
				AuthUserID:      authUserID,
				VisitorID:       strings.TrimSpace(c.Get(usercontext.VisitorIDHeader)),
				IsAuthenticated: true,
			})
			return c.Next()
		}

		if visitorID := strings.TrimSpace(c.Get(usercontext.VisitorIDHeader)); visitorID != "" {
			profile, err := svc.ResolveVisitor(c.UserContext(), visitorID)
			if err != nil {
				log.Errorf("identity: resolve visitor %q failed: %v", visitorID, err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error":   "internal_server_error",
					"message": "identity resolution failed",
				})
			}
			c.Locals(usercontext.KeyIdentity, usercontext.Identity{
				ProfileID: profile.ID,
				VisitorID: visitorID,
			})
			return c.Next()
		}

		return c.Next()
	}
}

// RequireIdentity rejects requests that resolved to no profile at all.
// Runs before any side effect.
func RequireIdentity(c *fiber.Ctx) error {
	if !usercontext.GetIdentity(c).IsResolved() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "session or visitor id required",
		})
	}
	return c.Next()
}

// RequireAuth rejects requests without an authenticated session.
func RequireAuth(c *fiber.Ctx) error {
	if !usercontext.GetIdentity(c).IsAuthenticated {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}
