package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/visionboardai/visionboard/internal/pkg/usercontext"
)

// HandleGetProfile returns the requesting profile with its credit balance.
func (a *API) HandleGetProfile(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	profile, err := a.Repos.Profile.GetByID(ident.ProfileID)
	if err != nil {
		return internalError(c, "failed to load profile")
	}
	balance, err := a.Credits.Balance(c.UserContext(), ident.ProfileID)
	if err != nil {
		return internalError(c, "failed to load credit balance")
	}

	return c.JSON(fiber.Map{
		"is_authenticated": ident.IsAuthenticated,
		"avatar_url":       profile.AvatarURL,
		"photo_url":        profile.PhotoURL,
		"cutout_url":       profile.CutoutURL,
		"free_images_used": profile.FreeImagesUsed,
		"balance":          balance,
		"created_at":       profile.CreatedAt,
	})
}

type migrateRequest struct {
	VisitorID string `json:"visitor_id"`
}

// HandleMigrateBoards claims the boards created under an anonymous visitor
// fingerprint for the authenticated profile. Only boards without a claiming
// user move; re-running is a no-op.
func (a *API) HandleMigrateBoards(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	var req migrateRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
	}
	visitorID := strings.TrimSpace(req.VisitorID)
	if visitorID == "" {
		visitorID = ident.VisitorID
	}
	if visitorID == "" {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "visitor_id is required")
	}

	profile, err := a.Repos.Profile.GetByID(ident.ProfileID)
	if err != nil {
		return internalError(c, "failed to load profile")
	}

	migrated, err := a.Identity.MigrateVisitorBoards(c.UserContext(), visitorID, profile)
	if err != nil {
		log.Errorf("board migration failed for visitor %q: %v", visitorID, err)
		return internalError(c, "board migration failed")
	}

	return c.JSON(fiber.Map{"migrated_boards": migrated})
}
