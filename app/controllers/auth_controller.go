package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/visionboardai/visionboard/internal/pkg/session"
	"github.com/visionboardai/visionboard/internal/pkg/usercontext"
)

// HandleAuthBegin starts the provider OAuth flow.
func (a *API) HandleAuthBegin(c *fiber.Ctx) error {
	return gothfiber.BeginAuthHandler(c)
}

// HandleAuthCallback completes the provider flow, links the external user to
// a profile and logs the session in. When the browser still carries a
// visitor fingerprint, the anonymous boards are claimed right here so the
// user sees their work survive the login.
func (a *API) HandleAuthCallback(c *fiber.Ctx) error {
	gothUser, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		log.Warnf("oauth completion failed: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "oauth_failed", "authentication with provider failed")
	}

	authUserID := gothUser.Provider + ":" + gothUser.UserID
	profile, err := a.Identity.ResolveAuthenticated(c.UserContext(), authUserID)
	if err != nil {
		log.Errorf("profile resolution failed for %q: %v", authUserID, err)
		return internalError(c, "failed to resolve profile")
	}

	if profile.AvatarURL == "" && gothUser.AvatarURL != "" {
		profile.AvatarURL = gothUser.AvatarURL
		if err := a.Repos.Profile.Update(profile); err != nil {
			log.Warnf("avatar update failed for profile %d: %v", profile.ID, err)
		}
	}

	if err := session.SetSessionValue(c, usercontext.KeyAuthUserID, authUserID); err != nil {
		log.Errorf("session write failed for %q: %v", authUserID, err)
		return internalError(c, "failed to establish session")
	}

	migrated := int64(0)
	if visitorID := strings.TrimSpace(c.Get(usercontext.VisitorIDHeader)); visitorID != "" {
		migrated, err = a.Identity.MigrateVisitorBoards(c.UserContext(), visitorID, profile)
		if err != nil {
			log.Warnf("post-login board migration failed for visitor %q: %v", visitorID, err)
		}
	}

	return c.JSON(fiber.Map{
		"is_authenticated": true,
		"migrated_boards":  migrated,
	})
}

// HandleLogout tears down the session.
func (a *API) HandleLogout(c *fiber.Ctx) error {
	if err := gothfiber.Logout(c); err != nil {
		log.Warnf("provider logout failed: %v", err)
	}
	if err := session.DestroySession(c); err != nil {
		return internalError(c, "failed to destroy session")
	}
	return c.JSON(fiber.Map{"is_authenticated": false})
}
