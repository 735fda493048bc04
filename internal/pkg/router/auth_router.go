package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/visionboardai/visionboard/app/controllers"
	"github.com/visionboardai/visionboard/internal/pkg/identity"
	"github.com/visionboardai/visionboard/internal/pkg/middleware"
	"github.com/visionboardai/visionboard/internal/pkg/oauth"
	"github.com/visionboardai/visionboard/internal/pkg/session"
)

// AuthRouter owns session/oauth initialization, the global identity
// middleware and the provider login routes.
type AuthRouter struct {
	api         *controllers.API
	identitySvc *identity.Service
}

func NewAuthRouter(api *controllers.API, identitySvc *identity.Service) *AuthRouter {
	return &AuthRouter{api: api, identitySvc: identitySvc}
}

func (r *AuthRouter) InstallRouter(app *fiber.App) {
	session.NewSessionStore()
	oauth.Setup()

	app.Use(middleware.IdentityMiddleware(r.identitySvc))

	app.Get("/auth/:provider", r.api.HandleAuthBegin)
	app.Get("/auth/:provider/callback", r.api.HandleAuthCallback)
	app.Post("/logout", r.api.HandleLogout)
}
