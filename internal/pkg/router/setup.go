package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/visionboardai/visionboard/app/controllers"
	"github.com/visionboardai/visionboard/internal/pkg/identity"
)

// Router installs a route group on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter wires all routes. The auth router goes first so the goth
// session handling is in place before the identity middleware runs.
func InstallRouter(app *fiber.App, api *controllers.API, identitySvc *identity.Service) {
	setup(app, NewAuthRouter(api, identitySvc), NewApiRouter(api))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
