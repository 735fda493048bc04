package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/visionboardai/visionboard/app/controllers"
	"github.com/visionboardai/visionboard/internal/pkg/middleware"
)

// ApiRouter registers the JSON API under /api/v1.
type ApiRouter struct {
	api *controllers.API
}

func NewApiRouter(api *controllers.API) *ApiRouter {
	return &ApiRouter{api: api}
}

func (r *ApiRouter) InstallRouter(app *fiber.App) {
	v1 := app.Group("/api/v1")

	// Webhook and shared-board views carry no user identity.
	v1.Post("/webhooks/payments", r.api.HandlePaymentWebhook)
	v1.Get("/shared/:link", r.api.HandleGetSharedBoard)

	// Everything below needs a resolved identity (session or visitor id).
	authed := v1.Group("", middleware.RequireIdentity)

	authed.Post("/boards", r.api.HandleCreateBoard)
	authed.Get("/boards", r.api.HandleListBoards)
	authed.Get("/boards/:uuid", r.api.HandleGetBoard)
	authed.Delete("/boards/:uuid", r.api.HandleDeleteBoard)
	authed.Post("/boards/:uuid/export", r.api.HandleExportBoard)

	authed.Post("/boards/:uuid/goals", r.api.HandleCreateGoal)
	authed.Get("/boards/:uuid/goals", r.api.HandleListGoals)
	authed.Delete("/goals/:uuid", r.api.HandleDeleteGoal)
	authed.Patch("/goals/:uuid/position", r.api.HandleUpdateGoalPosition)
	authed.Post("/goals/:uuid/generate", r.api.HandleGenerateGoal)
	authed.Post("/goals/:uuid/phrase", r.api.HandleRegeneratePhrase)
	authed.Get("/goals/:uuid/status", r.api.HandleGoalStatus)

	authed.Post("/uploads", r.api.HandleUploadPhoto)
	authed.Post("/uploads/remove-background", r.api.HandleRemoveBackground)

	authed.Get("/profile", r.api.HandleGetProfile)
	authed.Put("/profile/avatar", r.api.HandleUpdateAvatar)
	authed.Post("/profile/migrate", middleware.RequireAuth, r.api.HandleMigrateBoards)

	authed.Get("/credits", r.api.HandleGetCredits)
	authed.Post("/credits/checkout", r.api.HandleCreateCheckout)
	authed.Get("/credits/verify", r.api.HandleVerifyPurchase)
}
