package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/visionboardai/visionboard/app/controllers"
	"github.com/visionboardai/visionboard/app/repository"
	"github.com/visionboardai/visionboard/internal/pkg/bgremoval"
	"github.com/visionboardai/visionboard/internal/pkg/cache"
	"github.com/visionboardai/visionboard/internal/pkg/credits"
	"github.com/visionboardai/visionboard/internal/pkg/database"
	"github.com/visionboardai/visionboard/internal/pkg/env"
	"github.com/visionboardai/visionboard/internal/pkg/exporter"
	"github.com/visionboardai/visionboard/internal/pkg/generation"
	"github.com/visionboardai/visionboard/internal/pkg/identity"
	"github.com/visionboardai/visionboard/internal/pkg/lifecycle"
	"github.com/visionboardai/visionboard/internal/pkg/payments"
	"github.com/visionboardai/visionboard/internal/pkg/ratelimit"
	"github.com/visionboardai/visionboard/internal/pkg/router"
	"github.com/visionboardai/visionboard/internal/pkg/storage"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repos := repository.NewFactory(db).GetRepositories()

	creditSvc := credits.NewServiceFromDB(db)
	identitySvc := identity.NewService(repos.Profile, repos.Board)
	lifecycleSvc := lifecycle.NewService(repos.Goal, creditSvc,
		env.GetEnvInt("MAX_GOALS_PER_BOARD", lifecycle.DefaultMaxGoalsPerBoard))
	limits := ratelimit.NewRegistry(cache.GetClient())

	store, err := storage.NewClient(storage.NewConfigFromEnv())
	if err != nil {
		fiberlog.Fatalf("object storage init failed: %v", err)
	}

	paymentClient := payments.NewClientFromEnv()
	api := &controllers.API{
		Repos:               repos,
		Lifecycle:           lifecycleSvc,
		Credits:             creditSvc,
		Identity:            identitySvc,
		Limits:              limits,
		Generator:           generation.NewClientFromEnv(),
		Remover:             bgremoval.NewClientFromEnv(),
		Storage:             store,
		Exporter:            exporter.NewClientFromEnv(),
		Payments:            paymentClient,
		PaymentProviderName: env.GetEnv("PAYMENT_PROVIDER", "creem"),
		WebhookSecret:       paymentClient.WebhookSecret,
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 32 << 20,
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	router.InstallRouter(app, api, identitySvc)

	return app
}
