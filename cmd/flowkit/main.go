package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/flowkitio/flowkit/app/repository"
	"github.com/flowkitio/flowkit/internal/pkg/billing"
	"github.com/flowkitio/flowkit/internal/pkg/cache"
	"github.com/flowkitio/flowkit/internal/pkg/database"
	"github.com/flowkitio/flowkit/internal/pkg/env"
	"github.com/flowkitio/flowkit/internal/pkg/router"
	"github.com/flowkitio/flowkit/internal/pkg/workflow"
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

	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalFactory().GetRepositories()

	gw := billing.NewStripeGateway(env.GetEnv("STRIPE_SECRET_KEY", ""))
	billingSvc := billing.NewService(repos, gw)

	generator, err := workflow.NewGeminiGenerator(context.Background(),
		env.GetEnv("GEMINI_API_KEY", ""),
		env.GetEnv("GEMINI_MODEL", "gemini-2.5-flash"),
	)
	if err != nil {
		log.Fatalf("gemini client: %v", err)
	}
	workflowSvc := workflow.NewService(generator, repos.WorkflowExecution, cache.Store{})

	app := fiber.New(fiber.Config{
		AppName: "flowkit",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, &router.Dependencies{
		Repos:          repos,
		Gateway:        gw,
		BillingService: billingSvc,
		WorkflowSvc:    workflowSvc,
		WebhookSecret:  env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
	})

	return app
}
