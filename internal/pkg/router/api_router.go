package router

import (
	"runtime"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/flowkitio/flowkit/app/controllers"
	"github.com/flowkitio/flowkit/app/repository"
	"github.com/flowkitio/flowkit/internal/pkg/billing"
	"github.com/flowkitio/flowkit/internal/pkg/env"
	"github.com/flowkitio/flowkit/internal/pkg/middleware"
	"github.com/flowkitio/flowkit/internal/pkg/workflow"
)

// Dependencies carries the shared collaborators the routers hand to their
// controllers.
type Dependencies struct {
	Repos          *repository.Repositories
	Gateway        billing.Gateway
	BillingService *billing.Service
	WorkflowSvc    *workflow.Service
	WebhookSecret  string
}

type ApiRouter struct {
	deps *Dependencies
}

func NewApiRouter(deps *Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	app.Use(middleware.UserContextMiddleware())

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        apiRateLimit(),
		Expiration: 1 * time.Minute,
		Storage:    limiterStorage(),
	}))
	api.Get("/", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	billingCtrl := controllers.NewBillingController(h.deps.Gateway, h.deps.BillingService, h.deps.Repos)
	workflowCtrl := controllers.NewWorkflowController(h.deps.WorkflowSvc)
	userCtrl := controllers.NewUserController(h.deps.Repos.User)
	healthCtrl := controllers.NewHealthController()

	v1 := api.Group("/v1")
	v1.Get("/health", healthCtrl.HandleHealth)

	// Demo-friendly: workflow execution works without authentication.
	v1.Post("/ai-workflow", workflowCtrl.HandleExecuteWorkflow)

	authed := v1.Group("", middleware.AuthRequired())
	authed.Post("/user/create", userCtrl.HandleCreateUser)
	authed.Post("/create-checkout-session", billingCtrl.HandleCreateCheckoutSession)
	authed.Post("/create-portal-session", billingCtrl.HandleCreatePortalSession)
	authed.Get("/subscription", billingCtrl.HandleGetSubscription)
	authed.Delete("/subscription", billingCtrl.HandleDeleteSubscription)
	authed.Get("/subscription/payments", billingCtrl.HandleGetPayments)
}

func apiRateLimit() int {
	if v, err := strconv.Atoi(env.GetEnv("API_RATE_LIMIT", "60")); err == nil && v > 0 {
		return v
	}
	return 60
}

// limiterStorage backs the rate limiter with redis so limits hold across
// instances. Falls back to in-memory storage in tests and dev.
func limiterStorage() fiber.Storage {
	if env.GetEnv("CACHE_HOST", "") == "" {
		return nil
	}
	port := 6379
	if p, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379")); err == nil {
		port = p
	}
	return redis.New(redis.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		PoolSize: 10 * runtime.GOMAXPROCS(0),
	})
}
