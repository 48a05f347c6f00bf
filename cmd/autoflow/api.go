package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/dukex/autoflow/pkg/engine"
	"github.com/dukex/autoflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	engine   *engine.Engine
	validate *validator.Validate
	app      *fiber.App
}

func NewAPI(logger *slog.Logger, engine *engine.Engine) *API {
	return &API{
		logger:   logger,
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	if a.app != nil {
		return a.app
	}

	handlers := web.NewAPIHandlers(a.engine, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.engine.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Autoflow API")
	})

	handlers.Register(app)

	a.app = app

	return app
}

// Start serves the API until Shutdown is called.
func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.App().ShutdownWithContext(ctx)
}
