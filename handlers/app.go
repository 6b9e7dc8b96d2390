package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"travel-missions/metrics"
	"travel-missions/middleware"
	"travel-missions/services"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Missions     *services.MissionService
	Lifecycle    *services.LifecycleService
	Challenges   *services.ChallengeService
	Achievements *services.AchievementService
	Progress     *services.ProgressService

	Log      *logrus.Entry
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	GatewayToken   string
	AllowedOrigins []string
	// Ready backs /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewApp builds the Fiber app with the full middleware chain and every route.
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(d.Log, d.Metrics))

	origins := strings.Join(d.AllowedOrigins, ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	// 🔐 Only Gateway requests allowed, except probes and scrapes.
	app.Use(middleware.GatewayAuthMiddleware(d.GatewayToken, d.Log, "/healthz", "/metrics"))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				middleware.Logger(c).WithError(err).Warn("readiness check failed")
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if d.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	secured := app.Group("/", middleware.UserContextMiddleware())
	SetupMissionRoutes(secured, d.Missions, d.Lifecycle)
	SetupChallengeRoutes(secured, d.Challenges)
	SetupProgressionRoutes(secured, d.Achievements, d.Progress)

	return app
}
