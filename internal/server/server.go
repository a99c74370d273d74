package server

import (
	"ai-qa-sync/internal/bootstrap"
	"ai-qa-sync/internal/config"
	"ai-qa-sync/internal/pkg/serverutils"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *bootstrap.SandboxContainer
}

func New(cfg *config.Config, container *bootstrap.SandboxContainer) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             10 * 1024 * 1024, // 10MB
		ErrorHandler:          serverutils.ErrorHandler,
		DisableStartupMessage: true,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Sandbox.CorsAllowedOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "Content-Type, X-Answer-Cached, X-Answer-Sources",
	}))

	// OpenTelemetry tracing middleware (traces all HTTP requests)
	app.Use(otelfiber.Middleware())

	registerRoutes(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	s.container.Logger.Info("Sandbox", "Server is running", map[string]interface{}{
		"addr": "http://localhost:" + s.cfg.Sandbox.Port,
	})
	return s.app.Listen(":" + s.cfg.Sandbox.Port)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func registerRoutes(app *fiber.App, c *bootstrap.SandboxContainer) {
	auth := serverutils.JwtMiddleware(c.AuthService)
	api := app.Group("/api")

	c.AuthController.RegisterRoutes(api)
	c.ChatController.RegisterRoutes(api, auth)
	c.DocumentController.RegisterRoutes(api, auth)

	c.JobPushHandler.RegisterRoutes(app)
}
