package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/session"

	"csrf-guard/internal/config"
	"csrf-guard/internal/csrf"
	"csrf-guard/internal/http/handlers"
	"csrf-guard/internal/http/middleware"
	"csrf-guard/internal/infra/logging"
	"csrf-guard/internal/metrics"
	"csrf-guard/internal/tokens"
)

// Deps carries the backends chosen at startup. Sessions is only consulted
// when Store is nil.
type Deps struct {
	Config   config.Config
	Store    tokens.Store
	Sessions *session.Store
	Metrics  *metrics.Metrics
}

// GuardOptions maps the guard section of cfg onto csrf.Options.
func GuardOptions(cfg config.Config) csrf.Options {
	opts := csrf.DefaultOptions()
	if cfg.Guard.Prefix != "" {
		opts.Prefix = cfg.Guard.Prefix
	}
	if cfg.Guard.Strength != 0 {
		opts.Strength = cfg.Guard.Strength
	}
	opts.StorageLimit = cfg.Limit()
	opts.PersistentTokenMode = cfg.Guard.PersistentTokenMode
	opts.RejectSafeMethodTokens = cfg.Guard.RejectSafeMethodTokens
	return opts
}

// NewApp creates and configures the Fiber app.
func NewApp(deps Deps) (*fiber.App, error) {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    code,
					"message": msg,
				},
			})
		},
	})

	app.Use(middleware.RequestID())
	app.Use(healthcheck.New())
	app.Use(middleware.RequestLogger())

	// Registered ahead of the guard so scrapes never mint tokens.
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	opts := GuardOptions(cfg)
	if deps.Metrics != nil {
		opts.Recorder = deps.Metrics
	}
	guard, err := middleware.CSRF(middleware.CSRFConfig{
		Guard:    opts,
		Store:    deps.Store,
		Sessions: deps.Sessions,
	})
	if err != nil {
		return nil, err
	}
	app.Use(guard)

	prefix := csrf.NormalizePrefix(opts.Prefix)
	form := handlers.NewForm(prefix+"_name", prefix+"_value")
	app.Get("/form", form.Token)
	app.Post("/form", form.Submit)

	// Ensure all responses, including 404s, return JSON.
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app, nil
}
