// Package server exposes the capture and database-lifecycle HTTP surface
// on Fiber.
package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/Numanur/AFIS-fingerprint-identification/internal/afis"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/config"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/engine"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/frame"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/gallery"
	"github.com/Numanur/AFIS-fingerprint-identification/internal/journal"
)

// Server wires the fiber app to the AFIS service.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	log     *slog.Logger
	svc     *afis.Service
	gallery *gallery.Store
	journal *journal.Journal
}

// New builds the app and registers all routes. journal may be nil.
func New(cfg *config.Config, svc *afis.Service, store *gallery.Store, j *journal.Journal, log *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		svc:     svc,
		gallery: store,
		journal: j,
	}

	s.app = fiber.New(fiber.Config{
		BodyLimit:   cfg.Server.BodyLimitMB * 1024 * 1024,
		ReadTimeout: 30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"ok": false, "error": err.Error()})
		},
	})

	s.app.Use(fiberrecover.New())
	s.app.Use(logger.New())
	s.app.Use(cors.New())
	s.app.Use(func(c *fiber.Ctx) error {
		c.Locals("request_id", uuid.NewString())
		return c.Next()
	})

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now()})
	})

	s.app.Post("/upload-image", s.handleUpload)
	s.app.Post("/afis/enroll", s.handleEnroll)
	s.app.Post("/afis/calibrate", s.handleCalibrate)
	s.app.Post("/afis/clear-db", s.handleClear)
	s.app.Post("/afis/rebuild", s.handleRebuild)
	s.app.Post("/afis/identify", s.handleIdentify)
	s.app.Get("/afis/debug", s.handleDebug)
	s.app.Get("/afis/events", s.handleEvents)

	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks serving the configured address.
func (s *Server) Listen() error {
	s.log.Info("server listening", "addr", s.cfg.Server.Listen, "engine", s.cfg.Engine.Mode)
	return s.app.Listen(s.cfg.Server.Listen)
}

// Shutdown gracefully stops the app.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch {
	case errors.Is(err, afis.ErrBusy):
		return fiber.StatusConflict
	case errors.Is(err, engine.ErrProbeNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, frame.ErrFormat), errors.Is(err, frame.ErrLengthMismatch):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{"ok": false, "error": err.Error()})
}
