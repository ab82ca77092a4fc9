// Package api assembles the HTTP and WebSocket surface of the retrieval
// engine.
package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/scripture-rag/backend/internal/api/handlers"
	"github.com/scripture-rag/backend/internal/metrics"
	"github.com/scripture-rag/backend/internal/middleware/ratelimit"
	"github.com/scripture-rag/backend/internal/middleware/security"
	"github.com/scripture-rag/backend/internal/middleware/validation"
	"github.com/scripture-rag/backend/internal/query"
	"github.com/scripture-rag/backend/pkg/config"
	"github.com/scripture-rag/backend/pkg/logger"
)

// Deps are the collaborators behind the routes. QueryLog, Texts and
// Artifacts may be nil.
type Deps struct {
	Engine    *query.Engine
	QueryLog  handlers.QueryLog
	Texts     handlers.VerseTexts
	Artifacts handlers.ArtifactCache
}

type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

func NewServer(cfg config.ServerConfig, defaultLimit int, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimit,
	})

	origins := "*"
	if len(cfg.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDevelopment:  cfg.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimitPerMinute,
		Logger:               logger.GetLogger(),
	})
	validate := validation.Middleware(validation.Config{
		MaxLimit: cfg.MaxLimit,
		Logger:   logger.GetLogger(),
	})

	relatedHandler := handlers.NewRelatedHandler(deps.Engine, deps.QueryLog, defaultLimit, cfg.MaxLimit)
	verseHandler := handlers.NewVerseHandler(deps.Texts)
	adminHandler := handlers.NewAdminHandler(deps.Engine, deps.Artifacts)
	wsHandler := handlers.NewWebSocketHandler(relatedHandler)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Get("/health", adminHandler.Health)
	api.Get("/ready", adminHandler.Ready)

	verses := api.Group("/verses", limiter.Middleware())
	verses.Get("/:verseId/related", validate, relatedHandler.GetRelated)
	verses.Get("/:verseId", validate, verseHandler.GetVerse)

	api.Get("/reference-types", verseHandler.GetReferenceTypes)
	api.Get("/queries/recent", relatedHandler.GetRecent)

	admin := api.Group("/admin", limiter.Middleware())
	admin.Get("/cache", adminHandler.CacheStatus)
	admin.Post("/cache/clear", adminHandler.ClearCache)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	return &Server{App: app, limiter: limiter}
}

func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

func (s *Server) Shutdown() error {
	s.limiter.Stop()
	return s.App.Shutdown()
}
