package server

import (
	"backend-virelia/internal/auth"
	"backend-virelia/internal/config"
	"backend-virelia/internal/location"
	"backend-virelia/internal/presence"
	"backend-virelia/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App       *fiber.App
	Cfg       config.Config
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Hub       *stream.Hub
	Presence  *presence.Cache
	Locations *location.Service
}

func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)
	cache := presence.NewCache(redisClient, cfg.PresenceTTL())

	s := &Server{
		App:       app,
		Cfg:       cfg,
		DB:        db,
		Redis:     redisClient,
		Hub:       hub,
		Presence:  cache,
		Locations: location.NewService(db, hub, cache),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	authSvc := auth.NewService(s.Cfg.JWTSecret, s.DB)

	auth.RegisterRoutes(s.App.Group("/auth"), authSvc)
	location.RegisterRoutes(s.App.Group("/locations"), s.Locations, s.Presence, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Hub, authSvc.ValidateAccessToken, s.Locations)
}
