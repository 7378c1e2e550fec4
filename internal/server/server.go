// Package server contains the HTTP handlers for the runnersmap API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"runnersmap/internal/config"
	"runnersmap/internal/featureflags"
	"runnersmap/internal/middleware"
	"runnersmap/internal/models"
	"runnersmap/internal/notifications"
	"runnersmap/internal/repository"
	"runnersmap/internal/scheduler"
	"runnersmap/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	loc            *time.Location
	notifier       *notifications.Notifier
	featureFlags   *featureflags.Manager
	scheduler      *scheduler.Scheduler

	postService     *service.PostService
	searchService   *service.SearchService
	sessionService  *service.SessionService
	rankService     *service.RankService
	recordService   *service.RecordService
	locationService *service.LocationService
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// redisClient may be nil; caching, pub/sub, live locations and the
// scheduler lock then degrade as documented on each component.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*Server, error) {
	loc, err := cfg.RankLocation()
	if err != nil {
		return nil, fmt.Errorf("rank timezone: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	userPostRepo := repository.NewUserPostRepository(db)
	rankRepo := repository.NewRankRepository(db)
	afterRunRepo := repository.NewAfterRunRepository(db)

	flags, err := featureflags.Parse(cfg.FeatureFlags)
	if err != nil {
		return nil, err
	}

	var notifier *notifications.Notifier
	if redisClient != nil {
		notifier = notifications.NewNotifier(redisClient)
	}

	s := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("runnersmap-api"),
		loc:            loc,
		notifier:       notifier,
		featureFlags:   flags,
	}

	s.postService = service.NewPostService(db, postRepo, userPostRepo, userRepo, loc)
	s.searchService = service.NewSearchService(postRepo, afterRunRepo)
	s.sessionService = service.NewSessionService(db, postRepo, userPostRepo, userRepo, notifier, loc)
	s.rankService = service.NewRankService(db, userPostRepo, rankRepo, userRepo, notifier, loc)
	s.recordService = service.NewRecordService(userPostRepo, userRepo, loc)
	s.locationService = service.NewLocationService(repository.NewLocationStore(redisClient), userRepo, postRepo)

	if cfg.RankSchedulerEnabled {
		s.scheduler = scheduler.New(cfg.RankCron, s.rankService)
	}

	return s, nil
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS middleware should run before middlewares that can short-circuit (e.g. limiter)
	// so browser clients still receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Never rate-limit preflight requests; they should be handled by CORS.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "Runnersmap Backend Metrics Dashboard",
	}))

	// Public post routes (map and detail)
	publicPosts := api.Group("/posts")
	publicPosts.Get("/map-posts", middleware.RateLimit(s.redis, middleware.MapSearchQuota), s.SearchMapPosts)
	publicPosts.Get("/:id", s.GetPost)

	// Protected post routes. Auth only sees requests the public routes above
	// did not answer.
	posts := api.Group("/posts", middleware.AuthRequired)
	posts.Post("/", middleware.RateLimit(s.redis, middleware.CreatePostQuota), s.CreatePost)
	posts.Get("/:id/state", s.GetParticipationState)
	posts.Post("/:id/participate", s.Participate)
	posts.Delete("/:id/participate", s.CancelParticipation)
	posts.Post("/:id/start", s.StartRun)
	posts.Post("/:id/complete", s.CompleteRun)
	posts.Put("/:id", s.UpdatePost)
	posts.Delete("/:id", s.DeletePost)

	users := api.Group("/users", middleware.AuthRequired)
	users.Get("/me/posts", s.GetMyPosts)
	users.Get("/me/records", s.GetMyRecords)

	api.Get("/ranking", s.GetRanking)
	api.Get("/feature-flags", middleware.OptionalAuth, s.GetFeatureFlags)

	locations := api.Group("/locations", middleware.OptionalAuth, s.FeatureRequired(featureflags.LiveLocations))
	locations.Post("/", middleware.AuthRequired, middleware.RateLimit(s.redis, middleware.LocationQuota), s.UpdateLocation)
	locations.Get("/group/:postId", s.GetGroupLocations)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis is optional: without it the API still serves, only caching,
	// live locations and event fan-out are off.
	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// newApp builds the Fiber app with middleware and routes attached.
func (s *Server) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Runnersmap API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled request error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// Start starts the rank scheduler (when enabled) and then serves HTTP.
func (s *Server) Start() error {
	s.app = s.newApp()

	if s.scheduler != nil {
		if err := s.scheduler.Start(); err != nil {
			return err
		}
	}

	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown stops the scheduler and drains HTTP. The database and Redis
// belong to the caller of NewServerWithDeps.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	// Shutdown the HTTP server
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
