package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/venue-booking-api/api/swagger"
	"github.com/noah-isme/venue-booking-api/internal/handler"
	"github.com/noah-isme/venue-booking-api/internal/middleware"
	"github.com/noah-isme/venue-booking-api/internal/models"
	"github.com/noah-isme/venue-booking-api/internal/repository"
	"github.com/noah-isme/venue-booking-api/internal/service"
	"github.com/noah-isme/venue-booking-api/pkg/cache"
	"github.com/noah-isme/venue-booking-api/pkg/config"
	"github.com/noah-isme/venue-booking-api/pkg/database"
	"github.com/noah-isme/venue-booking-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/venue-booking-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/venue-booking-api/pkg/middleware/requestid"
)

// @title Venue Booking API
// @version 1.0.0
// @description Campus venue reservation coordination service
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	validate := validator.New()
	metricsService := service.NewMetricsService()

	var cacheService *service.CacheService
	if cfg.Availability.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, availability cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheService = service.NewCacheService(cacheRepo, metricsService, cfg.Availability.CacheTTL, logr, true)
		}
	}

	venueRepo := repository.NewVenueRepository(db)
	slotRepo := repository.NewAvailabilityRepository(db)
	bookingRepo := repository.NewBookingRepository(db, slotRepo)
	ruleRepo := repository.NewRuleRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)

	authService := service.NewAuthService(cfg.JWT, logr)
	availabilityService := service.NewAvailabilityService(slotRepo, venueRepo, cacheService, cfg.Availability.CacheTTL, validate, logr)
	ruleService := service.NewRuleService(ruleRepo, bookingRepo, validate, logr)
	notificationService := service.NewNotificationService(notificationRepo, userRepo, nil, metricsService, cfg.Notifications, logr)
	bookingService := service.NewBookingService(bookingRepo, venueRepo, ruleService, availabilityService, notificationService, metricsService, cfg.Booking, validate, logr)
	exportService := service.NewExportService(bookingRepo, venueRepo, nil, nil, logr)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationService.Start(rootCtx)
	defer notificationService.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsService))

	bookingHandler := handler.NewBookingHandler(bookingService)
	availabilityHandler := handler.NewAvailabilityHandler(availabilityService, venueRepo, exportService)
	ruleHandler := handler.NewRuleHandler(ruleService)
	notificationHandler := handler.NewNotificationHandler(notificationService)
	metricsHandler := handler.NewMetricsHandler(metricsService, db)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authService))

	bookings := api.Group("/bookings")
	{
		bookings.POST("", middleware.Audit(userRepo, models.AuditActionBookingSubmit, "booking"), bookingHandler.Submit)
		bookings.GET("", bookingHandler.List)
		bookings.GET("/:id", bookingHandler.Get)
		bookings.POST("/:id/approve",
			middleware.RequireRoles(models.RoleAdmin, models.RoleHOD, models.RoleFaculty),
			middleware.Audit(userRepo, models.AuditActionBookingApprove, "booking"),
			bookingHandler.Approve)
		bookings.POST("/:id/reject",
			middleware.RequireRoles(models.RoleAdmin, models.RoleHOD, models.RoleFaculty),
			middleware.Audit(userRepo, models.AuditActionBookingReject, "booking"),
			bookingHandler.Reject)
		bookings.POST("/:id/cancel",
			middleware.Audit(userRepo, models.AuditActionBookingCancel, "booking"),
			bookingHandler.Cancel)
	}

	venues := api.Group("/venues")
	{
		venues.GET("", availabilityHandler.ListVenues)
		venues.GET("/:id/availability", availabilityHandler.GetAvailability)
		venues.GET("/:id/availability/check", availabilityHandler.CheckAvailability)
		venues.POST("/:id/blocks",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionVenueBlock, "venue"),
			availabilityHandler.Block)
		venues.DELETE("/:id/blocks/:slotId",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionVenueUnblock, "venue"),
			availabilityHandler.Unblock)
		if cfg.Export.Enabled {
			venues.GET("/:id/bookings/export",
				middleware.RequireRoles(models.RoleAdmin, models.RoleFaculty),
				availabilityHandler.ExportBookings)
		}
	}

	rules := api.Group("/rules")
	{
		rules.GET("", ruleHandler.List)
		rules.POST("",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionRuleCreate, "rule"),
			ruleHandler.Create)
		rules.PUT("/:id",
			middleware.RequireRoles(models.RoleAdmin),
			middleware.Audit(userRepo, models.AuditActionRuleUpdate, "rule"),
			ruleHandler.Update)
	}

	notifications := api.Group("/notifications")
	{
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread-count", notificationHandler.UnreadCount)
		notifications.POST("/:id/read", notificationHandler.MarkRead)
		notifications.POST("/:id/acknowledge", notificationHandler.Acknowledge)
	}

	api.GET("/ops/metrics", middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down", zap.String("reason", "signal received"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
