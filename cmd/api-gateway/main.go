package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/cohort-portal-api/api/swagger"
	"github.com/noah-isme/cohort-portal-api/internal/handler"
	"github.com/noah-isme/cohort-portal-api/internal/middleware"
	"github.com/noah-isme/cohort-portal-api/internal/models"
	"github.com/noah-isme/cohort-portal-api/internal/repository"
	"github.com/noah-isme/cohort-portal-api/internal/service"
	"github.com/noah-isme/cohort-portal-api/pkg/cache"
	"github.com/noah-isme/cohort-portal-api/pkg/config"
	"github.com/noah-isme/cohort-portal-api/pkg/database"
	"github.com/noah-isme/cohort-portal-api/pkg/logger"
	"github.com/noah-isme/cohort-portal-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/cohort-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/cohort-portal-api/pkg/middleware/requestid"
)

// @title Cohort Portal API
// @version 1.0.0
// @description Task and project management backend for academic cohorts
// @BasePath /api
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

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, roster cache disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	mail := mailer.New(cfg.SMTP, logr)

	userRepo := repository.NewUserRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	notifySvc := service.NewNotificationService(mail, metricsSvc, service.NotificationConfig{
		Workers:     cfg.Notify.Workers,
		MaxRetries:  cfg.Notify.MaxRetries,
		RetryDelay:  cfg.Notify.RetryDelay,
		SendTimeout: cfg.SMTP.SendTimeout,
	}, logr)

	authSvc := service.NewAuthService(userRepo, mail, cacheRepo, metricsSvc, validate, logr, service.AuthConfig{
		TokenSecret:        cfg.JWT.Secret,
		TokenExpiry:        cfg.JWT.Expiration,
		SignupTokenExpiry:  cfg.JWT.SignupExpiry,
		AllowedEmailDomain: cfg.Auth.AllowedEmailDomain,
		OTPTTL:             cfg.Auth.OTPTTL,
		MailTimeout:        cfg.SMTP.SendTimeout,
	})
	googleSvc := service.NewGoogleService(userRepo, authSvc, logr, service.GoogleConfig{
		ClientID:           cfg.Google.ClientID,
		ClientSecret:       cfg.Google.ClientSecret,
		RedirectURL:        cfg.Google.RedirectURL,
		FrontendURL:        cfg.Google.FrontendURL,
		AllowedEmailDomain: cfg.Auth.AllowedEmailDomain,
	})
	userSvc := service.NewUserService(userRepo, cacheRepo, cfg.Cache.StudentListTTL, logr)
	projectSvc := service.NewProjectService(projectRepo, userRepo, validate, logr)
	taskSvc := service.NewTaskService(taskRepo, userRepo, notifySvc, metricsSvc, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	googleHandler := handler.NewGoogleHandler(googleSvc)
	userHandler := handler.NewUserHandler(userSvc)
	projectHandler := handler.NewProjectHandler(projectSvc)
	taskHandler := handler.NewTaskHandler(taskSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/request-otp", authHandler.RequestOTP)
		auth.POST("/verify-otp", authHandler.VerifyOTP)
		auth.POST("/register/complete", authHandler.CompleteProfile)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	// Signup aliases kept for clients using the /users flow.
	api.POST("/users/signup", authHandler.RequestOTP)
	api.POST("/users/verify-otp", authHandler.VerifyOTP)
	api.POST("/users/login", authHandler.Login)

	google := api.Group("/google")
	{
		google.GET("", googleHandler.Login)
		google.GET("/callback", googleHandler.Callback)
		google.GET("/signup-info", googleHandler.SignupInfo)
		google.POST("/complete", googleHandler.CompleteSignup)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	users := authed.Group("/users")
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.GET("/students", userHandler.ListStudents)
		users.GET("/:id", userHandler.Get)
	}

	projects := authed.Group("/projects")
	{
		projects.GET("", projectHandler.List)
		projects.GET("/:id", projectHandler.Get)
		projects.POST("", middleware.RequireRoles(models.RoleAdmin), projectHandler.Create)
		projects.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), projectHandler.Update)
		projects.PATCH("/:id/assignees", middleware.RequireRoles(models.RoleAdmin), projectHandler.ModifyAssignees)
		projects.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), projectHandler.Delete)
	}

	tasks := authed.Group("/tasks")
	{
		tasks.GET("", taskHandler.List)
		tasks.GET("/export", middleware.RequireRoles(models.RoleAdmin), taskHandler.Export)
		tasks.GET("/student/:email", taskHandler.ListByStudent)
		tasks.GET("/:id", taskHandler.Get)
		tasks.POST("", middleware.RequireRoles(models.RoleAdmin), taskHandler.Create)
		tasks.PATCH("/:id/status", taskHandler.UpdateStatus)
		tasks.PATCH("/:id/progress", taskHandler.UpdateProgress)
		tasks.POST("/:id/request-approval", taskHandler.RequestApproval)
		tasks.POST("/:id/assign", middleware.RequireRoles(models.RoleAdmin), taskHandler.Assign)
		tasks.PUT("/:id", middleware.RequireRoles(models.RoleAdmin), taskHandler.Update)
		tasks.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), taskHandler.Delete)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifySvc.Start(rootCtx)
	defer notifySvc.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
