// Package main runs the campus attendance HTTP server with WebSocket feed and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eas-attendance/backend/config"
	"github.com/eas-attendance/backend/internal/attendance"
	"github.com/eas-attendance/backend/internal/auth"
	"github.com/eas-attendance/backend/internal/campus"
	"github.com/eas-attendance/backend/internal/events"
	"github.com/eas-attendance/backend/internal/evidence"
	"github.com/eas-attendance/backend/internal/middleware"
	"github.com/eas-attendance/backend/internal/models"
	"github.com/eas-attendance/backend/internal/notify"
	"github.com/eas-attendance/backend/internal/qrtoken"
	"github.com/eas-attendance/backend/internal/realtime"
	"github.com/eas-attendance/backend/internal/verification"
	"github.com/eas-attendance/backend/pkg/database"
	"github.com/eas-attendance/backend/pkg/queue"
	"github.com/eas-attendance/backend/pkg/redis"
	"github.com/eas-attendance/backend/pkg/response"
	"github.com/eas-attendance/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			EvidenceBucket:       cfg.AWS.EvidenceBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Events and QR tokens
	eventRepo := events.NewRepository(pool)
	tokens := qrtoken.NewService(cfg.Verification.QRTokenTTL)
	eventHandler := events.NewHandler(eventRepo, tokens, logger)

	// Notifications
	notifier := notify.NewNotifier(hub, jobQueue, authRepo, eventRepo, logger)

	// Campus context
	campusRepo := campus.NewRepository(pool)
	contextStore := campus.NewRedisContextStore(rdb.Client, cfg.Verification.SessionTTL)
	campusManager := campus.NewManager(campusRepo, contextStore, notifier, logger)
	campusHandler := campus.NewHandler(campusRepo, campusManager, logger)

	// Attendance ledger
	attendanceRepo := attendance.NewRepository(pool)
	attendanceHandler := attendance.NewHandler(attendanceRepo, logger)

	// Verification pipeline
	var confirmer verification.UploadConfirmer = noStorage{}
	if s3Client != nil {
		confirmer = s3Client
	} else {
		logger.Warn("evidence confirmation disabled: S3 not configured")
	}
	pipeline := verification.NewPipeline(verification.Config{
		SessionTTL:          cfg.Verification.SessionTTL,
		LocationMaxAttempts: cfg.Verification.LocationMaxAttempts,
		AttendanceWindow:    cfg.Verification.AttendanceWindow,
	}, tokens, eventRepo, attendanceRepo, confirmer, notifier, logger)
	verificationHandler := verification.NewHandler(pipeline, authRepo, logger)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go pipeline.Sessions().Sweep(sweepCtx, time.Minute)

	// Evidence uploads
	var evidenceHandler *evidence.Handler
	if s3Client != nil {
		evidenceHandler = evidence.NewHandler(s3Client, logger)
	}

	jwtValidate := func(token string) (userID, role string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", err
		}
		return claims.UserID.String(), claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// QR scan (public: identity is bound in the next pipeline step)
	router.POST("/attendance/scan", verificationHandler.Scan)

	// Protected API (JWT + campus context)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	api.Use(campus.Middleware(campusManager, authRepo, logger))
	{
		// Users
		api.GET("/users", middleware.RequireRole(string(models.RoleCampusAdmin), string(models.RoleSuperAdmin)),
			func(c *gin.Context) {
				sc, ok := campus.ContextFrom(c)
				if !ok {
					response.Internal(c, "campus context missing")
					return
				}
				authHandler.List(sc.ActiveCampusID, c)
			})

		// Campuses
		api.GET("/campuses", campusHandler.List)
		api.GET("/campuses/active", campusHandler.Active)
		api.POST("/campuses/switch", campusHandler.Switch)
		api.POST("/campuses", middleware.RequireRole(string(models.RoleSuperAdmin)), campusHandler.Create)
		api.PATCH("/campuses/:id", middleware.RequireRole(string(models.RoleSuperAdmin)), campusHandler.Update)
		api.DELETE("/campuses/:id", middleware.RequireRole(string(models.RoleSuperAdmin)), campusHandler.Deactivate)

		// Events
		api.GET("/events", eventHandler.List)
		api.POST("/events", middleware.RequireRole(string(models.RoleOrganizer), string(models.RoleCampusAdmin), string(models.RoleSuperAdmin)), eventHandler.Create)
		api.GET("/events/:id", eventHandler.GetByID)
		api.GET("/events/:id/qr", middleware.RequireRole(string(models.RoleOrganizer), string(models.RoleCampusAdmin), string(models.RoleSuperAdmin)), eventHandler.QR)
		api.POST("/events/:id/rotate-seed", middleware.RequireRole(string(models.RoleCampusAdmin), string(models.RoleSuperAdmin)), eventHandler.RotateSeed)

		// Verification sessions
		api.POST("/attendance/sessions/:id/identity", verificationHandler.ConfirmIdentity)
		api.POST("/attendance/sessions/:id/location", verificationHandler.SubmitLocation)
		api.POST("/attendance/sessions/:id/photo", verificationHandler.SubmitPhoto)
		api.POST("/attendance/sessions/:id/signature", verificationHandler.SubmitSignature)
		api.GET("/attendance/sessions/:id", verificationHandler.Get)

		// Attendance queries
		api.GET("/events/:id/attendance", middleware.RequireRole(string(models.RoleOrganizer), string(models.RoleCampusAdmin), string(models.RoleSuperAdmin)), attendanceHandler.ListByEvent)
		api.GET("/events/:id/audit", middleware.RequireRole(string(models.RoleCampusAdmin), string(models.RoleSuperAdmin)), attendanceHandler.ListAudit)
		api.GET("/users/:id/attendance", attendanceHandler.ListByUser)

		// Evidence uploads
		if evidenceHandler != nil {
			api.POST("/evidence/upload-url", evidenceHandler.UploadURL)
		}
	}

	// WebSocket live check-in feed (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweepCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// noStorage rejects evidence confirmation when S3 is not configured.
type noStorage struct{}

func (noStorage) ConfirmUpload(context.Context, string) (bool, error) { return false, nil }

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
