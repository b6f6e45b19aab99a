// Package localcloud is a self-contained stand-in for the managed cloud
// backend: auth endpoints compatible with the local identity provider,
// an owner-scoped todos API, and a websocket change feed. It exists so
// the full client stack can run against something real on a laptop.
package localcloud

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/todocloud-dev/todocloud/internal/config"
)

// Server represents the emulator HTTP server
type Server struct {
	router     *gin.Engine
	db         *gorm.DB
	config     *config.Config
	logger     zerolog.Logger
	hub        *Hub
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	upgrader   websocket.Upgrader
	validator  *validator.Validate
	version    string
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := initDatabase(cfg, zlog)
	if err != nil {
		return nil, err
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	secret, err := loadOrCreateSecret(db, zlog)
	if err != nil {
		return nil, err
	}

	// Initialize validator
	validate := validator.New()

	// Register custom validators
	validate.RegisterValidation("confirmcode", func(fl validator.FieldLevel) bool {
		// Verification codes are exactly six digits
		value := fl.Field().String()
		if len(value) != verificationCodeLength {
			return false
		}
		for _, char := range value {
			if char < '0' || char > '9' {
				return false
			}
		}
		return true
	})

	server := &Server{
		db:         db,
		config:     cfg,
		logger:     zlog,
		hub:        NewHub(zlog),
		secret:     []byte(secret),
		accessTTL:  cfg.LocalCloud.AccessTokenTTL,
		refreshTTL: cfg.LocalCloud.RefreshTokenTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Non-browser clients send no Origin header; browser access
			// is governed by the CORS allowlist on the REST routes.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		validator: validate,
		version:   version,
	}

	server.setupRouter()

	return server, nil
}

// initDatabase initializes the database connection with production settings
func initDatabase(cfg *config.Config, zlog zerolog.Logger) (*gorm.DB, error) {
	const (
		maxOpenConns    = 8
		maxIdleConns    = 4
		connMaxLifetime = 300 * time.Second
		busyTimeout     = 5000 // 5 seconds
	)

	db, err := gorm.Open(sqlite.Open(cfg.LocalCloud.DatabaseURL), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  logger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Apply SQLite pragmas directly (connection string pragmas may not
	// work with all drivers). WAL mode must be set first.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=1",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	return db, nil
}

// loadOrCreateSecret loads the persisted JWT secret, generating one on first boot
func loadOrCreateSecret(db *gorm.DB, zlog zerolog.Logger) (string, error) {
	var setting Setting
	err := db.First(&setting).Error
	if err == nil {
		zlog.Debug().Msg("Loaded JWT secret from database")
		return setting.JWTSecret, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", fmt.Errorf("failed to load settings: %w", err)
	}

	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	setting = Setting{JWTSecret: secret}
	if err := db.Create(&setting).Error; err != nil {
		return "", fmt.Errorf("failed to persist settings: %w", err)
	}

	zlog.Info().Msg("Generated JWT secret on first boot")
	return secret, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.LocalCloud.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint (no auth required)
	s.router.GET("/health", s.healthCheck)

	// Public auth endpoints (no auth required)
	s.router.POST("/auth/signup", s.signUp)
	s.router.POST("/auth/confirm", s.confirmSignUp)
	s.router.POST("/auth/resend", s.resendCode)
	s.router.POST("/auth/login", s.login)
	s.router.POST("/auth/refresh", s.refresh)
	s.router.POST("/auth/logout", s.logout)
	s.router.POST("/auth/forgot", s.forgotPassword)
	s.router.POST("/auth/forgot/confirm", s.confirmForgotPassword)

	// Current user (access token required)
	s.router.GET("/auth/me", s.authMiddleware(), s.getCurrentUser)

	// Authenticated API routes (access token required)
	api := s.router.Group("/api")
	api.Use(s.authMiddleware())
	{
		api.GET("/todos", s.listTodos)
		api.POST("/todos", s.createTodo)
		api.PATCH("/todos/:id/toggle", s.toggleTodo)
		api.DELETE("/todos/:id", s.deleteTodo)
		api.GET("/todos/observe", s.observeTodos)
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "localcloud",
		"version":   s.version,
	})
}

// Handler returns the router for serving over a custom listener
func (s *Server) Handler() http.Handler {
	return s.router
}

// GetDB returns the database connection for use by background jobs
func (s *Server) GetDB() *gorm.DB {
	return s.db
}

// Start starts the HTTP server and blocks until shutdown
func (s *Server) Start() error {
	addr := s.config.LocalCloud.Address

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       300 * time.Second,
	}

	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	// Detach websocket observers before the listener goes away
	s.hub.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.logger.Info().Msg("Server shutdown complete")

	// Close database connection to flush WAL writes
	if sqlDB, err := s.db.DB(); err == nil {
		s.logger.Info().Msg("Closing database connection...")
		if err := sqlDB.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing database")
		}
	}

	return nil
}
