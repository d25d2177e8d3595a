// Package bootstrap loads configuration, wires every component together and
// owns the application lifecycle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "github.com/ibachev/codeeditor/internal/handler/http"
	wsHandler "github.com/ibachev/codeeditor/internal/handler/websocket"
	"github.com/ibachev/codeeditor/internal/hub"
	gormpersistence "github.com/ibachev/codeeditor/internal/infra/persistence/gorm"
	"github.com/ibachev/codeeditor/internal/infra/piston"
	"github.com/ibachev/codeeditor/internal/infra/setup"
	"github.com/ibachev/codeeditor/internal/middleware"
	"github.com/ibachev/codeeditor/internal/presence"
	"github.com/ibachev/codeeditor/internal/relay"
	"github.com/ibachev/codeeditor/internal/service"
	"github.com/ibachev/codeeditor/internal/tasks"
	"github.com/ibachev/codeeditor/internal/worker"
)

// Config holds everything loaded from the environment.
type Config struct {
	DBUser        string
	DBPassword    string
	DBHost        string
	DBPort        string
	DBName        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret      string
	JWTExpiryHours int

	ServerPort        string
	LogLevel          string
	AppEnv            string
	CORSAllowedOrigin string

	RateLimitMax    int
	RateLimitWindow time.Duration

	PistonURL     string
	ExecTimeoutMS int

	CodeCacheIdleMinutes int
}

// LoadConfig reads configuration from environment variables, optionally
// seeded from a .env file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            os.Getenv("DB_PORT"),
		DBName:            os.Getenv("DB_NAME"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		ServerPort:        os.Getenv("SERVER_PORT"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		AppEnv:            os.Getenv("APP_ENV"),
		CORSAllowedOrigin: os.Getenv("CORS_ALLOWED_ORIGIN"),
		PistonURL:         os.Getenv("PISTON_URL"),
		// defaults
		RateLimitMax:         100,
		RateLimitWindow:      1 * time.Second,
		JWTExpiryHours:       24,
		ExecTimeoutMS:        piston.DefaultRunTimeout,
		CodeCacheIdleMinutes: 10,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB"))
	if v, err := strconv.Atoi(os.Getenv("JWT_EXPIRY_HOURS")); err == nil && v > 0 {
		cfg.JWTExpiryHours = v
	}
	if v, err := strconv.Atoi(os.Getenv("RATE_LIMIT_MAX")); err == nil && v > 0 {
		cfg.RateLimitMax = v
	}
	if v, err := strconv.Atoi(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); err == nil && v > 0 {
		cfg.RateLimitWindow = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("EXEC_TIMEOUT_MS")); err == nil && v > 0 {
		cfg.ExecTimeoutMS = v
	}
	if v, err := strconv.Atoi(os.Getenv("CODE_CACHE_IDLE_MINUTES")); err == nil && v > 0 {
		cfg.CodeCacheIdleMinutes = v
	}

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = "http://localhost:3000"
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// App holds the assembled application.
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	Relay       *relay.Relay
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
}

// NewApp creates and wires every component.
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	// The package-level logger is what most components use; keep it aligned
	// with the configured one.
	logrus.SetLevel(logLevel)
	logrus.SetFormatter(log.Formatter)
	log.Infof("Logger initialized (Level: %s)", logLevel.String())

	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	log.Info("Initializing repositories...")
	userRepo := gormpersistence.NewGormUserRepository(db)
	sessionRepo := gormpersistence.NewGormSessionRepository(db)
	participantRepo := gormpersistence.NewGormParticipantRepository(db)
	codeRepo := gormpersistence.NewGormCodeRepository(db)
	log.Info("Repositories initialized")

	log.Info("Initializing services...")
	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	sessionService := service.NewSessionService(sessionRepo, participantRepo)
	executor := piston.NewClient(cfg.PistonURL, cfg.ExecTimeoutMS)
	codeService := service.NewCodeService(codeRepo, sessionRepo, executor)
	log.Info("Services initialized")

	log.Info("Initializing realtime components...")
	registry := presence.NewRegistry()
	hubInstance := hub.NewHub(
		registry,
		participantRepo,
		sessionRepo,
		codeRepo,
		asynqClient,
		time.Duration(cfg.CodeCacheIdleMinutes)*time.Minute,
	)
	relayInstance := relay.NewRelay()
	log.Info("Realtime components initialized")

	log.Info("Initializing handlers...")
	authHandler := httpHandler.NewAuthHandler(authService)
	sessionHandler := httpHandler.NewSessionHandler(sessionService)
	codeHandler := httpHandler.NewCodeHandler(codeService)
	sessionWS := wsHandler.NewSessionHandler(hubInstance, authService, sessionService, cfg.CORSAllowedOrigin)
	videoWS := wsHandler.NewVideoHandler(relayInstance, authService, cfg.CORSAllowedOrigin)
	log.Info("Handlers initialized")

	log.Info("Initializing worker server...")
	workerServer := worker.NewWorkerServer(redisClientOpt, participantRepo, registry, log)
	log.Info("Worker server initialized")

	log.Info("Setting up Gin router...")
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(corsMiddleware(cfg.CORSAllowedOrigin))
	router.Use(middleware.RateLimit(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow))

	api := router.Group("/api")
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}
	sessionRoutes := api.Group("/sessions").Use(middleware.Auth(cfg.JWTSecret))
	{
		sessionRoutes.POST("", sessionHandler.CreateSession)
		sessionRoutes.GET("", sessionHandler.ListSessions)
		sessionRoutes.GET("/:sessionId", sessionHandler.GetSession)
		sessionRoutes.GET("/:sessionId/participants", sessionHandler.ListParticipants)
		sessionRoutes.POST("/:sessionId/join", sessionHandler.JoinSession)
		sessionRoutes.POST("/:sessionId/kick", sessionHandler.KickParticipant)
		sessionRoutes.PATCH("/:sessionId/lock", sessionHandler.SetLock)
		sessionRoutes.DELETE("/:sessionId", sessionHandler.DeleteSession)
	}
	codeRoutes := api.Group("/code").Use(middleware.Auth(cfg.JWTSecret))
	{
		codeRoutes.POST("/save", codeHandler.SaveCode)
		codeRoutes.POST("/run", codeHandler.RunCode)
	}
	// WebSocket routes authenticate via the handshake query, not the
	// Authorization header, so they skip the Auth middleware.
	ws := router.Group("/ws")
	{
		ws.GET("/session", sessionWS.HandleConnection)
		ws.GET("/video", videoWS.HandleConnection)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		Relay:          relayInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// Start launches the background routines and the HTTP server.
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	go a.Relay.Run()
	go a.AsynqServer.Start()

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks schedules the recurring presence reconcile.
func (a *App) registerPeriodicTasks() {
	a.scheduler = asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	task := tasks.NewPresenceReconcileTask()
	schedule := "@every 5m"
	entryID, err := a.scheduler.Register(schedule, task, asynq.Queue("low"))
	if err != nil {
		a.Log.Errorf("Could not register periodic presence reconcile task: %v", err)
	} else {
		a.Log.Infof("Periodic presence reconcile registered with schedule '%s' (EntryID: %s)", schedule, entryID)
	}

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := a.scheduler.Run(); err != nil {
			if !errors.Is(err, asynq.ErrServerClosed) {
				a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			} else {
				a.Log.Info("Asynq scheduler stopped.")
			}
		}
	}()
}

// Shutdown stops everything in reverse dependency order.
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Relay != nil {
		a.Relay.Stop()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// corsMiddleware sets the CORS headers for the configured origin.
func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware logs every request with latency and status.
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Info("Request handled")
		}
	}
}
