package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"

	"oraculus-server/internal/cache"
	"oraculus-server/internal/config"
	"oraculus-server/internal/database"
	delivery "oraculus-server/internal/delivery/http"
	ws "oraculus-server/internal/delivery/websocket"
	"oraculus-server/internal/domain"
	"oraculus-server/internal/repository"
	"oraculus-server/internal/service"
	"oraculus-server/internal/storygraph"
	"oraculus-server/internal/template"
	"oraculus-server/pkg/ai"
	"oraculus-server/pkg/taskmanager"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: could not load .env file: %v\n", err)
	}

	initLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Msg("connecting to database...")
	dbPool, err := initDatabase(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer dbPool.Close()
	log.Info().Msg("database connection established")

	log.Info().Msg("applying database migrations...")
	if err := database.RunMigrations(context.Background(), dbPool, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}
	log.Info().Msg("database migrations applied")

	zapLogger := initZapLogger(cfg.LogLevel)
	defer zapLogger.Sync()

	providers, err := initProviderFactory(cfg, zapLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize story provider")
	}

	taskManager := taskmanager.New(taskmanager.Config{MaxTasks: cfg.MaxTasks})

	wsManager := ws.NewManager()
	wsManager.Start()
	taskManager.SetWebSocketNotifier(wsManager)

	sessionRepo := repository.NewSessionRepository(dbPool)
	templates := template.NewManager()

	gameService := service.NewGameService(sessionRepo, providers, taskManager, zapLogger)
	gameService.SetNotifier(wsManager)

	handlers := delivery.New(gameService, templates, taskManager)

	router := mux.NewRouter()
	router.Handle("/ws", wsManager.Handler()).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(LoggingMiddleware)
	handlers.RegisterRoutes(apiRouter)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	gracefulShutdown(server, taskManager, cfg.ShutdownTimeout)
}

// initLogger configures the global zerolog logger.
func initLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.With().Caller().Logger()

	if os.Getenv("APP_ENV") != "production" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	}

	logLevel := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logLevel = lvl
	}
	zerolog.SetGlobalLevel(logLevel)
}

// initZapLogger builds the structured logger used by the service and cache
// layers.
func initZapLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, err := cfg.Build()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize zap logger")
	}
	return logger
}

func initDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.DBMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// initProviderFactory builds the per-session story provider factory. In seed
// mode sessions play the built-in tree; in ai mode unmapped transitions are
// generated, with Redis caching the results per protagonist profile.
func initProviderFactory(cfg *config.Config, logger *zap.Logger) (storygraph.Factory, error) {
	if cfg.StoryProvider != "ai" {
		return func(p domain.Protagonist) storygraph.Provider {
			return storygraph.NewSeedProvider(p, time.Now().UnixNano())
		}, nil
	}

	generator, err := ai.New(ai.Config{
		Backend:    cfg.AIBackend,
		APIKey:     cfg.AIAPIKey,
		BaseURL:    cfg.AIBaseURL,
		Model:      cfg.AIModel,
		Timeout:    cfg.AITimeout,
		MaxRetries: cfg.AIMaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("init AI generator: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	nodeCache := cache.NewRedisNodeCache(redisClient, cfg.NodeCacheTTL, logger)

	return func(p domain.Protagonist) storygraph.Provider {
		return storygraph.NewAIProvider(generator, nodeCache, p, logger)
	}, nil
}

// LoggingMiddleware injects the configured logger into the request context.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxWithLogger := log.Logger.WithContext(r.Context())
		next.ServeHTTP(w, r.WithContext(ctxWithLogger))
	})
}

func gracefulShutdown(server *http.Server, taskManager taskmanager.ITaskManager, timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	if taskManager != nil {
		if err := taskManager.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("task manager shutdown failed")
		}
	}

	log.Info().Msg("server stopped gracefully")
}
