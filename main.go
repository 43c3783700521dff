package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-login/internal/auth"
	"github.com/example/face-login/internal/config"
	"github.com/example/face-login/internal/grpcclient"
	"github.com/example/face-login/internal/handlers"
	"github.com/example/face-login/internal/logging"
	"github.com/example/face-login/internal/matcher"
	"github.com/example/face-login/internal/metrics"
	"github.com/example/face-login/internal/middleware"
	"github.com/example/face-login/internal/repository"
	"github.com/example/face-login/internal/store"
	"github.com/example/face-login/internal/usecase"
)

// memoryLogDSN keeps recognition logs in process when STORE_DRIVER=memory.
const memoryLogDSN = "file:recognitions?mode=memory&cache=shared"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, backend := initDatabase(ctx, cfg, logger)
	recognitionRepo := repository.NewRecognitionRepository(db, logger)
	if err := recognitionRepo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	templateStore, err := store.New(cfg.EmbeddingDim, backend, logger)
	if err != nil {
		logger.Fatal("failed to create template store", zap.Error(err))
	}
	if err := templateStore.Load(ctx); err != nil {
		logger.Fatal("failed to load templates", zap.Error(err))
	}

	readiness := []handlers.ReadinessCheck{{Name: "database", Pinger: repository.NewPinger(db)}}
	var cache usecase.Cache = usecase.NopCache{}
	if cfg.CacheEnabled {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		redisCache := usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
		readiness = append(readiness, handlers.ReadinessCheck{Name: "redis", Pinger: redisCache})
		cache = redisCache
	}

	extractorOpts := grpcclient.DefaultOptions()
	extractorOpts.Timeout = cfg.ExtractorTimeout
	client, conn, err := grpcclient.DialExtractor(ctx, cfg.ExtractorAddr, extractorOpts, logger)
	if err != nil {
		logger.Fatal("failed to connect to feature extractor", zap.Error(err))
	}
	defer conn.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(registry)

	enrollment := usecase.NewEnrollmentUseCase(templateStore, client, recorder, cfg.MaxEnrollImages, logger)
	recognition := usecase.NewRecognitionUseCase(usecase.RecognitionDeps{
		Repo:       recognitionRepo,
		Cache:      cache,
		Extractor:  client,
		Matcher:    matcher.New(templateStore),
		Identities: templateStore,
		Metrics:    recorder,
	}, cfg.MatchThreshold, logger)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := handlers.Deps{
		Enrollment:  enrollment,
		Recognition: recognition,
		Catalog:     templateStore,
		Readiness:   readiness,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	r := newRouter(cfg, deps, logger)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stats := templateStore.Stats()
	logger.Info("face-login API listening",
		zap.String("addr", cfg.Addr()),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Int("identities", stats.Identities),
		zap.Int("templates", stats.Templates),
		zap.Float64("match_threshold", cfg.MatchThreshold),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// newRouter applies the middleware stack and the config-derived handler
// settings to deps, then registers the routes.
func newRouter(cfg *config.Config, deps handlers.Deps, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = cfg.MaxUploadSize
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logger(logger),
		middleware.CORS(middleware.DefaultCORSConfig(cfg.GetCORSAllowedOrigins())),
	)

	deps.RateLimit = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger).Middleware()
	deps.MaxUploadSize = cfg.MaxUploadSize
	deps.MaxImages = cfg.MaxEnrollImages
	deps.Logger = logger
	if cfg.AuthEnabled {
		deps.Auth = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	}
	handlers.RegisterRoutes(r, deps)
	return r
}

// initDatabase opens the configured database. The memory driver keeps
// templates in process only and writes recognition logs to in-memory SQLite.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gorm.DB, store.Backend) {
	var (
		driver string
		dsn    string
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		driver, dsn = repository.DriverPostgres, cfg.DatabaseDSN
	case config.StoreSQLite:
		driver, dsn = repository.DriverSQLite, cfg.SQLitePath
	default:
		driver, dsn = repository.DriverSQLite, memoryLogDSN
	}

	db, err := repository.Open(ctx, driver, dsn, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err), zap.String("driver", driver))
	}

	if cfg.StoreDriver == config.StoreMemory {
		return db, store.NopBackend{}
	}
	templates := repository.NewTemplateRepository(db, logger)
	if err := templates.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}
	return db, templates
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
