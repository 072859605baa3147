package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/infrastructure/auth"
	"github.com/rl1809/storefront/internal/infrastructure/config"
	"github.com/rl1809/storefront/internal/infrastructure/logger"
	"github.com/rl1809/storefront/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting storefront",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("mysql", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("Failed to ping mysql", zap.Error(err))
	}
	log.Info("Connected to mysql", zap.String("database", cfg.Database.DBName))

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect redis", zap.Error(err))
	}
	log.Info("Connected to redis", zap.String("addr", cfg.Redis.Addr()))

	var images port.ObjectStorage
	if cfg.Storage.Enabled {
		s3Adapter, err := storage.NewS3Adapter(ctx, cfg.Storage, log)
		if err != nil {
			log.Fatal("Failed to configure object storage", zap.Error(err))
		}
		images = s3Adapter
		log.Info("Object storage enabled", zap.String("bucket", cfg.Storage.Bucket))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(registry)

	mysqlAdapter := storage.NewMySQLAdapter(db,
		storage.WithMaxTxAttempts(cfg.Order.MaxTxAttempts),
		storage.WithLogger(log),
	)
	redisAdapter := storage.NewRedisAdapter(rdb)
	tokens := auth.NewJWTService(cfg.JWT)

	orderService := service.NewOrderService(mysqlAdapter, redisAdapter, log, metrics, service.OrderConfig{
		Timeout:        cfg.Order.Timeout,
		IdempotencyTTL: cfg.Order.IdempotencyTTL,
	})
	productService := service.NewProductService(mysqlAdapter, redisAdapter, images, log, metrics, service.CatalogConfig{
		CacheTTL:        cfg.Catalog.CacheTTL,
		DefaultPageSize: cfg.Catalog.DefaultPageSize,
		MaxPageSize:     cfg.Catalog.MaxPageSize,
	})
	userService := service.NewUserService(mysqlAdapter, tokens, auth.NewBcryptHasher(), log,
		service.WithAdminSignup(cfg.Users.AllowAdminSignup),
	)

	grpcServer, healthServer := handler.NewGRPCServer(handler.NewGRPCHandler(orderService), tokens, log)
	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		log.Fatal("Failed to listen", zap.String("port", cfg.GRPC.Port), zap.Error(err))
	}
	go func() {
		log.Info("gRPC server listening", zap.String("port", cfg.GRPC.Port))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	httpHandler := handler.NewHTTPHandler(orderService, productService, userService, log,
		handler.WithMaxUploadBytes(cfg.HTTP.MaxUploadBytes),
	)
	httpServer := &http.Server{
		Addr: ":" + cfg.HTTP.Port,
		Handler: handler.NewRouter(httpHandler, handler.RouterConfig{
			Verifier:    tokens,
			Gatherer:    registry,
			CORSOrigins: cfg.HTTP.CORSAllowOrigins,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("port", cfg.HTTP.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	rdb.Close()
	db.Close()
	log.Info("Connections closed")
}
