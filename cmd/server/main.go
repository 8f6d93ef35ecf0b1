package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/handler/pb"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.With().Str("app", cfg.AppName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}
	log.Info().Msg("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("connected to redis")

	// Initialize adapters
	redisAdapter := storage.NewRedisAdapter(rdb)
	mysqlAdapter := storage.NewMySQLAdapter(db)

	if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	// Initialize services
	ledger := service.NewLedger(mysqlAdapter, service.LedgerConfig{
		MaxRetries: cfg.MaxRetries,
		Backoff:    service.ExponentialBackoff(cfg.BackoffBase(), cfg.BackoffCap()),
		Mode:       service.ReserveMode(cfg.ReserveMode),
	})
	orderService := service.NewOrderService(ledger, redisAdapter, cfg.QueueSize, cfg.UseRedisGate, cfg.UseRedisLock)

	// Mirror durable stock into the Redis gate on boot
	if cfg.UseRedisGate {
		if err := syncStockGate(ctx, mysqlAdapter, redisAdapter); err != nil {
			log.Fatal().Err(err).Msg("failed to sync stock gate")
		}
	}

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, orderService.GetOrderQueue(), ledger, mysqlAdapter, redisAdapter, cfg.UseRedisGate)
		}(i)
	}
	log.Info().Int("count", cfg.WorkerCount).Msg("started workers")

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	grpcHandler := handler.NewGRPCHandler(ledger)
	pb.RegisterLedgerServer(grpcServer, grpcHandler)

	// Start gRPC server
	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", cfg.GRPCPort).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(ledger, orderService)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/reserve", httpHandler.Reserve)
	mux.HandleFunc("/api/purchase", httpHandler.Purchase)
	mux.HandleFunc("/api/items", httpHandler.Items)
	mux.HandleFunc("/api/items/", httpHandler.Item)

	httpServer := &http.Server{
		Addr:    cfg.HTTPPort,
		Handler: mux,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPPort).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("HTTP server stopped")

	// Stop gRPC server
	grpcServer.GracefulStop()
	log.Info().Msg("gRPC server stopped")

	// Close order queue and wait for workers
	orderService.Close()
	wg.Wait()
	log.Info().Msg("workers stopped")

	// Close connections
	rdb.Close()
	db.Close()
	log.Info().Msg("connections closed")
}

// syncStockGate seeds the Redis fast-reject counters from the durable rows
// so the gate never rejects more optimistically than MySQL would.
func syncStockGate(ctx context.Context, repo port.InventoryRepository, cache port.CacheRepository) error {
	items, err := repo.ListItems(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := cache.SetStock(ctx, item.ID, item.Quantity); err != nil {
			return err
		}
	}
	log.Info().Int("items", len(items)).Msg("stock gate synced")
	return nil
}

// workerLoop drains accepted orders into MySQL. Stock is already committed
// by the ledger at this point, so a failed insert is compensated by
// crediting the reservation back.
func workerLoop(id int, queue <-chan domain.Order, ledger *service.Ledger, db port.InventoryRepository, cache port.CacheRepository, useGate bool) {
	for order := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := db.CreateOrder(ctx, order); err != nil {
			log.Error().Err(err).Int("worker", id).Str("order_id", order.ID).
				Msg("failed to save order, releasing reservation")

			if releaseErr := ledger.ReleaseStock(ctx, order.ItemID, order.Quantity); releaseErr != nil {
				log.Error().Err(releaseErr).Int("worker", id).Str("order_id", order.ID).
					Msg("CRITICAL: failed to release stock for lost order")
			} else if useGate {
				if gateErr := cache.IncrementStock(ctx, order.ItemID, order.Quantity); gateErr != nil {
					log.Error().Err(gateErr).Int("worker", id).Str("order_id", order.ID).
						Msg("CRITICAL: failed to restore stock gate for lost order")
				}
			}
		} else {
			log.Debug().Int("worker", id).Str("order_id", order.ID).Msg("saved order")
		}

		cancel()
	}
}
