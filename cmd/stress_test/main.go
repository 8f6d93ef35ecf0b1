package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	mysqlDSN      = "root:root@tcp(localhost:3306)/stockledger?parseTime=true"
	redisAddr     = "localhost:6379"
	itemID        = "stress-test-item"
	initialStock  = 20
	totalRequests = 50
	queueSize     = 100
)

func main() {
	ctx := context.Background()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb)

	if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	// Reset previous test state
	db.ExecContext(ctx, `DELETE FROM orders WHERE item_id = ?`, itemID)
	db.ExecContext(ctx, `DELETE FROM inventory WHERE item_id = ?`, itemID)
	rdb.Del(ctx, "stock:"+itemID)

	if err := mysqlAdapter.CreateItem(ctx, domain.InventoryItem{
		ID:       itemID,
		Name:     "stress test item",
		Quantity: initialStock,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to seed item")
	}
	if err := redisAdapter.SetStock(ctx, itemID, initialStock); err != nil {
		log.Fatal().Err(err).Msg("failed to seed stock gate")
	}

	ledger := service.NewLedger(mysqlAdapter, service.LedgerConfig{
		MaxRetries: totalRequests,
	})
	orderService := service.NewOrderService(ledger, redisAdapter, queueSize, true, false)
	defer orderService.Close()

	// Drain the order queue in background
	go func() {
		for range orderService.GetOrderQueue() {
		}
	}()

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			_, err := orderService.Purchase(ctx, uuid.NewString(), fmt.Sprintf("user-%d", userID), itemID, 1)
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	// Verify final durable state
	item, err := mysqlAdapter.GetItem(ctx, itemID)
	if err != nil || item == nil {
		log.Fatal().Err(err).Msg("failed to read final inventory")
	}
	fmt.Printf("Final Stock:   %d\n", item.Quantity)
	fmt.Printf("Final Version: %d\n", item.Version)

	if item.Quantity == 0 {
		fmt.Println("PASS: Stock depleted to 0, never negative")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", item.Quantity)
	}
	if item.Version == int64(initialStock) {
		fmt.Printf("PASS: Version advanced exactly once per committed decrement (%d)\n", item.Version)
	} else {
		fmt.Printf("FAIL: Expected version %d, got %d\n", initialStock, item.Version)
	}
}
