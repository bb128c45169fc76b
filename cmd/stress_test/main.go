package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

func main() {
	dsn := flag.String("mysql", "", "MySQL DSN; empty runs against the in-memory store")
	initialStock := flag.Int("stock", 20, "units on hand before the run")
	totalRequests := flag.Int("requests", 50, "concurrent single-unit reservations")
	attempts := flag.Int("attempts", 3, "attempts per reservation on version conflict")
	flag.Parse()

	ctx := context.Background()

	var repo port.StockRepository = storage.NewMemoryAdapter()
	if *dsn != "" {
		db, err := sql.Open("mysql", *dsn)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to open mysql")
		}
		defer db.Close()
		if err := storage.Migrate(ctx, db); err != nil {
			zlog.Fatal().Err(err).Msg("failed to migrate")
		}
		repo = storage.NewMySQLAdapter(db)
	}

	stockService := service.NewStockService(repo, nil, service.WithRetry(*attempts, 5*time.Millisecond))

	productID := "stress-" + uuid.NewString()
	if _, err := stockService.Provision(ctx, productID, ""); err != nil {
		zlog.Fatal().Err(err).Msg("failed to provision")
	}
	if _, err := stockService.AdjustStock(ctx, productID, *initialStock, "stress test load", "stress"); err != nil {
		zlog.Fatal().Err(err).Msg("failed to set stock")
	}

	// Counters
	var successCount, soldOutCount, conflictCount, otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := stockService.Reserve(ctx, productID, 1)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			case errors.Is(err, domain.ErrConcurrencyConflict):
				conflictCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	available, err := stockService.ReadAvailableQuantity(ctx, productID)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to read available quantity")
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Reserved:         %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Gave Up (busy):   %d\n", conflictCount.Load())
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Available After:  %d\n", available)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success <= *initialStock {
		fmt.Println("PASS: no oversell")
	} else {
		fmt.Printf("FAIL: reserved %d units out of %d\n", success, *initialStock)
	}

	if available == *initialStock-success {
		fmt.Println("PASS: available matches reservations")
	} else {
		fmt.Printf("FAIL: expected available %d, got %d\n", *initialStock-success, available)
	}
}
