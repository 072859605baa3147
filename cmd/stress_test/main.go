package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/infrastructure/auth"
	"github.com/rl1809/storefront/internal/infrastructure/config"
	"github.com/rl1809/storefront/internal/infrastructure/logger"
)

// Fires concurrent single-unit orders for one product at a running server and
// checks that exactly the available stock was sold.
func main() {
	var (
		grpcAddr      string
		initialStock  int
		totalRequests int
	)
	flag.StringVar(&grpcAddr, "addr", "localhost:50051", "gRPC server address")
	flag.IntVar(&initialStock, "stock", 20, "initial stock of the test product")
	flag.IntVar(&totalRequests, "requests", 50, "number of concurrent buyers")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Format: "console", Output: "stdout"})
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	db, err := sql.Open("mysql", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to open mysql", zap.Error(err))
	}
	defer db.Close()
	store := storage.NewMySQLAdapter(db)

	now := time.Now().UTC()
	productID := uuid.New().String()
	if err := store.CreateProduct(ctx, domain.Product{
		ID:        productID,
		Name:      "stress-" + productID[:8],
		Price:     decimal.NewFromInt(1),
		Quantity:  initialStock,
		Category:  "stress",
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		log.Fatal("Failed to seed product", zap.Error(err))
	}

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal("Failed to dial", zap.String("addr", grpcAddr), zap.Error(err))
	}
	defer conn.Close()
	client := handler.NewOrderClient(conn)
	tokens := auth.NewJWTService(cfg.JWT)

	address := domain.AddressFields{
		FullName:   "Stress Buyer",
		Address:    "1 Load Street",
		City:       "Benchville",
		PostalCode: "00000",
		Country:    "NL",
		Contact:    "000",
		Email:      "stress@example.com",
	}

	var (
		successCount atomic.Int32
		soldOut      atomic.Int32
		otherErrors  atomic.Int32
		wg           sync.WaitGroup
	)
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			token, err := tokens.IssueToken(uuid.New().String(), domain.RoleBuyer)
			if err != nil {
				otherErrors.Add(1)
				return
			}
			callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			callCtx = metadata.AppendToOutgoingContext(callCtx, "authorization", "Bearer "+token)

			_, err = client.PlaceOrder(callCtx, &handler.PlaceOrderMessage{
				PlaceOrderRequest: handler.PlaceOrderRequest{
					Items:    []domain.LineItem{{ProductID: productID, Quantity: 1}},
					Billing:  address,
					Shipping: address,
				},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case status.Code(err) == codes.FailedPrecondition:
				soldOut.Add(1)
			default:
				otherErrors.Add(1)
				log.Warn("Unexpected error", zap.Error(err))
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	inv, err := store.GetInventory(ctx, productID)
	if err != nil || inv == nil {
		log.Fatal("Failed to read final stock", zap.Error(err))
	}

	success := int(successCount.Load())
	expected := min(initialStock, totalRequests)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rolled back:      %d\n", soldOut.Load())
	fmt.Printf("Other errors:     %d\n", otherErrors.Load())
	fmt.Printf("Final Stock:      %d\n", inv.Quantity)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if success != expected {
		fmt.Printf("FAIL: expected %d successful orders, got %d\n", expected, success)
		failed = true
	}
	if inv.Quantity != initialStock-success || inv.Quantity < 0 {
		fmt.Printf("FAIL: stock %d does not match %d - %d\n", inv.Quantity, initialStock, success)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("PASS: stock never oversold")
}
