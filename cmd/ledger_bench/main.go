package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	grpc_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/wallet/adapter/in/grpc"
	"github.com/JoeShih716/go-wallet-ledger/pkg/grpc"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

func main() {
	target := flag.String("target", "localhost:50051", "ledger grpc address")
	totalCount := flag.Int("n", 100000, "number of debits")
	concurrency := flag.Int("c", 1000, "concurrent requests")
	amountFlag := flag.String("amount", "1", "amount per debit")
	userID := flag.String("user", "", "user id (default: random)")
	flag.Parse()

	log := logger.New("ledger-bench")

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil || !amount.IsPositive() {
		log.Fatal().Str("amount", *amountFlag).Msg("amount must be a positive decimal")
	}
	if *userID == "" {
		*userID = "bench-" + uuid.NewString()
	}

	pool := grpc.NewPool()
	defer pool.Close()
	conn, err := pool.GetConnection(*target)
	if err != nil {
		log.Fatal().Err(err).Msg("did not connect")
	}
	c := grpc_adapter.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// 1. 開戶並存入 N·A
	opened, err := c.OpenAccount(ctx, &grpc_adapter.OpenAccountRequest{UserID: *userID})
	if err != nil {
		log.Fatal().Err(err).Msg("open account failed")
	}
	ref := grpc_adapter.AccountRef{AccountID: opened.Account.ID.String()}
	funding := amount.Mul(decimal.NewFromInt(int64(*totalCount)))
	if _, err := c.Credit(ctx, &grpc_adapter.MutationRequest{
		AccountRef:    ref,
		Amount:        funding,
		Description:   "bench funding",
		Reference:     uuid.NewString(),
		ReferenceType: "BENCH",
	}); err != nil {
		log.Fatal().Err(err).Msg("funding credit failed")
	}
	log.Info().Str("account_id", ref.AccountID).Str("funding", funding.String()).Msg("account funded")

	// 2. N 筆並行扣款
	var wg sync.WaitGroup
	var failed atomic.Int64
	sem := make(chan struct{}, *concurrency)
	startTime := time.Now()

	for i := 0; i < *totalCount; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			_, err := c.Debit(ctx, &grpc_adapter.MutationRequest{
				AccountRef:    ref,
				Amount:        amount,
				Reference:     uuid.NewString(),
				ReferenceType: "BENCH",
			})
			if err != nil {
				failed.Add(1)
				if idx%10000 == 0 {
					log.Warn().Err(err).Int("index", idx).Msg("debit failed")
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(startTime)

	// 3. 最終餘額必須為 0
	balance, err := c.GetBalance(ctx, &grpc_adapter.GetBalanceRequest{AccountRef: ref})
	if err != nil {
		log.Fatal().Err(err).Msg("get balance failed")
	}

	fmt.Printf("Completed %d debits in %v (%d failed)\n", *totalCount, elapsed, failed.Load())
	fmt.Printf("TPS: %.2f\n", float64(*totalCount)/elapsed.Seconds())
	fmt.Printf("Final balance: %s\n", balance.Balance)
	if failed.Load() == 0 && !balance.Balance.IsZero() {
		log.Fatal().Str("balance", balance.Balance.String()).Msg("final balance is not zero")
	}
}
