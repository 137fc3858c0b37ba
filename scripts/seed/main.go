package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-backoffice/internal/accounting"
	"github.com/odyssey-erp/odyssey-backoffice/internal/app"
	"github.com/odyssey-erp/odyssey-backoffice/internal/inventory"
	"github.com/odyssey-erp/odyssey-backoffice/internal/platform/db"
	"github.com/odyssey-erp/odyssey-backoffice/internal/shared"
)

const seedActor int64 = 1

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	ctx := shared.ContextWithActor(context.Background(), seedActor)

	pool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, StatementTimeout: cfg.PGStatementTimeout})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	runner := db.NewRunner(pool, cfg.TxMaxAttempts, nil)

	logger.Info("seeding accounting periods")
	if err := seedPeriods(ctx, runner, time.Now().Year()); err != nil {
		logger.Error("seed periods", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("seeding chart of accounts")
	if err := seedAccounts(ctx, runner); err != nil {
		logger.Error("seed accounts", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("seeding opening stock")
	svc := inventory.NewService(inventory.NewRepository(pool, runner), shared.NewAuditLogger(pool))
	if err := seedStock(ctx, svc); err != nil {
		logger.Error("seed stock", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("seed complete", slog.Time("at", time.Now()))
}

// seedPeriods creates one open monthly period per month of year.
func seedPeriods(ctx context.Context, runner *db.Runner, year int) error {
	return runner.WithTx(ctx, func(tx pgx.Tx) error {
		for month := time.January; month <= time.December; month++ {
			start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
			end := start.AddDate(0, 1, -1)
			_, err := tx.Exec(ctx, `INSERT INTO accounting_periods (code, start_date, end_date)
VALUES ($1, $2, $3)
ON CONFLICT (code) DO NOTHING`, start.Format("2006-01"), start, end)
			if err != nil {
				return fmt.Errorf("period %s: %w", start.Format("2006-01"), err)
			}
		}
		return nil
	})
}

type seedAccount struct {
	code        string
	name        string
	opening     string
	openingType string
}

var defaultAccounts = []seedAccount{
	{"1110", "Kas", "25000000.00", "DR"},
	{"1120", "Bank", "150000000.00", "DR"},
	{"1300", "Persediaan Barang", "0", "DR"},
	{"2100", "Hutang Usaha", "0", "CR"},
	{"3100", "Modal Disetor", "175000000.00", "CR"},
	{"4100", "Pendapatan Penjualan", "0", "CR"},
	{"5100", "Harga Pokok Penjualan", "0", "DR"},
}

func seedAccounts(ctx context.Context, runner *db.Runner) error {
	branches := []int64{1, 2}
	return runner.WithTx(ctx, func(tx pgx.Tx) error {
		for _, branchID := range branches {
			for _, seed := range defaultAccounts {
				acc := accounting.Account{
					BranchID:           branchID,
					Code:               seed.code,
					Name:               seed.name,
					OpeningBalance:     decimal.RequireFromString(seed.opening),
					OpeningBalanceType: accounting.BalanceType(seed.openingType),
				}
				if err := acc.Validate(); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `INSERT INTO accounts (branch_id, code, name, opening_balance, opening_balance_type)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (branch_id, code) DO NOTHING`, acc.BranchID, acc.Code, acc.Name, acc.OpeningBalance, string(acc.OpeningBalanceType))
				if err != nil {
					return fmt.Errorf("account %s/%d: %w", acc.Code, branchID, err)
				}
			}
		}
		return nil
	})
}

type openingStock struct {
	branchID  int64
	variantID int64
	quantity  int64
}

var defaultStock = []openingStock{
	{1, 1001, 120},
	{1, 1002, 80},
	{1, 1003, 45},
	{2, 1001, 30},
	{2, 1004, 60},
}

// seedStock books a PURCHASE for every pair that has no stock yet, so the
// cached quantity and the movement log agree from the first run.
func seedStock(ctx context.Context, svc *inventory.Service) error {
	for _, row := range defaultStock {
		current, err := svc.GetStock(ctx, row.branchID, row.variantID)
		if err != nil {
			return err
		}
		if current.Quantity > 0 {
			continue
		}
		if _, err := svc.ReceivePurchase(ctx, inventory.ItemInput{
			BranchID:  row.branchID,
			VariantID: row.variantID,
			Quantity:  row.quantity,
			ActorID:   seedActor,
		}); err != nil {
			return fmt.Errorf("stock %d/%d: %w", row.branchID, row.variantID, err)
		}
	}
	return nil
}
