package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/config"
	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
	"github.com/romanzzaa/crypto-price-alerts/internal/infrastructure/database"
)

// Тестовый подписчик, если telegram.admin_id не задан
const demoSubscriberID int64 = 12345

func main() {
	// 1. Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	if cfg.App.Env != "local" {
		log.Fatal("Seeder allowed only in local environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// 2. Database + схема
	pg := cfg.Storage.Postgres
	db, err := database.NewConnection(database.Config{
		Host: pg.Host, Port: pg.Port, User: pg.User,
		Password: pg.Password, DBName: pg.DBName, SSLMode: pg.SSLMode,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	repo := database.NewRepository(db, logger)

	// --- ШАГ 1: Цены ---
	prices := map[string]decimal.Decimal{
		"BTC": decimal.RequireFromString("65000"),
		"ETH": decimal.RequireFromString("2500"),
		"SOL": decimal.RequireFromString("150"),
	}
	if err := repo.UpsertPrices(ctx, prices); err != nil {
		log.Fatalf("Failed to seed prices: %v", err)
	}
	log.Printf("✅ Seeded %d instruments", len(prices))

	// --- ШАГ 2: Подписки + baselines ---
	subscriberID := demoSubscriberID
	if cfg.Telegram.AdminID != 0 {
		subscriberID = cfg.Telegram.AdminID
	}

	for _, sym := range []string{"BTC", "ETH"} {
		added, err := repo.AddSubscription(ctx, domain.Subscription{SubscriberID: subscriberID, Symbol: sym})
		if err != nil {
			log.Fatalf("Failed to add subscription %s: %v", sym, err)
		}
		if !added {
			log.Printf("[Seeder] Subscription %d/%s already exists", subscriberID, sym)
			continue
		}

		if err := repo.SetBaseline(ctx, domain.Baseline{
			SubscriberID: subscriberID,
			Symbol:       sym,
			Price:        prices[sym],
			UpdatedAt:    time.Now(),
		}); err != nil {
			log.Fatalf("Failed to set baseline %s: %v", sym, err)
		}
		log.Printf("✅ Subscribed %d to %s at %s", subscriberID, sym, prices[sym])
	}

	log.Println("🚀 Seeding completed")
}
