package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/romanzzaa/crypto-price-alerts/internal/bot"
	"github.com/romanzzaa/crypto-price-alerts/internal/config"
	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
	"github.com/romanzzaa/crypto-price-alerts/internal/infrastructure/bybit"
	"github.com/romanzzaa/crypto-price-alerts/internal/infrastructure/coinmarketcap"
	"github.com/romanzzaa/crypto-price-alerts/internal/infrastructure/database"
	"github.com/romanzzaa/crypto-price-alerts/internal/infrastructure/kafka"
	"github.com/romanzzaa/crypto-price-alerts/internal/infrastructure/memory"
	"github.com/romanzzaa/crypto-price-alerts/internal/infrastructure/redisstore"
	"github.com/romanzzaa/crypto-price-alerts/internal/metrics"
	"github.com/romanzzaa/crypto-price-alerts/internal/pricecache"
	"github.com/romanzzaa/crypto-price-alerts/internal/subscription"
	"github.com/romanzzaa/crypto-price-alerts/internal/usecase"
	"github.com/romanzzaa/crypto-price-alerts/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.App.SlogLevel()}))

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Service stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Telegram.BotToken == "" {
		return errors.New("telegram.bot_token is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	fetcher, stream := buildFetcher(cfg, logger)
	m := metrics.New()

	// --- Состояние движка: кэш цен, baselines, реестр подписок ---
	cache := pricecache.New(fetcher, storage, pricecache.Config{
		Limit:        cfg.Fetcher.Limit,
		FetchTimeout: cfg.Fetcher.Timeout,
	}, logger)
	if err := cache.Load(ctx); err != nil {
		return fmt.Errorf("load prices: %w", err)
	}

	baselines := subscription.NewBaselineStore(storage)
	if err := baselines.Load(ctx); err != nil {
		return fmt.Errorf("load baselines: %w", err)
	}

	registry := subscription.NewRegistry(storage, cache, baselines, logger)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	dispatcher := usecase.NewDispatcher(cache, registry, baselines, cfg.Dispatch.Threshold(), m, logger)

	// --- Telegram ---
	tgBot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("failed to init telegram bot: %w", err)
	}
	tgBot.Debug = false
	logger.Info("Telegram bot authorized", slog.String("username", tgBot.Self.UserName))

	botHandler := bot.NewHandler(tgBot, dispatcher, cfg.Telegram.AdminID, logger)

	sinks := []worker.Sink{{Name: "telegram", Notifier: botHandler}}
	if cfg.Kafka.Enabled {
		publisher := kafka.NewPublisher(kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		defer publisher.Close()
		sinks = append(sinks, worker.Sink{Name: "kafka", Notifier: publisher})
	}

	manager := worker.NewManager(dispatcher, sinks, worker.Config{
		Interval:        cfg.Dispatch.Interval,
		Workers:         cfg.Dispatch.Workers,
		QueueSize:       cfg.Dispatch.QueueSize,
		DeliveryTimeout: cfg.Dispatch.DeliveryTimeout,
	}, m, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.App.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("Starting service...",
		slog.String("env", cfg.App.Env),
		slog.String("source", cfg.Fetcher.Source),
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("kafka", cfg.Kafka.Enabled),
		slog.Int("subscriptions", registry.Count()))

	g, gctx := errgroup.WithContext(ctx)

	if stream != nil {
		g.Go(func() error { return stream.Run(gctx) })
	}
	g.Go(func() error {
		manager.Run(gctx)
		return nil
	})
	g.Go(func() error { return botHandler.Start(gctx) })
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pg := cfg.Storage.Postgres
		db, err := database.NewConnection(database.Config{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			DBName:   pg.DBName,
			SSLMode:  pg.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return database.NewRepository(db, logger), nil

	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return redisstore.NewStore(rdb), nil

	default:
		logger.Warn("Using in-memory storage, state is lost on restart")
		return memory.NewStorage(), nil
	}
}

// buildFetcher возвращает источник цен и, для WebSocket источника, стрим, который надо запустить
func buildFetcher(cfg *config.Config, logger *slog.Logger) (domain.PriceFetcher, *bybit.MarketStream) {
	fc := cfg.Fetcher

	switch fc.Source {
	case config.SourceBybit:
		baseURL := fc.BaseURL
		if baseURL == "" && fc.Testnet {
			baseURL = bybit.TestnetBaseURL
		}
		return bybit.NewClient(baseURL, fc.Timeout), nil

	case config.SourceBybitStream:
		url := fc.BaseURL
		if url == "" && fc.Testnet {
			url = bybit.TestnetSpotStream
		}
		stream := bybit.NewMarketStream(url, fc.Symbols, fc.StaleAfter, logger)
		return stream, stream

	default:
		return coinmarketcap.NewClient(fc.BaseURL, fc.APIKey, fc.Timeout), nil
	}
}
