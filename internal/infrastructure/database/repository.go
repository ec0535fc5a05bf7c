package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/romanzzaa/crypto-price-alerts/internal/domain"
)

var _ domain.Storage = (*Repository)(nil)

// Repository - подписки, baselines и цены в Postgres
type Repository struct {
	db     *DB
	logger *slog.Logger
}

func NewRepository(db *DB, logger *slog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.With(slog.String("component", "postgres")),
	}
}

// --- PriceRepository ---

// UpsertPrices пишет все цены одной транзакцией: либо все, либо ничего.
func (r *Repository) UpsertPrices(ctx context.Context, prices map[string]decimal.Decimal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instruments (symbol, price, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (symbol) DO UPDATE SET price = EXCLUDED.price, updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for symbol, price := range prices {
		if _, err := stmt.ExecContext(ctx, symbol, price); err != nil {
			return fmt.Errorf("failed to upsert price %s: %w", symbol, err)
		}
	}

	return tx.Commit()
}

func (r *Repository) GetPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol, price FROM instruments`)
	if err != nil {
		return nil, fmt.Errorf("failed to get prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]decimal.Decimal)
	for rows.Next() {
		var symbol string
		var price decimal.Decimal
		if err := rows.Scan(&symbol, &price); err != nil {
			return nil, fmt.Errorf("scan row error: %w", err)
		}
		prices[symbol] = price
	}
	return prices, rows.Err()
}

// --- SubscriptionRepository ---

func (r *Repository) AddSubscription(ctx context.Context, sub domain.Subscription) (bool, error) {
	query := `
		INSERT INTO subscriptions (subscriber_id, symbol, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (subscriber_id, symbol) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, sub.SubscriberID, sub.Symbol)
	if err != nil {
		return false, fmt.Errorf("failed to add subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// RemoveSubscription удаляет подписку и baseline в одной транзакции.
// Каскад FK сделал бы то же самое, но явное удаление не зависит от схемы.
func (r *Repository) RemoveSubscription(ctx context.Context, subscriberID int64, symbol string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM baselines WHERE subscriber_id = $1 AND symbol = $2`,
		subscriberID, symbol,
	); err != nil {
		return false, fmt.Errorf("failed to delete baseline: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE subscriber_id = $1 AND symbol = $2`,
		subscriberID, symbol,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit unsubscribe: %w", err)
	}
	return rows == 1, nil
}

func (r *Repository) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	query := `
		SELECT subscriber_id, symbol, created_at
		FROM subscriptions
		ORDER BY subscriber_id, symbol
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var s domain.Subscription
		if err := rows.Scan(&s.SubscriberID, &s.Symbol, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row error: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// --- BaselineRepository ---

func (r *Repository) SetBaseline(ctx context.Context, b domain.Baseline) error {
	query := `
		INSERT INTO baselines (subscriber_id, symbol, price, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (subscriber_id, symbol) DO UPDATE SET price = EXCLUDED.price, updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, b.SubscriberID, b.Symbol, b.Price); err != nil {
		return fmt.Errorf("failed to set baseline: %w", err)
	}
	return nil
}

func (r *Repository) DeleteBaseline(ctx context.Context, subscriberID int64, symbol string) error {
	query := `DELETE FROM baselines WHERE subscriber_id = $1 AND symbol = $2`

	if _, err := r.db.ExecContext(ctx, query, subscriberID, symbol); err != nil {
		return fmt.Errorf("failed to delete baseline: %w", err)
	}
	return nil
}

// ListBaselines отдает только baselines живых подписок
func (r *Repository) ListBaselines(ctx context.Context) ([]domain.Baseline, error) {
	query := `
		SELECT b.subscriber_id, b.symbol, b.price, b.updated_at
		FROM baselines b
		JOIN subscriptions s ON s.subscriber_id = b.subscriber_id AND s.symbol = b.symbol
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get baselines: %w", err)
	}
	defer rows.Close()

	var baselines []domain.Baseline
	for rows.Next() {
		var b domain.Baseline
		if err := rows.Scan(&b.SubscriberID, &b.Symbol, &b.Price, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row error: %w", err)
		}
		baselines = append(baselines, b)
	}
	return baselines, rows.Err()
}

func (r *Repository) Close() error {
	return r.db.Close()
}
