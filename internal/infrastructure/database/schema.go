package database

import (
	"context"
	"fmt"
)

// schema - идемпотентная схема. Baseline подчинен подписке: удаляется каскадом.
const schema = `
CREATE TABLE IF NOT EXISTS instruments (
	symbol     TEXT PRIMARY KEY,
	price      NUMERIC NOT NULL CHECK (price >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subscriptions (
	subscriber_id BIGINT NOT NULL,
	symbol        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (subscriber_id, symbol)
);

CREATE INDEX IF NOT EXISTS subscriptions_symbol_idx ON subscriptions (symbol);

CREATE TABLE IF NOT EXISTS baselines (
	subscriber_id BIGINT NOT NULL,
	symbol        TEXT NOT NULL,
	price         NUMERIC NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (subscriber_id, symbol),
	FOREIGN KEY (subscriber_id, symbol)
		REFERENCES subscriptions (subscriber_id, symbol) ON DELETE CASCADE
);
`

// Migrate создает таблицы, если их нет
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
