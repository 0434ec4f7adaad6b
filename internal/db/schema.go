// Package db bootstraps the bot's schema. The original deployment model is a
// single process owning its tables, so CREATE IF NOT EXISTS at startup stands
// in for a migration tool.
package db

import (
	"context"
	"fmt"

	"drawbot/internal/infra"
)

const qEnsureResults = `--sql 5fb0a3e7-218c-4d6f-b9a1-7c45e0d2f863
create table if not exists stored_results (
    id         text primary key,
    urls       jsonb not null,
    metadata   jsonb,
    created_at timestamptz not null default now()
);
`

const qEnsureSettings = `--sql 84c1f5d2-06eb-47a8-93c0-2ab76e41d5f9
create table if not exists bot_settings (
    key        text primary key,
    value      text not null,
    updated_at timestamptz not null default now()
);
`

// EnsureSchema creates the bot's tables when they do not exist yet.
func EnsureSchema(ctx context.Context, sql infra.SQLExecutor) error {
	for _, q := range []string{qEnsureResults, qEnsureSettings} {
		if _, err := sql.Exec(ctx, q); err != nil {
			return fmt.Errorf("db: ensure schema: %w", err)
		}
	}
	return nil
}
