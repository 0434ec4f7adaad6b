// Package settings persists the bot's durable key-value document: the session
// cookie, the last sign-in date and the resolution presets. It is read once at
// startup and written after every credential or sign-in-date mutation.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"drawbot/internal/infra"
	"drawbot/internal/sqlinline"
)

const (
	KeySessionCookie  = "session_cookie"
	KeyLastSignInDate = "last_sign_in_date"
	KeyResolutions    = "resolutions"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Get returns the value stored under key, or the empty string when unset.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectSetting, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	return strings.TrimSpace(value), nil
}

// Set writes the value under key, replacing any prior value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertSetting, key, value); err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// Resolutions returns the configured resolution presets, falling back to the
// defaults when none are stored.
func (s *Store) Resolutions(ctx context.Context) ([]string, error) {
	raw, err := s.Get(ctx, KeyResolutions)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return defaultResolutions(), nil
	}
	var presets []string
	if err := json.Unmarshal([]byte(raw), &presets); err != nil {
		return nil, fmt.Errorf("settings: decode resolutions: %w", err)
	}
	if len(presets) == 0 {
		return defaultResolutions(), nil
	}
	return presets, nil
}

func defaultResolutions() []string {
	return []string{"1024*1024", "1280*720", "720*1280", "1152*864", "864*1152"}
}
