// Package results records generated artifact URLs under an opaque ID so users
// can recall or enlarge them later. Records expire after the retention period:
// reads lazily delete expired rows and a periodic sweep clears the rest.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"drawbot/internal/domain"
	"drawbot/internal/infra"
	"drawbot/internal/sqlinline"
)

const defaultRetention = 7 * 24 * time.Hour

// StoredResult is one persisted generation outcome.
type StoredResult struct {
	ID        string
	URLs      []string
	Metadata  map[string]string
	CreatedAt time.Time
}

type Store struct {
	sql       infra.SQLExecutor
	logger    infra.Logger
	retention time.Duration
	now       func() time.Time
}

// Options wires the store. Zero Retention takes the 7-day default.
type Options struct {
	SQL       infra.SQLExecutor
	Logger    infra.Logger
	Retention time.Duration
	Now       func() time.Time
}

func NewStore(opts Options) *Store {
	retention := opts.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{sql: opts.SQL, logger: opts.Logger, retention: retention, now: now}
}

// NewID derives a result ID from the submission wall-clock second. IDs are
// not collision-resistant under rapid concurrent submissions; Store is an
// upsert so the newer record wins, matching the historical contract users'
// saved IDs depend on.
func (s *Store) NewID() string {
	return fmt.Sprintf("%d", s.now().Unix())
}

// Store persists the result. Never mutated afterwards.
func (s *Store) Store(ctx context.Context, id string, urls []string, metadata map[string]string) error {
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("results: encode urls: %w", err)
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("results: encode metadata: %w", err)
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertResult, id, urlsJSON, metaJSON); err != nil {
		return fmt.Errorf("results: store %s: %w", id, err)
	}
	s.logger.Debug().Str("result_id", id).Int("urls", len(urls)).Msg("results: stored")
	return nil
}

// Fetch returns the record for id. Expired records are deleted on read and
// reported as not found; a second fetch is equally not found.
func (s *Store) Fetch(ctx context.Context, id string) (*StoredResult, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectResult, id)
	var (
		urlsJSON  []byte
		metaJSON  []byte
		createdAt time.Time
	)
	if err := row.Scan(&urlsJSON, &metaJSON, &createdAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("results: fetch %s: %w", id, err)
	}

	if s.now().Sub(createdAt) > s.retention {
		if err := s.Delete(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("result_id", id).Msg("results: lazy expiry delete failed")
		}
		return nil, domain.ErrNotFound
	}

	result := &StoredResult{ID: id, CreatedAt: createdAt}
	if err := json.Unmarshal(urlsJSON, &result.URLs); err != nil {
		return nil, fmt.Errorf("results: decode urls for %s: %w", id, err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &result.Metadata); err != nil {
			return nil, fmt.Errorf("results: decode metadata for %s: %w", id, err)
		}
	}
	return result, nil
}

// Delete removes the record; deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QDeleteResult, id); err != nil {
		return fmt.Errorf("results: delete %s: %w", id, err)
	}
	return nil
}

// SweepExpired removes every record older than the retention period. The host
// decides the cadence; cmd/bot runs it on a ticker.
func (s *Store) SweepExpired(ctx context.Context) error {
	interval := fmt.Sprintf("%d seconds", int(s.retention.Seconds()))
	if _, err := s.sql.Exec(ctx, sqlinline.QSweepExpiredResults, interval); err != nil {
		return fmt.Errorf("results: sweep expired: %w", err)
	}
	return nil
}
