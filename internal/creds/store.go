// Package creds owns the session credential lifecycle: the current cookie and
// access token, the advisory hourly refresh, and persistence to the settings
// document after every successful mutation.
package creds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"drawbot/internal/domain"
	"drawbot/internal/infra"
	"drawbot/internal/settings"
)

// Exchanger is the slice of the passport client the store needs.
type Exchanger interface {
	ExchangeToken(ctx context.Context, cookie, xsrfToken string) (string, error)
	EnrichCookie(ctx context.Context, cookie string) (string, error)
}

// SettingsDoc is the slice of the settings store the credential store needs.
type SettingsDoc interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Options wires the store's collaborators.
type Options struct {
	Passport        Exchanger
	Settings        SettingsDoc
	Logger          infra.Logger
	RefreshInterval time.Duration
	Now             func() time.Time
}

// Store is safe for concurrent use. The credential is never deleted, only
// overwritten.
type Store struct {
	mu       sync.Mutex
	current  domain.Credential
	passport Exchanger
	settings SettingsDoc
	logger   infra.Logger
	interval time.Duration
	now      func() time.Time
}

func NewStore(opts Options) *Store {
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		passport: opts.Passport,
		settings: opts.Settings,
		logger:   opts.Logger,
		interval: interval,
		now:      now,
	}
}

// Load restores the persisted cookie at startup. An empty document means no
// session exists yet and every caller sees login-required.
func (s *Store) Load(ctx context.Context) error {
	cookie, err := s.settings.Get(ctx, settings.KeySessionCookie)
	if err != nil {
		return fmt.Errorf("creds: load: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cookie != "" {
		s.current = domain.Credential{SessionCookie: cookie, RefreshedAt: s.now()}
	}
	return nil
}

// Get returns the current credential; an empty one signals login-required.
func (s *Store) Get() domain.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the credential after a fresh login and persists it immediately.
func (s *Store) Set(ctx context.Context, cred domain.Credential) error {
	cred.RefreshedAt = s.now()
	if err := s.settings.Set(ctx, settings.KeySessionCookie, cred.SessionCookie); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = cred
	s.mu.Unlock()
	return nil
}

// Refresh performs the token-exchange round trip. On success the stored
// credential is atomically replaced and persisted; on failure the prior value
// stays untouched and the error is returned.
func (s *Store) Refresh(ctx context.Context) (domain.Credential, error) {
	s.mu.Lock()
	prior := s.current
	s.mu.Unlock()

	if prior.Empty() {
		return prior, fmt.Errorf("creds: refresh: %w", domain.ErrLoginRequired)
	}

	cookie := prior.SessionCookie
	xsrf := prior.XSRFToken()
	if xsrf == "" {
		// The anti-forgery token is minted fresh when the cookie carries
		// none; the exchange endpoint accepts either.
		xsrf = uuid.NewString()
		cookie = domain.MergeCookie(cookie, map[string]string{"XSRF-TOKEN": xsrf})
	}

	token, err := s.passport.ExchangeToken(ctx, cookie, xsrf)
	if err != nil {
		return prior, fmt.Errorf("creds: refresh: %w", err)
	}
	enriched, err := s.passport.EnrichCookie(ctx, cookie)
	if err != nil {
		// Enrichment is best effort; the exchanged token is still valid
		// against the unenriched cookie.
		s.logger.Warn().Err(err).Msg("creds: cookie enrichment failed")
		enriched = cookie
	}

	next := domain.Credential{
		SessionCookie: enriched,
		AccessToken:   token,
		RefreshedAt:   s.now(),
	}
	if err := s.settings.Set(ctx, settings.KeySessionCookie, next.SessionCookie); err != nil {
		return prior, fmt.Errorf("creds: persist refreshed credential: %w", err)
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	s.logger.Info().Msg("creds: credential refreshed")
	return next, nil
}

// RefreshIfStale applies the advisory staleness policy before a submission or
// balance query. A failed advisory refresh is tolerated: the prior credential
// is returned and the authoritative signal remains an unauthorized response
// downstream.
func (s *Store) RefreshIfStale(ctx context.Context) domain.Credential {
	current := s.Get()
	if !current.Stale(s.now(), s.interval) {
		return current
	}
	refreshed, err := s.Refresh(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("creds: advisory refresh failed")
		return current
	}
	return refreshed
}
