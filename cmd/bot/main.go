package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drawbot/internal/bot"
	"drawbot/internal/channel"
	"drawbot/internal/creds"
	"drawbot/internal/db"
	"drawbot/internal/engine"
	"drawbot/internal/http/handlers"
	"drawbot/internal/http/httpapi"
	"drawbot/internal/infra"
	"drawbot/internal/infra/geoip"
	"drawbot/internal/middleware"
	"drawbot/internal/providers/imagine"
	"drawbot/internal/providers/passport"
	"drawbot/internal/results"
	"drawbot/internal/session"
	"drawbot/internal/settings"
	"drawbot/internal/storage"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	if err := db.EnsureSchema(ctx, runner); err != nil {
		logger.Fatal().Err(err).Msg("bot: schema bootstrap failed")
	}

	settingsStore := settings.NewStore(runner)

	httpClient := &http.Client{Timeout: 60 * time.Second}
	passportClient, err := passport.NewClient(passport.Options{
		BaseURL:    cfg.PassportBaseURL,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: passport client failed")
	}
	imagineClient, err := imagine.NewClient(imagine.Options{
		BaseURL:    cfg.ImagineBaseURL,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: imagine client failed")
	}

	credStore := creds.NewStore(creds.Options{
		Passport:        passportClient,
		Settings:        settingsStore,
		Logger:          logger,
		RefreshInterval: cfg.CredentialRefreshInterval,
	})
	if err := credStore.Load(ctx); err != nil {
		logger.Warn().Err(err).Msg("bot: restoring credential failed, starting logged out")
	}

	resultStore := results.NewStore(results.Options{
		SQL:       runner,
		Logger:    logger,
		Retention: cfg.ResultRetention,
	})

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: failed to configure storage")
	}

	replyChannel, err := channel.New(channel.Options{
		BaseURL: cfg.ChannelCallbackURL,
		Secret:  cfg.WebhookSecret,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: reply channel failed")
	}

	jobEngine := engine.New(engine.Options{
		Service: imagineClient,
		Creds:   credStore,
		Logger:  logger,
	})

	sessions := session.NewManager(session.Options{})
	chatBot, err := bot.New(bot.Options{
		Sessions: sessions,
		Runner:   jobEngine,
		Creds:    credStore,
		Passport: passportClient,
		Imagine:  imagineClient,
		Results:  resultStore,
		Settings: settingsStore,
		Files:    fileStore,
		Channel:  replyChannel,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: wiring failed")
	}

	// Sign in once at startup when a session already exists.
	if !credStore.Get().Empty() {
		chatBot.MaybeSignIn(ctx)
	}

	go sweepLoop(ctx, resultStore, cfg.ResultSweepInterval, logger)

	var country middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("bot: geoip unavailable")
	} else if resolver != nil {
		country = resolver.CountryCode
	}

	app := handlers.NewApp(chatBot, resultStore, logger)
	router := httpapi.NewRouter(httpapi.Options{
		App:           app,
		Logger:        logger,
		WebhookSecret: cfg.WebhookSecret,
		DefaultLocale: cfg.DefaultLocale,
		Country:       country,
		RateLimit:     120,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("bot: webhook listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("bot: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("bot: server shutdown failed")
	}

	// Let in-flight jobs deliver their terminal replies.
	chatBot.Wait()
	logger.Info().Msg("bot: stopped")
}

func sweepLoop(ctx context.Context, store *results.Store, interval time.Duration, logger infra.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.SweepExpired(ctx); err != nil {
				logger.Warn().Err(err).Msg("bot: result sweep failed")
			}
		}
	}
}
