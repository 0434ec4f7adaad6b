// Package handlers implements the webhook surface: incoming chat events,
// stored-result lookup and health.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"drawbot/internal/infra"
	"drawbot/internal/results"
)

// EventSink consumes decoded chat events. Satisfied by bot.Bot.
type EventSink interface {
	HandleText(ctx context.Context, userID, locale, text string)
	HandleImage(ctx context.Context, userID, locale string, data []byte)
}

// ResultReader looks up stored generation results.
type ResultReader interface {
	Fetch(ctx context.Context, id string) (*results.StoredResult, error)
}

type App struct {
	Bot     EventSink
	Results ResultReader
	Logger  infra.Logger
	HTTP    *http.Client
}

func NewApp(sink EventSink, reader ResultReader, logger infra.Logger) *App {
	return &App{
		Bot:     sink,
		Results: reader,
		Logger:  logger,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
