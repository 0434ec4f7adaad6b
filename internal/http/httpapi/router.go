package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"drawbot/internal/http/handlers"
	"drawbot/internal/middleware"
)

// Options configures the webhook router.
type Options struct {
	App           *handlers.App
	Logger        zerolog.Logger
	WebhookSecret string
	DefaultLocale string
	Country       middleware.CountryLookup
	RateLimit     int // events per minute per IP, 0 disables
}

func NewRouter(opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(opts.Logger))
	r.Use(middleware.I18N(opts.DefaultLocale, opts.Country))

	r.Get("/v1/healthz", opts.App.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.WebhookSecret))
		if opts.RateLimit > 0 {
			r.Use(middleware.RateLimit(opts.RateLimit, time.Minute))
		}
		r.Post("/v1/events", opts.App.Events)
		r.Get("/v1/results/{id}", opts.App.Result)
	})

	return r
}
