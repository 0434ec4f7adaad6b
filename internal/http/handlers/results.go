package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"drawbot/internal/domain"
)

type resultResponse struct {
	ID        string            `json:"id"`
	URLs      []string          `json:"urls"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Result returns a stored generation result. Expired or unknown IDs are 404.
func (a *App) Result(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stored, err := a.Results.Fetch(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.json(w, http.StatusNotFound, errorResponse{Error: "result not found"})
			return
		}
		a.Logger.Error().Err(err).Str("result_id", id).Msg("handlers: result lookup failed")
		a.json(w, http.StatusInternalServerError, errorResponse{Error: "result lookup failed"})
		return
	}
	a.json(w, http.StatusOK, resultResponse{
		ID:        stored.ID,
		URLs:      stored.URLs,
		Metadata:  stored.Metadata,
		CreatedAt: stored.CreatedAt,
	})
}
