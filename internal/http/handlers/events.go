package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"drawbot/internal/middleware"
)

const maxImageBytes = 32 << 20

// EventRequest is one chat event pushed by the platform. Exactly one of Text,
// ImageURL or ImageData must be set, matching Type.
type EventRequest struct {
	UserID    string `json:"user_id"`
	Locale    string `json:"locale,omitempty"`
	Type      string `json:"type"` // "text" | "image"
	Text      string `json:"text,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	ImageData string `json:"image_data,omitempty"` // base64
}

type eventResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Events accepts one chat event and dispatches it to the bot. The response is
// an acknowledgement only; replies travel back over the channel callback.
func (a *App) Events(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxImageBytes)).Decode(&req); err != nil {
		a.json(w, http.StatusBadRequest, errorResponse{Error: "malformed event payload"})
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = middleware.UserIDFromContext(r.Context())
	}
	if userID == "" {
		a.json(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}

	locale := req.Locale
	if locale == "" {
		locale = middleware.LocaleFromContext(r.Context())
	}

	switch req.Type {
	case "text":
		if strings.TrimSpace(req.Text) == "" {
			a.json(w, http.StatusBadRequest, errorResponse{Error: "text is required for text events"})
			return
		}
		a.Bot.HandleText(r.Context(), userID, locale, req.Text)
	case "image":
		data, err := a.imagePayload(r, req)
		if err != nil {
			a.Logger.Warn().Err(err).Str("user_id", userID).Msg("handlers: image event payload unusable")
			a.json(w, http.StatusBadRequest, errorResponse{Error: "image payload unusable"})
			return
		}
		a.Bot.HandleImage(r.Context(), userID, locale, data)
	default:
		a.json(w, http.StatusBadRequest, errorResponse{Error: "unknown event type"})
		return
	}

	a.json(w, http.StatusAccepted, eventResponse{Status: "accepted"})
}

func (a *App) imagePayload(r *http.Request, req EventRequest) ([]byte, error) {
	if req.ImageData != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageData)
		if err != nil {
			return nil, fmt.Errorf("handlers: decode inline image: %w", err)
		}
		return data, nil
	}
	if req.ImageURL == "" {
		return nil, fmt.Errorf("handlers: image event without url or data")
	}

	dl, err := http.NewRequestWithContext(r.Context(), http.MethodGet, req.ImageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("handlers: build image download: %w", err)
	}
	resp, err := a.HTTP.Do(dl)
	if err != nil {
		return nil, fmt.Errorf("handlers: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("handlers: download image: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}
