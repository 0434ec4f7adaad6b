// Package channel delivers bot replies to the chat platform over an HTTP
// callback. Delivery is fire-and-forget; the bot logs failures and moves on.
package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"drawbot/internal/infra"
	"drawbot/internal/middleware"
)

// Options wires the callback channel. BaseURL and Secret are required.
type Options struct {
	BaseURL        string
	Secret         string
	HTTPClient     *http.Client
	Logger         infra.Logger
	RequestTimeout time.Duration
}

type Callback struct {
	baseURL string
	secret  string
	http    *http.Client
	logger  infra.Logger
}

func New(opts Options) (*Callback, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("channel: callback url is required")
	}
	if opts.Secret == "" {
		return nil, errors.New("channel: secret is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Callback{baseURL: baseURL, secret: opts.Secret, http: httpClient, logger: opts.Logger}, nil
}

type replyPayload struct {
	UserID    string `json:"user_id"`
	Type      string `json:"type"` // "text" | "image" | "image_url"
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`
	ImageData string `json:"image_data,omitempty"` // base64
}

func (c *Callback) SendText(ctx context.Context, userID, text string) error {
	return c.post(ctx, replyPayload{UserID: userID, Type: "text", Text: text})
}

func (c *Callback) SendImage(ctx context.Context, userID, filename string, data []byte) error {
	return c.post(ctx, replyPayload{
		UserID:    userID,
		Type:      "image",
		Filename:  filename,
		ImageData: base64.StdEncoding.EncodeToString(data),
	})
}

func (c *Callback) SendImageURL(ctx context.Context, userID, url string) error {
	return c.post(ctx, replyPayload{UserID: userID, Type: "image_url", URL: url})
}

func (c *Callback) post(ctx context.Context, payload replyPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("channel: encode reply: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/replies", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("channel: build reply request: %w", err)
	}
	token, err := middleware.SignToken(c.secret, middleware.WebhookClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "drawbot"},
	}, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("channel: sign reply token: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("channel: deliver reply: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("channel: deliver reply: status %d", resp.StatusCode)
	}
	return nil
}
