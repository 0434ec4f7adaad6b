// Package passport talks to the external identity provider: SMS dispatch,
// SMS login and the token-exchange round trips that keep a session alive.
package passport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"drawbot/internal/domain"
	"drawbot/internal/infra"
)

// Options configures the passport client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the identity provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("passport: base url is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

type envelopeResponse struct {
	HasError bool   `json:"hasError"`
	Message  string `json:"message"`
	Content  struct {
		Data struct {
			SMSToken  string `json:"smsToken"`
			SSOTicket string `json:"ssoTicket"`
		} `json:"data"`
	} `json:"content"`
}

type tokenResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	Data     struct {
		Token string `json:"token"`
	} `json:"data"`
}

// SendSMS dispatches a login code to the given phone number and returns the
// opaque challenge token required to complete the login.
func (c *Client) SendSMS(ctx context.Context, phone string) (string, error) {
	form := url.Values{
		"loginId":    {phone},
		"codeLength": {"6"},
	}
	decoded, err := c.postForm(ctx, "/login/sms/dispatch", form)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(decoded.Content.Data.SMSToken)
	if token == "" {
		return "", fmt.Errorf("passport: sms dispatch returned no challenge token")
	}
	c.logger.Debug().Msg("passport: sms challenge dispatched")
	return token, nil
}

// LoginWithSMS exchanges phone, code and challenge token for the seed session
// cookie. The seed is narrow; EnrichCookie widens it.
func (c *Client) LoginWithSMS(ctx context.Context, phone, code, challenge string) (string, error) {
	form := url.Values{
		"loginId":   {phone},
		"smsCode":   {code},
		"smsToken":  {challenge},
		"keepLogin": {"false"},
	}
	decoded, err := c.postForm(ctx, "/login/sms/verify", form)
	if err != nil {
		return "", err
	}
	ticket := strings.TrimSpace(decoded.Content.Data.SSOTicket)
	if ticket == "" {
		return "", fmt.Errorf("passport: login returned no session ticket")
	}
	return "sso_ticket=" + ticket, nil
}

// ExchangeToken performs the refresh round trip: given the current cookie and
// a fresh anti-forgery token it returns a short-lived access token.
func (c *Client) ExchangeToken(ctx context.Context, cookie, xsrfToken string) (string, error) {
	body, err := json.Marshal(map[string]string{"source": "refresh"})
	if err != nil {
		return "", fmt.Errorf("passport: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("passport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", cookie)
	req.Header.Set("X-XSRF-Token", xsrfToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("passport: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("passport: read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("passport: token exchange: %w", domain.ErrUnauthorized)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("passport: token exchange status %d", resp.StatusCode)
	}
	var decoded tokenResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("passport: decode response: %w", err)
	}
	if !decoded.Success {
		return "", fmt.Errorf("passport: token exchange rejected: %s", decoded.ErrorMsg)
	}
	token := strings.TrimSpace(decoded.Data.Token)
	if token == "" {
		return "", fmt.Errorf("passport: token exchange returned empty token")
	}
	return token, nil
}

// EnrichCookie calls an authenticated endpoint with the given cookie and folds
// any Set-Cookie pairs from the response back into it. Best effort: callers
// treat a failure as non-fatal since the seed cookie is still usable.
func (c *Client) EnrichCookie(ctx context.Context, cookie string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/session/profile", nil)
	if err != nil {
		return cookie, fmt.Errorf("passport: build request: %w", err)
	}
	req.Header.Set("Cookie", cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return cookie, fmt.Errorf("passport: http request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	pairs := map[string]string{}
	for _, set := range resp.Cookies() {
		if set.Name != "" && set.Value != "" {
			pairs[set.Name] = set.Value
		}
	}
	if len(pairs) == 0 {
		return cookie, nil
	}
	merged := domain.MergeCookie(cookie, pairs)
	c.logger.Debug().Int("cookies", len(pairs)).Msg("passport: session cookie enriched")
	return merged, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*envelopeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("passport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("passport: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("passport: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("passport: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded envelopeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("passport: decode response: %w", err)
	}
	if decoded.HasError {
		msg := decoded.Message
		if msg == "" {
			msg = "request rejected"
		}
		return nil, fmt.Errorf("passport: %s", msg)
	}
	return &decoded, nil
}
