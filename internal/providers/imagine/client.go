// Package imagine talks to the external image-generation service: task
// submission, polling, credit balance, daily sign-in and source-image upload.
package imagine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"drawbot/internal/domain"
	"drawbot/internal/infra"
)

// Options configures the generation-service client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the generation service. All calls carry
// the session cookie and the anti-forgery token derived from it.
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
		return nil, fmt.Errorf("imagine: base url is required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

type submitRequest struct {
	TaskType  string    `json:"taskType"`
	TaskInput taskInput `json:"taskInput"`
}

type taskInput struct {
	Prompt     string `json:"prompt"`
	Resolution string `json:"resolution"`
	Style      string `json:"style,omitempty"`
	StyleName  string `json:"styleName,omitempty"`
	BaseImage  string `json:"baseImage,omitempty"`
}

type submitResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	Data     string `json:"data"`
}

type statusResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	Data     struct {
		TaskRate   int `json:"taskRate"`
		Status     int `json:"status"`
		TaskResult []struct {
			DownloadURL string `json:"downloadUrl"`
		} `json:"taskResult"`
	} `json:"data"`
}

type balanceResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	Data     struct {
		TotalCount     int `json:"totalCount"`
		AvailableCount int `json:"availableCount"`
	} `json:"data"`
}

type policyResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	Data     struct {
		Host      string `json:"host"`
		Key       string `json:"key"`
		Policy    string `json:"policy"`
		AccessID  string `json:"accessId"`
		Signature string `json:"signature"`
	} `json:"data"`
}

type urlResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	Data     string `json:"data"`
}

// SubmitTask submits a generation/transform task and returns its opaque ID.
// Busy and unauthorized conditions map to their domain sentinels so the
// engine can apply the right retry policy.
func (c *Client) SubmitTask(ctx context.Context, cred domain.Credential, spec domain.TaskSpec) (string, error) {
	payload := submitRequest{
		TaskType: string(spec.Type),
		TaskInput: taskInput{
			Prompt:     spec.Prompt,
			Resolution: spec.Resolution.String(),
			BaseImage:  spec.BaseImage,
		},
	}
	if spec.Style != "" {
		payload.TaskInput.Style = string(spec.Style)
		payload.TaskInput.StyleName = spec.Style.DisplayName()
	}
	var decoded submitResponse
	if err := c.postJSON(ctx, cred, "/tasks", payload, &decoded); err != nil {
		return "", err
	}
	if !decoded.Success {
		return "", classifyServiceError(decoded.ErrorMsg)
	}
	taskID := strings.TrimSpace(decoded.Data)
	if taskID == "" {
		return "", fmt.Errorf("imagine: submit returned no task id")
	}
	c.logger.Debug().Str("task_id", taskID).Str("task_type", string(spec.Type)).Msg("imagine: task submitted")
	return taskID, nil
}

// TaskStatus fetches one poll observation for the given task.
func (c *Client) TaskStatus(ctx context.Context, cred domain.Credential, taskID string) (domain.TaskStatus, error) {
	payload := map[string]string{"taskId": taskID}
	var decoded statusResponse
	if err := c.postJSON(ctx, cred, "/tasks/status", payload, &decoded); err != nil {
		return domain.TaskStatus{}, err
	}
	if !decoded.Success {
		return domain.TaskStatus{}, classifyServiceError(decoded.ErrorMsg)
	}
	status := domain.TaskStatus{
		Progress: decoded.Data.TaskRate,
		State:    domain.TaskState(decoded.Data.Status),
	}
	for _, item := range decoded.Data.TaskResult {
		url := strings.TrimSpace(item.DownloadURL)
		if url == "" {
			continue
		}
		status.Items = append(status.Items, domain.ResultItem{DownloadURL: url})
	}
	return status, nil
}

// CreditBalance returns the account's total and available credits.
func (c *Client) CreditBalance(ctx context.Context, cred domain.Credential) (total, available int, err error) {
	var decoded balanceResponse
	if err := c.postJSON(ctx, cred, "/credits/balance", struct{}{}, &decoded); err != nil {
		return 0, 0, err
	}
	if !decoded.Success {
		return 0, 0, classifyServiceError(decoded.ErrorMsg)
	}
	return decoded.Data.TotalCount, decoded.Data.AvailableCount, nil
}

// DailySignIn claims the daily credit reward.
func (c *Client) DailySignIn(ctx context.Context, cred domain.Credential) error {
	var decoded submitResponse
	if err := c.postJSON(ctx, cred, "/credits/sign-in", struct{}{}, &decoded); err != nil {
		return err
	}
	if !decoded.Success {
		return classifyServiceError(decoded.ErrorMsg)
	}
	return nil
}

// UploadImage pushes a source image through the service's object-storage flow:
// policy fetch, signed multipart upload, then URL generation. The returned URL
// is what submission accepts as a base image.
func (c *Client) UploadImage(ctx context.Context, cred domain.Credential, filename string, data []byte, taskType domain.TaskType) (string, error) {
	var policy policyResponse
	payload := map[string]string{"fileName": filename, "taskType": string(taskType)}
	if err := c.postJSON(ctx, cred, "/storage/policy", payload, &policy); err != nil {
		return "", err
	}
	if !policy.Success {
		return "", classifyServiceError(policy.ErrorMsg)
	}

	if err := c.uploadMultipart(ctx, policy, filename, data); err != nil {
		return "", err
	}

	var generated urlResponse
	genPayload := map[string]string{"key": policy.Data.Key, "taskType": string(taskType)}
	if err := c.postJSON(ctx, cred, "/storage/url", genPayload, &generated); err != nil {
		return "", err
	}
	if !generated.Success {
		return "", classifyServiceError(generated.ErrorMsg)
	}
	url := strings.TrimSpace(generated.Data)
	if url == "" {
		return "", fmt.Errorf("imagine: upload returned no url")
	}
	return url, nil
}

func (c *Client) uploadMultipart(ctx context.Context, policy policyResponse, filename string, data []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"key":            policy.Data.Key,
		"policy":         policy.Data.Policy,
		"OSSAccessKeyId": policy.Data.AccessID,
		"signature":      policy.Data.Signature,
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return fmt.Errorf("imagine: encode upload form: %w", err)
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("imagine: encode upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("imagine: encode upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("imagine: encode upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, policy.Data.Host, &body)
	if err != nil {
		return fmt.Errorf("imagine: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("imagine: upload request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("imagine: upload status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, cred domain.Credential, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("imagine: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("imagine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", cred.SessionCookie)
	if xsrf := cred.XSRFToken(); xsrf != "" {
		req.Header.Set("X-XSRF-Token", xsrf)
	}
	if cred.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("imagine: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("imagine: read response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("imagine: %s: %w", path, domain.ErrUnauthorized)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("imagine: %s status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("imagine: decode response: %w", err)
	}
	return nil
}

// classifyServiceError maps the service's textual error payload onto the
// domain taxonomy. Busy wording is the only retryable category.
func classifyServiceError(msg string) error {
	trimmed := strings.TrimSpace(msg)
	lowered := strings.ToLower(trimmed)
	if strings.Contains(lowered, "busy") ||
		strings.Contains(lowered, "rate limit") ||
		strings.Contains(lowered, "try again later") {
		return fmt.Errorf("imagine: %s: %w", trimmed, domain.ErrServiceBusy)
	}
	if trimmed == "" {
		trimmed = "unknown error"
	}
	return fmt.Errorf("imagine: %s: %w", trimmed, domain.ErrServiceRejected)
}
