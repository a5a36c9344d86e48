package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Mansoor88-6/activity-agent/internal/metrics"
	"Mansoor88-6/activity-agent/internal/models"

	"go.uber.org/zap"
)

// APIClient talks to the collector's HTTP API
type APIClient struct {
	baseURL     string
	apiKey      string
	deviceToken string
	deviceID    string
	timeout     time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewAPIClient creates a new API client. Every request is bounded by timeout.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SetDeviceToken sets the device token, preferred over the API key
func (c *APIClient) SetDeviceToken(token string) {
	c.deviceToken = token
}

// SetDeviceID sets the X-Device-ID header value
func (c *APIClient) SetDeviceID(id string) {
	c.deviceID = id
}

// UploadSession posts one cumulative session snapshot. Any non-2xx status,
// transport error or {success:false} body is an error.
func (c *APIClient) UploadSession(ctx context.Context, payload models.SessionUpload) (*models.UploadResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/sessions/upload", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if payload.UploadID != "" {
		req.Header.Set("Idempotency-Key", payload.UploadID)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	metrics.UploadDuration.Observe(duration.Seconds())

	if err != nil {
		c.logger.Warn("Failed to upload session",
			zap.Error(err),
			zap.String("upload_id", payload.UploadID),
			zap.Duration("duration", duration),
		)
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp.StatusCode, body)
	}

	var result models.UploadResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &BackendError{Message: fmt.Sprintf("invalid upload response: %v", err), StatusCode: resp.StatusCode}
	}
	if !result.Success {
		return nil, &BackendError{Message: "upload rejected: " + result.Error, StatusCode: resp.StatusCode}
	}

	c.logger.Info("Session uploaded",
		zap.String("upload_id", payload.UploadID),
		zap.String("session_id", result.Data.SessionID),
		zap.Int64("working_time", payload.WorkingTime),
		zap.Int64("idle_time", payload.IdleTime),
		zap.Duration("duration", duration),
	)
	return &result, nil
}

// HealthCheck checks if the backend is reachable
func (c *APIClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *APIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.deviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.deviceToken)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}
}

func (c *APIClient) statusError(status int, body []byte) error {
	message := string(body)
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		message = parsed.Error
	}
	errMsg := fmt.Sprintf("backend returned status %d: %s", status, message)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.Error("Authentication failed",
			zap.Int("status_code", status),
			zap.String("response", message),
		)
		return &AuthError{Message: errMsg, StatusCode: status}
	case http.StatusTooManyRequests:
		c.logger.Warn("Rate limited", zap.Int("status_code", status))
		return &RateLimitError{Message: errMsg, StatusCode: status}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		c.logger.Error("Invalid request",
			zap.Int("status_code", status),
			zap.String("response", message),
		)
		return &BadRequestError{Message: errMsg, StatusCode: status}
	default:
		c.logger.Error("Backend error",
			zap.Int("status_code", status),
			zap.String("response", message),
		)
		return &BackendError{Message: errMsg, StatusCode: status}
	}
}

// Error types

// StatusError is implemented by errors carrying the collector's HTTP status
type StatusError interface {
	error
	Status() int
}

// NetworkError wraps transport failures and timeouts
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Status() int { return e.StatusCode }

type RateLimitError struct {
	Message    string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return e.Message
}

func (e *RateLimitError) Status() int { return e.StatusCode }

type BadRequestError struct {
	Message    string
	StatusCode int
}

func (e *BadRequestError) Error() string {
	return e.Message
}

func (e *BadRequestError) Status() int { return e.StatusCode }

type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return e.Message
}

func (e *BackendError) Status() int { return e.StatusCode }

// ResultLabel classifies an upload error for metrics and logs
func ResultLabel(err error) string {
	var (
		netErr  *NetworkError
		authErr *AuthError
		rateErr *RateLimitError
		badErr  *BadRequestError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &rateErr):
		return "rate_limited"
	case errors.As(err, &badErr):
		return "bad_request"
	default:
		return "backend"
	}
}
