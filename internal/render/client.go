package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Static errors for render client operations.
var (
	// ErrBaseURLRequired is returned when the backend base URL is not provided.
	ErrBaseURLRequired = errors.New("render: base URL is required")
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("render: RENDER_API_KEY environment variable is not set")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("render: task ID is required")
	// ErrNoTaskIDReturned is returned when the submit response contains no task ID.
	ErrNoTaskIDReturned = errors.New("render: submit failed: no task ID returned")
	// ErrSubmitFailed is returned when the submit operation fails.
	ErrSubmitFailed = errors.New("render: submit failed")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("render: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("render: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("render: request failed")
)

// Client defines the interface for interacting with the render backend.
type Client interface {
	// Submit sends a render job to the backend. The returned result may
	// already be terminal when the backend resolves the job synchronously.
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)

	// Poll checks the status of a render job and returns the result.
	Poll(ctx context.Context, taskID string) (PollResult, error)
}

// HTTPClient is the HTTP implementation of the render Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new render backend HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable RENDER_API_KEY.
// The base URL must be provided.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("RENDER_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Submit sends a render job to the backend and returns the accepted task.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	reqBody := renderRequest{
		SessionID: req.SessionID,
		ImageURLs: req.ImageURLs,
		Script:    req.Script,
		Style:     req.Style,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("render: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/renders", c.baseURL)

	var resp renderResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, bodyBytes, &resp); err != nil {
		return SubmitResult{}, err
	}

	if resp.TaskID == "" {
		if resp.Error != "" {
			return SubmitResult{}, fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return SubmitResult{}, ErrNoTaskIDReturned
	}

	result := SubmitResult{
		TaskID: resp.TaskID,
		Status: normalizeStatus(resp.Status),
	}
	if result.Status == StatusCompleted {
		result.VideoURL = resp.Output.VideoURL
		result.ThumbnailURL = resp.Output.ThumbnailURL
	}
	if result.Status.IsTerminal() && result.Status != StatusCompleted {
		result.Error = resp.Error
	}

	return result, nil
}

// Poll checks the status of a render job and returns the result.
func (c *HTTPClient) Poll(ctx context.Context, taskID string) (PollResult, error) {
	if taskID == "" {
		return PollResult{}, ErrTaskIDRequired
	}

	url := fmt.Sprintf("%s/v1/renders/%s", c.baseURL, taskID)

	var resp statusResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return PollResult{}, err
	}

	result := PollResult{
		Status:   normalizeStatus(resp.Status),
		Progress: resp.Progress,
	}

	switch result.Status {
	case StatusCompleted:
		result.VideoURL = resp.Output.VideoURL
		result.ThumbnailURL = resp.Output.ThumbnailURL
	case StatusFailed, StatusCancelled, StatusTimedOut:
		result.Error = resp.Error
	}

	return result, nil
}

// normalizeStatus maps raw backend status strings onto the Status enum.
func normalizeStatus(raw string) Status {
	switch raw {
	case "IN_QUEUE", "QUEUED", "PENDING", "":
		return StatusQueued
	case "IN_PROGRESS", "RUNNING", "PROCESSING":
		return StatusProcessing
	case "COMPLETED", "SUCCEEDED":
		return StatusCompleted
	case "FAILED", "ERROR":
		return StatusFailed
	case "CANCELLED":
		return StatusCancelled
	case "TIMED_OUT":
		return StatusTimedOut
	default:
		return Status(raw)
	}
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("render: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("render: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("render: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("render: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("render: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("render: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
