package payment

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

// Static errors for payment client operations.
var (
	// ErrBaseURLRequired is returned when the backend base URL is not provided.
	ErrBaseURLRequired = errors.New("payment: base URL is required")
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("payment: PAYMENT_API_KEY environment variable is not set")
	// ErrOrderIDRequired is returned when the order ID is not provided.
	ErrOrderIDRequired = errors.New("payment: order ID is required")
	// ErrNoOrderIDReturned is returned when the create response contains no order ID.
	ErrNoOrderIDReturned = errors.New("payment: create order failed: no order ID returned")
	// ErrCreateOrderFailed is returned when the create order operation fails.
	ErrCreateOrderFailed = errors.New("payment: create order failed")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("payment: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("payment: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("payment: request failed")
)

// Client defines the interface for interacting with the payment backend.
type Client interface {
	// CreateOrder opens a recharge order for the user and returns the QR
	// payload to display.
	CreateOrder(ctx context.Context, userID, packageID string) (Order, error)

	// Poll checks the status of a payment order and returns the result.
	Poll(ctx context.Context, orderID string) (PollResult, error)
}

// HTTPClient is the HTTP implementation of the payment Client interface.
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

// NewClient creates a new payment backend HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable PAYMENT_API_KEY.
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
		c.apiKey = os.Getenv("PAYMENT_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// CreateOrder opens a recharge order and returns the QR payload to display.
func (c *HTTPClient) CreateOrder(ctx context.Context, userID, packageID string) (Order, error) {
	reqBody := orderRequest{
		UserID:    userID,
		PackageID: packageID,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Order{}, fmt.Errorf("payment: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/orders", c.baseURL)

	var resp orderResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, bodyBytes, &resp); err != nil {
		return Order{}, err
	}

	if resp.OrderID == "" {
		if resp.Error != "" {
			return Order{}, fmt.Errorf("%w: %s", ErrCreateOrderFailed, resp.Error)
		}
		return Order{}, ErrNoOrderIDReturned
	}

	order := Order{
		OrderID:   resp.OrderID,
		QRPayload: resp.QRPayload,
		Credits:   resp.Credits,
	}
	if resp.ExpiresAt != "" {
		if t, perr := time.Parse(time.RFC3339, resp.ExpiresAt); perr == nil {
			order.ExpiresAt = t
		}
	}

	return order, nil
}

// Poll checks the status of a payment order and returns the result.
func (c *HTTPClient) Poll(ctx context.Context, orderID string) (PollResult, error) {
	if orderID == "" {
		return PollResult{}, ErrOrderIDRequired
	}

	url := fmt.Sprintf("%s/v1/orders/%s", c.baseURL, orderID)

	var resp statusResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return PollResult{}, err
	}

	var mapped Status
	switch resp.Status {
	case "PENDING", "CREATED", "":
		mapped = StatusPending
	case "PAID", "SUCCEEDED":
		mapped = StatusPaid
	case "EXPIRED", "TIMED_OUT":
		mapped = StatusExpired
	case "CANCELLED", "CANCELED":
		mapped = StatusCancelled
	case "FAILED", "ERROR":
		mapped = StatusFailed
	default:
		mapped = Status(resp.Status)
	}

	result := PollResult{
		Status: mapped,
	}

	switch result.Status {
	case StatusPaid:
		result.ReceiptID = resp.ReceiptID
		result.Credits = resp.Credits
	case StatusCancelled, StatusFailed:
		result.Error = resp.Error
	}

	return result, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("payment: context cancelled: %w", ctx.Err())
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

	return fmt.Errorf("payment: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("payment: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("payment: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("payment: read response: %w", err)}
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
			return fmt.Errorf("payment: unmarshal response: %w", err)
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
