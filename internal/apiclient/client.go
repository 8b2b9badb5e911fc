// Package apiclient is the typed HTTP client the batch runner uses to talk
// to the billing server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/retry"
	"github.com/stockmeta/internal/types"
)

// DefaultTimeout bounds one API call.
const DefaultTimeout = 30 * time.Second

// APIError is a structured error response from the server.
type APIError struct {
	Status int
	types.ServiceError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to the billing server. Token is the bearer JWT from Login;
// unauthenticated calls (login, register) work with an empty token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the given server
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// SetToken sets the bearer token used on subsequent calls
func (c *Client) SetToken(token string) {
	c.token = token
}

// LoginResponse carries the session token and account snapshot
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Login authenticates and stores the returned token on the client
func (c *Client) Login(ctx context.Context, email, password, hardwareID, appVersion string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.post(ctx, "/auth/login", map[string]string{
		"email":      email,
		"password":   password,
		"hardwareId": hardwareID,
		"appVersion": appVersion,
	}, &resp)
	if err != nil {
		return nil, err
	}

	c.token = resp.Token
	return &resp, nil
}

// ReserveResponse is the server's reservation result
type ReserveResponse struct {
	Job     *models.Job `json:"job"`
	Balance int64       `json:"balance"`
}

// Reserve opens a job for a batch, debiting the worst-case cost
func (c *Client) Reserve(ctx context.Context, mode string, photoCount, videoCount int) (*ReserveResponse, error) {
	var resp ReserveResponse
	err := c.post(ctx, "/job/reserve", map[string]interface{}{
		"mode":       mode,
		"photoCount": photoCount,
		"videoCount": videoCount,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// FinalizeResponse is the server's settlement of a job
type FinalizeResponse struct {
	Job            *models.Job `json:"job"`
	ActualUsage    int64       `json:"actualUsage"`
	Refund         int64       `json:"refund"`
	Balance        int64       `json:"balance"`
	AlreadySettled bool        `json:"alreadySettled"`
}

// Finalize settles a job with the batch outcome
func (c *Client) Finalize(ctx context.Context, jobToken string, success, failed, photos, videos int) (*FinalizeResponse, error) {
	var resp FinalizeResponse
	err := c.post(ctx, "/job/finalize", map[string]interface{}{
		"jobToken":     jobToken,
		"successCount": success,
		"failedCount":  failed,
		"photoCount":   photos,
		"videoCount":   videos,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Fail reports a job that never started, refunding the full reservation
func (c *Client) Fail(ctx context.Context, jobToken string) (*models.Job, error) {
	var resp struct {
		Job *models.Job `json:"job"`
	}
	err := c.post(ctx, "/job/fail", map[string]string{"jobToken": jobToken}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Job, nil
}

// Balance returns the account snapshot
func (c *Client) Balance(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.get(ctx, "/credit/balance", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RecoveryFinalizer adapts the client to the journal's reconciliation
// interface, retrying transport failures with exponential backoff. A
// definitive server answer, even a conflict, is never retried.
type RecoveryFinalizer struct {
	client *Client
}

// Recovery returns the finalizer used by journal recovery
func (c *Client) Recovery() *RecoveryFinalizer {
	return &RecoveryFinalizer{client: c}
}

// Finalize settles a recovered job, retrying while the server is unreachable
func (r *RecoveryFinalizer) Finalize(ctx context.Context, jobToken string, success, failed, photos, videos int) (int64, int64, error) {
	var resp *FinalizeResponse
	var permanent error

	err := retry.WithRetry(ctx, func(ctx context.Context, attempt int) error {
		result, err := r.client.Finalize(ctx, jobToken, success, failed, photos, videos)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
				// The server answered; retrying cannot change the outcome
				permanent = err
				return nil
			}
			return err
		}
		resp = result
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if permanent != nil {
		return 0, 0, permanent
	}

	return resp.Refund, resp.Balance, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

func parseAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var wrapper struct {
		Error types.ServiceError `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Error.Code == "" {
		return &APIError{
			Status: resp.StatusCode,
			ServiceError: types.ServiceError{
				Code:    "UNEXPECTED_RESPONSE",
				Message: string(data),
			},
		}
	}

	return &APIError{Status: resp.StatusCode, ServiceError: wrapper.Error}
}
