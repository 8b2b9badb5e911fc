// Package engine calls the external AI metadata-generation service for one
// file at a time. The rest of the client treats it as an opaque worker: a
// file either succeeds or it does not.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stockmeta/internal/circuitbreaker"
	"github.com/stockmeta/internal/logging"
)

// DefaultTimeout bounds one metadata-generation call. Video processing can
// legitimately take minutes.
const DefaultTimeout = 120 * time.Second

// ErrEngineFailed is returned when the engine reports a processing error.
var ErrEngineFailed = errors.New("metadata engine failed to process file")

// Client calls the metadata-generation endpoint, guarded by a circuit
// breaker so a dead engine fails fast instead of stalling the whole batch.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewClient creates an engine client for the given endpoint
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("metadata-engine")),
	}
}

type processRequest struct {
	FilePath string `json:"filePath"`
	Video    bool   `json:"video"`
}

type processResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Process runs metadata generation for one file. Returns nil on success; any
// failure, including an open circuit, is an error the scheduler records as a
// failed file.
func (c *Client) Process(ctx context.Context, filePath string, video bool) error {
	return c.breaker.Execute(ctx, func() error {
		return c.callEngine(ctx, filePath, video)
	})
}

func (c *Client) callEngine(ctx context.Context, filePath string, video bool) error {
	body, err := json.Marshal(&processRequest{FilePath: filePath, Video: video})
	if err != nil {
		return fmt.Errorf("marshal engine request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"file":   filePath,
			"status": resp.StatusCode,
		}).Warn("Engine returned non-OK status")
		return fmt.Errorf("%w: status %d: %s", ErrEngineFailed, resp.StatusCode, string(data))
	}

	var result processResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}

	if result.Status != "success" {
		return fmt.Errorf("%w: %s", ErrEngineFailed, result.Error)
	}

	return nil
}

// Breaker exposes the circuit breaker for health reporting
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}
