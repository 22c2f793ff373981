package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// StatusError is returned for unexpected responses. 5xx responses are
// retryable, everything else is not.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("directory %s: unexpected status %d", e.Op, e.Status)
}

func (e *StatusError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Client calls the Branch/Address service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		token:   token,
	}
}

func (c *Client) get(ctx context.Context, op, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory %s: %w", op, err)
	}
	return resp, nil
}

func (c *Client) Exists(ctx context.Context, branchID uuid.UUID) (bool, error) {
	resp, err := c.get(ctx, "exists", "/branches/"+branchID.String())
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, &StatusError{Op: "exists", Status: resp.StatusCode}
	}
}

type capacityResponse struct {
	HasCapacity bool `json:"has_capacity"`
}

func (c *Client) HasCapacity(ctx context.Context, branchID uuid.UUID) (bool, error) {
	resp, err := c.get(ctx, "capacity", "/branches/"+branchID.String()+"/capacity")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, &StatusError{Op: "capacity", Status: resp.StatusCode}
	}

	var body capacityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("directory capacity: failed to decode response: %w", err)
	}
	return body.HasCapacity, nil
}
