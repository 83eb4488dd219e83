package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a thin HTTP client for the Redmine REST API. It attaches the
// account API key to every request, handles JSON (de)serialization, and
// retries with exponential backoff on HTTP 429.
type Client struct {
	baseURL    string
	apiKey     string
	accountID  string
	httpClient *http.Client
	maxRetries int
}

// NewClient creates a new tracker HTTP client. The baseURL should be the
// root URL of the Redmine instance (e.g., https://redmine.corp.example.com).
func NewClient(baseURL, apiKey, accountID string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
	}
}

// Get performs an HTTP GET request with query parameters and unmarshals
// the JSON response.
func (c *Client) Get(
	ctx context.Context,
	path string,
	params url.Values,
	result interface{},
) error {
	return c.do(ctx, http.MethodGet, path, params, nil, "", result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(
	ctx context.Context,
	path string,
	body interface{},
	result interface{},
) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, nil, data, "application/json", result)
}

// Put performs an HTTP PUT request with a JSON body. Redmine update
// endpoints return 204 No Content on success.
func (c *Client) Put(
	ctx context.Context,
	path string,
	body interface{},
) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}
	return c.do(ctx, http.MethodPut, path, nil, data, "application/json", nil)
}

// Delete performs an HTTP DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, "", nil)
}

// Upload posts a raw binary body (attachment content) and unmarshals the
// JSON response carrying the upload token.
func (c *Client) Upload(
	ctx context.Context,
	path string,
	params url.Values,
	data []byte,
	result interface{},
) error {
	return c.do(
		ctx, http.MethodPost, path, params, data,
		"application/octet-stream", result,
	)
}

// do is the core HTTP method that builds the request, attaches the API
// key, handles rate limiting with exponential backoff, and parses the
// tracker's structured error payloads.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	params url.Values,
	body []byte,
	contentType string,
	result interface{},
) error {
	if c.baseURL == "" || c.apiKey == "" {
		return ErrNotConfigured
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.apiKey)
	reqURL := c.baseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf(
				"rate limited (429) on %s %s", method, path,
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return &AuthError{
				AccountID: c.accountID,
				Message: fmt.Sprintf(
					"authentication failed (401): check the API key for %s",
					c.baseURL,
				),
			}
		}

		// 422 is a successful round-trip carrying field validation
		// messages, not a transport failure.
		if resp.StatusCode == http.StatusUnprocessableEntity {
			var errResp ErrorResponse
			if json.Unmarshal(respBody, &errResp) == nil && len(errResp.Errors) > 0 {
				return &ValidationError{Messages: errResp.Errors}
			}
			return &ValidationError{Messages: []string{string(respBody)}}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			var errResp ErrorResponse
			if json.Unmarshal(respBody, &errResp) == nil && len(errResp.Errors) > 0 {
				return fmt.Errorf(
					"tracker error (%d) on %s %s: %s",
					resp.StatusCode, method, path,
					strings.Join(errResp.Errors, "; "),
				)
			}
			return fmt.Errorf(
				"unexpected status %d on %s %s: %s",
				resp.StatusCode, method, path, string(respBody),
			)
		}

		// No content to parse (e.g. 204).
		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf(
				"unmarshaling response from %s %s: %w",
				method, path, err,
			)
		}

		return nil
	}

	return fmt.Errorf(
		"max retries (%d) exceeded: %w", c.maxRetries, lastErr,
	)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}
