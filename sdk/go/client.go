// Package certgen is a Go client for the certificate trigger endpoint.
package certgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the configuration for the certgen client.
type Config struct {
	// BaseURL is the root URL of the certgen server, e.g. "https://certs.example.com".
	BaseURL string

	// WebhookSecret is sent as a bearer token when the server requires one.
	WebhookSecret string

	// HTTPClient is an optional custom HTTP client.
	// If nil, a client with a 5 minute timeout is used, since a synchronous
	// job holds the request open until the email is sent.
	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
}

// Client calls the certgen HTTP API.
type Client struct {
	cfg Config
}

// NewClient creates a new certgen client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// GenerateCertificate asks the server to generate and email a certificate.
// Result.Queued reports whether the server only accepted the job for later
// processing. Failed jobs are returned as *APIError.
func (c *Client) GenerateCertificate(ctx context.Context, req GenerateRequest) (*Result, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		return nil, ErrMissingRecipient
	}

	status, body, err := c.do(ctx, http.MethodPost, "/generateCertificate", req)
	if err != nil {
		return nil, err
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("certgen: failed to parse response: %w", err)
	}
	res.Queued = status == http.StatusAccepted
	return &res, nil
}

// Health returns the server's health report. A degraded server answers with
// an *APIError carrying status 503; the report is returned alongside it.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("certgen: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("certgen: request failed: %w", err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("certgen: failed to parse health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &h, &APIError{StatusCode: resp.StatusCode, Code: h.Status, Message: "service is " + h.Status}
	}
	return &h, nil
}

// do sends a JSON request and returns the status and body of a successful response.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("certgen: failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("certgen: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.WebhookSecret != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.WebhookSecret)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("certgen: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("certgen: failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, nil, parseAPIError(resp.StatusCode, body)
	}

	return resp.StatusCode, body, nil
}
