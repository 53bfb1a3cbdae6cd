package swap

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mrz1836/harvest/internal/chain"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const (
	httpTimeout     = 30 * time.Second
	maxResponseBody = 1 << 20
)

// RPCRecorder receives one sample per API call, retries included.
// *metrics.Metrics satisfies it.
type RPCRecorder interface {
	RecordRPCCall(target string, duration time.Duration, err error)
}

// HTTPOptions configures the JSON client of a provider API.
type HTTPOptions struct {
	HTTPClient  *http.Client
	RateLimiter *chain.RateLimiter
	Retry       *chain.RetryConfig
	Metrics     RPCRecorder
}

// APIClient is a rate limited, retrying JSON client.
type APIClient struct {
	http    *http.Client
	limiter *chain.RateLimiter
	retry   chain.RetryConfig
	metrics RPCRecorder
}

// NewAPIClient creates a client.
func NewAPIClient(opts HTTPOptions) *APIClient {
	c := &APIClient{
		http: &http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		limiter: chain.DefaultRateLimiter(),
		retry:   chain.DefaultRetryConfig(),
	}
	if opts.HTTPClient != nil {
		c.http = opts.HTTPClient
	}
	if opts.RateLimiter != nil {
		c.limiter = opts.RateLimiter
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	}
	c.metrics = opts.Metrics
	return c
}

// GetJSON fetches endpoint into out.
func (c *APIClient) GetJSON(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

// PostJSON posts body as JSON and decodes the answer into out.
func (c *APIClient) PostJSON(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, payload, out)
}

func (c *APIClient) do(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	start := time.Now()
	body, err := chain.RetryWithConfig(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, method, endpoint, payload)
	})
	if c.metrics != nil {
		c.metrics.RecordRPCCall(host(endpoint), time.Since(start), err)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing %s: %w", redact(endpoint), err)
	}
	return nil
}

func (c *APIClient) fetch(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req) //nolint:gosec // G704: URL comes from validated config
	if err != nil {
		return nil, chain.WrapRetryable(fmt.Errorf("%w: %w", harvesterr.ErrNetworkError, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if err := chain.StatusError(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, redact(endpoint), err)
	}
	return body, nil
}

// redact drops the query string, which may carry addresses.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

func host(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return redact(endpoint)
	}
	return u.Host
}
