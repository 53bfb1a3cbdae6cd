// Package metadata provides the off-chain overlay client: the dApp
// directory, validator identities and pool yields. Every answer is best-effort;
// callers race it against a timeout and fall back to on-chain defaults.
package metadata

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mrz1836/harvest/internal/chain"
	"github.com/mrz1836/harvest/internal/earning"
	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const (
	// DefaultYieldsURL is the DefiLlama-style yields endpoint.
	DefaultYieldsURL = "https://yields.llama.fi/pools"

	// DefaultTTL is how long list responses are reused.
	DefaultTTL = 10 * time.Minute

	httpTimeout = 15 * time.Second

	// maxResponseBody bounds small responses (dapps, identities).
	maxResponseBody = 1 << 20

	// maxYieldsBody bounds the yields list, which covers every tracked pool.
	maxYieldsBody = 16 << 20
)

// Compile-time interface check
var _ earning.MetadataSource = (*Client)(nil)

// Options configures the client. Empty URLs disable the matching overlay.
type Options struct {
	DappsURL      string
	IdentitiesURL string
	YieldsURL     string
	HTTPClient    *http.Client
	RateLimiter   *chain.RateLimiter
	Retry         *chain.RetryConfig
	TTL           time.Duration
	Now           func() time.Time
	// Metrics receives one sample per overlay call. Nil disables recording.
	Metrics RPCRecorder
}

// RPCRecorder receives call samples. *metrics.Metrics satisfies it.
type RPCRecorder interface {
	RecordRPCCall(target string, duration time.Duration, err error)
}

type dappsEntry struct {
	dapps   []earning.DappInfo
	fetched time.Time
}

type yieldPool struct {
	Pool string  `json:"pool"`
	APY  float64 `json:"apy"`
}

type yieldsResponse struct {
	Status string      `json:"status"`
	Data   []yieldPool `json:"data"`
}

// Client serves earning.MetadataSource over HTTP.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *chain.RateLimiter
	retry   chain.RetryConfig
	group   singleflight.Group

	mu      sync.Mutex
	dapps   map[chain.ID]dappsEntry
	yields  map[string]float64
	yieldAt time.Time
}

// New creates a client.
func New(opts Options) *Client {
	c := &Client{
		opts: opts,
		http: &http.Client{
			Timeout: httpTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		limiter: chain.DefaultRateLimiter(),
		retry:   chain.DefaultRetryConfig(),
		dapps:   make(map[chain.ID]dappsEntry),
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
	if c.opts.TTL <= 0 {
		c.opts.TTL = DefaultTTL
	}
	if c.opts.Now == nil {
		c.opts.Now = time.Now
	}
	return c
}

// Dapps returns the dApp directory of a chain.
func (c *Client) Dapps(ctx context.Context, chainID chain.ID) ([]earning.DappInfo, error) {
	if c.opts.DappsURL == "" {
		return nil, nil
	}
	c.mu.Lock()
	entry, ok := c.dapps[chainID]
	c.mu.Unlock()
	if ok && c.opts.Now().Sub(entry.fetched) < c.opts.TTL {
		return entry.dapps, nil
	}

	v, err, _ := c.group.Do("dapps:"+string(chainID), func() (any, error) {
		var dapps []earning.DappInfo
		if err := c.get(ctx, withQuery(c.opts.DappsURL, url.Values{"chain": {string(chainID)}}), maxResponseBody, &dapps); err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.dapps[chainID] = dappsEntry{dapps: dapps, fetched: c.opts.Now()}
		c.mu.Unlock()
		return dapps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]earning.DappInfo), nil
}

// Identities returns display identities keyed by address. Identities are not cached.
func (c *Client) Identities(ctx context.Context, chainID chain.ID, addresses []string) (map[string]earning.Identity, error) {
	if c.opts.IdentitiesURL == "" || len(addresses) == 0 {
		return map[string]earning.Identity{}, nil
	}
	q := url.Values{
		"chain":     {string(chainID)},
		"addresses": {strings.Join(addresses, ",")},
	}
	out := make(map[string]earning.Identity, len(addresses))
	if err := c.get(ctx, withQuery(c.opts.IdentitiesURL, q), maxResponseBody, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// YieldAPY looks up the APY of a pool slug in the yields list.
func (c *Client) YieldAPY(ctx context.Context, poolSlug string) (float64, bool, error) {
	if c.opts.YieldsURL == "" {
		return 0, false, nil
	}
	yields, err := c.loadYields(ctx)
	if err != nil {
		return 0, false, err
	}
	apy, ok := yields[poolSlug]
	return apy, ok, nil
}

func (c *Client) loadYields(ctx context.Context) (map[string]float64, error) {
	c.mu.Lock()
	yields, at := c.yields, c.yieldAt
	c.mu.Unlock()
	if yields != nil && c.opts.Now().Sub(at) < c.opts.TTL {
		return yields, nil
	}

	v, err, _ := c.group.Do("yields", func() (any, error) {
		var resp yieldsResponse
		if err := c.get(ctx, c.opts.YieldsURL, maxYieldsBody, &resp); err != nil {
			return nil, err
		}
		m := make(map[string]float64, len(resp.Data))
		for _, p := range resp.Data {
			m[p.Pool] = p.APY
		}
		c.mu.Lock()
		c.yields, c.yieldAt = m, c.opts.Now()
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]float64), nil
}

// get fetches endpoint into out, retrying rate limits and server errors.
func (c *Client) get(ctx context.Context, endpoint string, limit int64, out any) error {
	start := time.Now()
	body, err := chain.RetryWithConfig(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, endpoint, limit)
	})
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordRPCCall(host(endpoint), time.Since(start), err)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing %s: %w", redact(endpoint), err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, limit int64) ([]byte, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req) //nolint:gosec // G704: URL comes from validated config
	if err != nil {
		return nil, chain.WrapRetryable(fmt.Errorf("%w: %w", harvesterr.ErrNetworkError, err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if err := chain.StatusError(resp.StatusCode); err != nil {
		return nil, fmt.Errorf("GET %s: %w", redact(endpoint), err)
	}
	return body, nil
}

func withQuery(endpoint string, q url.Values) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + q.Encode()
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
