package align

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout bounds the wait for response headers of a remote input.
	// The body itself streams without a deadline; large vector files take minutes.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of attempts for a remote input.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// DefaultMaxInputBytes caps a remote input; a 2M x 300 fastText file is ~4.5GB.
	DefaultMaxInputBytes int64 = 8 << 30
)

// FetchOption configures OpenInput for remote locations.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBytes    int64
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		maxBytes:    DefaultMaxInputBytes,
	}
}

// WithTimeout sets the response header timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithMaxBytes caps how much of a remote body is read.
func WithMaxBytes(n int64) FetchOption {
	return func(c *fetchConfig) {
		c.maxBytes = n
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// IsRemote reports whether location is an http(s) URL.
func IsRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// OpenInput opens a local file or, for an http(s) URL, streams the response
// body. Connection failures and non-200 responses are retried with
// exponential backoff; once a body is returned nothing is retried.
func OpenInput(ctx context.Context, location string, opts ...FetchOption) (io.ReadCloser, error) {
	if location == "" {
		return nil, fmt.Errorf("open input: location is empty")
	}
	if !IsRemote(location) {
		return os.Open(location)
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.timeout,
		}}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch %s: %w", location, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, location, cfg.maxBytes)
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("fetch %s: all %d attempts failed: %w", location, cfg.maxRetries, lastErr)
}

// limitedBody caps reads from an HTTP body and closes the body on Close.
type limitedBody struct {
	io.Reader
	io.Closer
}

// doFetch performs a single HTTP GET and returns the open response body.
func doFetch(ctx context.Context, client *http.Client, url string, maxBytes int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/plain, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	return limitedBody{Reader: io.LimitReader(resp.Body, maxBytes), Closer: resp.Body}, nil
}
