package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/watchman/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	MaxBodyBytes int64
	Limiters     map[string]*AdaptiveLimiter
}

// HTTPFetcher implements Fetcher over net/http with per-host rate limiting
// and retry on transient failures.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters map[string]*AdaptiveLimiter
	fallback *rate.Limiter
	retry    resilience.RetryConfig
}

// NewHTTPFetcher creates a new HTTPFetcher. SEC rejects requests without a
// descriptive User-Agent, so callers should always set one.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 32 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "watchman/1.0"
	}
	if opts.Limiters == nil {
		opts.Limiters = DefaultLimiters()
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxRetries
	retry.InitialBackoff = time.Second
	retry.OnRetry = resilience.RetryLogger("fetcher", "get")

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts:     opts,
		limiters: opts.Limiters,
		fallback: rate.NewLimiter(20, 20),
		retry:    retry,
	}
}

// Get fetches rawURL, retrying 429, 5xx and network failures.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept-Encoding", "identity")

	body, err := resilience.DoVal(ctx, f.retry, func(ctx context.Context) ([]byte, error) {
		return f.do(ctx, req)
	})
	if err != nil {
		if eris.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
	}
	return body, nil
}

// GetJSON fetches rawURL and decodes it into v.
func (f *HTTPFetcher) GetJSON(ctx context.Context, rawURL string, v any) (bool, error) {
	body, err := f.Get(ctx, rawURL)
	if err != nil {
		if eris.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, eris.Wrapf(err, "fetcher: decode %s", rawURL)
	}
	return true, nil
}

func (f *HTTPFetcher) do(ctx context.Context, req *http.Request) ([]byte, error) {
	adaptive := f.limiters[req.URL.Host]
	if adaptive != nil {
		if err := adaptive.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
	} else if err := f.fallback.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	resp, err := f.client.Do(req.Clone(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, eris.Wrapf(ErrNotFound, "fetcher: %s", req.URL.String())
	case resp.StatusCode == http.StatusTooManyRequests:
		if adaptive != nil {
			adaptive.OnRateLimit()
		}
		return nil, resilience.NewTransientError(eris.Errorf("http 429 from %s", req.URL.Host), resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(eris.Errorf("http %d from %s", resp.StatusCode, req.URL.Host), resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, eris.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "read body")
	}
	if adaptive != nil {
		adaptive.OnSuccess()
	}
	return data, nil
}
