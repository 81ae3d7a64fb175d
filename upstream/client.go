// Package upstream implements the rate-limited client for the hosted code
// forge, composing ratelimit, cache, breaker, and retry. Its request loop is
// grounded on
// other_examples/5c1691a6_ryansgi-swearjar…github-client.go.go's Do(): one
// HTTP call per loop iteration, status-to-error-kind mapping, and
// rate/retry-after handling read straight off the response headers, here
// delegated to the ratelimit/breaker/retry packages instead of re-coding
// the loop inline.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"forgehand/breaker"
	"forgehand/cache"
	"forgehand/forgeerrors"
	"forgehand/ratelimit"
	"forgehand/retry"
)

const (
	defaultUserAgent = "forgehand-worker"
	defaultTimeout   = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	Token          string
	UserAgent      string
	RequestTimeout time.Duration

	RateLimitQueueThreshold int
	RateLimitMaxQueueWait   time.Duration

	CacheEnabled bool
	CacheTTL     time.Duration

	Breaker breaker.Config

	// APIRecorder, if set, receives one call per upstream round-trip so
	// component J's per-resource counters (requests, failures,
	// rate-limited, retried, average latency) reflect real traffic instead
	// of only the scheduler's task-level completions.
	APIRecorder APIRecorder
}

// APIRecorder receives upstream call outcomes. metrics.Recorder satisfies
// this via its RecordAPICall method.
type APIRecorder interface {
	RecordAPICall(resource string, failed, rateLimited, retried bool, latency time.Duration)
}

// Client is the rate-limited, cached, circuit-broken, retrying upstream API
// client. forgehand-worker uses it to report task outcomes to the code
// forge (PR open, commit status, comment posting); the worker's branch
// creation and pushes go through git, not this client.
type Client struct {
	http      *http.Client
	baseURL   string
	token     string
	userAgent string

	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	breaker  *breaker.Breaker
	cacheTTL time.Duration
	apiRec   APIRecorder
}

// New builds a Client from Options, wiring otelhttp instrumentation onto
// the transport so every call reports span/metric data.
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultTimeout
	}

	transport := otelhttp.NewTransport(http.DefaultTransport)

	return &Client{
		http:      &http.Client{Timeout: opts.RequestTimeout, Transport: transport},
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		token:     opts.Token,
		userAgent: opts.UserAgent,
		limiter:   ratelimit.New(opts.RateLimitQueueThreshold, opts.RateLimitMaxQueueWait),
		cache:     cache.New(opts.CacheEnabled),
		breaker:   breaker.New(opts.Breaker),
		cacheTTL:  opts.CacheTTL,
		apiRec:    opts.APIRecorder,
	}
}

// Request describes one upstream call.
type Request struct {
	Method        string
	Path          string
	Body          any
	ResourceClass string // rate-limit/breaker bucket, e.g. "core", "search"
	Repository    string // "owner/repo", used for cache tagging
	EntryType     string // cache tag, e.g. "pull-request", "issue"
	CacheKey      string // non-empty enables cache lookups for GET requests
	Invalidates   bool   // true for writes that should invalidate this EntryType+Repository
}

// Do issues req strictly: no fallback, no degraded read. Callers that can
// tolerate stale data should call DoWithFallback instead.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, []byte, error) {
	return c.do(ctx, req, false)
}

// DoWithFallback issues req, but on failure (including an open circuit)
// returns the last cached response for CacheKey if one exists, rather than
// propagating the error. The returned bool reports whether the result is a
// degraded (cached) read.
func (c *Client) DoWithFallback(ctx context.Context, req Request) (*http.Response, []byte, bool, error) {
	resp, body, err := c.do(ctx, req, true)
	if err == nil {
		return resp, body, false, nil
	}
	if req.CacheKey == "" {
		return nil, nil, false, err
	}
	if cached, ok := c.cache.Get(req.CacheKey); ok {
		if cb, ok := cached.([]byte); ok {
			return nil, cb, true, nil
		}
	}
	return nil, nil, false, err
}

func (c *Client) do(ctx context.Context, req Request, allowStale bool) (*http.Response, []byte, error) {
	if req.ResourceClass == "" {
		req.ResourceClass = "core"
	}

	if req.Method == http.MethodGet && req.CacheKey != "" {
		if cached, ok := c.cache.Get(req.CacheKey); ok {
			if cb, ok := cached.([]byte); ok {
				return nil, cb, nil
			}
		}
	}

	if c.breaker.IsOpen(req.ResourceClass) {
		return nil, nil, forgeerrors.New(forgeerrors.KindCircuitOpen, fmt.Sprintf("circuit open for %s", req.ResourceClass))
	}

	if err := c.limiter.Wait(ctx, req.ResourceClass); err != nil {
		return nil, nil, forgeerrors.Wrap(err, forgeerrors.KindTimeout, "upstream.wait", req.Path, req.Repository, "", "rate-limit-wait")
	}

	var respBody []byte
	var statusCode int
	result := retry.Do(ctx, func(ctx context.Context) error {
		resp, body, err := c.roundTrip(ctx, req)
		if err != nil {
			return err
		}
		statusCode = resp.StatusCode
		respBody = body
		return nil
	}, func(err error) time.Duration {
		if b, ok := c.lastRetryAfter(req.ResourceClass); ok {
			return b
		}
		return 0
	})

	c.recordAPICall(req, result)

	if !result.Success {
		c.breaker.RecordFailure(req.ResourceClass, kindOf(result.FinalErr), result.FinalErr.Error())
		return nil, nil, result.FinalErr
	}
	c.breaker.RecordSuccess(req.ResourceClass)

	if req.Method == http.MethodGet && req.CacheKey != "" {
		c.cache.Set(req.CacheKey, req.EntryType, req.Repository, respBody, cache.DefaultTTLFor(req.EntryType, c.cacheTTL))
	}
	if req.Invalidates && req.EntryType != "" {
		if req.Repository != "" {
			c.cache.InvalidateTypeForRepo(req.EntryType, req.Repository)
		} else {
			c.cache.InvalidateType(req.EntryType)
		}
	}

	return &http.Response{StatusCode: statusCode}, respBody, nil
}

// recordAPICall reports one completed (possibly retried) upstream call to
// the configured APIRecorder, if any.
func (c *Client) recordAPICall(req Request, result retry.Result) {
	if c.apiRec == nil {
		return
	}
	rateLimited := false
	for _, a := range result.Attempts {
		if a.Kind == forgeerrors.KindRateLimited {
			rateLimited = true
			break
		}
	}
	c.apiRec.RecordAPICall(req.ResourceClass, !result.Success, rateLimited, len(result.Attempts) > 1, result.Duration)
}

func (c *Client) lastRetryAfter(resourceClass string) (time.Duration, bool) {
	b, ok := c.limiter.Snapshot(resourceClass)
	if !ok || b.RetryAfter <= 0 {
		return 0, false
	}
	return b.RetryAfter, true
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*http.Response, []byte, error) {
	var bodyReader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, nil, forgeerrors.New(forgeerrors.KindValidation, "marshal request body: "+err.Error())
		}
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, bodyReader)
	if err != nil {
		return nil, nil, forgeerrors.Wrap(err, forgeerrors.KindValidation, "upstream.newRequest", req.Path, req.Repository, "", "build")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/vnd.forge+json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, forgeerrors.Wrap(err, forgeerrors.KindNetwork, "upstream.do", req.Path, req.Repository, "", "request")
	}
	defer resp.Body.Close()

	c.limiter.Observe(req.ResourceClass, resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, nil, forgeerrors.Wrap(err, forgeerrors.KindNetwork, "upstream.readBody", req.Path, req.Repository, "", "read")
	}

	if err := statusToError(resp.StatusCode, body, req); err != nil {
		return resp, nil, err
	}

	return resp, body, nil
}

func statusToError(status int, body []byte, req Request) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return forgeerrors.New(forgeerrors.KindAuthFailed, "upstream rejected credentials")
	case status == http.StatusForbidden:
		return forgeerrors.New(forgeerrors.KindPermissionDenied, "upstream denied permission")
	case status == http.StatusNotFound:
		return forgeerrors.New(forgeerrors.KindNotFound, "upstream resource not found: "+req.Path)
	case status == http.StatusConflict:
		return forgeerrors.New(forgeerrors.KindConflict, "upstream reported a conflict")
	case status == http.StatusTooManyRequests:
		return forgeerrors.New(forgeerrors.KindRateLimited, "upstream rate limited the request")
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return forgeerrors.New(forgeerrors.KindTimeout, "upstream timed out")
	case status >= 500:
		return forgeerrors.New(forgeerrors.KindServerError, fmt.Sprintf("upstream returned %d", status))
	default:
		return forgeerrors.New(forgeerrors.KindServerError, fmt.Sprintf("upstream returned unexpected status %d: %s", status, truncate(body, 256)))
	}
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}

func kindOf(err error) forgeerrors.Kind {
	if k, ok := forgeerrors.KindOf(err); ok {
		return k
	}
	return forgeerrors.KindServerError
}
