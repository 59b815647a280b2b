// Package remote provides the retrying HTTP client shared by the helpdesk
// and PPM gateways.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/sethvargo/go-retry"
)

// DefaultTimeout bounds every single attempt.
const DefaultTimeout = 30 * time.Second

// RetryPolicy controls how a request is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseWait    time.Duration
	MaxWait     time.Duration
	// RetryStatus reports whether an HTTP status is transient.
	// Timeouts and connection errors are always transient.
	RetryStatus func(status int) bool
}

// DefaultRetryPolicy retries HTTP 429 up to three attempts in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseWait:    2 * time.Second,
		MaxWait:     30 * time.Second,
		RetryStatus: RetryOnRateLimit,
	}
}

// RetryOnRateLimit treats only HTTP 429 as transient.
func RetryOnRateLimit(status int) bool {
	return status == http.StatusTooManyRequests
}

// backoff builds an exponential backoff that honors a Retry-After hint and
// reports every wait to observe.
func (p RetryPolicy) backoff(hint *time.Duration, observe func(time.Duration)) retry.Backoff {
	base := p.BaseWait
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxWait > 0 {
		b = retry.WithCappedDuration(p.MaxWait, b)
	}
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	b = retry.WithMaxRetries(uint64(retries), b)

	return retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := b.Next()
		if stop {
			return 0, true
		}
		if *hint > next {
			next = *hint
			if p.MaxWait > 0 && next > p.MaxWait {
				next = p.MaxWait
			}
		}
		*hint = 0
		if observe != nil {
			observe(next)
		}
		return next, false
	})
}

// Client issues JSON requests against one remote system.
type Client struct {
	system  string
	baseURL string
	creds   *Credentials
	http    *http.Client
	timeout time.Duration
	policy  RetryPolicy
	logger  *slog.Logger
	onWait  func(attempt int, wait time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithWaitObserver registers fn to be called before each backoff wait.
func WithWaitObserver(fn func(attempt int, wait time.Duration)) Option {
	return func(c *Client) { c.onWait = fn }
}

// NewClient creates a client for system rooted at baseURL.
// creds may be nil for unauthenticated endpoints.
func NewClient(system, baseURL string, creds *Credentials, opts ...Option) *Client {
	c := &Client{
		system:  system,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{},
		timeout: DefaultTimeout,
		policy:  DefaultRetryPolicy(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.RetryStatus == nil {
		c.policy.RetryStatus = RetryOnRateLimit
	}
	return c
}

// System returns the remote system name used in errors and logs.
func (c *Client) System() string {
	return c.system
}

// Credentials returns the credentials holder, which may be nil.
func (c *Client) Credentials() *Credentials {
	return c.creds
}

// Request describes one logical call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is a fully read HTTP response.
type Response struct {
	Method     string
	Path       string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Do runs req with retries. It returns a Response for every status that is
// neither 401 nor transient. Errors are typed gateway errors: 401 is an auth
// error and invalidates the credentials; exhausted retries surface the last
// rate-limit, timeout or transport error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request body: %w", c.system, err)
		}
	}

	var (
		resp     *Response
		attempts int
		hint     time.Duration
	)
	observe := func(wait time.Duration) {
		c.logger.Debug("backing off", "system", c.system, "path", req.Path, "attempt", attempts, "wait", wait)
		if c.onWait != nil {
			c.onWait(attempts, wait)
		}
	}

	err := retry.Do(ctx, c.policy.backoff(&hint, observe), func(ctx context.Context) error {
		attempts++
		meta := map[string]any{"system": c.system, "method": req.Method, "path": req.Path, "attempt": attempts}

		httpReq, cancel, err := c.newRequest(ctx, req, body)
		if err != nil {
			return err
		}
		defer cancel()

		r, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			kind, code := classifyTransport(err)
			c.logger.Warn("request failed", "system", c.system, "method", req.Method, "path", req.Path,
				"kind", kind, "attempt", attempts, "error", err)
			return retry.RetryableError(gatewayWrapError(err, goerrors.CategoryExternal,
				fmt.Sprintf("%s: %s %s failed (%s) after %d attempt(s); check connectivity", c.system, req.Method, req.Path, kind, attempts),
				0, code, meta))
		}
		data, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			kind, code := classifyTransport(err)
			c.logger.Warn("reading response failed", "system", c.system, "path", req.Path, "kind", kind, "error", err)
			return retry.RetryableError(gatewayWrapError(err, goerrors.CategoryExternal,
				fmt.Sprintf("%s: reading %s %s response failed (%s)", c.system, req.Method, req.Path, kind),
				r.StatusCode, code, meta))
		}

		resp = &Response{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: r.StatusCode,
			Header:     r.Header,
			Body:       data,
			Attempts:   attempts,
		}

		if r.StatusCode == http.StatusUnauthorized {
			if c.creds != nil {
				c.creds.Invalidate(fmt.Sprintf("HTTP 401 on %s %s", req.Method, req.Path))
			}
			c.logger.Error("credentials rejected, invalidated", "system", c.system, "path", req.Path)
			return gatewayError(
				fmt.Sprintf("%s: authentication failed (HTTP 401); check the credentials and their permissions, then re-authenticate", c.system),
				goerrors.CategoryAuth, http.StatusUnauthorized, CodeUnauthorized, meta)
		}

		if c.policy.RetryStatus(r.StatusCode) {
			hint = retryAfter(r.Header)
			c.logger.Warn("transient status", "system", c.system, "path", req.Path, "kind", "status",
				"status", r.StatusCode, "attempt", attempts)
			return retry.RetryableError(gatewayError(
				fmt.Sprintf("%s: %s %s still returned HTTP %d after %d attempt(s); wait for the rate limit window or retry with fewer tickets",
					c.system, req.Method, req.Path, r.StatusCode, attempts),
				categoryForStatus(r.StatusCode), r.StatusCode, CodeRateLimited, meta))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, req Request, body []byte) (*http.Request, context.CancelFunc, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(actx, req.Method, u, rd)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%s: build request: %w", c.system, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		if err := c.creds.Apply(httpReq); err != nil {
			cancel()
			return nil, nil, err
		}
	}
	return httpReq, cancel, nil
}

// classifyTransport separates timeouts from other connection failures.
func classifyTransport(err error) (kind, code string) {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return "timeout", CodeTimeout
	}
	return "transport", CodeTransport
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
