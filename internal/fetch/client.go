// Package fetch talks to the vendor API: a rate-gated, retrying GET client
// and a paginator over the govcontractsall endpoint.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/quiverdata/govcontracts/internal/logger"
	"github.com/quiverdata/govcontracts/internal/ratelimit"
)

// DefaultBaseURL is the vendor API root.
const DefaultBaseURL = "https://api.quiverquant.com/beta/"

const (
	DefaultMaxRetries = 5
	DefaultRetryWait  = time.Second
	DefaultTimeout    = 30 * time.Second
)

// RetryError is returned once every attempt for a request has failed.
type RetryError struct {
	URL      string
	Attempts int
	Max      int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("request for %s failed with no more retries remaining (retry %d/%d): %v", e.URL, e.Attempts, e.Max, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Recorder observes request outcomes. status is 0 for transport errors.
type Recorder interface {
	Request(status int)
	Reauth()
}

type nopRecorder struct{}

func (nopRecorder) Request(int) {}
func (nopRecorder) Reauth()     {}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	MaxRetries int           // total attempts per request
	RetryWait  time.Duration // fixed pause between attempts
	Timeout    time.Duration // per attempt
	Gate       ratelimit.Acquirer
	Logger     logger.Logger
	Recorder   Recorder
}

// Client issues GET requests against the vendor API. Every attempt passes
// through the rate gate, runs on a fresh connection and carries the bearer
// token. A 404 is reported as an empty body. A 401 is reissued once against
// the final request location before normal handling.
type Client struct {
	base       *url.URL
	rc         *retryablehttp.Client
	maxRetries int
	log        logger.Logger
}

// NewClient builds a Client. Gate is required.
func NewClient(opts Options) (*Client, error) {
	if opts.Gate == nil {
		return nil, errors.New("fetch client requires a rate gate")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryWait < 0 {
		opts.RetryWait = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}

	c := &Client{
		base:       base,
		maxRetries: opts.MaxRetries,
		log:        opts.Logger,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout: opts.Timeout,
		Transport: &transport{
			base:  cleanhttp.DefaultTransport(),
			gate:  opts.Gate,
			token: opts.Token,
			log:   opts.Logger,
			rec:   opts.Recorder,
		},
	}
	rc.Logger = logger.Leveled{L: opts.Logger}
	rc.RetryMax = opts.MaxRetries - 1
	rc.RetryWaitMin = opts.RetryWait
	rc.RetryWaitMax = opts.RetryWait
	rc.Backoff = func(wait, _ time.Duration, _ int, _ *http.Response) time.Duration { return wait }
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = c.giveUp
	c.rc = rc

	return c, nil
}

// Get fetches path, relative to the base URL, and returns the body.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parsing path %q: %w", path, err)
	}
	u := c.base.ResolveReference(ref).String()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		var rerr *RetryError
		if errors.As(err, &rerr) {
			rerr.URL = u
		}
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		c.log.Errorf("files not found at url: %s", u)
		return "", nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response from %s: %w", u, err)
	}
	return string(body), nil
}

// checkRetry retries transport errors and any non-2xx status except 404.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		if errors.Is(err, ratelimit.ErrClosed) {
			return false, err
		}
		return true, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return true, nil
	}
	return false, nil
}

func (c *Client) giveUp(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		if err == nil {
			err = fmt.Errorf("unexpected status %s", resp.Status)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ratelimit.ErrClosed) {
		return nil, err
	}
	return nil, &RetryError{Attempts: attempts, Max: c.maxRetries, Err: err}
}

// transport gates, authenticates and performs the one-shot 401 reissue for
// each attempt.
type transport struct {
	base  http.RoundTripper
	gate  ratelimit.Acquirer
	token string
	log   logger.Logger
	rec   Recorder
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.gate.Acquire(req.Context()); err != nil {
		return nil, err
	}

	resp, err := t.send(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Reissue against the location that answered, once.
	target := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		target = resp.Request.URL
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	t.log.Warnf("unauthorized response from %s, reissuing request", target)
	t.rec.Reauth()

	again := req.Clone(req.Context())
	u := *target
	again.URL = &u
	again.Host = ""
	return t.send(again)
}

func (t *transport) send(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Token "+t.token)
	r.Header.Set("Accept", "application/json")

	resp, err := t.base.RoundTrip(r)
	if err != nil {
		t.rec.Request(0)
		return nil, err
	}
	t.rec.Request(resp.StatusCode)
	return resp, nil
}
