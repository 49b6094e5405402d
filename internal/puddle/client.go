package puddle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	logx "puddlebot/pkg/logx"
)

const (
	DefaultBaseURL         = "https://puddle.farm/api"
	DefaultTimeout         = 5 * time.Second
	DefaultMaxConnsPerHost = 4

	maxErrorBody   = 64 << 10
	maxSuccessBody = 16 << 20
)

type Config struct {
	BaseURL string
	// Timeout bounds each attempt, not the whole call.
	Timeout         time.Duration
	MaxConnsPerHost int
	UserAgent       string

	Retry RetryPolicy
	// Limiter is shared by every call of the client. Nil disables pacing.
	Limiter *RateLimiter

	// HTTPClient replaces the owned client. The caller keeps ownership and
	// Close leaves it alone.
	HTTPClient *http.Client
}

// Client executes typed endpoint calls against the upstream API. It is
// safe for concurrent use; all callers share one connection pool and one
// rate limiter.
type Client struct {
	base      *url.URL
	userAgent string
	retry     RetryPolicy
	limiter   *RateLimiter
	log       logx.Logger

	http      *http.Client
	transport *http.Transport // nil when the http client is caller-owned

	closeOnce sync.Once
	sleep     func(ctx context.Context, d time.Duration) error
}

// New validates cfg and builds the client. Nothing is allocated when
// validation fails.
func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("puddle: invalid base url %q", raw)
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 && policy.BackoffBase == 0 {
		policy = DefaultRetryPolicy()
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("puddle: retry policy: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "puddlebot/1"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	c := &Client{
		base:      base,
		userAgent: ua,
		retry:     policy,
		limiter:   cfg.Limiter,
		log:       log,
		sleep:     sleepCtx,
	}
	if cfg.HTTPClient != nil {
		c.http = cfg.HTTPClient
		return c, nil
	}

	conns := cfg.MaxConnsPerHost
	if conns <= 0 {
		conns = DefaultMaxConnsPerHost
	}
	c.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       conns,
		MaxIdleConns:          conns,
		MaxIdleConnsPerHost:   conns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
	c.http = &http.Client{Transport: c.transport, Timeout: timeout}
	return c, nil
}

// Close releases the owned connection pool. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.transport != nil {
			c.transport.CloseIdleConnections()
		}
	})
	return nil
}

func (c *Client) RetryPolicy() RetryPolicy { return c.retry }

func (c *Client) url(ep Endpoint) string {
	return strings.TrimRight(c.base.String(), "/") + ep.Path()
}

// Call runs ep through the limiter and retry loop and returns the JSON
// body. Cancellation stops the loop immediately with ctx.Err().
func (c *Client) Call(ctx context.Context, ep Endpoint) (json.RawMessage, error) {
	body, err := c.execute(ctx, ep)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// execute returns the 2xx body of ep. JSON endpoints get their body
// checked for syntax before it is returned.
func (c *Client) execute(ctx context.Context, ep Endpoint) ([]byte, error) {
	if ep.IsZero() {
		return nil, errors.New("puddle: empty endpoint")
	}
	target := c.url(ep)
	log := c.log.With(logx.String("endpoint", ep.Name()))

	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, err
			}
		}

		status, body, err := c.roundTrip(ctx, ep, target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			d := c.retry.Decide(attempt, TransportFailure(err))
			if !d.Retry {
				return nil, err
			}
			log.Debug("request failed; retrying",
				logx.Int("attempt", attempt), logx.Duration("delay", d.Delay), logx.Err(err))
			if err := c.sleep(ctx, d.Delay); err != nil {
				return nil, err
			}
			continue
		}

		if status < 200 || status > 299 {
			d := c.retry.Decide(attempt, StatusFailure(status))
			if !d.Retry {
				return nil, &APIResponseError{Endpoint: ep.Name(), Status: status, Body: truncateBody(body, maxErrorBody)}
			}
			log.Debug("upstream status; retrying",
				logx.Int("attempt", attempt), logx.Int("status", status), logx.Duration("delay", d.Delay))
			if err := c.sleep(ctx, d.Delay); err != nil {
				return nil, err
			}
			continue
		}

		if ep.ExpectsJSON() && !json.Valid(body) {
			return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: truncateBody(body, maxErrorBody), Err: errors.New("body is not valid JSON")}
		}
		return body, nil
	}
}

// roundTrip performs one attempt. Failures below HTTP, including a broken
// body read, come back as *url.Error.
func (c *Client) roundTrip(ctx context.Context, ep Endpoint, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, ep.Method(), target, nil)
	if err != nil {
		return 0, nil, &url.Error{Op: ep.Method(), URL: target, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if ep.ExpectsJSON() {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	limit := int64(maxSuccessBody)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit = maxErrorBody
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, nil, &url.Error{Op: ep.Method(), URL: target, Err: err}
	}
	// Drain a little of any remainder so the connection can be reused.
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
	return resp.StatusCode, body, nil
}

func truncateBody(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Health reports whether GET /health answered 2xx with a body of exactly
// "OK". Every error is reported as false.
func (c *Client) Health(ctx context.Context) bool {
	body, err := c.execute(ctx, HealthEndpoint())
	if err != nil {
		c.log.Debug("health check failed", logx.Err(err))
		return false
	}
	return string(body) == "OK"
}

func (c *Client) Player(ctx context.Context, id string) (*Player, error) {
	ep := PlayerEndpoint(id)
	raw, err := c.Call(ctx, ep)
	if err != nil {
		return nil, err
	}
	if !isObject(raw) {
		return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: string(raw), Err: errors.New("expected a JSON object")}
	}
	var p Player
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: string(raw), Err: err}
	}
	p.Raw = raw
	return &p, nil
}

// PlayerHistory returns the player's recent matches on one character,
// most recent first. The body may be an object with a "history" array or a
// bare array.
func (c *Client) PlayerHistory(ctx context.Context, id, char string) (*History, error) {
	ep := PlayerHistoryEndpoint(id, char)
	raw, err := c.Call(ctx, ep)
	if err != nil {
		return nil, err
	}
	list := raw
	if isObject(raw) {
		var wrapper struct {
			History json.RawMessage `json:"history"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: string(raw), Err: err}
		}
		list = wrapper.History
	}
	if !isArray(list) {
		return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: string(raw), Err: errors.New(`expected a "history" array`)}
	}
	var h History
	if err := json.Unmarshal(list, &h.Matches); err != nil {
		return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: string(raw), Err: err}
	}
	return &h, nil
}

func (c *Client) Top(ctx context.Context) (*Leaderboard, error) {
	return c.leaderboard(ctx, TopEndpoint())
}

func (c *Client) TopForCharacter(ctx context.Context, char string) (*Leaderboard, error) {
	return c.leaderboard(ctx, TopForCharacterEndpoint(char))
}

// leaderboard accepts a bare array, an object with "ranks", or an object
// whose first array-valued field holds the entries.
func (c *Client) leaderboard(ctx context.Context, ep Endpoint) (*Leaderboard, error) {
	raw, err := c.Call(ctx, ep)
	if err != nil {
		return nil, err
	}
	list, ok := leaderboardList(raw)
	if !ok {
		return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: string(raw), Err: errors.New("no leaderboard array found")}
	}
	var lb Leaderboard
	if err := json.Unmarshal(list, &lb.Entries); err != nil {
		return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: string(raw), Err: err}
	}
	return &lb, nil
}

func leaderboardList(raw json.RawMessage) (json.RawMessage, bool) {
	if isArray(raw) {
		return raw, true
	}
	if !isObject(raw) {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	if ranks, ok := obj["ranks"]; ok && isArray(ranks) {
		return ranks, true
	}
	// Map order is random; walk the document to find the first array field.
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, false
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, false
		}
		if key != "" && isArray(v) {
			return v, true
		}
	}
	return nil, false
}

func (c *Client) Popularity(ctx context.Context) (*Popularity, error) {
	ep := PopularityEndpoint()
	raw, err := c.Call(ctx, ep)
	if err != nil {
		return nil, err
	}
	if !isObject(raw) {
		return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: string(raw), Err: errors.New("expected a JSON object")}
	}
	var p Popularity
	if err := json.Unmarshal(raw, &p.Fields); err != nil {
		return nil, &APIDecodeError{Endpoint: ep.Name(), Raw: string(raw), Err: err}
	}
	return &p, nil
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func isObject(raw []byte) bool { return firstByte(raw) == '{' }
func isArray(raw []byte) bool  { return firstByte(raw) == '[' }
