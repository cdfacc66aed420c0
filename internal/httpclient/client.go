// Package httpclient provides the pooled outbound HTTP client used to reach
// the classification backend. It applies a default timeout through the
// request context, injects a User-Agent and exposes observation hooks.
package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultTimeout bounds a request whose context carries no deadline.
	DefaultTimeout = 30 * time.Second

	defaultUserAgent           = "PestHub-Go"
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 5
	defaultIdleConnTimeout     = 90 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultDialTimeout         = 10 * time.Second
	defaultDialKeepAlive       = 30 * time.Second
)

// Config controls client construction. Zero fields take defaults.
type Config struct {
	// Timeout is applied when the request context has no deadline.
	Timeout time.Duration

	UserAgent string

	// Transport overrides the pooled transport, mainly for tests.
	Transport http.RoundTripper
}

// AfterFunc observes a finished round trip. resp is nil when err is set.
type AfterFunc func(req *http.Request, resp *http.Response, err error, elapsed time.Duration)

// Client wraps http.Client. Safe for concurrent use.
type Client struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string

	hookMu sync.RWMutex
	after  AfterFunc
}

// New builds a client from cfg; a nil cfg uses all defaults.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Transport == nil {
		c.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultDialKeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        defaultMaxIdleConns,
			MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
			IdleConnTimeout:     defaultIdleConnTimeout,
			TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		}
	}

	return &Client{
		client:    &http.Client{Transport: c.Transport},
		timeout:   c.Timeout,
		userAgent: c.UserAgent,
	}
}

// Timeout returns the default per-request timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// SetAfterResponse installs the observation hook.
func (c *Client) SetAfterResponse(fn AfterFunc) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.after = fn
}

// Do sends req under ctx. When ctx has no deadline the default timeout is
// applied; cancel must be called once the response body has been consumed.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, context.CancelFunc, error) {
	if req == nil {
		return nil, func() {}, errors.New("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	req = req.WithContext(ctx)

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)

	c.hookMu.RLock()
	after := c.after
	c.hookMu.RUnlock()
	if after != nil {
		after(req, resp, err, time.Since(start))
	}

	if err != nil {
		cancel()
		return nil, func() {}, err
	}
	return resp, cancel, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}
