package util

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/scrape/types"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
}

// proxyFailover is how many consecutive connection errors a proxy gets
// before rotation skips it.
const proxyFailover = 3

type proxyEntry struct {
	transport *http.Transport
	failures  int
}

// ClientConfig tunes the anti-detection layer. Zero values fall back to
// sane defaults.
type ClientConfig struct {
	Timeout    time.Duration
	JitterMin  time.Duration
	JitterMax  time.Duration
	UserAgents []string
	Proxies    []string // egress proxy URLs, rotated round-robin
}

// Client is the gatekeeper every adapter request goes through: token-bucket
// wait, randomized inter-request delay, User-Agent rotation and optional
// proxy rotation with failover. It knows nothing about listing content.
type Client struct {
	limiter *SourceLimiter
	cfg     ClientConfig
	hc      *http.Client

	mu      sync.Mutex
	proxies []*proxyEntry
	next    int
}

func NewClient(limiter *SourceLimiter, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	c := &Client{
		limiter: limiter,
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.Timeout},
	}
	for _, raw := range cfg.Proxies {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Host == "" {
			continue
		}
		c.proxies = append(c.proxies, &proxyEntry{
			transport: &http.Transport{Proxy: http.ProxyURL(u)},
		})
	}
	return c
}

func (c *Client) userAgent() string {
	return c.cfg.UserAgents[rand.Intn(len(c.cfg.UserAgents))]
}

// nextProxy returns the next live proxy round-robin, or nil when none are
// configured or all are failed out.
func (c *Client) nextProxy() *proxyEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.proxies); i++ {
		p := c.proxies[c.next]
		c.next = (c.next + 1) % len(c.proxies)
		if p.failures < proxyFailover {
			return p
		}
	}
	return nil
}

func (c *Client) jitter(ctx context.Context) error {
	if c.cfg.JitterMax <= 0 {
		return nil
	}
	min := c.cfg.JitterMin
	span := c.cfg.JitterMax - min
	d := min
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Get performs a throttled GET for the given source. The caller owns the
// response body. Network-level failures come back as TransientError.
func (c *Client) Get(ctx context.Context, src domain.DataSource, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx, src); err != nil {
		return nil, err
	}
	if err := c.jitter(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	proxy := c.nextProxy()
	hc := c.hc
	if proxy != nil {
		hc = &http.Client{Timeout: c.cfg.Timeout, Transport: proxy.transport}
	}

	res, err := hc.Do(req)
	if err != nil {
		if proxy != nil {
			c.mu.Lock()
			proxy.failures++
			c.mu.Unlock()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.Transient("get %s: %v", rawURL, err)
	}
	if proxy != nil {
		c.mu.Lock()
		proxy.failures = 0
		c.mu.Unlock()
	}
	return res, nil
}

// ClassifyStatus maps an HTTP status to the error taxonomy: 403/429 read as
// an access block, 5xx as transient. The body is closed on error.
func ClassifyStatus(res *http.Response) error {
	switch {
	case res.StatusCode == http.StatusForbidden || res.StatusCode == http.StatusTooManyRequests:
		drain(res)
		return types.ErrBlocked
	case res.StatusCode >= 500:
		drain(res)
		return types.Transient("status %d from %s", res.StatusCode, res.Request.URL.Host)
	case res.StatusCode >= 400:
		drain(res)
		return fmt.Errorf("status %d from %s", res.StatusCode, res.Request.URL.Host)
	}
	return nil
}

func drain(res *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
	_ = res.Body.Close()
}

// LooksLikeChallenge sniffs common bot-challenge markers in an HTML body.
func LooksLikeChallenge(body string) bool {
	low := strings.ToLower(body)
	return strings.Contains(low, "captcha") ||
		strings.Contains(low, "px-captcha") ||
		strings.Contains(low, "are you a human") ||
		strings.Contains(low, "unusual traffic") ||
		strings.Contains(low, "access to this page has been denied")
}
