package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pacmjs/pacm/hostconfig"
	"github.com/pacmjs/pacm/pacmerr"
)

const (
	defaultBaseURL = "https://registry.npmjs.org"
	userAgent      = "pacm/1.0 (+https://github.com/pacmjs/pacm)"
	maxAttempts    = 4
	connectTimeout = 20 * time.Second
	requestTimeout = 45 * time.Second
)

// Client fetches and memoizes npm-compatible registry documents. It is
// safe for concurrent use: a semaphore bounds simultaneous outbound
// requests and a singleflight.Group coalesces concurrent fetches of the
// same package name, the same structural pattern the registry client this
// package is grounded on uses for its ETag cache.
type Client struct {
	log     *slog.Logger
	http    *http.Client
	baseURL string
	sem     chan struct{}

	mu    sync.RWMutex
	cache map[string]*Document

	group singleflight.Group
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithBaseURL overrides the registry origin (default: registry.npmjs.org).
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = base }
}

// WithHTTPClient overrides the transport, primarily for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New constructs a Client. tuning bounds the outbound-request semaphore
// per spec §4.2's "recommended: max(16, 8*logical_cores)".
func New(log *slog.Logger, tuning hostconfig.Tuning, opts ...Option) *Client {
	limit := tuning.MaxNetworkRequests
	if limit < 16 {
		limit = 16
	}
	c := &Client{
		log: log,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		baseURL: defaultBaseURL,
		sem:     make(chan struct{}, limit),
		cache:   make(map[string]*Document),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FetchDocument returns the parsed per-package document, consulting the
// process-wide memoization cache first.
func (c *Client) FetchDocument(ctx context.Context, name string) (*Document, error) {
	c.mu.RLock()
	if d, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return d, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(name, func() (any, error) {
		return c.fetchDocumentUncached(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}

func (c *Client) fetchDocumentUncached(ctx context.Context, name string) (*Document, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	reqURL := c.baseURL + "/" + url.PathEscape(name)
	if len(name) > 0 && name[0] == '@' {
		// Scoped names embed a literal '/' that must not be escaped away;
		// url.PathEscape would turn "@scope/name" into "@scope%2Fname".
		reqURL = c.baseURL + "/" + name
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		doc, transient, err := c.attempt(ctx, reqURL, name)
		if err == nil {
			c.mu.Lock()
			c.cache[name] = doc
			c.mu.Unlock()
			return doc, nil
		}
		lastErr = err
		if !transient {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}
		sleep := time.Duration(attempt) * time.Second
		if sleep > 5*time.Second {
			sleep = 5 * time.Second
		}
		c.log.Debug("registry fetch retrying", slog.String("package", name), slog.Int("attempt", attempt), slog.Duration("backoff", sleep))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, &pacmerr.NetworkError{Msg: fmt.Sprintf("fetching %s: %v", name, lastErr)}
}

// attempt performs one HTTP round trip; the bool return reports whether a
// non-nil error is transient (and thus worth retrying) per spec §4.2.
func (c *Client) attempt(ctx context.Context, reqURL, name string) (*Document, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &pacmerr.PackageNotFound{Name: name}
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusInternalServerError,
		resp.StatusCode == http.StatusServiceUnavailable:
		return nil, true, fmt.Errorf("registry returned %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, false, &pacmerr.NetworkError{Msg: fmt.Sprintf("registry returned %s for %s", resp.Status, name)}
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, false, &pacmerr.NetworkError{Msg: fmt.Sprintf("decoding registry document for %s: %v", name, err)}
	}
	return &doc, false, nil
}
