// Package offline implements the resource cache controller: an
// http.RoundTripper placed in front of the origin that keeps the application
// shell and audio usable without connectivity.
package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/imitation-player/internal/core/domain/offline"
	"github.com/avatarctic/imitation-player/internal/core/ports"
)

// Config holds the controller's build-time settings.
type Config struct {
	Origin       *url.URL
	Generation   string
	Shell        []string
	AudioMarker  string
	RootDocument string
}

// Controller routes every request through one of the offline policies.
type Controller struct {
	cfg      Config
	cache    ports.ResponseCache
	network  http.RoundTripper
	logger   *logrus.Logger
	requests *prometheus.CounterVec
	now      func() time.Time

	mu        sync.RWMutex
	serving   string
	installed bool
}

var _ http.RoundTripper = (*Controller)(nil)

// NewController creates a controller. network performs real fetches; a nil
// network uses http.DefaultTransport. requests may be nil.
func NewController(cfg Config, cache ports.ResponseCache, network http.RoundTripper, logger *logrus.Logger, requests *prometheus.CounterVec) *Controller {
	if network == nil {
		network = http.DefaultTransport
	}
	if cfg.Generation == "" {
		cfg.Generation = offline.DefaultGeneration
	}
	if cfg.RootDocument == "" {
		cfg.RootDocument = offline.DefaultRootDocument
	}
	if cfg.Shell == nil {
		cfg.Shell = offline.DefaultShell
	}
	return &Controller{
		cfg:      cfg,
		cache:    cache,
		network:  network,
		logger:   logger,
		requests: requests,
		now:      time.Now,
	}
}

// Generation returns the generation currently used to answer requests, or
// "" before any generation was activated.
func (c *Controller) Generation() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serving
}

// Restore resumes serving the generation activated by a previous run.
func (c *Controller) Restore(ctx context.Context) error {
	gen, err := c.cache.ActiveGeneration(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.serving = gen
	c.mu.Unlock()
	if c.logger != nil && gen != "" {
		c.logger.WithField("generation", gen).Info("offline cache restored")
	}
	return nil
}

// Install fetches the whole shell and stores it under the build generation.
// Either every resource is stored or nothing is.
func (c *Controller) Install(ctx context.Context) error {
	entries := make([]*offline.Entry, 0, len(c.cfg.Shell))
	for _, path := range c.cfg.Shell {
		e, err := c.fetchShell(ctx, path)
		if err != nil {
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{"generation": c.cfg.Generation, "path": path}).WithError(err).Error("offline cache install failed")
			}
			return fmt.Errorf("%w: %s: %w", offline.ErrInstallFailed, path, err)
		}
		entries = append(entries, e)
	}
	if err := c.cache.PutAll(ctx, c.cfg.Generation, entries); err != nil {
		return fmt.Errorf("%w: %w", offline.ErrInstallFailed, err)
	}

	c.mu.Lock()
	c.installed = true
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{"generation": c.cfg.Generation, "resources": len(entries)}).Info("offline cache installed")
	}
	return nil
}

func (c *Controller) fetchShell(ctx context.Context, path string) (*offline.Entry, error) {
	target, err := c.originURL(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.network.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if !offline.OK(resp.StatusCode) {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return offline.NewEntry(offline.RequestKey(target), resp, body, c.now()), nil
}

// Activate drops every other generation and starts serving the build
// generation. It requires a successful Install.
func (c *Controller) Activate(ctx context.Context) error {
	c.mu.RLock()
	installed := c.installed
	c.mu.RUnlock()
	if !installed {
		return offline.ErrNotInstalled
	}

	gens, err := c.cache.Generations(ctx)
	if err != nil {
		return err
	}
	for _, gen := range gens {
		if gen == c.cfg.Generation {
			continue
		}
		if err := c.cache.DeleteGeneration(ctx, gen); err != nil {
			return err
		}
		if c.logger != nil {
			c.logger.WithField("generation", gen).Info("offline cache generation deleted")
		}
	}
	if err := c.cache.SetActiveGeneration(ctx, c.cfg.Generation); err != nil {
		return err
	}

	c.mu.Lock()
	c.serving = c.cfg.Generation
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.WithField("generation", c.cfg.Generation).Info("offline cache activated")
	}
	return nil
}

// RoundTrip implements http.RoundTripper.
func (c *Controller) RoundTrip(req *http.Request) (*http.Response, error) {
	policy := offline.SelectPolicy(req.Method, req.URL.Path, req.Header, c.cfg.AudioMarker)
	switch policy {
	case offline.PolicyCacheFirst:
		return c.cacheFirst(req)
	case offline.PolicyNetworkFirst:
		return c.networkFirst(req)
	default:
		c.observe(policy, "passthrough")
		return c.network.RoundTrip(req)
	}
}

func (c *Controller) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	gen := c.Generation()
	key := offline.RequestKey(req.URL)

	if cached := c.match(ctx, gen, key); cached != nil {
		c.observe(offline.PolicyCacheFirst, "hit")
		return cached.Response(req), nil
	}

	resp, err := c.network.RoundTrip(req)
	if err != nil {
		c.observe(offline.PolicyCacheFirst, "error")
		return nil, fmt.Errorf("%w: %w", offline.ErrNetwork, err)
	}
	c.observe(offline.PolicyCacheFirst, "miss")
	if !offline.OK(resp.StatusCode) || gen == "" {
		return resp, nil
	}
	return c.store(req, resp, gen, key, true)
}

func (c *Controller) networkFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	gen := c.Generation()
	key := offline.RequestKey(req.URL)

	resp, err := c.network.RoundTrip(req)
	if err == nil {
		c.observe(offline.PolicyNetworkFirst, "network")
		if !offline.OK(resp.StatusCode) || gen == "" {
			return resp, nil
		}
		return c.store(req, resp, gen, key, false)
	}

	if cached := c.match(ctx, gen, key); cached != nil {
		c.observe(offline.PolicyNetworkFirst, "fallback")
		return cached.Response(req), nil
	}
	if offline.IsNavigation(req.Method, req.Header) {
		if root := c.match(ctx, gen, c.rootKey()); root != nil {
			c.observe(offline.PolicyNetworkFirst, "navigation_fallback")
			return root.Response(req), nil
		}
	}
	c.observe(offline.PolicyNetworkFirst, "error")
	if c.logger != nil {
		c.logger.WithField("url", key).WithError(err).Debug("offline: no cached copy after network failure")
	}
	return nil, fmt.Errorf("%w: %w", offline.ErrNetwork, err)
}

// store buffers resp, records it and hands back a fresh copy. A failed
// write is logged; the caller still gets the response.
func (c *Controller) store(req *http.Request, resp *http.Response, gen, key string, ifAbsent bool) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", offline.ErrNetwork, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Del("Content-Length")

	entry := offline.NewEntry(key, resp, body, c.now())
	ctx := context.WithoutCancel(req.Context())
	if ifAbsent {
		_, err = c.cache.PutIfAbsent(ctx, gen, entry)
	} else {
		err = c.cache.Put(ctx, gen, entry)
	}
	if err != nil && c.logger != nil {
		c.logger.WithFields(logrus.Fields{"url": key, "generation": gen}).WithError(err).Warn("offline: failed to store response")
	}
	return resp, nil
}

func (c *Controller) match(ctx context.Context, gen, key string) *offline.Entry {
	if gen == "" {
		return nil
	}
	entry, err := c.cache.Match(ctx, gen, key)
	if err != nil {
		if c.logger != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithFields(logrus.Fields{"url": key, "generation": gen}).WithError(err).Warn("offline: cache lookup failed")
		}
		return nil
	}
	return entry
}

func (c *Controller) rootKey() string {
	u, err := c.originURL(c.cfg.RootDocument)
	if err != nil {
		return ""
	}
	return offline.RequestKey(u)
}

// originURL maps a site path to the URL the proxy forwards it to: the
// origin's path is a prefix, and both query strings are kept.
func (c *Controller) originURL(p string) (*url.URL, error) {
	ref, err := url.Parse(p)
	if err != nil {
		return nil, err
	}
	u := *c.cfg.Origin
	u.Path = joinPath(u.Path, ref.Path)
	u.RawPath = ""
	u.Fragment = ""
	if u.RawQuery == "" || ref.RawQuery == "" {
		u.RawQuery += ref.RawQuery
	} else {
		u.RawQuery += "&" + ref.RawQuery
	}
	return &u, nil
}

// joinPath joins with exactly one slash, as httputil.ReverseProxy does.
func joinPath(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

func (c *Controller) observe(policy offline.Policy, outcome string) {
	if c.requests != nil {
		c.requests.WithLabelValues(policy.String(), outcome).Inc()
	}
}
