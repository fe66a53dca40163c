// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

/*
rest.go - Track lookups over the node REST API

Endpoint: GET {rest}/loadtracks?identifier=<query>
Auth: Authorization header carrying the node password

Every lookup passes through a shared rate limiter and a circuit breaker per
node. Successful results are cached per node and query; LOAD_FAILED answers
are returned as *TrackLoadError and never cached. A LOAD_FAILED answer means
the node is healthy, so it does not count against the breaker.
*/

package andesite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/granite/internal/cache"
	"github.com/tomtom215/granite/internal/logging"
	"github.com/tomtom215/granite/internal/metrics"
	"github.com/tomtom215/granite/internal/models"
)

// maxLoadTracksBody caps the size of a decoded loadtracks response.
const maxLoadTracksBody = 16 << 20

// RESTConfig tunes track lookups. Zero values take the defaults below.
type RESTConfig struct {
	Timeout time.Duration

	// RateLimit is the sustained requests per second across all nodes; 0
	// disables limiting.
	RateLimit float64
	Burst     int

	// CacheSize < 0 disables the result cache.
	CacheSize int
	CacheTTL  time.Duration

	BreakerMaxRequests  uint32
	BreakerInterval     time.Duration
	BreakerTimeout      time.Duration
	BreakerMinRequests  uint32
	BreakerFailureRatio float64

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// DefaultRESTConfig returns the lookup defaults.
func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		Timeout:             10 * time.Second,
		Burst:               5,
		CacheSize:           500,
		CacheTTL:            5 * time.Minute,
		BreakerMaxRequests:  3,
		BreakerInterval:     time.Minute,
		BreakerTimeout:      30 * time.Second,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.6,
	}
}

func (c RESTConfig) withDefaults() RESTConfig {
	d := DefaultRESTConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.CacheSize == 0 {
		c.CacheSize = d.CacheSize
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.BreakerMaxRequests == 0 {
		c.BreakerMaxRequests = d.BreakerMaxRequests
	}
	if c.BreakerInterval <= 0 {
		c.BreakerInterval = d.BreakerInterval
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = d.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = d.BreakerFailureRatio
	}
	return c
}

// RESTClient performs loadtracks lookups on behalf of a Client.
type RESTClient struct {
	cfg     RESTConfig
	http    *http.Client
	limiter *rate.Limiter
	results *cache.LRU[models.LoadResult]

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[models.LoadResult]
}

// NewRESTClient builds a RESTClient from cfg.
func NewRESTClient(cfg RESTConfig) *RESTClient {
	cfg = cfg.withDefaults()
	rc := &RESTClient{
		cfg:      cfg,
		http:     cfg.HTTPClient,
		limiter:  rate.NewLimiter(rate.Inf, cfg.Burst),
		breakers: make(map[string]*gobreaker.CircuitBreaker[models.LoadResult]),
	}
	if rc.http == nil {
		rc.http = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.RateLimit > 0 {
		rc.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	if cfg.CacheSize > 0 {
		rc.results = cache.NewLRU[models.LoadResult](cfg.CacheSize, cfg.CacheTTL)
	}
	return rc
}

// LoadTracks resolves query on node n.
func (rc *RESTClient) LoadTracks(ctx context.Context, n *Node, query string) (models.LoadResult, error) {
	key := n.Identifier() + "\x00" + query
	if rc.results != nil {
		if res, ok := rc.results.Get(key); ok {
			metrics.RESTCacheHits.Inc()
			return res, nil
		}
		metrics.RESTCacheMisses.Inc()
	}

	if err := rc.limiter.Wait(ctx); err != nil {
		return models.LoadResult{}, fmt.Errorf("rate limit wait: %w", err)
	}

	cb := rc.breaker(n.Identifier())
	res, err := cb.Execute(func() (models.LoadResult, error) {
		return rc.fetch(ctx, n, query)
	})

	name := breakerName(n.Identifier())
	if err != nil {
		var loadErr *TrackLoadError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
			logging.Warn().Err(err).Str("node", n.Identifier()).Msg("[CIRCUIT BREAKER] Request rejected")
			return models.LoadResult{}, fmt.Errorf("node %s: %w: %w", n.Identifier(), ErrNodeNotAvailable, err)
		case errors.As(err, &loadErr):
			metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
		default:
			metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(float64(cb.Counts().ConsecutiveFailures))
		}
		return models.LoadResult{}, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
	if rc.results != nil {
		rc.results.Set(key, res)
	}
	return res, nil
}

// Purge drops every cached result.
func (rc *RESTClient) Purge() {
	if rc.results != nil {
		rc.results.Purge()
	}
}

func (rc *RESTClient) fetch(ctx context.Context, n *Node, query string) (models.LoadResult, error) {
	start := time.Now()
	u := n.RESTURL() + "/loadtracks?" + url.Values{"identifier": {query}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return models.LoadResult{}, fmt.Errorf("build loadtracks request: %w", err)
	}
	req.Header.Set("Authorization", n.Password())
	req.Header.Set("Accept", "application/json")

	resp, err := rc.http.Do(req)
	if err != nil {
		metrics.RecordRESTRequest(n.Identifier(), "error", time.Since(start))
		return models.LoadResult{}, fmt.Errorf("node %s: loadtracks: %w", n.Identifier(), err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("Failed to close loadtracks body")
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		metrics.RecordRESTRequest(n.Identifier(), "error", time.Since(start))
		return models.LoadResult{}, fmt.Errorf("node %s: loadtracks: %w (status %d)", n.Identifier(), ErrInvalidCredentials, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		metrics.RecordRESTRequest(n.Identifier(), "error", time.Since(start))
		return models.LoadResult{}, fmt.Errorf("node %s: loadtracks: unexpected status %d", n.Identifier(), resp.StatusCode)
	}

	var body models.LoadTracksResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxLoadTracksBody)).Decode(&body); err != nil {
		metrics.RecordRESTRequest(n.Identifier(), "error", time.Since(start))
		return models.LoadResult{}, fmt.Errorf("node %s: decode loadtracks: %w", n.Identifier(), err)
	}
	metrics.RecordRESTRequest(n.Identifier(), string(body.LoadType), time.Since(start))

	if body.LoadType == models.LoadFailed {
		return models.LoadResult{}, &TrackLoadError{
			Node:     n.Identifier(),
			Query:    query,
			Severity: body.Severity,
			Cause:    body.Cause.String(),
		}
	}
	return body.ToResult(), nil
}

func breakerName(node string) string {
	return "andesite-rest-" + node
}

func (rc *RESTClient) breaker(node string) *gobreaker.CircuitBreaker[models.LoadResult] {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if cb, ok := rc.breakers[node]; ok {
		return cb
	}

	name := breakerName(node)
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	minRequests := rc.cfg.BreakerMinRequests
	ratio := rc.cfg.BreakerFailureRatio
	cb := gobreaker.NewCircuitBreaker[models.LoadResult](gobreaker.Settings{
		Name:        name,
		MaxRequests: rc.cfg.BreakerMaxRequests,
		Interval:    rc.cfg.BreakerInterval,
		Timeout:     rc.cfg.BreakerTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= ratio
			if shouldTrip {
				logging.Warn().Str("node", node).Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		// The node answered; the lookup itself failed.
		IsSuccessful: func(err error) bool {
			var loadErr *TrackLoadError
			return err == nil || errors.As(err, &loadErr)
		},

		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})
	rc.breakers[node] = cb
	return cb
}

// BreakerState reports the breaker state for node as "closed", "half-open"
// or "open". Nodes that never served a lookup report "closed".
func (rc *RESTClient) BreakerState(node string) string {
	rc.mu.Lock()
	cb, ok := rc.breakers[node]
	rc.mu.Unlock()
	if !ok {
		return stateToString(gobreaker.StateClosed)
	}
	return stateToString(cb.State())
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ===================================================================================================
// Node and Client entry points
// ===================================================================================================

// LoadTracks resolves query on this node. NO_MATCHES is a normal result;
// LOAD_FAILED returns a *TrackLoadError.
func (n *Node) LoadTracks(ctx context.Context, query string) (models.LoadResult, error) {
	return n.client.rest.LoadTracks(ctx, n, query)
}

// GetTracks resolves query on a node chosen by the selector.
func (c *Client) GetTracks(ctx context.Context, query string) (models.LoadResult, error) {
	n, err := c.GetNode()
	if err != nil {
		return models.LoadResult{}, err
	}
	return n.LoadTracks(ctx, query)
}

// REST returns the client's lookup engine.
func (c *Client) REST() *RESTClient {
	return c.rest
}
