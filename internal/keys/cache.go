// Package keys caches the identity provider's public signing keys.
//
// The cache is populated once (at cold start or on first use) and served from
// memory afterwards. A kid that is not in the cached set fails verification
// unless the configured RefreshPolicy allows a refetch.
package keys

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"subgate/internal/metrics"
	"subgate/pkg/problems"
)

// ErrKeyNotFound is returned when no cached key carries the requested kid.
var ErrKeyNotFound = errors.New("signing key not found")

const defaultFetchTimeout = 5 * time.Second

// Fetcher loads the complete published key set.
type Fetcher interface {
	Fetch(ctx context.Context) (jwk.Set, error)
}

// HTTPFetcher fetches a JWKS document over HTTPS.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context) (jwk.Set, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return jwk.Fetch(ctx, f.URL, jwk.WithHTTPClient(client))
}

type Cache struct {
	fetcher Fetcher
	policy  RefreshPolicy
	timeout time.Duration
	log     *zap.SugaredLogger

	mu  sync.RWMutex
	set jwk.Set

	group singleflight.Group
}

type Option func(*Cache)

// WithRefreshPolicy replaces the default NeverRefresh policy.
func WithRefreshPolicy(p RefreshPolicy) Option {
	return func(c *Cache) { c.policy = p }
}

// WithFetchTimeout bounds every key set fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Cache) { c.log = log }
}

func New(f Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: f,
		policy:  NeverRefresh{},
		timeout: defaultFetchTimeout,
		log:     zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Load fetches the key set eagerly. Callers use it at process start so the
// first request does not pay for the fetch.
func (c *Cache) Load(ctx context.Context) error {
	_, err := c.fetch(ctx)
	return err
}

// Key returns the signing key registered under kid.
//
// A fetch failure while the cache is still empty wraps problems.ErrUpstream.
// A kid missing from a loaded set returns ErrKeyNotFound.
func (c *Cache) Key(ctx context.Context, kid string) (jwk.Key, error) {
	if kid == "" {
		return nil, ErrKeyNotFound
	}
	set := c.current()
	if set == nil {
		var err error
		if set, err = c.fetch(ctx); err != nil {
			return nil, err
		}
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}
	if !c.policy.AllowRefresh(kid) {
		return nil, ErrKeyNotFound
	}
	c.log.Infow("unknown kid, refreshing key set", "kid", kid)
	set, err := c.fetch(ctx)
	if err != nil {
		// The set we already hold stays valid; an unknown kid is still just unknown.
		c.log.Warnw("key set refresh failed", "kid", kid, "err", err)
		return nil, ErrKeyNotFound
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}
	return nil, ErrKeyNotFound
}

func (c *Cache) current() jwk.Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set
}

func (c *Cache) fetch(ctx context.Context) (jwk.Set, error) {
	ch := c.group.DoChan("jwks", func() (any, error) {
		// Shared by every coalesced caller, so one caller's cancellation must
		// not fail the others; only the fetch timeout bounds it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		set, err := c.fetcher.Fetch(fctx)
		if err == nil && set.Len() == 0 {
			err = errors.New("key set contains no keys")
		}
		metrics.KeySetFetches.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.set = set
		c.mu.Unlock()
		c.log.Infow("key set loaded", "keys", set.Len())
		return set, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: fetch key set: %v", problems.ErrUpstream, res.Err)
		}
		return res.Val.(jwk.Set), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: fetch key set: %v", problems.ErrUpstream, ctx.Err())
	}
}
