package keys

import (
	"time"

	"golang.org/x/time/rate"
)

// RefreshPolicy decides whether a kid miss may trigger a key set refetch.
type RefreshPolicy interface {
	AllowRefresh(kid string) bool
}

// NeverRefresh keeps the first successfully fetched set for the process lifetime.
type NeverRefresh struct{}

func (NeverRefresh) AllowRefresh(string) bool { return false }

// RateLimited allows one miss-triggered refresh per interval, process-wide.
// Repeated misses with garbage kids cannot push more traffic than that to the
// identity provider.
type RateLimited struct {
	limiter *rate.Limiter
}

func NewRateLimited(every time.Duration) *RateLimited {
	return &RateLimited{limiter: rate.NewLimiter(rate.Every(every), 1)}
}

func (r *RateLimited) AllowRefresh(string) bool { return r.limiter.Allow() }
