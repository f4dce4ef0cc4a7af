package crawl

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RepoLimiter hands out one token-bucket rate limiter per repository id, so
// a burst of simultaneously-due repositories never lets any single one
// exceed its own outbound rate. Grounded on the host stack's per-key token
// bucket limiter (itskum47-FluxForge's TokenBucketLimiter), generalized to
// block via Wait rather than just report Allow/Deny, since the fetch
// manager wants to pace requests rather than reject them.
type RepoLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewRepoLimiter creates a limiter issuing perSecond tokens per second per
// repository, with the given burst capacity.
func NewRepoLimiter(perSecond float64, burst int) *RepoLimiter {
	return &RepoLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    burst,
	}
}

// Wait blocks until repoID's bucket has a token available, or ctx is done.
func (l *RepoLimiter) Wait(ctx context.Context, repoID string) error {
	l.mu.Lock()
	limiter, ok := l.limiters[repoID]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.burst)
		l.limiters[repoID] = limiter
	}
	l.mu.Unlock()

	return limiter.Wait(ctx)
}
