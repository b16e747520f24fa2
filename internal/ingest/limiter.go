package ingest

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nhle/lifeflow/internal/model"
)

// limiterSet holds one token bucket per (user, provider). Providers
// without a configured limit are unthrottled.
type limiterSet struct {
	mu      sync.Mutex
	cfg     map[string]model.RateLimitConfig
	buckets map[string]*rate.Limiter
}

func newLimiterSet(cfg map[string]model.RateLimitConfig) *limiterSet {
	return &limiterSet{
		cfg:     cfg,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (s *limiterSet) limiter(userID string, provider model.Source) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "|" + string(provider)
	if l, ok := s.buckets[key]; ok {
		return l
	}

	limit := rate.Inf
	burst := 1
	if rl, ok := s.cfg[string(provider)]; ok {
		limit = rate.Limit(rl.RPS)
		burst = rl.Burst
	}
	l := rate.NewLimiter(limit, burst)
	s.buckets[key] = l
	return l
}

// wait blocks until the (user, provider) bucket grants a token or the
// context is cancelled.
func (s *limiterSet) wait(ctx context.Context, userID string, provider model.Source) error {
	return s.limiter(userID, provider).Wait(ctx)
}
