package usercontext

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	ports "github.com/ZanzyTHEbar/fincopilot/fincopilot/harness/ports"
	"github.com/ZanzyTHEbar/fincopilot/fincopilot/store"
)

// DefaultTTL is how long a computed context is served before recomputation.
const DefaultTTL = 5 * time.Minute

// HistorySource returns a user's full history ordered by date ascending.
type HistorySource interface {
	History(ctx context.Context, userID string) ([]store.Transaction, error)
}

// Service caches UserContext per user. Concurrent misses for one user share a single
// recompute, and invalidation wins over a recompute that was already in flight.
type Service struct {
	source    HistorySource
	cache     ports.Cache[UserContext]
	ttl       time.Duration
	baselines map[string]int
	group     singleflight.Group
	epoch     atomic.Uint64
	now       func() time.Time
	logger    zerolog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithBaselines overrides DefaultBaselines.
func WithBaselines(b map[string]int) Option {
	return func(s *Service) { s.baselines = b }
}

// WithClock swaps the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a cache in front of source. ttl <= 0 uses DefaultTTL.
func NewService(source HistorySource, cache ports.Cache[UserContext], ttl time.Duration, logger zerolog.Logger, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Service{
		source:    source,
		cache:     cache,
		ttl:       ttl,
		baselines: DefaultBaselines,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached context or recomputes it from the history source.
func (s *Service) Get(ctx context.Context, userID string) (UserContext, error) {
	if uc, ok := s.cache.Get(userID); ok {
		return uc, nil
	}

	v, err, shared := s.group.Do(userID, func() (any, error) {
		if uc, ok := s.cache.Get(userID); ok {
			return uc, nil
		}
		epoch := s.epoch.Load()

		history, err := s.source.History(ctx, userID)
		if err != nil {
			return UserContext{}, err
		}
		uc := Analyze(userID, history, s.now())

		if s.epoch.Load() == epoch {
			s.cache.Set(userID, uc, s.ttl)
		}
		return uc, nil
	})
	if err != nil {
		return UserContext{}, err
	}

	uc := v.(UserContext)
	s.logger.Debug().
		Str("user_id", userID).
		Str("tier", string(uc.DataQualityTier)).
		Bool("shared", shared).
		Msg("user context computed")
	return uc, nil
}

// Invalidate drops the user's entry; the next Get recomputes.
func (s *Service) Invalidate(userID string) {
	s.epoch.Add(1)
	s.group.Forget(userID)
	s.cache.Delete(userID)
}

// InvalidateAll drops every entry.
func (s *Service) InvalidateAll() {
	s.epoch.Add(1)
	s.cache.Clear()
}

// IsToolAppropriate checks toolName against the service's baselines.
func (s *Service) IsToolAppropriate(toolName string, uc UserContext) Appropriateness {
	return isAppropriate(s.baselines, toolName, uc)
}
