package availability

import (
	"context"

	"github.com/rs/zerolog"

	"motorent/internal/domain"
	"motorent/internal/metrics"
	"motorent/internal/models"
)

// Fetcher performs the network availability query.
type Fetcher interface {
	Availability(ctx context.Context, q Query) ([]models.RentalUnit, error)
}

// Service answers availability queries from the cache tiers or the backend.
type Service struct {
	fetcher Fetcher
	cache   *Cache
	shared  SharedStore
	logger  zerolog.Logger
}

// NewService creates a service on top of fetcher. A nil cache gets a default one.
func NewService(fetcher Fetcher, cache *Cache, logger zerolog.Logger) *Service {
	if cache == nil {
		cache = NewCache(DefaultTTL)
	}
	return &Service{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger.With().Str("component", "availability").Logger(),
	}
}

// UseSharedStore configures an optional shared cache tier.
func (s *Service) UseSharedStore(store SharedStore) {
	s.shared = store
}

// Cache returns the in-memory tier.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Units returns units free for q: memory first, then the shared tier, then the network.
func (s *Service) Units(ctx context.Context, q Query) ([]models.RentalUnit, error) {
	if err := q.Validate(); err != nil {
		return nil, domain.Validation("availability.Units", err.Error())
	}

	if units, ok := s.cache.Get(q); ok {
		metrics.IncCacheLookup("memory", true)
		return units, nil
	}
	metrics.IncCacheLookup("memory", false)

	if s.shared != nil {
		if units, ok := s.shared.Load(ctx, q); ok {
			metrics.IncCacheLookup("shared", true)
			s.cache.Put(q, units)
			return units, nil
		}
		metrics.IncCacheLookup("shared", false)
	}

	return s.Refresh(ctx, q)
}

// Refresh bypasses both tiers, fetches q from the backend and stores the result.
func (s *Service) Refresh(ctx context.Context, q Query) ([]models.RentalUnit, error) {
	units, err := s.fetcher.Availability(ctx, q)
	if err != nil {
		return nil, err
	}
	s.cache.Put(q, units)
	if s.shared != nil {
		s.shared.Save(ctx, q, units, s.cache.TTL())
	}
	s.logger.Debug().
		Str("query", q.Key()).
		Int("units", len(units)).
		Msg("availability fetched")
	return units, nil
}

// IsUnitAvailable runs a live check for one unit, bypassing the cache.
func (s *Service) IsUnitAvailable(ctx context.Context, unitID int64, r models.DateRange) (bool, error) {
	units, err := s.Refresh(ctx, QueryFor(r, 0))
	if err != nil {
		return false, err
	}
	for i := range units {
		if units[i].ID == unitID {
			return units[i].IsAvailable(), nil
		}
	}
	return false, nil
}

// Invalidate drops q from both tiers.
func (s *Service) Invalidate(ctx context.Context, q Query) {
	s.cache.Invalidate(q)
	if s.shared != nil {
		s.shared.Delete(ctx, q)
	}
	metrics.AddCacheInvalidations(1)
}

// InvalidateOverlapping drops every cached query whose dates overlap r.
func (s *Service) InvalidateOverlapping(ctx context.Context, r models.DateRange) int {
	overlaps := func(q Query) bool { return q.Range().Overlaps(r) }

	dropped := s.cache.InvalidateMatching(overlaps)
	n := len(dropped)

	if s.shared != nil {
		stored, err := s.shared.Queries(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("list shared availability entries")
		}
		var stale []Query
		for _, q := range stored {
			if overlaps(q) {
				stale = append(stale, q)
			}
		}
		s.shared.Delete(ctx, stale...)
		if len(stale) > n {
			n = len(stale)
		}
	}

	metrics.AddCacheInvalidations(n)
	if n > 0 {
		s.logger.Debug().Str("range", r.String()).Int("entries", n).Msg("availability invalidated")
	}
	return n
}
