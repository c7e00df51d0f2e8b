package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "motorent"

var (
	once sync.Once

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_cache_lookups_total",
			Help:      "Availability cache lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)

	cacheInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_cache_invalidations_total",
			Help:      "Availability cache entries dropped because of a booking or explicit invalidation.",
		},
	)

	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Outbound rental API calls by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Time spent on outbound rental API calls.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	realtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Real-time events applied by the reconciliation engine.",
		},
		[]string{"event"},
	)

	realtimeReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Real-time transport reconnects.",
		},
	)

	bookingSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_submitted_total",
			Help:      "Booking submit attempts by result.",
		},
		[]string{"result"},
	)

	priceFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_local_fallback_total",
			Help:      "Quotes computed locally because the server price was unavailable.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			cacheLookups,
			cacheInvalidations,
			apiRequests,
			apiDuration,
			realtimeEvents,
			realtimeReconnects,
			bookingSubmitted,
			priceFallbacks,
		)
	})
}

func IncCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(tier, result).Inc()
}

func AddCacheInvalidations(n int) {
	if n > 0 {
		cacheInvalidations.Add(float64(n))
	}
}

// ObserveAPIRequest records one outbound call.
func ObserveAPIRequest(endpoint, outcome string, started time.Time) {
	apiRequests.WithLabelValues(endpoint, outcome).Inc()
	apiDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

func IncRealtimeEvent(event string) {
	realtimeEvents.WithLabelValues(event).Inc()
}

func IncRealtimeReconnect() {
	realtimeReconnects.Inc()
}

func IncBookingSubmitted(result string) {
	bookingSubmitted.WithLabelValues(result).Inc()
}

func IncPriceFallback() {
	priceFallbacks.Inc()
}
