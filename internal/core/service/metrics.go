package service

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "storefront"

// Failure reasons recorded for order placement.
const (
	reasonInsufficientStock = "insufficient_stock"
	reasonPersistence       = "persistence"
	reasonTimeout           = "timeout"
)

type Metrics struct {
	ordersPlaced        prometheus.Counter
	ordersFailed        *prometheus.CounterVec
	ordersReplayed      prometheus.Counter
	placementDuration   prometheus.Histogram
	productCacheLookups *prometheus.CounterVec
}

// NewMetrics creates the service metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orders_placed_total",
			Help:      "Orders committed successfully.",
		}),
		ordersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orders_failed_total",
			Help:      "Order placements rolled back, by reason.",
		}, []string{"reason"}),
		ordersReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orders_replayed_total",
			Help:      "Order submissions answered from an earlier request with the same idempotency key.",
		}),
		placementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "order_placement_duration_seconds",
			Help:      "Duration of the order placement unit of work.",
			Buckets:   prometheus.DefBuckets,
		}),
		productCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "product_cache_lookups_total",
			Help:      "Product cache lookups, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ordersPlaced,
		m.ordersFailed,
		m.ordersReplayed,
		m.placementDuration,
		m.productCacheLookups,
	)
	return m
}
