package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProductsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_products_created_total",
		Help: "Total number of listings created",
	})

	ProductsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_products_deleted_total",
		Help: "Total number of listings deleted by their owner",
	})

	ProductsSoldOutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_products_sold_out_total",
		Help: "Total number of listings whose quantity reached zero at checkout",
	})

	CartOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_cart_operations_total",
		Help: "Total number of cart mutations by operation and result",
	}, []string{"operation", "result"})

	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_checkouts_total",
		Help: "Total number of checkout attempts by result",
	}, []string{"result"})

	PurchasedUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_purchased_units_total",
		Help: "Total number of purchase records created",
	})

	StockConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_stock_conflicts_total",
		Help: "Total number of requests refused for insufficient stock, by stage",
	}, []string{"stage"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketplace_checkout_latency_seconds",
		Help:    "Latency of checkout transactions",
		Buckets: prometheus.DefBuckets,
	})

	AvailabilityCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_availability_cache_total",
		Help: "Availability cache lookups by outcome",
	}, []string{"outcome"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_events_consumed_total",
		Help: "Events consumed by the cache worker, by type and result",
	}, []string{"type", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
