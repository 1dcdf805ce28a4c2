package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_orders_total",
		Help: "Order requests sent to the exchange",
	}, []string{"action", "status"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trader_latency_seconds",
		Help:    "Latency in seconds by endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	RiskRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_risk_rejects_total",
		Help: "Total risk engine rejections",
	}, []string{"check"})

	StreamMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_stream_messages_total",
		Help: "Streaming messages received by type",
	}, []string{"type"})

	StreamGaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_stream_sequence_gaps_total",
		Help: "Sequence gaps that forced a resubscribe",
	})

	StreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_stream_reconnects_total",
		Help: "Streaming reconnect attempts",
	})

	ListenerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_listener_panics_total",
		Help: "Listener panics recovered at the dispatch boundary",
	}, []string{"bus"})

	ListenerDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_listener_drops_total",
		Help: "Events dropped because a listener queue was full",
	}, []string{"bus"})

	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_poll_errors_total",
		Help: "Failed REST polls by manager",
	}, []string{"manager"})

	StrategyTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_strategy_ticks_total",
		Help: "Strategy timer callbacks",
	}, []string{"strategy"})

	StrategyTickPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_strategy_tick_panics_total",
		Help: "Strategy timer callbacks that panicked",
	}, []string{"strategy"})

	ActiveStrategies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_active_strategies",
		Help: "Strategies currently in the ACTIVE state",
	})
)
