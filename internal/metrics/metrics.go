// Package metrics 定义 Prometheus 指标。全部注册在默认 registry 上，由 /metrics 暴露。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quorum"

// CycleOutcomes 按 symbol 与结果统计周期数。status: submitted, no_action, rejected, order_failed, error
var CycleOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "outcomes_total",
		Help:      "Cycle outcomes by symbol and status",
	},
	[]string{"symbol", "status"},
)

var CycleDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "duration_seconds",
		Help:      "End-to-end cycle duration",
		Buckets:   []float64{1, 2, 5, 10, 20, 40, 60, 120},
	},
	[]string{"symbol"},
)

var ProviderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "latency_seconds",
		Help:      "AI provider call latency per round",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	},
	[]string{"provider", "round"},
)

// ProviderFailures 包含超时。
var ProviderFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "failures_total",
		Help:      "AI provider calls that failed or timed out",
	},
	[]string{"provider", "round"},
)

var ProviderTokens = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "tokens_total",
		Help:      "Tokens reported by AI providers",
	},
	[]string{"provider"},
)

var ProviderCost = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "cost_usd_total",
		Help:      "Estimated AI spend from reported tokens and cost_per_1k_tokens",
	},
	[]string{"provider"},
)

var ConsensusDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consensus",
		Name:      "decisions_total",
		Help:      "Final consensus actions",
	},
	[]string{"symbol", "action", "majority_lock"},
)

var QuorumFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consensus",
		Name:      "quorum_failures_total",
		Help:      "Rounds that ended with fewer responders than min_quorum",
	},
	[]string{"round"},
)

// OrderResults result: ok, rejected, transport_error
var OrderResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "orders_total",
		Help:      "Order submissions by result",
	},
	[]string{"symbol", "result"},
)

var RiskBlocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "blocks_total",
		Help:      "Risk guard rejections by reason",
	},
	[]string{"symbol", "reason"},
)

var BreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cycle",
		Name:      "breaker_open",
		Help:      "1 when the per-symbol circuit breaker is open",
	},
	[]string{"symbol"},
)

// ObserveSince 记录从 start 到现在的秒数。
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
