package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CyclesTotal counts completed market cycles.
var CyclesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "microoptions_cycles_total",
		Help: "Total number of completed market cycles",
	},
)

// OptionsOpened counts opened contracts by type (call/put).
var OptionsOpened = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "microoptions_options_opened_total",
		Help: "Total number of option contracts opened",
	},
	[]string{"type"},
)

// OptionsSettled counts settled contracts by outcome (exercised/expired).
var OptionsSettled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "microoptions_options_settled_total",
		Help: "Total number of option contracts settled",
	},
	[]string{"outcome"},
)

// HedgeRebalances counts executed hedge rebalances.
var HedgeRebalances = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "microoptions_hedge_rebalances_total",
		Help: "Total number of executed hedge rebalances",
	},
)

// FeeAdjustments counts applied fee-rate adjustments.
var FeeAdjustments = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "microoptions_fee_adjustments_total",
		Help: "Total number of applied fee adjustments",
	},
)

// Platform state gauges, refreshed once per cycle.
var (
	Liquidity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "microoptions_liquidity_usd",
			Help: "Current platform liquidity pool in USD",
		},
	)

	PortfolioDelta = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "microoptions_portfolio_delta",
			Help: "Aggregate delta of all active option contracts",
		},
	)

	NetDelta = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "microoptions_net_delta",
			Help: "Portfolio delta plus active venues' hedge exposure",
		},
	)

	FeeRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "microoptions_fee_rate",
			Help: "Current platform fee rate",
		},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, OptionsOpened, OptionsSettled)
	prometheus.MustRegister(HedgeRebalances, FeeAdjustments)
	prometheus.MustRegister(Liquidity, PortfolioDelta, NetDelta, FeeRate)
}
