package risk

import (
	"time"

	"github.com/willialso/btc-micro-options/internal/ledger"
	"github.com/willialso/btc-micro-options/internal/pricing"
	"github.com/willialso/btc-micro-options/pkg/models"
)

// Aggregator recomputes live greeks for every active contract and sums them
// into portfolio totals. Portfolio greeks are derived state, recomputed each
// cycle and never stored as ground truth.
type Aggregator struct {
	pricer *pricing.Engine
}

// NewAggregator returns an aggregator using the given pricing engine.
func NewAggregator(pricer *pricing.Engine) *Aggregator {
	return &Aggregator{pricer: pricer}
}

// Aggregate refreshes each active, unexpired option's greeks snapshot at the
// current spot and remaining time, scaled by quantity, and returns the
// portfolio sum. Options past expiry but not yet settled are excluded: they
// are economically dead and the ledger will settle them this cycle, so
// counting their stale exposure would only fight the imminent settlement.
func (a *Aggregator) Aggregate(now time.Time, spot float64, options []*models.Option) models.Greeks {
	var portfolio models.Greeks
	for _, opt := range options {
		if opt.Status != models.OptionStatusActive || !opt.ExpiresAt.After(now) {
			continue
		}

		timeToExpiry := opt.ExpiresAt.Sub(now).Seconds() / ledger.SecondsPerYear
		opt.Greeks = a.pricer.Greeks(opt.Type, spot, opt.Strike, timeToExpiry).Scale(opt.Quantity)
		portfolio = portfolio.Add(opt.Greeks)
	}
	return portfolio
}
