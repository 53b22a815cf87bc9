package hedging

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/willialso/btc-micro-options/pkg/models"
)

// ErrAllVenuesFailed is a warning-level condition: with zero active venues
// hedging is skipped for the cycle and the economic exposure remains. Total
// venue exhaustion is not operationally recoverable inside the core.
var ErrAllVenuesFailed = errors.New("all hedging venues failed")

// ErrUnknownVenue rejects failure injection against a name that was never
// registered.
var ErrUnknownVenue = errors.New("unknown venue")

// Outcome classifies what a rebalance call did.
type Outcome string

const (
	// OutcomeExecuted means an adjustment was distributed across venues.
	OutcomeExecuted Outcome = "executed"
	// OutcomeDeferred means the rate limit suppressed action this cycle.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeBalanced means net delta was inside the noise band.
	OutcomeBalanced Outcome = "balanced"
)

// Result reports one rebalance evaluation.
type Result struct {
	Outcome    Outcome
	NetDelta   float64
	Adjustment float64
	Positions  []models.HedgePosition
}

// Config holds rebalancer tuning and the venue table.
type Config struct {
	// Epsilon is the net-delta noise band; smaller imbalances are not acted on.
	Epsilon float64
	// RebalanceInterval bounds action cadence; detection still runs every cycle.
	RebalanceInterval time.Duration
	// PriceJitterSigma models per-venue execution price variation around spot.
	PriceJitterSigma float64
	Venues           []models.Venue
}

// Rebalancer distributes an offsetting position across weighted venues and
// promotes backups when a venue fails. Not internally locked; the platform
// critical section covers it, and FailVenue is a pure state mutation safe to
// call from inside that section.
type Rebalancer struct {
	logger *zap.Logger
	cfg    Config
	rng    *rand.Rand

	venues        []*models.Venue
	positions     []models.HedgePosition
	lastRebalance time.Time
}

// NewRebalancer copies the configured venue table into an ordered internal
// one. Venue order decides backup promotion priority.
func NewRebalancer(logger *zap.Logger, cfg Config, rng *rand.Rand) *Rebalancer {
	venues := make([]*models.Venue, len(cfg.Venues))
	for i := range cfg.Venues {
		v := cfg.Venues[i]
		venues[i] = &v
	}
	return &Rebalancer{
		logger: logger,
		cfg:    cfg,
		rng:    rng,
		venues: venues,
	}
}

// NetDelta returns portfolioDelta plus the hedge exposure of all active
// venues. Exposure stranded on failed venues is excluded — its absence is
// exactly what shows up in the net and drives the next correction.
func (r *Rebalancer) NetDelta(portfolioDelta float64) float64 {
	net := portfolioDelta
	for _, v := range r.venues {
		if v.Status == models.VenueStatusActive {
			net += v.HedgeDelta
		}
	}
	return net
}

// Rebalance evaluates the hedge once per interval. When |net delta| exceeds
// the noise band, the full offsetting adjustment is distributed across active
// venues proportionally to their normalized weights, one HedgePosition per
// venue at a slightly jittered execution price.
func (r *Rebalancer) Rebalance(now time.Time, portfolioDelta, spot float64) (*Result, error) {
	if !r.lastRebalance.IsZero() && now.Sub(r.lastRebalance) < r.cfg.RebalanceInterval {
		return &Result{Outcome: OutcomeDeferred, NetDelta: r.NetDelta(portfolioDelta)}, nil
	}

	active := r.activeVenues()
	if len(active) == 0 {
		return nil, ErrAllVenuesFailed
	}

	net := r.NetDelta(portfolioDelta)
	if abs(net) < r.cfg.Epsilon {
		return &Result{Outcome: OutcomeBalanced, NetDelta: net}, nil
	}

	adjustment := -net
	totalWeight := 0.0
	for _, v := range active {
		totalWeight += v.Weight
	}

	result := &Result{Outcome: OutcomeExecuted, NetDelta: net, Adjustment: adjustment}
	for _, v := range active {
		share := adjustment * (v.Weight / totalWeight)
		price := spot * (1 + r.rng.NormFloat64()*r.cfg.PriceJitterSigma)

		pos := models.HedgePosition{
			Venue:     v.Name,
			Amount:    share,
			Price:     price,
			Timestamp: now,
		}
		r.positions = append(r.positions, pos)
		result.Positions = append(result.Positions, pos)
		v.HedgeDelta += share
	}
	r.lastRebalance = now

	r.logger.Info("hedges rebalanced",
		zap.Float64("net_delta", net),
		zap.Float64("adjustment", adjustment),
		zap.Int("venues", len(active)),
	)
	return result, nil
}

// FailVenue marks an active venue failed. Exactly one backup (first in venue
// order) is promoted and takes over the failed venue's weight and accumulated
// hedge exposure. With no backup available the failed venue's weight is split
// evenly across the remaining active venues and its exposure is left
// stranded, to be corrected by the next rebalance.
func (r *Rebalancer) FailVenue(name string) error {
	failed := r.findVenue(name)
	if failed == nil {
		return fmt.Errorf("%w: %s", ErrUnknownVenue, name)
	}
	if failed.Status != models.VenueStatusActive {
		return fmt.Errorf("venue %s is not active (status %s)", name, failed.Status)
	}
	failed.Status = models.VenueStatusFailed

	for _, v := range r.venues {
		if v.Status != models.VenueStatusBackup {
			continue
		}
		v.Status = models.VenueStatusActive
		v.Weight = failed.Weight
		v.HedgeDelta = failed.HedgeDelta
		failed.HedgeDelta = 0
		r.logger.Warn("venue failed, backup promoted",
			zap.String("failed", failed.Name),
			zap.String("promoted", v.Name),
			zap.Float64("inherited_delta", v.HedgeDelta),
		)
		return nil
	}

	active := r.activeVenues()
	if len(active) == 0 {
		r.logger.Warn("venue failed with no fallback, all venues exhausted",
			zap.String("failed", failed.Name),
		)
		return nil
	}

	share := failed.Weight / float64(len(active))
	for _, v := range active {
		v.Weight += share
	}
	r.logger.Warn("venue failed, weight redistributed",
		zap.String("failed", failed.Name),
		zap.Int("remaining", len(active)),
		zap.Float64("stranded_delta", failed.HedgeDelta),
	)
	return nil
}

// Venues returns a snapshot copy of the venue table in registration order.
func (r *Rebalancer) Venues() []models.Venue {
	out := make([]models.Venue, len(r.venues))
	for i, v := range r.venues {
		out[i] = *v
	}
	return out
}

// Positions returns up to n most recent hedge positions, oldest first.
func (r *Rebalancer) Positions(n int) []models.HedgePosition {
	if n <= 0 || n > len(r.positions) {
		n = len(r.positions)
	}
	tail := r.positions[len(r.positions)-n:]
	out := make([]models.HedgePosition, len(tail))
	copy(out, tail)
	return out
}

// ActiveCount returns the number of venues currently accepting hedges.
func (r *Rebalancer) ActiveCount() int {
	return len(r.activeVenues())
}

func (r *Rebalancer) activeVenues() []*models.Venue {
	var active []*models.Venue
	for _, v := range r.venues {
		if v.Status == models.VenueStatusActive {
			active = append(active, v)
		}
	}
	return active
}

func (r *Rebalancer) findVenue(name string) *models.Venue {
	for _, v := range r.venues {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
