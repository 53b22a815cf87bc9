package fees

import (
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/willialso/btc-micro-options/pkg/models"
)

// Factor clamps and weights. The combined factor blends volatility, volume and
// competitive pressure 0.4/0.3/0.3; the rate then moves 30% toward the target
// each adjustment so competitor noise cannot whip it around.
const (
	volatilityWeight  = 0.4
	volumeWeight      = 0.3
	competitiveWeight = 0.3

	volatilityFactorMin  = 0.8
	volatilityFactorMax  = 1.5
	competitiveFactorMin = 0.7
	competitiveFactorMax = 1.3

	smoothing = 0.3

	// Competitor rates random-walk within a global band.
	competitorWalkSigma = 0.0001
	competitorRateFloor = 0.0001
	competitorRateCeil  = 0.005

	// Price samples arrive roughly once per second; annualize realized vol the
	// same way the volume thresholds are denominated, per observed hour.
	annualizationFactor = 365 * 24

	minSamplesForVol = 10
)

// Volume factor steps: higher traded notional earns a lower fee.
var (
	volumeTier1M   = decimal.NewFromInt(1_000_000)
	volumeTier500K = decimal.NewFromInt(500_000)
	volumeTier100K = decimal.NewFromInt(100_000)
)

// Config holds the fee band and cadence for an Adjuster.
type Config struct {
	BaseRate       float64
	MinRate        float64
	MaxRate        float64
	BaselineVol    float64
	UpdateInterval time.Duration
	Competitors    []models.CompetitorRate
}

// Adjuster combines market signals into a bounded, smoothed fee rate. It is
// not internally locked; the platform critical section covers it.
type Adjuster struct {
	logger *zap.Logger
	cfg    Config
	rng    *rand.Rand

	current     float64
	competitors []models.CompetitorRate
	history     []models.FeeRecord
	lastUpdate  time.Time
}

// NewAdjuster returns an adjuster starting at the configured base rate. The
// rand source drives competitor-rate drift; tests inject a seeded one.
func NewAdjuster(logger *zap.Logger, cfg Config, rng *rand.Rand) *Adjuster {
	competitors := make([]models.CompetitorRate, len(cfg.Competitors))
	copy(competitors, cfg.Competitors)
	return &Adjuster{
		logger:      logger,
		cfg:         cfg,
		rng:         rng,
		current:     cfg.BaseRate,
		competitors: competitors,
	}
}

// CurrentRate returns the rate in force.
func (a *Adjuster) CurrentRate() float64 { return a.current }

// Update recomputes the fee rate from recent prices and traded notional. At
// most one adjustment is applied per update interval; calls inside the window
// return the standing rate with applied == false. The returned rate is always
// within [MinRate, MaxRate].
func (a *Adjuster) Update(now time.Time, recentPrices []float64, volume decimal.Decimal) (rate float64, applied bool) {
	if !a.lastUpdate.IsZero() && now.Sub(a.lastUpdate) < a.cfg.UpdateInterval {
		return a.current, false
	}

	a.driftCompetitorRates()

	volatilityFactor := a.volatilityFactor(recentPrices)
	volumeFactor := volumeFactor(volume)
	competitiveFactor, avgCompetitor := a.competitiveFactor()

	combined := volatilityFactor*volatilityWeight + volumeFactor*volumeWeight + competitiveFactor*competitiveWeight
	target := a.cfg.BaseRate * combined

	a.current += (target - a.current) * smoothing
	a.current = clamp(a.current, a.cfg.MinRate, a.cfg.MaxRate)
	a.lastUpdate = now

	a.history = append(a.history, models.FeeRecord{
		Timestamp:         now,
		Rate:              a.current,
		VolatilityFactor:  volatilityFactor,
		VolumeFactor:      volumeFactor,
		CompetitiveFactor: competitiveFactor,
		AvgCompetitorRate: avgCompetitor,
	})

	a.logger.Debug("fee rate adjusted",
		zap.Float64("rate", a.current),
		zap.Float64("volatility_factor", volatilityFactor),
		zap.Float64("volume_factor", volumeFactor),
		zap.Float64("competitive_factor", competitiveFactor),
	)
	return a.current, true
}

// History returns up to n most recent fee records, oldest first.
func (a *Adjuster) History(n int) []models.FeeRecord {
	if n <= 0 || n > len(a.history) {
		n = len(a.history)
	}
	tail := a.history[len(a.history)-n:]
	out := make([]models.FeeRecord, len(tail))
	copy(out, tail)
	return out
}

// CompetitorRates returns a copy of the current competitor table.
func (a *Adjuster) CompetitorRates() []models.CompetitorRate {
	out := make([]models.CompetitorRate, len(a.competitors))
	copy(out, a.competitors)
	return out
}

// driftCompetitorRates random-walks each competitor rate within the global
// floor/ceiling, simulating market drift between scans.
func (a *Adjuster) driftCompetitorRates() {
	for i := range a.competitors {
		next := a.competitors[i].Rate + a.rng.NormFloat64()*competitorWalkSigma
		a.competitors[i].Rate = clamp(next, competitorRateFloor, competitorRateCeil)
	}
}

// volatilityFactor maps annualized realized volatility of returns against the
// configured baseline. Below ten samples the signal is too thin, so the factor
// is neutral.
func (a *Adjuster) volatilityFactor(prices []float64) float64 {
	if len(prices) < minSamplesForVol {
		return 1.0
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns = append(returns, (prices[i]-prices[i-1])/prices[i-1])
		}
	}
	if len(returns) < 2 {
		return 1.0
	}

	realized := stat.StdDev(returns, nil) * math.Sqrt(annualizationFactor)
	factor := 1.0 + (realized-a.cfg.BaselineVol)*0.5
	return clamp(factor, volatilityFactorMin, volatilityFactorMax)
}

func volumeFactor(volume decimal.Decimal) float64 {
	switch {
	case volume.GreaterThan(volumeTier1M):
		return 0.8
	case volume.GreaterThan(volumeTier500K):
		return 0.9
	case volume.LessThan(volumeTier100K):
		return 1.2
	default:
		return 1.0
	}
}

// competitiveFactor targets 95% of the mean competitor rate relative to the
// base rate.
func (a *Adjuster) competitiveFactor() (factor, avg float64) {
	if len(a.competitors) == 0 || a.cfg.BaseRate <= 0 {
		return 1.0, 0
	}
	for _, c := range a.competitors {
		avg += c.Rate
	}
	avg /= float64(len(a.competitors))

	target := avg * 0.95
	return clamp(target/a.cfg.BaseRate, competitiveFactorMin, competitiveFactorMax), avg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
