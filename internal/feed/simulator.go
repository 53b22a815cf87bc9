package feed

import (
	"math"
	"math/rand"
	"time"

	"github.com/willialso/btc-micro-options/pkg/models"
)

const (
	// Per-tick diffusion as a fraction of the current price.
	diffusionSigma = 0.0005
	// Occasional larger moves on top of the diffusion.
	jumpProbability = 0.01
	jumpSigma       = 0.005

	baseSpreadFraction = 0.0005
	// Spread widens with the relative size of the last move.
	spreadMoveMultiplier = 10.0

	priceFloor = 10_000.0
	priceCeil  = 100_000.0
)

// Simulator produces a jump-diffusion BTC price series with a move-sensitive
// bid/ask spread. It is not safe for concurrent use; the driver owns it.
type Simulator struct {
	rng   *rand.Rand
	price float64
}

// NewSimulator starts the series at startPrice, clamped to the plausible
// band.
func NewSimulator(startPrice float64, rng *rand.Rand) *Simulator {
	return &Simulator{
		rng:   rng,
		price: clamp(startPrice, priceFloor, priceCeil),
	}
}

// Price returns the last generated mid price.
func (s *Simulator) Price() float64 {
	return s.price
}

// Next advances the series one tick and returns the new quote.
func (s *Simulator) Next(now time.Time) models.PriceTick {
	prev := s.price

	move := s.rng.NormFloat64() * diffusionSigma * prev
	if s.rng.Float64() < jumpProbability {
		move += s.rng.NormFloat64() * jumpSigma * prev
	}
	s.price = clamp(prev+move, priceFloor, priceCeil)

	relMove := math.Abs(s.price-prev) / prev
	halfSpread := s.price * baseSpreadFraction * (1 + spreadMoveMultiplier*relMove) / 2

	return models.PriceTick{
		Price:     s.price,
		Bid:       s.price - halfSpread,
		Ask:       s.price + halfSpread,
		Timestamp: now,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
