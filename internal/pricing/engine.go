package pricing

import (
	"math"

	"github.com/chobie/go-gaussian"

	"github.com/willialso/btc-micro-options/pkg/models"
)

// Implied-volatility search parameters.
const (
	ivInitialGuess  = 0.3
	ivPrecision     = 1e-5
	ivMaxIterations = 100
	ivVegaStep      = 0.001
	ivVegaFloor     = 1e-5
	ivMin           = 0.01
	ivMax           = 5.0
)

// Engine prices European options with the Black-Scholes closed form. All
// methods are pure functions of their inputs plus the engine's rate and base
// volatility; an Engine is safe for concurrent use.
//
// Inputs must be sanitized by the caller: spot and strike positive, base
// volatility positive. The ledger screens every request before pricing, so a
// violation here is a programming error, not a runtime condition.
type Engine struct {
	riskFree float64
	vol      float64
	norm     *gaussian.Gaussian
}

// NewEngine returns an engine with the given risk-free rate and annualized
// base volatility.
func NewEngine(riskFreeRate, volatility float64) *Engine {
	return &Engine{
		riskFree: riskFreeRate,
		vol:      volatility,
		norm:     gaussian.NewGaussian(0, 1),
	}
}

// Volatility returns the engine's base annualized volatility.
func (e *Engine) Volatility() float64 { return e.vol }

// Price returns the option value at spot S, strike K and time to expiry T in
// years. At T <= 0 it degenerates to intrinsic value exactly.
func (e *Engine) Price(typ models.OptionType, S, K, T float64) float64 {
	return e.priceWithVol(typ, S, K, T, e.vol)
}

func (e *Engine) priceWithVol(typ models.OptionType, S, K, T, sigma float64) float64 {
	if T <= 0 {
		return intrinsic(typ, S, K)
	}

	d1, d2 := e.dTerms(S, K, T, sigma)
	if typ == models.OptionTypeCall {
		return S*e.norm.Cdf(d1) - K*math.Exp(-e.riskFree*T)*e.norm.Cdf(d2)
	}
	return K*math.Exp(-e.riskFree*T)*e.norm.Cdf(-d2) - S*e.norm.Cdf(-d1)
}

// Greeks returns delta, gamma, theta and vega at spot S, strike K and time to
// expiry T in years. At T <= 0 delta is the moneyness indicator (1 or 0 for a
// call, -1 or 0 for a put) and the remaining sensitivities are exactly zero;
// the discontinuity is intentional and must not be smoothed.
func (e *Engine) Greeks(typ models.OptionType, S, K, T float64) models.Greeks {
	if T <= 0 {
		var delta float64
		if typ == models.OptionTypeCall && S > K {
			delta = 1.0
		} else if typ == models.OptionTypePut && S < K {
			delta = -1.0
		}
		return models.Greeks{Delta: delta}
	}

	d1, d2 := e.dTerms(S, K, T, e.vol)
	pdfD1 := e.norm.Pdf(d1)

	var g models.Greeks
	g.Gamma = pdfD1 / (S * e.vol * math.Sqrt(T))
	g.Vega = S * math.Sqrt(T) * pdfD1

	discounted := e.riskFree * K * math.Exp(-e.riskFree*T)
	if typ == models.OptionTypeCall {
		g.Delta = e.norm.Cdf(d1)
		g.Theta = -S*pdfD1*e.vol/(2*math.Sqrt(T)) - discounted*e.norm.Cdf(d2)
	} else {
		g.Delta = e.norm.Cdf(d1) - 1
		g.Theta = -S*pdfD1*e.vol/(2*math.Sqrt(T)) + discounted*e.norm.Cdf(-d2)
	}
	return g
}

// ImpliedVolatility solves for the volatility that reproduces marketPrice via
// Newton-Raphson with a numerically estimated vega. Failure to converge within
// the iteration budget is not an error: the best available estimate is
// returned and callers must treat it as approximate.
func (e *Engine) ImpliedVolatility(typ models.OptionType, S, K, T, marketPrice float64) float64 {
	vol := ivInitialGuess
	for i := 0; i < ivMaxIterations; i++ {
		price := e.priceWithVol(typ, S, K, T, vol)
		diff := marketPrice - price
		if math.Abs(diff) < ivPrecision {
			return vol
		}

		// Finite-difference vega; bail out before it can blow up the division.
		priceUp := e.priceWithVol(typ, S, K, T, vol+ivVegaStep)
		vega := (priceUp - price) / ivVegaStep
		if math.Abs(vega) < ivVegaFloor {
			return vol
		}

		vol += diff / vega
		if vol < ivMin {
			vol = ivMin
		} else if vol > ivMax {
			vol = ivMax
		}
	}
	return vol
}

func (e *Engine) dTerms(S, K, T, sigma float64) (d1, d2 float64) {
	sqrtT := math.Sqrt(T)
	d1 = (math.Log(S/K) + (e.riskFree+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 = d1 - sigma*sqrtT
	return d1, d2
}

func intrinsic(typ models.OptionType, S, K float64) float64 {
	var v float64
	if typ == models.OptionTypeCall {
		v = S - K
	} else {
		v = K - S
	}
	return math.Max(0, v)
}
