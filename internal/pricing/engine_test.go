package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willialso/btc-micro-options/pkg/models"
)

const (
	testRate = 0.03
	testVol  = 0.7
)

func newTestEngine() *Engine {
	return NewEngine(testRate, testVol)
}

func TestPutCallParity(t *testing.T) {
	e := newTestEngine()

	cases := []struct {
		name    string
		S, K, T float64
	}{
		{"ATM short dated", 40000, 40000, 120.0 / (365 * 24 * 3600)},
		{"ITM call", 42000, 40000, 0.01},
		{"OTM call", 38000, 40000, 0.05},
		{"one month", 40000, 41000, 1.0 / 12},
		{"one year", 40000, 35000, 1.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			call := e.Price(models.OptionTypeCall, tc.S, tc.K, tc.T)
			put := e.Price(models.OptionTypePut, tc.S, tc.K, tc.T)
			parity := tc.S - tc.K*math.Exp(-testRate*tc.T)
			assert.InDelta(t, parity, call-put, 1e-6)
		})
	}
}

func TestPriceAtExpiryIsIntrinsic(t *testing.T) {
	e := newTestEngine()

	assert.Equal(t, 2000.0, e.Price(models.OptionTypeCall, 42000, 40000, 0))
	assert.Equal(t, 0.0, e.Price(models.OptionTypeCall, 38000, 40000, 0))
	assert.Equal(t, 2000.0, e.Price(models.OptionTypePut, 38000, 40000, 0))
	assert.Equal(t, 0.0, e.Price(models.OptionTypePut, 42000, 40000, 0))

	// Negative T behaves identically to T == 0.
	assert.Equal(t, 2000.0, e.Price(models.OptionTypeCall, 42000, 40000, -1))
}

func TestPriceConvergesToIntrinsic(t *testing.T) {
	e := newTestEngine()

	// As T -> 0+ the value of a deep ITM call approaches intrinsic.
	intrinsicValue := 2000.0
	prev := math.Inf(1)
	for _, T := range []float64{0.01, 0.001, 0.0001, 0.00001} {
		price := e.Price(models.OptionTypeCall, 42000, 40000, T)
		gap := math.Abs(price - intrinsicValue)
		assert.Less(t, gap, math.Abs(prev-intrinsicValue), "T=%v", T)
		prev = price
	}
	assert.InDelta(t, intrinsicValue, prev, 1.0)
}

func TestGreeksAtExpiryAreDiscontinuous(t *testing.T) {
	e := newTestEngine()

	g := e.Greeks(models.OptionTypeCall, 42000, 40000, 0)
	assert.Equal(t, models.Greeks{Delta: 1}, g)

	g = e.Greeks(models.OptionTypeCall, 38000, 40000, 0)
	assert.Equal(t, models.Greeks{}, g)

	g = e.Greeks(models.OptionTypePut, 38000, 40000, 0)
	assert.Equal(t, models.Greeks{Delta: -1}, g)

	g = e.Greeks(models.OptionTypePut, 42000, 40000, -0.5)
	assert.Equal(t, models.Greeks{}, g)
}

func TestATMGreeks(t *testing.T) {
	e := newTestEngine()
	T := 120.0 / (365 * 24 * 3600)

	call := e.Greeks(models.OptionTypeCall, 40000, 40000, T)
	assert.InDelta(t, 0.5, call.Delta, 0.02)
	assert.Greater(t, call.Gamma, 0.0)
	assert.Less(t, call.Theta, 0.0)
	assert.Greater(t, call.Vega, 0.0)

	put := e.Greeks(models.OptionTypePut, 40000, 40000, T)
	assert.InDelta(t, -0.5, put.Delta, 0.02)
	// Gamma and vega are side-independent.
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-12)
	assert.InDelta(t, call.Vega, put.Vega, 1e-12)
}

func TestDeltaBounds(t *testing.T) {
	e := newTestEngine()

	for _, S := range []float64{20000, 35000, 40000, 45000, 80000} {
		call := e.Greeks(models.OptionTypeCall, S, 40000, 0.1)
		assert.GreaterOrEqual(t, call.Delta, 0.0)
		assert.LessOrEqual(t, call.Delta, 1.0)

		put := e.Greeks(models.OptionTypePut, S, 40000, 0.1)
		assert.GreaterOrEqual(t, put.Delta, -1.0)
		assert.LessOrEqual(t, put.Delta, 0.0)
	}
}

func TestImpliedVolatilityRoundTrip(t *testing.T) {
	e := newTestEngine()

	S, K, T := 40000.0, 41000.0, 0.05
	market := e.Price(models.OptionTypeCall, S, K, T)

	iv := e.ImpliedVolatility(models.OptionTypeCall, S, K, T, market)
	require.InDelta(t, testVol, iv, 0.01)

	// Repricing at the recovered volatility reproduces the quote.
	recovered := e.priceWithVol(models.OptionTypeCall, S, K, T, iv)
	assert.InDelta(t, market, recovered, market*0.001)
}

func TestImpliedVolatilityStaysClamped(t *testing.T) {
	e := newTestEngine()

	// An absurdly high quote drives the search into the upper clamp instead of
	// diverging; a worthless quote lands at or near the floor. Neither is an
	// error: the result is best-effort.
	iv := e.ImpliedVolatility(models.OptionTypeCall, 40000, 40000, 0.01, 39000)
	assert.LessOrEqual(t, iv, ivMax)
	assert.GreaterOrEqual(t, iv, ivMin)

	iv = e.ImpliedVolatility(models.OptionTypeCall, 40000, 80000, 0.001, 0.0000001)
	assert.LessOrEqual(t, iv, ivMax)
	assert.GreaterOrEqual(t, iv, ivMin)
}
