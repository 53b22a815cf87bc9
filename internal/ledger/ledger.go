package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/willialso/btc-micro-options/internal/pricing"
	"github.com/willialso/btc-micro-options/pkg/models"
)

// ErrInvalidParameter rejects an open request before any state is touched.
// Fully recoverable by the caller.
var ErrInvalidParameter = errors.New("invalid option parameter")

// SecondsPerYear converts remaining contract lifetime to Black-Scholes years.
const SecondsPerYear = 365 * 24 * 3600

// Settlement describes one option settled during a Tick pass.
type Settlement struct {
	Option *models.Option
	Payoff decimal.Decimal
}

// Ledger owns the collection of option contracts and their lifecycle
// transitions. Contracts are kept in insertion order and never deleted.
//
// The ledger carries no lock of its own: the platform's critical section
// covers it together with the venue table and fee state.
type Ledger struct {
	logger  *zap.Logger
	pricer  *pricing.Engine
	options []*models.Option
}

// New returns an empty ledger pricing contracts with the given engine.
func New(logger *zap.Logger, pricer *pricing.Engine) *Ledger {
	return &Ledger{
		logger: logger,
		pricer: pricer,
	}
}

// Open prices and records a new contract at the given tick's spot price,
// applying the platform fee rate multiplicatively to the premium. It returns
// the contract and the premium notional (premium x quantity) the platform
// must credit to the liquidity pool.
func (l *Ledger) Open(now time.Time, tick models.PriceTick, typ models.OptionType, strike, quantity float64, expiry time.Duration, feeRate float64) (*models.Option, decimal.Decimal, error) {
	if !typ.Valid() {
		return nil, decimal.Zero, fmt.Errorf("%w: unknown option type %q", ErrInvalidParameter, typ)
	}
	if strike <= 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: strike must be positive, got %v", ErrInvalidParameter, strike)
	}
	if quantity <= 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: quantity must be positive, got %v", ErrInvalidParameter, quantity)
	}
	if expiry <= 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: expiry must be positive, got %v", ErrInvalidParameter, expiry)
	}

	spot := tick.Price
	timeToExpiry := expiry.Seconds() / SecondsPerYear

	basePremium := l.pricer.Price(typ, spot, strike, timeToExpiry)
	premium := decimal.NewFromFloat(basePremium * (1 + feeRate))
	feeAmount := decimal.NewFromFloat(basePremium * feeRate * quantity)

	opt := &models.Option{
		ID:         uuid.NewString(),
		Type:       typ,
		Strike:     strike,
		Quantity:   quantity,
		Premium:    premium,
		FeeRate:    feeRate,
		FeeAmount:  feeAmount,
		CreatedAt:  now,
		ExpiresAt:  now.Add(expiry),
		Status:     models.OptionStatusActive,
		EntryPrice: spot,
		Payoff:     decimal.Zero,
		Greeks:     l.pricer.Greeks(typ, spot, strike, timeToExpiry).Scale(quantity),
	}
	l.options = append(l.options, opt)

	l.logger.Info("option opened",
		zap.String("id", opt.ID),
		zap.String("type", string(typ)),
		zap.Float64("strike", strike),
		zap.Float64("quantity", quantity),
		zap.String("premium", premium.StringFixed(2)),
		zap.Duration("expiry", expiry),
	)

	notional := premium.Mul(decimal.NewFromFloat(quantity))
	return opt, notional, nil
}

// Tick settles every active contract whose expiry has passed: in-the-money
// contracts are exercised with payoff intrinsic x quantity, the rest expire
// worthless. The status guard makes the pass idempotent — a contract already
// settled is never touched again, so liquidity cannot be double-charged.
func (l *Ledger) Tick(now time.Time, spot float64) []Settlement {
	var settled []Settlement
	for _, opt := range l.options {
		if opt.Status != models.OptionStatusActive || opt.ExpiresAt.After(now) {
			continue
		}

		opt.SettlementPrice = spot
		if opt.InTheMoney(spot) {
			payoff := decimal.NewFromFloat(opt.IntrinsicValue(spot) * opt.Quantity)
			opt.Status = models.OptionStatusExercised
			opt.Payoff = payoff
			settled = append(settled, Settlement{Option: opt, Payoff: payoff})
			l.logger.Info("option exercised",
				zap.String("id", opt.ID),
				zap.Float64("settlement_price", spot),
				zap.String("payoff", payoff.StringFixed(2)),
			)
		} else {
			opt.Status = models.OptionStatusExpired
			opt.Payoff = decimal.Zero
			settled = append(settled, Settlement{Option: opt, Payoff: decimal.Zero})
			l.logger.Info("option expired worthless", zap.String("id", opt.ID))
		}
	}
	return settled
}

// Options returns the backing slice in insertion order. Callers outside the
// platform critical section must copy before use.
func (l *Ledger) Options() []*models.Option {
	return l.options
}

// ActiveCount returns the number of contracts still active.
func (l *Ledger) ActiveCount() int {
	n := 0
	for _, opt := range l.options {
		if opt.Status == models.OptionStatusActive {
			n++
		}
	}
	return n
}
