package platform

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/willialso/btc-micro-options/internal/fees"
	"github.com/willialso/btc-micro-options/internal/hedging"
	"github.com/willialso/btc-micro-options/internal/ledger"
	"github.com/willialso/btc-micro-options/internal/risk"
	"github.com/willialso/btc-micro-options/pkg/metrics"
	"github.com/willialso/btc-micro-options/pkg/models"
)

// ErrNoMarketData rejects option creation before the first price tick.
var ErrNoMarketData = errors.New("no market data yet")

const (
	priceHistoryLimit = 1000
	// Fee volatility estimation looks at the most recent price window only.
	volatilityWindow = 30

	feeHistoryTail  = 10
	hedgeTail       = 10
	transactionTail = 20
)

// Config holds platform-level settings.
type Config struct {
	InitialLiquidity decimal.Decimal
}

// Service is the platform core: it owns the option ledger, the risk
// aggregator, the hedge rebalancer, the fee adjuster, the liquidity pool and
// the audit log, all behind a single mutex. Option creation and the periodic
// cycle interleave arbitrarily; each sees a consistent state.
type Service struct {
	logger     *zap.Logger
	aggregator *risk.Aggregator

	mu         sync.Mutex
	now        func() time.Time
	ledger     *ledger.Ledger
	rebalancer *hedging.Rebalancer
	adjuster   *fees.Adjuster

	liquidity     decimal.Decimal
	portfolio     models.Greeks
	lastTick      models.PriceTick
	priceHistory  []models.PriceTick
	transactions  []models.Transaction
	totalTrades   int64
	totalVolume   decimal.Decimal
	feesCollected decimal.Decimal
}

// NewService wires the platform core from its components.
func NewService(logger *zap.Logger, cfg Config, lg *ledger.Ledger, agg *risk.Aggregator, reb *hedging.Rebalancer, adj *fees.Adjuster) *Service {
	return &Service{
		logger:        logger,
		aggregator:    agg,
		now:           time.Now,
		ledger:        lg,
		rebalancer:    reb,
		adjuster:      adj,
		liquidity:     cfg.InitialLiquidity,
		totalVolume:   decimal.Zero,
		feesCollected: decimal.Zero,
	}
}

// OpenOption prices and records a new contract at the latest observed price,
// credits the premium notional to the liquidity pool, and immediately
// re-evaluates the hedge. Venue exhaustion does not block creation: the
// contract is recorded and the exposure stays visible in net delta.
func (s *Service) OpenOption(typ models.OptionType, strike, quantity float64, expiry time.Duration) (models.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastTick.Timestamp.IsZero() {
		return models.Option{}, ErrNoMarketData
	}
	now := s.now()

	opt, notional, err := s.ledger.Open(now, s.lastTick, typ, strike, quantity, expiry, s.adjuster.CurrentRate())
	if err != nil {
		return models.Option{}, fmt.Errorf("open option: %w", err)
	}

	s.liquidity = s.liquidity.Add(notional)
	s.feesCollected = s.feesCollected.Add(opt.FeeAmount)
	s.totalTrades++
	s.totalVolume = s.totalVolume.Add(notional)
	s.record(models.Transaction{
		Type:      models.TransactionTypeCreate,
		OptionID:  opt.ID,
		Timestamp: now,
		Details:   fmt.Sprintf("%s option, strike $%.2f, premium $%s", opt.Type, opt.Strike, opt.Premium.StringFixed(2)),
	})
	metrics.OptionsOpened.WithLabelValues(string(opt.Type)).Inc()

	s.portfolio = s.aggregator.Aggregate(now, s.lastTick.Price, s.ledger.Options())
	s.rebalance(now)

	return *opt, nil
}

// RunCycle advances the platform one market cycle: record the tick, settle
// expired contracts, refresh portfolio risk, re-evaluate the hedge and the
// fee rate, then publish gauges.
func (s *Service) RunCycle(tick models.PriceTick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.lastTick = tick
	s.priceHistory = append(s.priceHistory, tick)
	if len(s.priceHistory) > priceHistoryLimit {
		s.priceHistory = s.priceHistory[1:]
	}

	for _, settled := range s.ledger.Tick(now, tick.Price) {
		opt := settled.Option
		if opt.Status == models.OptionStatusExercised {
			s.liquidity = s.liquidity.Sub(settled.Payoff)
			s.record(models.Transaction{
				Type:      models.TransactionTypeExercise,
				OptionID:  opt.ID,
				Timestamp: now,
				Details:   fmt.Sprintf("exercise %s option, payoff $%s", opt.Type, settled.Payoff.StringFixed(2)),
			})
			metrics.OptionsSettled.WithLabelValues("exercised").Inc()
		} else {
			s.record(models.Transaction{
				Type:      models.TransactionTypeExpire,
				OptionID:  opt.ID,
				Timestamp: now,
				Details:   "option expired worthless",
			})
			metrics.OptionsSettled.WithLabelValues("expired").Inc()
		}
	}

	s.portfolio = s.aggregator.Aggregate(now, tick.Price, s.ledger.Options())
	s.rebalance(now)

	if _, applied := s.adjuster.Update(now, s.recentPrices(volatilityWindow), s.totalVolume); applied {
		metrics.FeeAdjustments.Inc()
	}

	liquidity, _ := s.liquidity.Float64()
	metrics.Liquidity.Set(liquidity)
	metrics.PortfolioDelta.Set(s.portfolio.Delta)
	metrics.NetDelta.Set(s.rebalancer.NetDelta(s.portfolio.Delta))
	metrics.FeeRate.Set(s.adjuster.CurrentRate())
	metrics.CyclesTotal.Inc()
}

// FailVenue injects a venue failure into the hedging layer and records it in
// the audit log.
func (s *Service) FailVenue(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rebalancer.FailVenue(name); err != nil {
		return err
	}
	s.record(models.Transaction{
		Type:      models.TransactionTypeFailover,
		Timestamp: s.now(),
		Details:   fmt.Sprintf("venue %s failed, %d active remaining", name, s.rebalancer.ActiveCount()),
	})
	return nil
}

// State is a point-in-time snapshot of the platform, safe to hold after the
// call returns.
type State struct {
	Price          float64         `json:"price"`
	Liquidity      decimal.Decimal `json:"liquidity"`
	Portfolio      models.Greeks   `json:"portfolio"`
	NetDelta       float64         `json:"net_delta"`
	ActiveOptions  int             `json:"active_options"`
	TotalOptions   int             `json:"total_options"`
	FeeRate        float64         `json:"fee_rate"`
	Venues         []models.Venue  `json:"venues"`
	HedgePositions int             `json:"hedge_positions"`
	TotalTrades    int64           `json:"total_trades"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	FeesCollected  decimal.Decimal `json:"fees_collected"`
	LastUpdate     time.Time       `json:"last_update"`
}

// GetPortfolioState returns a consistent snapshot of platform state.
func (s *Service) GetPortfolioState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Price:          s.lastTick.Price,
		Liquidity:      s.liquidity,
		Portfolio:      s.portfolio,
		NetDelta:       s.rebalancer.NetDelta(s.portfolio.Delta),
		ActiveOptions:  s.ledger.ActiveCount(),
		TotalOptions:   len(s.ledger.Options()),
		FeeRate:        s.adjuster.CurrentRate(),
		Venues:         s.rebalancer.Venues(),
		HedgePositions: len(s.rebalancer.Positions(0)),
		TotalTrades:    s.totalTrades,
		TotalVolume:    s.totalVolume,
		FeesCollected:  s.feesCollected,
		LastUpdate:     s.lastTick.Timestamp,
	}
}

// ListOptions returns value copies of every contract, oldest first.
func (s *Service) ListOptions() []models.Option {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := s.ledger.Options()
	out := make([]models.Option, len(opts))
	for i, o := range opts {
		out[i] = *o
	}
	return out
}

// Metrics is a detailed snapshot for operational inspection.
type Metrics struct {
	Portfolio       models.Greeks           `json:"portfolio"`
	NetDelta        float64                 `json:"net_delta"`
	Venues          []models.Venue          `json:"venues"`
	HedgePositions  []models.HedgePosition  `json:"hedge_positions"`
	FeeRate         float64                 `json:"fee_rate"`
	FeeHistory      []models.FeeRecord      `json:"fee_history"`
	CompetitorRates []models.CompetitorRate `json:"competitor_rates"`
	Transactions    []models.Transaction    `json:"transactions"`
}

// GetMetrics returns the detailed hedging and fee view, with bounded tails of
// the append-only logs.
func (s *Service) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Metrics{
		Portfolio:       s.portfolio,
		NetDelta:        s.rebalancer.NetDelta(s.portfolio.Delta),
		Venues:          s.rebalancer.Venues(),
		HedgePositions:  s.rebalancer.Positions(hedgeTail),
		FeeRate:         s.adjuster.CurrentRate(),
		FeeHistory:      s.adjuster.History(feeHistoryTail),
		CompetitorRates: s.adjuster.CompetitorRates(),
		Transactions:    s.transactionTailCopy(transactionTail),
	}
}

// PriceHistory returns up to n most recent ticks, oldest first.
func (s *Service) PriceHistory(n int) []models.PriceTick {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.priceHistory) {
		n = len(s.priceHistory)
	}
	tail := s.priceHistory[len(s.priceHistory)-n:]
	out := make([]models.PriceTick, len(tail))
	copy(out, tail)
	return out
}

// rebalance runs inside the critical section. Venue exhaustion is a warning,
// not a failure of the cycle.
func (s *Service) rebalance(now time.Time) {
	res, err := s.rebalancer.Rebalance(now, s.portfolio.Delta, s.lastTick.Price)
	if err != nil {
		if errors.Is(err, hedging.ErrAllVenuesFailed) {
			s.logger.Warn("hedging skipped",
				zap.Error(err),
				zap.Float64("portfolio_delta", s.portfolio.Delta),
			)
			return
		}
		s.logger.Error("hedge rebalance failed", zap.Error(err))
		return
	}
	if res.Outcome != hedging.OutcomeExecuted {
		return
	}

	s.record(models.Transaction{
		Type:      models.TransactionTypeHedge,
		Timestamp: now,
		Details:   fmt.Sprintf("rebalanced across %d venues, net adjustment %.4f", len(res.Positions), res.Adjustment),
	})
	metrics.HedgeRebalances.Inc()
}

func (s *Service) record(tx models.Transaction) {
	s.transactions = append(s.transactions, tx)
}

func (s *Service) recentPrices(n int) []float64 {
	if n > len(s.priceHistory) {
		n = len(s.priceHistory)
	}
	tail := s.priceHistory[len(s.priceHistory)-n:]
	out := make([]float64, len(tail))
	for i, t := range tail {
		out[i] = t.Price
	}
	return out
}

func (s *Service) transactionTailCopy(n int) []models.Transaction {
	if n <= 0 || n > len(s.transactions) {
		n = len(s.transactions)
	}
	tail := s.transactions[len(s.transactions)-n:]
	out := make([]models.Transaction, len(tail))
	copy(out, tail)
	return out
}
