package platform

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"

	"github.com/willialso/btc-micro-options/internal/fees"
	"github.com/willialso/btc-micro-options/internal/hedging"
	"github.com/willialso/btc-micro-options/internal/ledger"
	"github.com/willialso/btc-micro-options/internal/pricing"
	"github.com/willialso/btc-micro-options/internal/risk"
	"github.com/willialso/btc-micro-options/pkg/models"
)

type ServiceSuite struct {
	suite.Suite

	clock time.Time
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	logger := zaptest.NewLogger(s.T())
	engine := pricing.NewEngine(0.03, 0.7)

	reb := hedging.NewRebalancer(logger, hedging.Config{
		Epsilon:           0.05,
		RebalanceInterval: 10 * time.Second,
		PriceJitterSigma:  0.0005,
		Venues: []models.Venue{
			{Name: "binance", Weight: 0.4, Status: models.VenueStatusActive},
			{Name: "coinbase", Weight: 0.3, Status: models.VenueStatusActive},
			{Name: "kraken", Weight: 0.2, Status: models.VenueStatusActive},
			{Name: "ftx", Weight: 0.1, Status: models.VenueStatusBackup},
		},
	}, rand.New(rand.NewSource(1)))

	adj := fees.NewAdjuster(logger, fees.Config{
		BaseRate:       0.0015,
		MinRate:        0.0005,
		MaxRate:        0.0030,
		BaselineVol:    0.7,
		UpdateInterval: time.Minute,
		Competitors: []models.CompetitorRate{
			{Name: "binance", Rate: 0.0010},
			{Name: "coinbase", Rate: 0.0020},
		},
	}, rand.New(rand.NewSource(2)))

	s.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.svc = NewService(logger, Config{InitialLiquidity: decimal.NewFromInt(1_200_000)},
		ledger.New(logger, engine), risk.NewAggregator(engine), reb, adj)
	s.svc.now = func() time.Time { return s.clock }
}

func (s *ServiceSuite) advance(d time.Duration) { s.clock = s.clock.Add(d) }

func (s *ServiceSuite) tick(price float64) models.PriceTick {
	return models.PriceTick{Price: price, Bid: price - 10, Ask: price + 10, Timestamp: s.clock}
}

func (s *ServiceSuite) TestOpenRequiresMarketData() {
	_, err := s.svc.OpenOption(models.OptionTypeCall, 40000, 1, 2*time.Minute)
	s.ErrorIs(err, ErrNoMarketData)
}

func (s *ServiceSuite) TestOpenCreditsLiquidityAndHedges() {
	s.svc.RunCycle(s.tick(40000))
	before := s.svc.GetPortfolioState().Liquidity

	opt, err := s.svc.OpenOption(models.OptionTypeCall, 40000, 1, 2*time.Minute)
	s.Require().NoError(err)

	state := s.svc.GetPortfolioState()
	s.True(state.Liquidity.Sub(before).Equal(opt.Premium))
	s.Equal(1, state.ActiveOptions)
	s.Equal(int64(1), state.TotalTrades)
	s.True(state.FeesCollected.IsPositive())

	// An ATM call carries roughly half a unit of delta; the open itself
	// triggers a rebalance that offsets it across the three active venues.
	s.Greater(state.Portfolio.Delta, 0.4)
	s.InDelta(0, state.NetDelta, 1e-9)
	s.Equal(3, state.HedgePositions)

	m := s.svc.GetMetrics()
	s.Require().Len(m.Transactions, 2)
	s.Equal(models.TransactionTypeCreate, m.Transactions[0].Type)
	s.Equal(models.TransactionTypeHedge, m.Transactions[1].Type)
}

func (s *ServiceSuite) TestFiveOpensAccumulateLiquidity() {
	s.svc.RunCycle(s.tick(40000))
	before := s.svc.GetPortfolioState().Liquidity

	sum := decimal.Zero
	for i := 0; i < 5; i++ {
		opt, err := s.svc.OpenOption(models.OptionTypeCall, 40000+float64(i)*100, 1, 2*time.Minute)
		s.Require().NoError(err)
		sum = sum.Add(opt.Premium)
	}

	state := s.svc.GetPortfolioState()
	s.Equal(5, state.ActiveOptions)
	s.True(state.Liquidity.Sub(before).Equal(sum))
}

func (s *ServiceSuite) TestExerciseDebitsLiquidity() {
	s.svc.RunCycle(s.tick(40000))
	_, err := s.svc.OpenOption(models.OptionTypeCall, 40000, 2, 2*time.Minute)
	s.Require().NoError(err)
	afterOpen := s.svc.GetPortfolioState().Liquidity

	s.advance(121 * time.Second)
	s.svc.RunCycle(s.tick(41000))

	state := s.svc.GetPortfolioState()
	s.True(afterOpen.Sub(state.Liquidity).Equal(decimal.NewFromInt(2000)))
	s.Equal(0, state.ActiveOptions)
	s.Equal(1, state.TotalOptions)

	opts := s.svc.ListOptions()
	s.Require().Len(opts, 1)
	s.Equal(models.OptionStatusExercised, opts[0].Status)
	s.Equal(41000.0, opts[0].SettlementPrice)
}

func (s *ServiceSuite) TestWorthlessExpiryLeavesLiquidityAlone() {
	s.svc.RunCycle(s.tick(40000))
	_, err := s.svc.OpenOption(models.OptionTypeCall, 42000, 1, time.Minute)
	s.Require().NoError(err)
	afterOpen := s.svc.GetPortfolioState().Liquidity

	s.advance(61 * time.Second)
	s.svc.RunCycle(s.tick(39000))

	state := s.svc.GetPortfolioState()
	s.True(state.Liquidity.Equal(afterOpen))
	s.Equal(models.OptionStatusExpired, s.svc.ListOptions()[0].Status)
}

func (s *ServiceSuite) TestFailVenueRecordsFailover() {
	s.svc.RunCycle(s.tick(40000))
	s.Require().NoError(s.svc.FailVenue("binance"))

	state := s.svc.GetPortfolioState()
	s.Equal(models.VenueStatusFailed, state.Venues[0].Status)
	s.Equal(models.VenueStatusActive, state.Venues[3].Status)

	m := s.svc.GetMetrics()
	s.Equal(models.TransactionTypeFailover, m.Transactions[len(m.Transactions)-1].Type)
}

func (s *ServiceSuite) TestOpenProceedsWithAllVenuesFailed() {
	s.svc.RunCycle(s.tick(40000))
	for _, name := range []string{"binance", "coinbase", "kraken", "ftx"} {
		s.Require().NoError(s.svc.FailVenue(name))
	}

	opt, err := s.svc.OpenOption(models.OptionTypeCall, 40000, 1, 2*time.Minute)
	s.Require().NoError(err)
	s.NotEmpty(opt.ID)

	// The unhedged exposure stays visible in net delta.
	state := s.svc.GetPortfolioState()
	s.Equal(state.Portfolio.Delta, state.NetDelta)
	s.Equal(0, state.HedgePositions)
}

func (s *ServiceSuite) TestFeeAdjustmentRespectsInterval() {
	s.svc.RunCycle(s.tick(40000))
	first := s.svc.GetMetrics().FeeHistory
	s.Require().Len(first, 1)

	// Cycles inside the update interval never append a record.
	for i := 0; i < 10; i++ {
		s.advance(500 * time.Millisecond)
		s.svc.RunCycle(s.tick(40000 + float64(i)))
	}
	s.Len(s.svc.GetMetrics().FeeHistory, 1)

	s.advance(time.Minute)
	s.svc.RunCycle(s.tick(40000))
	s.Len(s.svc.GetMetrics().FeeHistory, 2)

	state := s.svc.GetPortfolioState()
	s.GreaterOrEqual(state.FeeRate, 0.0005)
	s.LessOrEqual(state.FeeRate, 0.0030)
}

func (s *ServiceSuite) TestPriceHistoryIsCapped() {
	for i := 0; i < 1100; i++ {
		s.advance(500 * time.Millisecond)
		s.svc.RunCycle(s.tick(40000))
	}
	s.Len(s.svc.PriceHistory(0), 1000)
	s.Len(s.svc.PriceHistory(100), 100)
}

func (s *ServiceSuite) TestSnapshotsDoNotAlias() {
	s.svc.RunCycle(s.tick(40000))
	_, err := s.svc.OpenOption(models.OptionTypeCall, 40000, 1, 2*time.Minute)
	s.Require().NoError(err)

	state := s.svc.GetPortfolioState()
	state.Venues[0].Weight = 99
	s.Equal(0.4, s.svc.GetPortfolioState().Venues[0].Weight)

	opts := s.svc.ListOptions()
	opts[0].Strike = 1
	s.Equal(40000.0, s.svc.ListOptions()[0].Strike)
}

func (s *ServiceSuite) TestConcurrentAccess() {
	s.svc.RunCycle(s.tick(40000))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_, err := s.svc.OpenOption(models.OptionTypeCall, 40000, 0.1, 2*time.Minute)
				s.NoError(err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			s.svc.RunCycle(s.tick(40000))
			s.svc.GetPortfolioState()
			s.svc.GetMetrics()
		}
	}()
	wg.Wait()

	s.Equal(int64(100), s.svc.GetPortfolioState().TotalTrades)
	s.Len(s.svc.ListOptions(), 100)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
