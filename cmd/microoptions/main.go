package main

import (
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/willialso/btc-micro-options/internal/config"
	"github.com/willialso/btc-micro-options/internal/feed"
	"github.com/willialso/btc-micro-options/internal/fees"
	"github.com/willialso/btc-micro-options/internal/hedging"
	"github.com/willialso/btc-micro-options/internal/ledger"
	"github.com/willialso/btc-micro-options/internal/platform"
	"github.com/willialso/btc-micro-options/internal/pricing"
	"github.com/willialso/btc-micro-options/internal/risk"
	"github.com/willialso/btc-micro-options/pkg/logger"
	"github.com/willialso/btc-micro-options/pkg/models"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create logger
	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// Build the platform core
	engine := pricing.NewEngine(cfg.Pricing.RiskFreeRate, cfg.Pricing.Volatility)

	venues := make([]models.Venue, len(cfg.Hedging.Venues))
	for i, v := range cfg.Hedging.Venues {
		venues[i] = models.Venue{
			Name:   v.Name,
			Weight: v.Weight,
			Status: models.VenueStatus(v.Status),
		}
	}
	rebalancer := hedging.NewRebalancer(zapLogger, hedging.Config{
		Epsilon:           cfg.Hedging.Epsilon,
		RebalanceInterval: cfg.Hedging.RebalanceInterval,
		PriceJitterSigma:  cfg.Hedging.PriceJitterSigma,
		Venues:            venues,
	}, rand.New(rand.NewSource(time.Now().UnixNano())))

	competitors := make([]models.CompetitorRate, len(cfg.Fees.Competitors))
	for i, c := range cfg.Fees.Competitors {
		competitors[i] = models.CompetitorRate{Name: c.Name, Rate: c.Rate}
	}
	adjuster := fees.NewAdjuster(zapLogger, fees.Config{
		BaseRate:       cfg.Fees.BaseRate,
		MinRate:        cfg.Fees.MinRate,
		MaxRate:        cfg.Fees.MaxRate,
		BaselineVol:    cfg.Fees.BaselineVol,
		UpdateInterval: cfg.Fees.UpdateInterval,
		Competitors:    competitors,
	}, rand.New(rand.NewSource(time.Now().UnixNano())))

	svc := platform.NewService(
		zapLogger,
		platform.Config{InitialLiquidity: decimal.NewFromFloat(cfg.InitialLiquidity)},
		ledger.New(zapLogger, engine),
		risk.NewAggregator(engine),
		rebalancer,
		adjuster,
	)

	simulator := feed.NewSimulator(cfg.Market.StartPrice, rand.New(rand.NewSource(time.Now().UnixNano())))
	faultRng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Serve Prometheus metrics
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		zapLogger.Info("Starting metrics server", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// Market cycle loop
	done := make(chan struct{})
	ticker := time.NewTicker(cfg.Market.CycleInterval)
	go func() {
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				svc.RunCycle(simulator.Next(now))

				if cfg.Market.VenueFailureChance > 0 && faultRng.Float64() < cfg.Market.VenueFailureChance {
					injectVenueFailure(zapLogger, svc, faultRng)
				}
			}
		}
	}()

	zapLogger.Info("Simulation started",
		zap.Float64("start_price", cfg.Market.StartPrice),
		zap.Duration("cycle_interval", cfg.Market.CycleInterval),
		zap.Int("venues", len(venues)),
	)

	// Wait for interrupt to shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down...")

	ticker.Stop()
	close(done)
	if err := metricsSrv.Close(); err != nil {
		zapLogger.Error("Failed to stop metrics server", zap.Error(err))
	}

	state := svc.GetPortfolioState()
	zapLogger.Info("Simulation stopped",
		zap.String("liquidity", state.Liquidity.StringFixed(2)),
		zap.Int64("total_trades", state.TotalTrades),
		zap.Int("total_options", state.TotalOptions),
	)
}

// injectVenueFailure fails one randomly chosen active venue, simulating an
// exchange outage.
func injectVenueFailure(zapLogger *zap.Logger, svc *platform.Service, rng *rand.Rand) {
	var active []string
	for _, v := range svc.GetPortfolioState().Venues {
		if v.Status == models.VenueStatusActive {
			active = append(active, v.Name)
		}
	}
	if len(active) == 0 {
		return
	}
	name := active[rng.Intn(len(active))]
	if err := svc.FailVenue(name); err != nil {
		zapLogger.Error("Venue failure injection failed", zap.Error(err))
		return
	}
	zapLogger.Warn("Injected venue failure", zap.String("venue", name))
}
