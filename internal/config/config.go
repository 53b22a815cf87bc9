package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PricingConfig holds the closed-form pricing inputs.
type PricingConfig struct {
	RiskFreeRate float64 `mapstructure:"risk_free_rate" yaml:"risk_free_rate"`
	Volatility   float64 `mapstructure:"volatility" yaml:"volatility"`
}

// MarketConfig drives the simulated price feed and the cycle loop.
type MarketConfig struct {
	StartPrice         float64       `mapstructure:"start_price" yaml:"start_price"`
	CycleInterval      time.Duration `mapstructure:"cycle_interval" yaml:"cycle_interval"`
	VenueFailureChance float64       `mapstructure:"venue_failure_chance" yaml:"venue_failure_chance"`
}

// VenueConfig is one hedging venue entry.
type VenueConfig struct {
	Name   string  `mapstructure:"name" yaml:"name"`
	Weight float64 `mapstructure:"weight" yaml:"weight"`
	Status string  `mapstructure:"status" yaml:"status"`
}

// HedgingConfig tunes the rebalancer.
type HedgingConfig struct {
	Epsilon           float64       `mapstructure:"epsilon" yaml:"epsilon"`
	RebalanceInterval time.Duration `mapstructure:"rebalance_interval" yaml:"rebalance_interval"`
	PriceJitterSigma  float64       `mapstructure:"price_jitter_sigma" yaml:"price_jitter_sigma"`
	Venues            []VenueConfig `mapstructure:"venues" yaml:"venues"`
}

// CompetitorConfig is one competitor fee observation seed.
type CompetitorConfig struct {
	Name string  `mapstructure:"name" yaml:"name"`
	Rate float64 `mapstructure:"rate" yaml:"rate"`
}

// FeesConfig tunes the dynamic fee adjuster.
type FeesConfig struct {
	BaseRate       float64            `mapstructure:"base_rate" yaml:"base_rate"`
	MinRate        float64            `mapstructure:"min_rate" yaml:"min_rate"`
	MaxRate        float64            `mapstructure:"max_rate" yaml:"max_rate"`
	BaselineVol    float64            `mapstructure:"baseline_vol" yaml:"baseline_vol"`
	UpdateInterval time.Duration      `mapstructure:"update_interval" yaml:"update_interval"`
	Competitors    []CompetitorConfig `mapstructure:"competitors" yaml:"competitors"`
}

// Config is the full application configuration.
type Config struct {
	LogLevel         string        `mapstructure:"log_level" yaml:"log_level"`
	MetricsAddr      string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	InitialLiquidity float64       `mapstructure:"initial_liquidity" yaml:"initial_liquidity"`
	Pricing          PricingConfig `mapstructure:"pricing" yaml:"pricing"`
	Market           MarketConfig  `mapstructure:"market" yaml:"market"`
	Hedging          HedgingConfig `mapstructure:"hedging" yaml:"hedging"`
	Fees             FeesConfig    `mapstructure:"fees" yaml:"fees"`
}

// Load reads config.yaml from the working directory, ./config or
// /etc/microoptions, applies MICROOPTIONS_* environment overrides and falls
// back to built-in defaults. A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/microoptions")

	v.SetEnvPrefix("MICROOPTIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Hedging.Venues) == 0 {
		cfg.Hedging.Venues = defaultVenues()
	}
	if len(cfg.Fees.Competitors) == 0 {
		cfg.Fees.Competitors = defaultCompetitors()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the simulation cannot run under.
func (c *Config) Validate() error {
	if c.Pricing.Volatility <= 0 {
		return fmt.Errorf("pricing.volatility must be positive, got %v", c.Pricing.Volatility)
	}
	if c.Market.StartPrice <= 0 {
		return fmt.Errorf("market.start_price must be positive, got %v", c.Market.StartPrice)
	}
	if c.Market.CycleInterval <= 0 {
		return fmt.Errorf("market.cycle_interval must be positive, got %v", c.Market.CycleInterval)
	}
	if c.Fees.MinRate > c.Fees.MaxRate {
		return fmt.Errorf("fees.min_rate %v exceeds fees.max_rate %v", c.Fees.MinRate, c.Fees.MaxRate)
	}
	if c.Fees.BaseRate < c.Fees.MinRate || c.Fees.BaseRate > c.Fees.MaxRate {
		return fmt.Errorf("fees.base_rate %v outside [%v, %v]", c.Fees.BaseRate, c.Fees.MinRate, c.Fees.MaxRate)
	}
	if c.Hedging.Epsilon <= 0 {
		return fmt.Errorf("hedging.epsilon must be positive, got %v", c.Hedging.Epsilon)
	}
	total := 0.0
	for _, venue := range c.Hedging.Venues {
		if venue.Weight <= 0 || venue.Weight > 1 {
			return fmt.Errorf("venue %s weight %v outside (0, 1]", venue.Name, venue.Weight)
		}
		total += venue.Weight
	}
	if len(c.Hedging.Venues) > 0 && (total < 0.99 || total > 1.01) {
		return fmt.Errorf("venue weights sum to %v, want 1.0", total)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("initial_liquidity", 1_200_000)

	v.SetDefault("pricing.risk_free_rate", 0.03)
	v.SetDefault("pricing.volatility", 0.7)

	v.SetDefault("market.start_price", 40_000)
	v.SetDefault("market.cycle_interval", 500*time.Millisecond)
	v.SetDefault("market.venue_failure_chance", 0.002)

	v.SetDefault("hedging.epsilon", 0.05)
	v.SetDefault("hedging.rebalance_interval", 10*time.Second)
	v.SetDefault("hedging.price_jitter_sigma", 0.0005)

	v.SetDefault("fees.base_rate", 0.0015)
	v.SetDefault("fees.min_rate", 0.0005)
	v.SetDefault("fees.max_rate", 0.0030)
	v.SetDefault("fees.baseline_vol", 0.7)
	v.SetDefault("fees.update_interval", time.Minute)
}

func defaultVenues() []VenueConfig {
	return []VenueConfig{
		{Name: "binance", Weight: 0.4, Status: "active"},
		{Name: "coinbase", Weight: 0.3, Status: "active"},
		{Name: "kraken", Weight: 0.2, Status: "active"},
		{Name: "ftx", Weight: 0.1, Status: "backup"},
	}
}

func defaultCompetitors() []CompetitorConfig {
	return []CompetitorConfig{
		{Name: "binance", Rate: 0.0010},
		{Name: "coinbase", Rate: 0.0020},
		{Name: "dydx", Rate: 0.0010},
		{Name: "uniswap", Rate: 0.0030},
		{Name: "sushiswap", Rate: 0.0025},
	}
}
