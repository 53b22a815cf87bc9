package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionType identifies the contract side. Only the two values below are valid;
// ledger validation rejects anything else before state is touched.
type OptionType string

const (
	OptionTypeCall OptionType = "call"
	OptionTypePut  OptionType = "put"
)

// Valid reports whether t is one of the two known option types.
func (t OptionType) Valid() bool {
	return t == OptionTypeCall || t == OptionTypePut
}

// OptionStatus is the lifecycle state of a contract. Transitions are monotonic:
// active -> exercised or active -> expired, never back.
type OptionStatus string

const (
	OptionStatusActive    OptionStatus = "active"
	OptionStatusExercised OptionStatus = "exercised"
	OptionStatusExpired   OptionStatus = "expired"
)

// VenueStatus is the state of a hedging venue.
type VenueStatus string

const (
	VenueStatusActive VenueStatus = "active"
	VenueStatusBackup VenueStatus = "backup"
	VenueStatusFailed VenueStatus = "failed"
)

// PriceTick is a single sample from the price feed. Ticks are immutable;
// consumers copy, never mutate.
type PriceTick struct {
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Greeks holds option price sensitivities. For a stored option these are the
// last computed snapshot, already scaled by contract quantity.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Scale returns a copy of g with every sensitivity multiplied by quantity.
func (g Greeks) Scale(quantity float64) Greeks {
	return Greeks{
		Delta: g.Delta * quantity,
		Gamma: g.Gamma * quantity,
		Theta: g.Theta * quantity,
		Vega:  g.Vega * quantity,
	}
}

// Add returns the component-wise sum of g and other.
func (g Greeks) Add(other Greeks) Greeks {
	return Greeks{
		Delta: g.Delta + other.Delta,
		Gamma: g.Gamma + other.Gamma,
		Theta: g.Theta + other.Theta,
		Vega:  g.Vega + other.Vega,
	}
}

// Option represents a micro-duration option contract. Contracts are created by
// the ledger, mutated only by the settlement transition and the per-cycle
// greeks refresh, and retained forever for audit.
type Option struct {
	ID              string          `json:"id"`
	Type            OptionType      `json:"type"`
	Strike          float64         `json:"strike"`
	Quantity        float64         `json:"quantity"`
	Premium         decimal.Decimal `json:"premium"`
	FeeRate         float64         `json:"fee_rate"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	Status          OptionStatus    `json:"status"`
	EntryPrice      float64         `json:"entry_price"`
	SettlementPrice float64         `json:"settlement_price,omitempty"`
	Payoff          decimal.Decimal `json:"payoff"`
	Greeks          Greeks          `json:"greeks"`
}

// InTheMoney reports whether the option has positive intrinsic value at spot.
func (o *Option) InTheMoney(spot float64) bool {
	if o.Type == OptionTypeCall {
		return spot > o.Strike
	}
	return spot < o.Strike
}

// IntrinsicValue returns the per-unit exercise value of the option at spot.
func (o *Option) IntrinsicValue(spot float64) float64 {
	var v float64
	if o.Type == OptionTypeCall {
		v = spot - o.Strike
	} else {
		v = o.Strike - spot
	}
	if v < 0 {
		return 0
	}
	return v
}

// Venue represents an abstract hedging counterparty. Weight is its capacity
// share in (0,1]; HedgeDelta is the offsetting exposure it currently carries.
type Venue struct {
	Name       string      `json:"name"`
	Weight     float64     `json:"weight"`
	Status     VenueStatus `json:"status"`
	HedgeDelta float64     `json:"hedge_delta"`
}

// HedgePosition is an append-only log entry recorded each time a venue's
// offsetting exposure changes. Never mutated after creation.
type HedgePosition struct {
	Venue     string    `json:"venue"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// FeeRecord captures one fee adjustment with all contributing factors, for
// auditability of the dynamic fee path.
type FeeRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	Rate              float64   `json:"rate"`
	VolatilityFactor  float64   `json:"volatility_factor"`
	VolumeFactor      float64   `json:"volume_factor"`
	CompetitiveFactor float64   `json:"competitive_factor"`
	AvgCompetitorRate float64   `json:"avg_competitor_rate"`
}

// CompetitorRate is a named competitor fee observation. The competitor set is
// fixed at construction; only the rate random-walks between adjustments.
type CompetitorRate struct {
	Name string  `json:"name"`
	Rate float64 `json:"rate"`
}

// TransactionType classifies entries in the platform audit log.
type TransactionType string

const (
	TransactionTypeCreate   TransactionType = "create"
	TransactionTypeExercise TransactionType = "exercise"
	TransactionTypeExpire   TransactionType = "expire"
	TransactionTypeHedge    TransactionType = "hedge"
	TransactionTypeFailover TransactionType = "venue_failover"
)

// Transaction is an append-only audit log entry.
type Transaction struct {
	Type      TransactionType `json:"type"`
	OptionID  string          `json:"option_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Details   string          `json:"details"`
}
