package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CrossPhase is the tagged state of a fast/slow moving-average latch.
type CrossPhase string

const (
	PhaseBelow   CrossPhase = "BELOW"
	PhaseArmed   CrossPhase = "ARMED"
	PhaseCrossed CrossPhase = "CROSSED"
)

// SpanPair is one configured fast/slow moving-average combination.
type SpanPair struct {
	Fast int    `yaml:"fast" json:"fast" validate:"gt=0,ltfield=Slow"`
	Slow int    `yaml:"slow" json:"slow" validate:"gt=0"`
	Kind string `yaml:"kind" json:"kind" validate:"omitempty,oneof=ema dema"`
}

// Normalize spells out the default kind so "" and "ema" name the same pair.
func (p SpanPair) Normalize() SpanPair {
	if p.Kind == "" {
		p.Kind = "ema"
	}
	return p
}

// CrossState is the persisted latch for one (check, fast, slow) tuple.
type CrossState struct {
	CheckID   int64
	Pair      SpanPair
	Phase     CrossPhase
	UpdatedAt time.Time
}

// CrossoverEvent is emitted once when the fast average rises above the slow one after being below.
type CrossoverEvent struct {
	ID      string
	CheckID int64
	Pair    SpanPair
	Time    time.Time
	Price   decimal.Decimal
	High    decimal.Decimal
}

// TouchEvent is emitted when a confirmed touch is recorded.
type TouchEvent struct {
	ID        string
	LineID    int64
	Symbol    string
	Date      time.Time
	LinePrice decimal.Decimal
	Lower     decimal.Decimal
	Upper     decimal.Decimal
	Low       decimal.Decimal
	High      decimal.Decimal
}

// OrderSide is BUY or SELL.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderIntent is handed to the order-trigger sink. It never places an order itself.
type OrderIntent struct {
	ID           string          `json:"id"`
	CheckID      int64           `json:"check_id"`
	Symbol       string          `json:"symbol"`
	SecurityID   string          `json:"security_id"`
	Side         OrderSide       `json:"side"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	StopPrice    decimal.Decimal `json:"stop_price"`
	RiskPerUnit  decimal.Decimal `json:"risk_per_unit"`
	Quantity     int64           `json:"quantity"`
	CreatedAt    time.Time       `json:"created_at"`
}
