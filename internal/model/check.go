package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineState is the forward-only lifecycle of a trend line's setup.
type LineState int

const (
	StatePending LineState = iota
	StateTouched
	StateCrossed
	StatePurchased
	StateSold
)

func (s LineState) String() string {
	switch s {
	case StateTouched:
		return "TOUCHED"
	case StateCrossed:
		return "CROSSED_EMA"
	case StatePurchased:
		return "PURCHASED"
	case StateSold:
		return "SOLD"
	default:
		return "PENDING"
	}
}

// CheckRecord is the persisted outcome of evaluating one line on one session date.
// At most one record exists per (LineID, Date).
type CheckRecord struct {
	ID            int64
	LineID        int64
	Date          time.Time
	LinePrice     decimal.Decimal
	ActualPrice   decimal.NullDecimal
	StopLossPrice decimal.NullDecimal
	BuyAboveHigh  decimal.NullDecimal
	Quantity      int64
	Touched       bool
	Crossed       bool
	Purchased     bool
	Sold          bool
	CheckedAt     time.Time
}

// State derives the lifecycle state from the flags.
func (c *CheckRecord) State() LineState {
	switch {
	case c.Sold:
		return StateSold
	case c.Purchased:
		return StatePurchased
	case c.Crossed:
		return StateCrossed
	case c.Touched:
		return StateTouched
	default:
		return StatePending
	}
}

// Advance moves the record forward to the given state. It returns false (and
// leaves the record unchanged) when the record is already at or past it, or
// when the target skips a required predecessor.
func (c *CheckRecord) Advance(to LineState) bool {
	cur := c.State()
	if to != cur+1 {
		return false
	}
	switch to {
	case StateTouched:
		c.Touched = true
	case StateCrossed:
		c.Crossed = true
	case StatePurchased:
		c.Purchased = true
	case StateSold:
		c.Sold = true
	default:
		return false
	}
	return true
}

// MergeForward folds an incoming record into an existing one without ever
// clearing a flag. Prices from the incoming record win.
func MergeForward(existing, incoming CheckRecord) CheckRecord {
	out := incoming
	out.ID = existing.ID
	out.Touched = existing.Touched || incoming.Touched
	out.Crossed = existing.Crossed || incoming.Crossed
	out.Purchased = existing.Purchased || incoming.Purchased
	out.Sold = existing.Sold || incoming.Sold
	if !incoming.ActualPrice.Valid {
		out.ActualPrice = existing.ActualPrice
	}
	if !incoming.StopLossPrice.Valid {
		out.StopLossPrice = existing.StopLossPrice
	}
	if !incoming.BuyAboveHigh.Valid {
		out.BuyAboveHigh = existing.BuyAboveHigh
	}
	if incoming.Quantity == 0 {
		out.Quantity = existing.Quantity
	}
	return out
}
