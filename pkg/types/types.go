// Package types holds the value types shared by the ledger, order book,
// matching engine, and message store: the fixed-point amount/price
// representation and the asset/side enums.
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Scale is the fixed denominator for Price and the implicit decimal
// scale for Amount: both are integers in base units at 7 decimal
// places.
const Scale = 10000000

// Asset is one of the two fungible on-chain assets the venue trades.
type Asset int8

const (
	AssetA Asset = iota
	AssetB
)

func (a Asset) String() string {
	switch a {
	case AssetA:
		return "A"
	case AssetB:
		return "B"
	default:
		return "unknown"
	}
}

// ParseAsset accepts the lowercase wire form used by the API ("a"/"b").
func ParseAsset(s string) (Asset, error) {
	switch s {
	case "a":
		return AssetA, nil
	case "b":
		return AssetB, nil
	default:
		return 0, fmt.Errorf("unknown asset %q", s)
	}
}

// Other returns the counterpart asset.
func (a Asset) Other() Asset {
	if a == AssetA {
		return AssetB
	}
	return AssetA
}

// Amount is a non-negative integer count of base units (7-decimal scale).
// All ledger and matching arithmetic is integer; no floats anywhere on
// this path.
type Amount int64

// Price is a positive integer numerator over the implicit Scale
// denominator, interpreted as units of B per unit of A. Equality and
// ordering are exact integer comparisons.
type Price int64

// Notional returns floor(p * qty / Scale), the B-side amount for a fill
// of qty A at price p. This is the one rounding rule in the system and
// it is applied identically at reservation time and at settlement time
// (see pkg/matching).
func (p Price) Notional(qty Amount) Amount {
	return Amount((int64(p) * int64(qty)) / Scale)
}

// ParseDecimal converts a decimal string with up to 7 fractional digits
// into a base-unit integer at the fixed Scale, per spec.md §6's order
// submission rule. More than 7 fractional digits is a rejection, not a
// silent truncation.
func ParseDecimal(s string) (int64, error) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if !hasFrac {
		frac = ""
	}
	if len(frac) > 7 {
		return 0, fmt.Errorf("types: decimal %q has more than 7 fractional digits", s)
	}
	frac = frac + strings.Repeat("0", 7-len(frac))

	wholeN, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("types: invalid decimal %q: %w", s, err)
	}
	fracN, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("types: invalid decimal %q: %w", s, err)
	}

	n := wholeN*Scale + fracN
	if neg {
		n = -n
	}
	return n, nil
}

// ParsePriceDecimal parses a decimal price string into base units.
func ParsePriceDecimal(s string) (Price, error) {
	n, err := ParseDecimal(s)
	return Price(n), err
}

// ParseAmountDecimal parses a decimal quantity string into base units.
func ParseAmountDecimal(s string) (Amount, error) {
	n, err := ParseDecimal(s)
	return Amount(n), err
}

// ParseIntegerAmount parses an integer base-units string, per the
// withdrawal body's `amount: integer-string (base units)` field.
func ParseIntegerAmount(s string) (Amount, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("types: invalid integer amount %q: %w", s, err)
	}
	return Amount(n), nil
}

// Side is which direction of the book an order rests on.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func ParseSide(s string) (Side, error) {
	switch s {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// OrderStatus is the lifecycle state of a resting or historical order.
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MessageStatus is the lifecycle state of an externally originated
// request, per the status DAG in spec.md §4.5.
type MessageStatus int8

const (
	StatusReceived MessageStatus = iota
	StatusAccepted
	StatusRejected
	StatusSettlementPending
	StatusSettlementConfirmed
	StatusSettlementFailed
)

func (s MessageStatus) String() string {
	switch s {
	case StatusReceived:
		return "received"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusSettlementPending:
		return "settlement_pending"
	case StatusSettlementConfirmed:
		return "settlement_confirmed"
	case StatusSettlementFailed:
		return "settlement_failed"
	default:
		return "unknown"
	}
}

// MessageKind classifies the externally originated request that a
// Message tracks.
type MessageKind int8

const (
	KindOrder MessageKind = iota
	KindCancel
	KindWithdrawal
	KindDeposit
)

func (k MessageKind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindCancel:
		return "cancel"
	case KindWithdrawal:
		return "withdrawal"
	case KindDeposit:
		return "deposit"
	default:
		return "unknown"
	}
}
