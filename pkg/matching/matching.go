// Package matching implements price-time priority crossing as a pure
// function: given an incoming (taker) order and a price-time ordered
// snapshot of the opposite side of the book, it decides which resting
// (maker) orders are filled and by how much, without touching any book
// or ledger state itself. pkg/orderbook applies the resulting
// MakerFill decisions; pkg/executor applies the ledger consequences.
package matching

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/duskpool/venue/pkg/orderbook"
	"github.com/duskpool/venue/pkg/types"
)

// Taker is the incoming order being matched against the book.
type Taker struct {
	OrderID string
	MsgID   string
	User    common.Address
	Side    types.Side
	Price   types.Price
	Qty     types.Amount
}

// Trade is one fill between the taker and a single resting maker. Price
// is always the maker's resting price, per the maker-price fill rule: a
// taker that crosses at its own limit settles at the better, resting
// price rather than its own.
type Trade struct {
	TakerOrderID string
	TakerMsgID   string
	TakerUser    common.Address
	MakerOrderID string
	MakerMsgID   string
	MakerUser    common.Address
	Price        types.Price
	Qty          types.Amount // in asset A
	Notional     types.Amount // in asset B, floor(Price * Qty / Scale)
}

// MakerFill is how much of a single resting order's remaining quantity
// the taker consumed.
type MakerFill struct {
	OrderID string
	Qty     types.Amount
}

// Result is the full outcome of matching one taker order against one
// snapshot of the opposite book side.
type Result struct {
	Trades        []Trade
	MakerFills    []MakerFill
	TakerFilled   types.Amount // total quantity filled
	TakerResidual types.Amount // unfilled quantity remaining (rests if GTC)
}

// Match crosses taker against opposite, which must already be ordered
// best-price-first with FIFO order preserved within each price level
// (as returned by orderbook.Book.OppositeViews). It stops as soon as
// the best remaining opposite price no longer crosses the taker's
// limit, or the taker is fully filled.
func Match(taker Taker, opposite []orderbook.MakerView) Result {
	var res Result
	remainingQty := taker.Qty

	for _, maker := range opposite {
		if remainingQty <= 0 {
			break
		}
		if !crosses(taker.Side, taker.Price, maker.Price) {
			break
		}

		fillQty := maker.Qty
		if remainingQty < fillQty {
			fillQty = remainingQty
		}
		if fillQty <= 0 {
			continue
		}

		remainingQty -= fillQty
		res.TakerFilled += fillQty
		res.MakerFills = append(res.MakerFills, MakerFill{OrderID: maker.OrderID, Qty: fillQty})
		res.Trades = append(res.Trades, Trade{
			TakerOrderID: taker.OrderID,
			TakerMsgID:   taker.MsgID,
			TakerUser:    taker.User,
			MakerOrderID: maker.OrderID,
			MakerMsgID:   maker.MsgID,
			MakerUser:    maker.User,
			Price:        maker.Price,
			Qty:          fillQty,
			Notional:     maker.Price.Notional(fillQty),
		})
	}

	res.TakerResidual = remainingQty
	return res
}

// crosses reports whether a taker on the given side at takerPrice is
// willing to trade against a resting order at makerPrice: a buyer
// crosses any ask at or below its limit, a seller crosses any bid at or
// above its limit.
func crosses(takerSide types.Side, takerPrice, makerPrice types.Price) bool {
	if takerSide == types.Buy {
		return makerPrice <= takerPrice
	}
	return makerPrice >= takerPrice
}
