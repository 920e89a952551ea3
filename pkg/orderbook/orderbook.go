// Package orderbook holds the resting-order state for the A/B market:
// price-level FIFO queues plus a heap over occupied price levels for
// O(1) best-bid/best-ask lookup, and an order-ID index that finds a
// resting order's price level for cancel; the cancel itself scans that
// level's queue and, when the level empties, the heap. It never
// decides whether two orders cross — that is pkg/matching's job — so
// every exported mutator here is either a pure insert/remove or the
// mechanical application of a matching decision. Persistence mirrors
// pkg/messages: every mutation snapshots the touched order to Pebble,
// and Load rebuilds the book's maps and heaps at startup.
package orderbook

import (
	"container/heap"
	"encoding/json"
	"sort"
	"sync"

	"github.com/duskpool/venue/pkg/storage"
	"github.com/duskpool/venue/pkg/types"
)

// Book is the resting-order state for one market (A priced in units of
// B). The executor is the book's only writer; reads may come from any
// goroutine (API snapshots), hence the RWMutex.
type Book struct {
	mu sync.RWMutex

	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	bids map[types.Price][]*RestingOrder
	asks map[types.Price][]*RestingOrder

	orderPrice map[string]types.Price
	orderSide  map[string]types.Side

	lastPrice types.Price
	nextSeq   uint64

	persist *storage.Store
}

func New(persist *storage.Store) *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap:    bidHeap,
		askHeap:    askHeap,
		bids:       make(map[types.Price][]*RestingOrder),
		asks:       make(map[types.Price][]*RestingOrder),
		orderPrice: make(map[string]types.Price),
		orderSide:  make(map[string]types.Side),
		persist:    persist,
	}
}

// Load restores all persisted resting orders into memory, re-populating
// the price-level queues and heaps. Call once at startup, before the
// executor begins consuming the incoming queue.
func (b *Book) Load() error {
	if b.persist == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.persist.IteratePrefix(storage.OrderPrefix(), func(value []byte) error {
		var o RestingOrder
		if err := json.Unmarshal(value, &o); err != nil {
			return err
		}
		order := o
		if order.Side == types.Buy {
			if len(b.bids[order.Price]) == 0 {
				heap.Push(b.bidHeap, order.Price)
			}
			b.bids[order.Price] = append(b.bids[order.Price], &order)
		} else {
			if len(b.asks[order.Price]) == 0 {
				heap.Push(b.askHeap, order.Price)
			}
			b.asks[order.Price] = append(b.asks[order.Price], &order)
		}
		b.orderPrice[order.ID] = order.Price
		b.orderSide[order.ID] = order.Side
		if order.Sequence > b.nextSeq {
			b.nextSeq = order.Sequence
		}
		return nil
	}); err != nil {
		return err
	}

	// Pebble iterates in key order, not arrival order, so each price
	// level's FIFO queue must be re-sorted by Sequence after loading.
	for _, level := range b.bids {
		sort.Slice(level, func(i, j int) bool { return level[i].Sequence < level[j].Sequence })
	}
	for _, level := range b.asks {
		sort.Slice(level, func(i, j int) bool { return level[i].Sequence < level[j].Sequence })
	}
	return nil
}

// AllOrderIDs returns the IDs of every resting order, for the
// executor's order_id counter to seed past the highest ID seen on
// restart.
func (b *Book) AllOrderIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.orderPrice))
	for id := range b.orderPrice {
		ids = append(ids, id)
	}
	return ids
}

func (b *Book) saveLocked(o *RestingOrder) error {
	if b.persist == nil {
		return nil
	}
	return b.persist.PutJSON(storage.OrderKey(o.ID), o)
}

func (b *Book) deleteLocked(id string) error {
	if b.persist == nil {
		return nil
	}
	return b.persist.Delete(storage.OrderKey(id))
}

// NextSequence returns the next monotonically increasing arrival
// sequence number, used to tiebreak FIFO ordering within a price level.
func (b *Book) NextSequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	return b.nextSeq
}

// Insert adds a resting order to its side's price level, creating the
// level (and pushing it onto the heap) if it is new.
func (b *Book) Insert(o *RestingOrder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.Side == types.Buy {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
	b.orderPrice[o.ID] = o.Price
	b.orderSide[o.ID] = o.Side
	return b.saveLocked(o)
}

// Get returns a copy of the resting order with the given ID, without
// removing it. Used by the executor's cancel handler to check
// ownership before mutating anything.
func (b *Book) Get(id string) (RestingOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	price, ok := b.orderPrice[id]
	if !ok {
		return RestingOrder{}, false
	}
	side := b.orderSide[id]
	levels := b.bids
	if side == types.Sell {
		levels = b.asks
	}
	for _, o := range levels[price] {
		if o.ID == id {
			return *o, true
		}
	}
	return RestingOrder{}, false
}

// Remove cancels a resting order by ID, returning it and true on
// success. The orderPrice/orderSide index finds the level in O(1); the
// order is then found by an O(n) scan of the FIFO queue at that price,
// and an emptied level is removed from the heap by an O(n) scan.
func (b *Book) Remove(id string) (*RestingOrder, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *Book) removeLocked(id string) (*RestingOrder, bool, error) {
	price, ok := b.orderPrice[id]
	if !ok {
		return nil, false, nil
	}
	side := b.orderSide[id]

	levels := b.bids
	h := (heap.Interface)(b.bidHeap)
	if side == types.Sell {
		levels = b.asks
		h = b.askHeap
	}

	arr := levels[price]
	for i, o := range arr {
		if o.ID == id {
			levels[price] = append(arr[:i], arr[i+1:]...)
			if len(levels[price]) == 0 {
				delete(levels, price)
				removeLevel(h, price, side)
			}
			delete(b.orderPrice, id)
			delete(b.orderSide, id)
			return o, true, b.deleteLocked(id)
		}
	}
	return nil, false, nil
}

func removeLevel(h heap.Interface, price types.Price, side types.Side) {
	if side == types.Buy {
		bh := h.(*MaxPriceHeap)
		for i := 0; i < bh.Len(); i++ {
			if (*bh)[i] == price {
				heap.Remove(bh, i)
				return
			}
		}
		return
	}
	ah := h.(*MinPriceHeap)
	for i := 0; i < ah.Len(); i++ {
		if (*ah)[i] == price {
			heap.Remove(ah, i)
			return
		}
	}
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (types.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (types.Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// OppositeViews returns a price-time ordered, read-only snapshot of the
// resting side opposite to takerSide: asks (low to high) when the taker
// buys, bids (high to low) when the taker sells. Handed to
// pkg/matching.Match, which only reads it.
func (b *Book) OppositeViews(takerSide types.Side) []MakerView {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []MakerView
	if takerSide == types.Buy {
		prices := append([]types.Price(nil), (*b.askHeap)...)
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
		for _, p := range prices {
			for _, o := range b.asks[p] {
				out = append(out, MakerView{OrderID: o.ID, MsgID: o.MsgID, User: o.User, Price: o.Price, Qty: o.Qty})
			}
		}
	} else {
		prices := append([]types.Price(nil), (*b.bidHeap)...)
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
		for _, p := range prices {
			for _, o := range b.bids[p] {
				out = append(out, MakerView{OrderID: o.ID, MsgID: o.MsgID, User: o.User, Price: o.Price, Qty: o.Qty})
			}
		}
	}
	return out
}

// ApplyFills reduces or removes the named resting orders by the given
// filled quantities (as decided by pkg/matching.Match) and records the
// trade price as the new last price. filled must be keyed by OrderID
// and each value must not exceed that order's remaining Qty.
func (b *Book) ApplyFills(filled map[string]types.Amount, lastPrice types.Price) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	noteErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for id, qty := range filled {
		price, ok := b.orderPrice[id]
		if !ok {
			continue
		}
		side := b.orderSide[id]
		levels := b.bids
		if side == types.Sell {
			levels = b.asks
		}
		var touched *RestingOrder
		for _, o := range levels[price] {
			if o.ID == id {
				o.Qty -= qty
				touched = o
				break
			}
		}
		if remaining(levels[price], id) <= 0 {
			_, _, err := b.removeLocked(id)
			noteErr(err)
		} else if touched != nil {
			noteErr(b.saveLocked(touched))
		}
	}
	if lastPrice > 0 {
		b.lastPrice = lastPrice
	}
	return firstErr
}

func remaining(arr []*RestingOrder, id string) types.Amount {
	for _, o := range arr {
		if o.ID == id {
			return o.Qty
		}
	}
	return 0
}

// LastPrice returns the price of the most recent fill, or 0 if none.
func (b *Book) LastPrice() types.Price {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPrice
}
