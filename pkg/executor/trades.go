package executor

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duskpool/venue/pkg/storage"
	"github.com/duskpool/venue/pkg/types"
)

// Trade is the immutable record of one match, per spec.md §3's Trade
// type. Unlike an Order, a Trade is never mutated after creation.
type Trade struct {
	TradeID      string
	Buyer        common.Address
	Seller       common.Address
	Price        types.Price
	Quantity     types.Amount
	TakerOrderID string
	MakerOrderID string
	CreatedAt    time.Time
}

// tradeLog is the executor's append-only trade history: a monotonic ID
// generator plus an optional Pebble-backed snapshot, read by the API's
// trade history.
type tradeLog struct {
	mu      sync.RWMutex
	trades  []Trade
	nextSeq uint64
	persist *storage.Store
}

func newTradeLog(persist *storage.Store) *tradeLog {
	return &tradeLog{persist: persist}
}

// nextID mints a globally unique, monotonic trade_id.
func (l *tradeLog) nextID() string {
	n := atomic.AddUint64(&l.nextSeq, 1)
	return "trade-" + strconv.FormatUint(n, 10)
}

func (l *tradeLog) append(t Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, t)
	if l.persist == nil {
		return nil
	}
	return l.persist.PutJSON(storage.TradeKey(t.TradeID), t)
}

// Recent returns up to limit of the most recently appended trades.
func (l *tradeLog) Recent(limit int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.trades) {
		limit = len(l.trades)
	}
	out := make([]Trade, limit)
	copy(out, l.trades[len(l.trades)-limit:])
	return out
}

func (l *tradeLog) load() error {
	if l.persist == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var maxSeq uint64
	err := l.persist.IteratePrefix(storage.TradePrefix(), func(value []byte) error {
		var t Trade
		if err := json.Unmarshal(value, &t); err != nil {
			return err
		}
		l.trades = append(l.trades, t)
		if seq, ok := parseTradeSeq(t.TradeID); ok && seq > maxSeq {
			maxSeq = seq
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.nextSeq = maxSeq
	return nil
}

func parseTradeSeq(tradeID string) (uint64, bool) {
	n, err := strconv.ParseUint(strings.TrimPrefix(tradeID, "trade-"), 10, 64)
	return n, err == nil
}
