// Package ingestor implements the Deposit Ingestor: a single background
// goroutine that polls the chain for deposit events, advances a
// persisted cursor, and forwards each new event onto the executor's
// incoming queue exactly once per (tx_hash, event_index) even across
// restarts. The ticker/cancel shape is grounded on the teacher's
// retry worker; the dedup mechanism is new to this domain.
package ingestor

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/duskpool/venue/pkg/chain"
	"github.com/duskpool/venue/pkg/queue"
	"github.com/duskpool/venue/pkg/storage"
)

// Config controls polling cadence.
type Config struct {
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{PollInterval: 5 * time.Second}
}

// Ingestor polls a chain.DepositEventSource and pushes new deposits
// onto an incoming queue, deduplicating by (tx_hash, event_index) so
// that at-least-once delivery from the chain client never becomes
// at-least-once application of a deposit.
type Ingestor struct {
	source  chain.DepositEventSource
	out     *queue.IncomingQueue
	persist *storage.Store
	cfg     Config
	log     *zap.Logger

	cursor chain.Cursor

	heartbeat atomic.Int64
}

func New(source chain.DepositEventSource, out *queue.IncomingQueue, persist *storage.Store, cfg Config, log *zap.Logger) *Ingestor {
	return &Ingestor{source: source, out: out, persist: persist, cfg: cfg, log: log}
}

// Heartbeat returns the Unix-nanosecond timestamp of the last completed
// poll, for the health endpoint.
func (ing *Ingestor) Heartbeat() int64 {
	return ing.heartbeat.Load()
}

// Load restores the last-persisted cursor, if any. Call once at
// startup before Run.
func (ing *Ingestor) Load() error {
	if ing.persist == nil {
		return nil
	}
	var c chain.Cursor
	found, err := ing.persist.GetJSON(storage.CursorKey(), &c)
	if err != nil {
		return err
	}
	if found {
		ing.cursor = c
	}
	return nil
}

// Run polls until ctx is cancelled. Each poll is best-effort: a
// transient chain RPC error is logged and retried on the next tick
// rather than aborting the loop.
func (ing *Ingestor) Run(ctx context.Context) {
	ticker := time.NewTicker(ing.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ing.poll(ctx)
			ing.heartbeat.Store(time.Now().UnixNano())
		}
	}
}

func (ing *Ingestor) poll(ctx context.Context) {
	events, next, err := ing.source.PollDeposits(ctx, ing.cursor)
	if err != nil {
		ing.log.Warn("deposit poll failed", zap.Error(err))
		return
	}
	if len(events) == 0 {
		return
	}

	for _, ev := range events {
		dedupKey := storage.DepositDedupKey(ev.TxHash, ev.EventIndex)
		if ing.alreadySeen(dedupKey) {
			continue
		}
		item := queue.Incoming{
			MessageID: ev.TxHash + ":" + strconv.FormatUint(ev.EventIndex, 10),
			Kind:      queue.IncomingDeposit,
			Deposit:   &queue.DepositEvent{TxHash: ev.TxHash, EventIndex: ev.EventIndex, User: ev.User, Asset: ev.Asset, Amount: ev.Amount},
		}
		if err := ing.out.Send(ctx, item); err != nil {
			ing.log.Warn("failed to enqueue deposit, will retry next poll", zap.String("tx_hash", ev.TxHash), zap.Error(err))
			return
		}
		ing.markSeen(dedupKey)
	}

	ing.cursor = next
	if ing.persist != nil {
		if err := ing.persist.PutJSON(storage.CursorKey(), ing.cursor); err != nil {
			ing.log.Warn("failed to persist cursor", zap.Error(err))
		}
	}
}

func (ing *Ingestor) alreadySeen(key []byte) bool {
	if ing.persist == nil {
		return false
	}
	var seen bool
	found, err := ing.persist.GetJSON(key, &seen)
	return err == nil && found
}

func (ing *Ingestor) markSeen(key []byte) {
	if ing.persist == nil {
		return
	}
	if err := ing.persist.PutJSON(key, true); err != nil {
		ing.log.Warn("failed to persist deposit dedup key", zap.Error(err))
	}
}
