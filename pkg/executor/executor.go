// Package executor implements the Main Executor: the single-consumer
// serializer that drains the incoming queue and applies each message
// atomically against the Ledger, Order Book, and Message Store, per
// spec.md §4.4. It is grounded on the teacher's perp.App dispatch loop
// (FinalizeBlock/applyTx), rewired to pull continuously from a channel
// instead of a per-block transaction batch, since there is no
// consensus layer between submission and execution here.
package executor

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/duskpool/venue/pkg/ledger"
	"github.com/duskpool/venue/pkg/matching"
	"github.com/duskpool/venue/pkg/messages"
	"github.com/duskpool/venue/pkg/orderbook"
	"github.com/duskpool/venue/pkg/queue"
	"github.com/duskpool/venue/pkg/storage"
	"github.com/duskpool/venue/pkg/types"
	"github.com/duskpool/venue/pkg/util"
)

// TradeBroadcaster is invoked once per trade, adapted from the
// teacher's app.go OnTrade callback so the API layer can fan a fill
// out to WebSocket subscribers without the executor knowing anything
// about transport.
type TradeBroadcaster func(Trade)

// Executor is the venue's single-consumer serializer. It is the sole
// writer of Ledger, Book, and (for request-originated transitions)
// Messages; pkg/processor writes the settlement-outcome transitions
// separately, a disjoint partition of Message Store fields per
// spec.md §5's shared-resource policy.
type Executor struct {
	ledger   *ledger.Ledger
	book     *orderbook.Book
	messages *messages.Store
	trades   *tradeLog

	incoming *queue.IncomingQueue
	outgoing *queue.OutgoingQueue

	clock   util.Clock
	log     *zap.Logger
	onTrade TradeBroadcaster

	heartbeat   atomic.Int64
	nextOrderID atomic.Uint64
}

func New(
	l *ledger.Ledger,
	book *orderbook.Book,
	msgs *messages.Store,
	incoming *queue.IncomingQueue,
	outgoing *queue.OutgoingQueue,
	persist *storage.Store,
	clock util.Clock,
	log *zap.Logger,
	onTrade TradeBroadcaster,
) *Executor {
	return &Executor{
		ledger:   l,
		book:     book,
		messages: msgs,
		trades:   newTradeLog(persist),
		incoming: incoming,
		outgoing: outgoing,
		clock:    clock,
		log:      log,
		onTrade:  onTrade,
	}
}

// Load restores the trade log from persistence, and seeds the order_id
// counter past the highest ID resting in the book so restarts never
// reissue an order_id already in use. Call once at startup, after
// messages.Store.Load and orderbook.Book.Load, before Run.
func (e *Executor) Load() error {
	if err := e.trades.load(); err != nil {
		return err
	}
	var maxSeq uint64
	for _, id := range e.book.AllOrderIDs() {
		if seq, ok := parseOrderSeq(id); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	e.nextOrderID.Store(maxSeq)
	return nil
}

// nextOrderIDStr mints a globally unique, monotonic order_id, per
// spec.md's "order_id (monotonic per process)" — allocated here, inside
// the handler that owns the book, never at the API boundary.
func (e *Executor) nextOrderIDStr() string {
	n := e.nextOrderID.Add(1)
	return "order-" + strconv.FormatUint(n, 10)
}

func parseOrderSeq(orderID string) (uint64, bool) {
	n, err := strconv.ParseUint(strings.TrimPrefix(orderID, "order-"), 10, 64)
	return n, err == nil
}

// RecentTrades returns up to limit of the most recently executed
// trades, for the API's trade-history surface.
func (e *Executor) RecentTrades(limit int) []Trade {
	return e.trades.Recent(limit)
}

// Heartbeat returns the Unix-nanosecond timestamp of the last message
// this executor processed, for the health endpoint's liveness check.
func (e *Executor) Heartbeat() int64 {
	return e.heartbeat.Load()
}

// Run consumes the incoming queue until ctx is cancelled. Each message
// is handled to completion — no handler suspends on I/O — before the
// next is dequeued, preserving strict FIFO order per spec.md §5.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-e.incoming.Receive():
			if !ok {
				return
			}
			e.handle(ctx, item)
			e.heartbeat.Store(e.clock.Now().UnixNano())
		}
	}
}

func (e *Executor) handle(ctx context.Context, item queue.Incoming) {
	switch item.Kind {
	case queue.IncomingOrder:
		e.handleOrder(ctx, item.MessageID, item.Order)
	case queue.IncomingCancel:
		e.handleCancel(item.MessageID, item.Cancel)
	case queue.IncomingWithdrawal:
		e.handleWithdrawal(ctx, item.MessageID, item.Withdrawal)
	case queue.IncomingDeposit:
		e.handleDeposit(item.MessageID, item.Deposit)
	case queue.IncomingSettlementResult:
		e.handleSettlementResult(item.MessageID, item.SettlementResult)
	default:
		e.log.Warn("unknown incoming kind", zap.Int("kind", int(item.Kind)))
	}
}

// reject marks msgID Rejected with detail, logging failures to do so
// (which indicate the message was already past Received — a bug
// upstream, since every kind's Rejected transition is only ever
// attempted from the handler that first looks at the message).
func (e *Executor) reject(msgID, detail string, now time.Time) {
	if err := e.messages.Transition(msgID, types.StatusRejected, detail, now); err != nil {
		e.log.Error("failed to reject message", zap.String("message_id", msgID), zap.Error(err))
	}
}

// handleDeposit implements §4.4.1: idempotent on message_id, which the
// ingestor mints as "{tx_hash}:{event_index}" — a duplicate delivery
// of the same on-chain event lands on an already-created message and
// is ignored.
func (e *Executor) handleDeposit(msgID string, dep *queue.DepositEvent) {
	now := e.clock.Now()
	if _, err := e.messages.Get(msgID); err == nil {
		return
	}
	if _, err := e.messages.Create(msgID, types.KindDeposit, dep.User, now); err != nil {
		e.log.Error("failed to create deposit message", zap.String("message_id", msgID), zap.Error(err))
		return
	}

	if err := e.ledger.MarkPending(dep.User, dep.Asset, dep.Amount); err != nil {
		e.log.Error("failed to persist pending deposit", zap.String("message_id", msgID), zap.Error(err))
	}
	if err := e.ledger.ClearPending(dep.User, dep.Asset, dep.Amount); err != nil {
		e.log.Error("pending-deposit invariant violation", zap.String("message_id", msgID), zap.Error(err))
	}
	if err := e.ledger.Credit(dep.User, dep.Asset, dep.Amount); err != nil {
		e.log.Error("failed to persist deposit credit", zap.String("message_id", msgID), zap.Error(err))
	}

	if err := e.messages.Transition(msgID, types.StatusSettlementConfirmed, "", now); err != nil {
		e.log.Error("failed to confirm deposit message", zap.String("message_id", msgID), zap.Error(err))
	}
}

// handleOrder implements §4.4.2.
func (e *Executor) handleOrder(ctx context.Context, msgID string, req *queue.OrderRequest) {
	now := e.clock.Now()

	if req.Price <= 0 || req.Qty <= 0 {
		e.reject(msgID, "price and quantity must be positive", now)
		return
	}

	reserveAsset, reserveAmount := reservationFor(req.Side, req.Price, req.Qty)
	if err := e.ledger.Reserve(req.User, reserveAsset, reserveAmount); err != nil {
		e.reject(msgID, "insufficient available balance", now)
		return
	}

	if err := e.messages.Transition(msgID, types.StatusAccepted, "", now); err != nil {
		e.log.Error("failed to accept order message", zap.String("message_id", msgID), zap.Error(err))
		return
	}

	orderID := e.nextOrderIDStr()
	if err := e.messages.SetOrderID(msgID, orderID); err != nil {
		e.log.Error("failed to record order_id", zap.String("message_id", msgID), zap.Error(err))
	}

	taker := matching.Taker{OrderID: orderID, MsgID: msgID, User: req.User, Side: req.Side, Price: req.Price, Qty: req.Qty}
	opposite := e.book.OppositeViews(req.Side)
	result := matching.Match(taker, opposite)

	var lastPrice types.Price
	for _, t := range result.Trades {
		e.settleTrade(ctx, taker, t, now)
		lastPrice = t.Price
	}

	if len(result.MakerFills) > 0 {
		filled := make(map[string]types.Amount, len(result.MakerFills))
		for _, mf := range result.MakerFills {
			filled[mf.OrderID] += mf.Qty
		}
		if err := e.book.ApplyFills(filled, lastPrice); err != nil {
			e.log.Error("failed to persist fills", zap.String("message_id", msgID), zap.Error(err))
		}
	}

	if result.TakerResidual > 0 {
		if err := e.book.Insert(&orderbook.RestingOrder{
			ID:       orderID,
			MsgID:    msgID,
			User:     req.User,
			Side:     req.Side,
			Price:    req.Price,
			Qty:      result.TakerResidual,
			Sequence: e.book.NextSequence(),
		}); err != nil {
			e.log.Error("failed to persist resting order", zap.String("order_id", orderID), zap.Error(err))
		}
	}
}

// reservationFor computes the asset/amount an order reserves at
// submission: a buyer locks the B-side notional at their own limit
// price, a seller locks the A-side quantity outright.
func reservationFor(side types.Side, price types.Price, qty types.Amount) (types.Asset, types.Amount) {
	if side == types.Buy {
		return types.AssetB, price.Notional(qty)
	}
	return types.AssetA, qty
}

// settleTrade applies the ledger consequences of one trade (§4.4.2
// step 5) and enqueues the corresponding Settle intent (step 6). The
// buyer's per-fill reservation was computed at the taker's own limit
// price only when the buyer is the taker; the leftover between that
// reservation and the trade's actual (maker) notional is released back
// in that case. A buyer resting as maker reserved at exactly the trade
// price already, so no release is ever needed on that path — nor on
// the seller's side, whose reservation is quantity-based and price
// independent either way.
func (e *Executor) settleTrade(ctx context.Context, taker matching.Taker, t matching.Trade, now time.Time) {
	buyer, seller := counterparties(taker.Side, t)

	if err := e.ledger.Consume(seller, types.AssetA, t.Qty); err != nil {
		e.log.Error("seller consume invariant violation", zap.String("trade", t.MakerOrderID), zap.Error(err))
	}
	if err := e.ledger.Credit(seller, types.AssetB, t.Notional); err != nil {
		e.log.Error("failed to persist seller credit", zap.String("trade", t.MakerOrderID), zap.Error(err))
	}

	if err := e.ledger.Credit(buyer, types.AssetA, t.Qty); err != nil {
		e.log.Error("failed to persist buyer credit", zap.String("trade", t.MakerOrderID), zap.Error(err))
	}
	if err := e.ledger.Consume(buyer, types.AssetB, t.Notional); err != nil {
		e.log.Error("buyer consume invariant violation", zap.String("trade", t.MakerOrderID), zap.Error(err))
	}
	if taker.Side == types.Buy {
		reservedAtLimit := taker.Price.Notional(t.Qty)
		if reservedAtLimit > t.Notional {
			if err := e.ledger.Release(buyer, types.AssetB, reservedAtLimit-t.Notional); err != nil {
				e.log.Error("price-improvement release failed", zap.Error(err))
			}
		}
	}

	tradeID := e.trades.nextID()
	record := Trade{
		TradeID:      tradeID,
		Buyer:        buyer,
		Seller:       seller,
		Price:        t.Price,
		Quantity:     t.Qty,
		TakerOrderID: t.TakerOrderID,
		MakerOrderID: t.MakerOrderID,
		CreatedAt:    now,
	}
	if err := e.trades.append(record); err != nil {
		e.log.Error("failed to persist trade", zap.String("trade_id", tradeID), zap.Error(err))
	}
	if err := e.messages.AppendTradeID(taker.MsgID, tradeID); err != nil {
		e.log.Error("failed to record trade_id on taker message", zap.String("message_id", taker.MsgID), zap.Error(err))
	}
	if err := e.messages.AppendTradeID(t.MakerMsgID, tradeID); err != nil {
		e.log.Error("failed to record trade_id on maker message", zap.String("message_id", t.MakerMsgID), zap.Error(err))
	}

	intent := queue.OutgoingIntent{
		Kind: queue.IntentSettle,
		Settle: &queue.SettleIntent{
			TradeID:      tradeID,
			Buyer:        buyer,
			Seller:       seller,
			AssetSold:    types.AssetA,
			AmountSold:   t.Qty,
			AssetBought:  types.AssetB,
			AmountBought: t.Notional,
		},
	}
	if err := e.outgoing.Send(ctx, intent); err != nil {
		e.log.Warn("failed to enqueue settle intent", zap.String("trade_id", tradeID), zap.Error(err))
	}

	if e.onTrade != nil {
		e.onTrade(record)
	}
}

// handleCancel implements §4.4.3.
func (e *Executor) handleCancel(msgID string, req *queue.CancelRequest) {
	now := e.clock.Now()

	order, ok := e.book.Get(req.OrderID)
	if !ok || order.User != req.User {
		e.reject(msgID, "order not found or not owned", now)
		return
	}

	asset, amount := reservationFor(order.Side, order.Price, order.Qty)
	if _, _, err := e.book.Remove(req.OrderID); err != nil {
		e.log.Error("failed to persist cancel", zap.String("order_id", req.OrderID), zap.Error(err))
	}
	if err := e.ledger.Release(req.User, asset, amount); err != nil {
		e.log.Error("cancel release invariant violation", zap.String("order_id", req.OrderID), zap.Error(err))
	}

	if err := e.messages.Transition(msgID, types.StatusSettlementConfirmed, "", now); err != nil {
		e.log.Error("failed to confirm cancel message", zap.String("message_id", msgID), zap.Error(err))
	}
}

// handleWithdrawal implements §4.4.4.
func (e *Executor) handleWithdrawal(ctx context.Context, msgID string, req *queue.WithdrawalRequest) {
	now := e.clock.Now()

	if err := e.ledger.Debit(req.User, req.Asset, req.Amount); err != nil {
		e.reject(msgID, "insufficient available balance", now)
		return
	}

	if err := e.messages.Transition(msgID, types.StatusAccepted, "", now); err != nil {
		e.log.Error("failed to accept withdrawal message", zap.String("message_id", msgID), zap.Error(err))
		return
	}
	if err := e.messages.Transition(msgID, types.StatusSettlementPending, "", now); err != nil {
		e.log.Error("failed to mark withdrawal pending", zap.String("message_id", msgID), zap.Error(err))
		return
	}

	intent := queue.OutgoingIntent{
		MessageID: msgID,
		Kind:      queue.IntentWithdraw,
		Withdraw:  &queue.WithdrawIntent{User: req.User, Asset: req.Asset, Amount: req.Amount},
	}
	if err := e.outgoing.Send(ctx, intent); err != nil {
		e.log.Warn("failed to enqueue withdraw intent", zap.String("message_id", msgID), zap.Error(err))
	}
}

// handleSettlementResult implements §4.5's executor-side half of the
// processor handoff. A Settle intent carries no message_id — the
// off-chain ledger already reflects the trade regardless of on-chain
// outcome, per Open Question 1 — so only Withdraw results touch the
// Message Store and ledger here.
func (e *Executor) handleSettlementResult(msgID string, res *queue.SettlementResult) {
	if res.Kind != queue.IntentWithdraw {
		if res.Failed {
			e.log.Warn("settle intent failed terminally; ledger not reversed", zap.String("tx_hash", res.TxHash))
		}
		return
	}

	now := e.clock.Now()
	if res.TxHash != "" {
		if err := e.messages.SetTxHash(msgID, res.TxHash); err != nil {
			e.log.Error("failed to record withdrawal tx_hash", zap.String("message_id", msgID), zap.Error(err))
		}
	}
	if res.Confirmed {
		if err := e.messages.Transition(msgID, types.StatusSettlementConfirmed, "", now); err != nil {
			e.log.Error("failed to confirm withdrawal message", zap.String("message_id", msgID), zap.Error(err))
		}
		return
	}

	if res.Failed && res.Withdraw != nil {
		if err := e.ledger.Credit(res.Withdraw.User, res.Withdraw.Asset, res.Withdraw.Amount); err != nil {
			e.log.Error("failed to persist withdrawal refund", zap.String("message_id", msgID), zap.Error(err))
		}
		if err := e.messages.Transition(msgID, types.StatusSettlementFailed, "chain settlement failed", now); err != nil {
			e.log.Error("failed to fail withdrawal message", zap.String("message_id", msgID), zap.Error(err))
		}
	}
}

// counterparties maps a taker/maker trade pair onto buyer/seller
// identities, given which side of the book the taker crossed from.
func counterparties(takerSide types.Side, t matching.Trade) (buyer common.Address, seller common.Address) {
	if takerSide == types.Buy {
		return t.TakerUser, t.MakerUser
	}
	return t.MakerUser, t.TakerUser
}
