// Package queue defines the two channel-backed queues that decouple API
// request handling from the venue's two single-owner loops: the
// incoming queue (many API goroutines producing, one executor
// consuming) and the outgoing queue (the executor producing one
// OutgoingIntent per settlement, one processor goroutine consuming and
// submitting to chain).
package queue

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duskpool/venue/pkg/types"
)

// IncomingKind distinguishes the request shapes the executor dispatches
// on. The first four originate from the API or the ingestor;
// IncomingSettlementResult originates from pkg/processor reporting back
// the outcome of a previously emitted OutgoingIntent, so that ledger
// compensation on terminal failure is still applied only by the
// executor's single goroutine.
type IncomingKind int

const (
	IncomingOrder IncomingKind = iota
	IncomingCancel
	IncomingWithdrawal
	IncomingDeposit
	IncomingSettlementResult
)

// Incoming is one unit of work enqueued for the executor. Exactly one
// of the Order/Cancel/Withdrawal/Deposit/SettlementResult fields is
// populated, selected by Kind.
type Incoming struct {
	MessageID string
	Kind      IncomingKind

	Order            *OrderRequest
	Cancel           *CancelRequest
	Withdrawal       *WithdrawalRequest
	Deposit          *DepositEvent
	SettlementResult *SettlementResult
}

// SettlementResult reports the terminal outcome of submitting one
// OutgoingIntent: either confirmed on-chain or failed out after
// exhausting retries.
type SettlementResult struct {
	MessageID string
	Kind      OutgoingIntentKind
	TxHash    string
	Confirmed bool
	Failed    bool

	// Withdraw echoes the original WithdrawIntent when Kind is
	// IntentWithdraw, so the executor can compensate the user's
	// available balance on terminal failure without having to keep its
	// own table of outstanding intents (spec.md §4.5's compensation
	// step). Unset for IntentSettle, which needs no compensation.
	Withdraw *WithdrawIntent
}

// OrderRequest carries a new order from the API boundary into the
// executor. It has no order_id: that is minted by the executor's
// handleOrder, the sole owner of the book's ID space, per spec.md's
// "order_id (monotonic per process)".
type OrderRequest struct {
	User  common.Address
	Side  types.Side
	Price types.Price
	Qty   types.Amount
}

type CancelRequest struct {
	OrderID string
	User    common.Address
}

type WithdrawalRequest struct {
	User   common.Address
	Asset  types.Asset
	Amount types.Amount
}

// DepositEvent mirrors a decoded on-chain deposit log, carried from
// pkg/ingestor to the executor through the incoming queue so that all
// ledger mutation happens on the executor's single goroutine.
type DepositEvent struct {
	TxHash     string
	EventIndex uint64
	User       common.Address
	Asset      types.Asset
	Amount     types.Amount
}

// IncomingQueue is an MPSC channel: any number of API handlers, the
// ingestor, and the processor (settlement results) send on it; the
// executor is its only receiver.
type IncomingQueue struct {
	ch chan Incoming
}

func NewIncoming(capacity int) *IncomingQueue {
	return &IncomingQueue{ch: make(chan Incoming, capacity)}
}

// Send enqueues item, blocking if the queue is full until ctx is done.
func (q *IncomingQueue) Send(ctx context.Context, item Incoming) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive is called only by the executor's consumer loop.
func (q *IncomingQueue) Receive() <-chan Incoming {
	return q.ch
}

// OutgoingIntentKind distinguishes the two chain operations the
// processor can submit.
type OutgoingIntentKind int

const (
	IntentSettle OutgoingIntentKind = iota
	IntentWithdraw
)

// SettleIntent carries everything the chain contract's atomic settle()
// call needs: both legs of a trade, so a single transaction moves
// asset_sold from seller to buyer and asset_bought from buyer to
// seller.
type SettleIntent struct {
	TradeID      string
	Buyer        common.Address
	Seller       common.Address
	AssetSold    types.Asset
	AmountSold   types.Amount
	AssetBought  types.Asset
	AmountBought types.Amount
}

// WithdrawIntent carries a single-user payout.
type WithdrawIntent struct {
	User   common.Address
	Asset  types.Asset
	Amount types.Amount
}

// OutgoingIntent is the action the executor has decided must be
// submitted on-chain, per spec.md §4.1's OutgoingIntent sum type.
// Exactly one of Settle/Withdraw is populated, selected by Kind.
type OutgoingIntent struct {
	MessageID string
	Kind      OutgoingIntentKind
	Settle    *SettleIntent
	Withdraw  *WithdrawIntent
}

// OutgoingQueue is an SPSC channel: only the executor sends, only the
// processor receives, preserving submission order.
type OutgoingQueue struct {
	ch chan OutgoingIntent
}

func NewOutgoing(capacity int) *OutgoingQueue {
	return &OutgoingQueue{ch: make(chan OutgoingIntent, capacity)}
}

func (q *OutgoingQueue) Send(ctx context.Context, item OutgoingIntent) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *OutgoingQueue) Receive() <-chan OutgoingIntent {
	return q.ch
}
