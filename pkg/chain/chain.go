// Package chain defines the venue's boundary with the underlying chain:
// an interface for submitting settlement transactions and one for
// polling deposit events, mirroring the Application-interface seam the
// teacher uses to decouple its executor from a concrete consensus
// backend. EthClient (ethclient.go) is the go-ethereum-backed
// implementation; tests use the in-memory Fake (fake.go).
package chain

import (
	"context"

	"github.com/duskpool/venue/pkg/queue"
)

// Cursor is an opaque position in the chain's event log. For an
// EVM-style chain this is a block number plus a log index, but callers
// should treat it as opaque and persist it via pkg/storage.
type Cursor struct {
	BlockNumber uint64
	LogIndex    uint64
}

// Less reports whether c sorts strictly before other, used by the
// ingestor to decide whether a freshly polled cursor has advanced.
func (c Cursor) Less(other Cursor) bool {
	if c.BlockNumber != other.BlockNumber {
		return c.BlockNumber < other.BlockNumber
	}
	return c.LogIndex < other.LogIndex
}

// DepositEventSource polls the chain for deposit events strictly after
// from, returning them in ascending (block, log index) order along with
// the cursor of the last event returned (or, if none, a cursor no
// earlier than from).
type DepositEventSource interface {
	PollDeposits(ctx context.Context, from Cursor) ([]queue.DepositEvent, Cursor, error)
}

// Submitter submits a settlement action on-chain and returns the
// transaction hash once it is accepted into the mempool. It does not
// block for confirmation; pkg/processor polls for finality separately.
type Submitter interface {
	SubmitSettle(ctx context.Context, intent queue.SettleIntent) (txHash string, err error)
	SubmitWithdraw(ctx context.Context, intent queue.WithdrawIntent) (txHash string, err error)
	IsConfirmed(ctx context.Context, txHash string) (confirmed bool, failed bool, err error)
}
