package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duskpool/venue/pkg/queue"
	"github.com/duskpool/venue/pkg/types"
)

// Fake is an in-memory DepositEventSource and Submitter for tests,
// where there is no real chain to dial.
// Deposits are injected with Enqueue; submissions succeed immediately
// unless FailNext is set.
type Fake struct {
	mu       sync.Mutex
	pending  []queue.DepositEvent
	nextSeq  uint64
	sent     map[string]bool
	failNext bool
}

func NewFake() *Fake {
	return &Fake{sent: make(map[string]bool)}
}

// Enqueue makes a deposit event available to the next PollDeposits call.
func (f *Fake) Enqueue(user common.Address, asset types.Asset, amount types.Amount, txHash string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	f.pending = append(f.pending, queue.DepositEvent{
		TxHash:     txHash,
		EventIndex: f.nextSeq,
		User:       user,
		Asset:      asset,
		Amount:     amount,
	})
}

// FailNext makes the next SubmitSettle/SubmitWithdraw call return an
// error, to exercise pkg/processor's retry path.
func (f *Fake) FailNext() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = true
}

func (f *Fake) PollDeposits(_ context.Context, from Cursor) ([]queue.DepositEvent, Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []queue.DepositEvent
	cursor := from
	for _, ev := range f.pending {
		if ev.EventIndex <= from.LogIndex {
			continue
		}
		out = append(out, ev)
		cursor = Cursor{BlockNumber: from.BlockNumber, LogIndex: ev.EventIndex}
	}
	return out, cursor, nil
}

func (f *Fake) SubmitSettle(_ context.Context, _ queue.SettleIntent) (string, error) {
	return f.submit()
}

func (f *Fake) SubmitWithdraw(_ context.Context, _ queue.WithdrawIntent) (string, error) {
	return f.submit()
}

func (f *Fake) submit() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext {
		f.failNext = false
		return "", fmt.Errorf("chain: fake submission failure")
	}
	hash := fmt.Sprintf("0xfake%d", len(f.sent))
	f.sent[hash] = true
	return hash, nil
}

func (f *Fake) IsConfirmed(_ context.Context, txHash string) (confirmed bool, failed bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[txHash], false, nil
}
