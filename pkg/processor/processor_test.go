package processor

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/duskpool/venue/pkg/chain"
	"github.com/duskpool/venue/pkg/queue"
	"github.com/duskpool/venue/pkg/types"
)

var alice = common.HexToAddress("0x0000000000000000000000000000000000000001")

func fastBackoff() BackoffConfig {
	return BackoffConfig{Base: time.Millisecond, Multiplier: 2, Cap: 10 * time.Millisecond, MaxAttempts: 3}
}

func TestDriveReportsConfirmation(t *testing.T) {
	fake := chain.NewFake()
	out := queue.NewOutgoing(1)
	results := queue.NewIncoming(1)
	p := New(out, results, fake, fastBackoff(), zap.NewNop())
	p.confirmPoll = time.Millisecond

	ctx := context.Background()
	p.drive(ctx, withdrawIntent("m1"))

	select {
	case item := <-results.Receive():
		if !item.SettlementResult.Confirmed || item.SettlementResult.Failed {
			t.Errorf("result = %+v, want confirmed", item.SettlementResult)
		}
	default:
		t.Fatal("expected a settlement result to be reported")
	}
}

func withdrawIntent(messageID string) queue.OutgoingIntent {
	return queue.OutgoingIntent{
		MessageID: messageID,
		Kind:      queue.IntentWithdraw,
		Withdraw:  &queue.WithdrawIntent{User: alice, Asset: types.AssetA, Amount: 10},
	}
}

func TestDriveRetriesThenSucceeds(t *testing.T) {
	fake := chain.NewFake()
	fake.FailNext() // first attempt fails, second should succeed

	out := queue.NewOutgoing(1)
	results := queue.NewIncoming(1)
	p := New(out, results, fake, fastBackoff(), zap.NewNop())
	p.confirmPoll = time.Millisecond

	p.drive(context.Background(), withdrawIntent("m1"))

	item := <-results.Receive()
	if !item.SettlementResult.Confirmed {
		t.Errorf("result = %+v, want confirmed after retry", item.SettlementResult)
	}
}

func TestDriveReportsFailureAfterExhaustingRetries(t *testing.T) {
	fake := &alwaysFailSubmitter{}
	out := queue.NewOutgoing(1)
	results := queue.NewIncoming(1)
	p := New(out, results, fake, fastBackoff(), zap.NewNop())

	p.drive(context.Background(), withdrawIntent("m1"))

	item := <-results.Receive()
	if item.SettlementResult.Confirmed || !item.SettlementResult.Failed {
		t.Errorf("result = %+v, want failed", item.SettlementResult)
	}
}

type alwaysFailSubmitter struct{}

func (alwaysFailSubmitter) SubmitSettle(ctx context.Context, intent queue.SettleIntent) (string, error) {
	return "", errAlwaysFail
}

func (alwaysFailSubmitter) SubmitWithdraw(ctx context.Context, intent queue.WithdrawIntent) (string, error) {
	return "", errAlwaysFail
}

func (alwaysFailSubmitter) IsConfirmed(ctx context.Context, txHash string) (bool, bool, error) {
	return false, false, nil
}

var errAlwaysFail = &fakeErr{"submission always fails"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }
