package ingestor

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

func TestPollForwardsNewDeposits(t *testing.T) {
	fake := chain.NewFake()
	fake.Enqueue(alice, types.AssetA, 100, "0xabc")

	out := queue.NewIncoming(4)
	ing := New(fake, out, nil, DefaultConfig(), zap.NewNop())

	ing.poll(context.Background())

	select {
	case item := <-out.Receive():
		if item.Kind != queue.IncomingDeposit || item.Deposit.Amount != 100 {
			t.Errorf("item = %+v", item)
		}
	default:
		t.Fatal("expected a deposit to be enqueued")
	}
}

func TestPollDoesNotReenqueueSameCursor(t *testing.T) {
	fake := chain.NewFake()
	fake.Enqueue(alice, types.AssetA, 100, "0xabc")

	out := queue.NewIncoming(4)
	ing := New(fake, out, nil, DefaultConfig(), zap.NewNop())

	ing.poll(context.Background())
	<-out.Receive()

	ing.poll(context.Background())
	select {
	case item := <-out.Receive():
		t.Fatalf("unexpected second enqueue: %+v", item)
	default:
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fake := chain.NewFake()
	out := queue.NewIncoming(4)
	cfg := Config{PollInterval: 5 * time.Millisecond}
	ing := New(fake, out, nil, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ing.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
