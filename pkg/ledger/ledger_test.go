package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duskpool/venue/pkg/types"
)

var alice = common.HexToAddress("0x0000000000000000000000000000000000000001")

func TestCreditAndGetBalance(t *testing.T) {
	l := New(nil)
	l.Credit(alice, types.AssetA, 100)
	l.Credit(alice, types.AssetA, 50)

	b := l.GetBalance(alice, types.AssetA)
	if b.Available != 150 {
		t.Errorf("available = %d, want 150", b.Available)
	}
	if b.Liabilities != 0 {
		t.Errorf("liabilities = %d, want 0", b.Liabilities)
	}
}

func TestReserveWithinAvailable(t *testing.T) {
	l := New(nil)
	l.Credit(alice, types.AssetA, 100)

	if err := l.Reserve(alice, types.AssetA, 60); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	b := l.GetBalance(alice, types.AssetA)
	if b.Liabilities != 60 {
		t.Errorf("liabilities = %d, want 60", b.Liabilities)
	}

	if err := l.Reserve(alice, types.AssetA, 41); !errors.Is(err, ErrInsufficientAvailable) {
		t.Errorf("Reserve over free balance: got %v, want ErrInsufficientAvailable", err)
	}
}

func TestReleaseRefundsLiability(t *testing.T) {
	l := New(nil)
	l.Credit(alice, types.AssetA, 100)
	if err := l.Reserve(alice, types.AssetA, 70); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := l.Release(alice, types.AssetA, 30); err != nil {
		t.Fatalf("Release: %v", err)
	}

	b := l.GetBalance(alice, types.AssetA)
	if b.Liabilities != 40 {
		t.Errorf("liabilities = %d, want 40", b.Liabilities)
	}
	// available unaffected by reserve/release
	if b.Available != 100 {
		t.Errorf("available = %d, want 100", b.Available)
	}

	if err := l.Release(alice, types.AssetA, 1000); !errors.Is(err, ErrUnderflow) {
		t.Errorf("over-release: got %v, want ErrUnderflow", err)
	}
}

func TestConsumeRemovesAvailableAndLiability(t *testing.T) {
	l := New(nil)
	l.Credit(alice, types.AssetA, 100)
	if err := l.Reserve(alice, types.AssetA, 100); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := l.Consume(alice, types.AssetA, 100); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	b := l.GetBalance(alice, types.AssetA)
	if b.Available != 0 || b.Liabilities != 0 {
		t.Errorf("balance = %+v, want zeroed", b)
	}
}

func TestDebitRequiresFreeBalance(t *testing.T) {
	l := New(nil)
	l.Credit(alice, types.AssetB, 100)
	if err := l.Reserve(alice, types.AssetB, 80); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := l.Debit(alice, types.AssetB, 21); !errors.Is(err, ErrInsufficientAvailable) {
		t.Errorf("Debit over free balance: got %v, want ErrInsufficientAvailable", err)
	}
	if err := l.Debit(alice, types.AssetB, 20); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	b := l.GetBalance(alice, types.AssetB)
	if b.Available != 80 {
		t.Errorf("available = %d, want 80", b.Available)
	}
}

func TestPendingDepositLifecycle(t *testing.T) {
	l := New(nil)
	l.MarkPending(alice, types.AssetA, 500)

	b := l.GetBalance(alice, types.AssetA)
	if b.PendingDeposits != 500 {
		t.Errorf("pending = %d, want 500", b.PendingDeposits)
	}
	if !b.Invariant() {
		t.Error("balance should satisfy invariant while pending only")
	}

	if err := l.ClearPending(alice, types.AssetA, 500); err != nil {
		t.Fatalf("ClearPending: %v", err)
	}
	l.Credit(alice, types.AssetA, 500)

	b = l.GetBalance(alice, types.AssetA)
	if b.PendingDeposits != 0 || b.Available != 500 {
		t.Errorf("balance after confirm = %+v", b)
	}
}

func TestCheckInvariantCatchesUnderflow(t *testing.T) {
	l := New(nil)
	l.Credit(alice, types.AssetA, 10)
	if err := l.Reserve(alice, types.AssetA, 10); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !l.CheckInvariant(alice, types.AssetA) {
		t.Error("expected invariant to hold: liabilities == available")
	}

	// force the map entry to an impossible state directly to exercise
	// CheckInvariant's detection path.
	l.mu.Lock()
	l.balances[key{alice, types.AssetA}].Liabilities = 11
	l.mu.Unlock()

	if l.CheckInvariant(alice, types.AssetA) {
		t.Error("expected invariant violation to be detected")
	}
}

func TestUnknownUserHasZeroBalance(t *testing.T) {
	l := New(nil)
	bob := common.HexToAddress("0x0000000000000000000000000000000000000002")
	b := l.GetBalance(bob, types.AssetA)
	if b != (Balance{}) {
		t.Errorf("unknown user balance = %+v, want zero value", b)
	}
	if !l.CheckInvariant(bob, types.AssetA) {
		t.Error("unknown user should trivially satisfy invariant")
	}
}
