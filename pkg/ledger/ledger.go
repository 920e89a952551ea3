// Package ledger implements the UserStore: per-user, per-asset balances
// with available/liabilities/pending_deposits sub-accounts, per
// spec.md §4.1. Every mutating method is called only from the
// executor's single goroutine; reads (GetBalance) are safe from any
// goroutine, matching the teacher's AccountManager split between a
// single mutating owner and lock-free-ish reads. Persistence mirrors
// the teacher's AccountManager.Deposit, which ends every mutation with
// a save to its store: each mutator here snapshots the touched balance
// to Pebble before returning, and Load rebuilds the map at startup.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duskpool/venue/pkg/storage"
	"github.com/duskpool/venue/pkg/types"
)

// ErrInsufficientAvailable is returned when a reservation or withdrawal
// would require more than available-minus-liabilities.
var ErrInsufficientAvailable = errors.New("ledger: insufficient available balance")

// ErrUnderflow indicates liabilities would go negative: an internal
// miscount, never a user-facing condition. The caller must treat this
// as InternalInvariantViolation per spec.md §7 and halt.
var ErrUnderflow = errors.New("ledger: liabilities underflow")

// Balance is one user's holdings of one asset.
type Balance struct {
	Available       types.Amount
	Liabilities     types.Amount
	PendingDeposits types.Amount
}

// available-for-new-reservation capacity: spec.md's invariant is
// liabilities <= available + pending_deposits, but only settled
// `Available` funds can back a new reservation or withdrawal — pending
// deposits are not yet spendable.
func (b Balance) freeToReserve() types.Amount {
	return b.Available - b.Liabilities
}

// Invariant reports whether this balance satisfies
// liabilities <= available + pending_deposits.
func (b Balance) Invariant() bool {
	return int64(b.Liabilities) <= int64(b.Available)+int64(b.PendingDeposits)
}

type key struct {
	user  common.Address
	asset types.Asset
}

// record is the JSON shape persisted under storage.BalanceKey: the
// value alone doesn't carry the (user, asset) the key already encodes,
// but IteratePrefix only hands Load the value bytes, so the record
// repeats them for map reconstruction.
type record struct {
	User  common.Address
	Asset types.Asset
	Balance
}

// Ledger is the UserStore: a thread-safe map of (user, asset) balances.
type Ledger struct {
	mu       sync.RWMutex
	balances map[key]*Balance
	persist  *storage.Store
}

func New(persist *storage.Store) *Ledger {
	return &Ledger{balances: make(map[key]*Balance), persist: persist}
}

// Load restores all persisted balances into memory. Call once at
// startup, before the executor begins consuming the incoming queue.
func (l *Ledger) Load() error {
	if l.persist == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persist.IteratePrefix(storage.BalancePrefix(), func(value []byte) error {
		var r record
		if err := json.Unmarshal(value, &r); err != nil {
			return err
		}
		b := r.Balance
		l.balances[key{r.User, r.Asset}] = &b
		return nil
	})
}

func (l *Ledger) getLocked(user common.Address, asset types.Asset) *Balance {
	k := key{user, asset}
	b, ok := l.balances[k]
	if !ok {
		b = &Balance{}
		l.balances[k] = b
	}
	return b
}

// saveLocked snapshots one user/asset balance to Pebble. Called with
// l.mu already held for writing.
func (l *Ledger) saveLocked(user common.Address, asset types.Asset, b *Balance) error {
	if l.persist == nil {
		return nil
	}
	r := record{User: user, Asset: asset, Balance: *b}
	return l.persist.PutJSON(storage.BalanceKey(user, asset.String()), r)
}

// GetBalance returns a snapshot of a user's balance for an asset. Safe
// for concurrent use by API-layer readers.
func (l *Ledger) GetBalance(user common.Address, asset types.Asset) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	k := key{user, asset}
	if b, ok := l.balances[k]; ok {
		return *b
	}
	return Balance{}
}

// Credit increments available. Used for deposits and the buyer-side
// half of settlement.
func (l *Ledger) Credit(user common.Address, asset types.Asset, amount types.Amount) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.getLocked(user, asset)
	b.Available += amount
	return l.saveLocked(user, asset, b)
}

// Reserve requires amount <= available-liabilities and increments
// liabilities by amount. Used when placing a resting order or locking
// funds for a taker leg.
func (l *Ledger) Reserve(user common.Address, asset types.Asset, amount types.Amount) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.getLocked(user, asset)
	if amount > b.freeToReserve() {
		return ErrInsufficientAvailable
	}
	b.Liabilities += amount
	return l.saveLocked(user, asset, b)
}

// Release decrements liabilities by amount. Used on cancel of the
// remaining quantity of a resting order, and to refund the
// reserve/settle rounding gap on a buyer's full fill.
func (l *Ledger) Release(user common.Address, asset types.Asset, amount types.Amount) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.getLocked(user, asset)
	if amount > b.Liabilities {
		return fmt.Errorf("%w: release %d exceeds liabilities %d", ErrUnderflow, amount, b.Liabilities)
	}
	b.Liabilities -= amount
	return l.saveLocked(user, asset, b)
}

// Consume decrements both available and liabilities by amount. Used on
// the seller's leg at settlement (funds leave the system for the
// counterparty).
func (l *Ledger) Consume(user common.Address, asset types.Asset, amount types.Amount) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.getLocked(user, asset)
	if amount > b.Liabilities {
		return fmt.Errorf("%w: consume %d exceeds liabilities %d", ErrUnderflow, amount, b.Liabilities)
	}
	b.Available -= amount
	b.Liabilities -= amount
	return l.saveLocked(user, asset, b)
}

// Debit requires amount <= available-liabilities and decrements
// available only. Used for withdrawals.
func (l *Ledger) Debit(user common.Address, asset types.Asset, amount types.Amount) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.getLocked(user, asset)
	if amount > b.freeToReserve() {
		return ErrInsufficientAvailable
	}
	b.Available -= amount
	return l.saveLocked(user, asset, b)
}

// MarkPending increments pending_deposits. The executor's deposit
// handler calls it and then ClearPending in the same step that credits
// the deposit, so the counter is back to zero before the handler
// returns. See DESIGN.md Open Question 2.
func (l *Ledger) MarkPending(user common.Address, asset types.Asset, amount types.Amount) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.getLocked(user, asset)
	b.PendingDeposits += amount
	return l.saveLocked(user, asset, b)
}

// ClearPending decrements pending_deposits by amount, called in the
// same executor step that credits Available for the same deposit.
func (l *Ledger) ClearPending(user common.Address, asset types.Asset, amount types.Amount) error {
	if amount == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.getLocked(user, asset)
	if amount > b.PendingDeposits {
		return fmt.Errorf("%w: clear-pending %d exceeds pending %d", ErrUnderflow, amount, b.PendingDeposits)
	}
	b.PendingDeposits -= amount
	return l.saveLocked(user, asset, b)
}

// CheckInvariant reports whether the given user/asset balance currently
// satisfies liabilities <= available + pending_deposits. Intended for
// property tests and post-mutation assertions in the executor.
func (l *Ledger) CheckInvariant(user common.Address, asset types.Asset) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	k := key{user, asset}
	b, ok := l.balances[k]
	if !ok {
		return true
	}
	return b.Invariant()
}
