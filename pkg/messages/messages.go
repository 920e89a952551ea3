// Package messages implements the Message Store: the durable record of
// every externally originated request (order, cancel, withdrawal,
// deposit) and its lifecycle status, per the status DAG in spec.md
// §4.5. It is the source of truth an API client polls for the outcome
// of a submission, and the executor's deposit dedup ledger is built on
// top of it via the (tx_hash, event_index) message ID for deposits.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duskpool/venue/pkg/storage"
	"github.com/duskpool/venue/pkg/types"
)

// ErrNotFound is returned when a message ID is not in the store.
var ErrNotFound = errors.New("messages: not found")

// ErrStatusRegression is returned when a caller attempts to move a
// message backward in the status DAG, or out of a terminal state.
var ErrStatusRegression = errors.New("messages: illegal status transition")

// Message is one record in the store.
type Message struct {
	ID        string
	Kind      types.MessageKind
	User      common.Address
	Status    types.MessageStatus
	Detail    string // human-readable reject/failure reason, empty otherwise
	CreatedAt time.Time
	UpdatedAt time.Time

	// Reference fields surfaced by the status query (spec.md §6),
	// populated as they become known. OrderID is set once an order is
	// accepted; TradeIDs accumulates as fills land against it; TxHash
	// is set once a withdrawal's chain transaction is submitted.
	OrderID  string   `json:"order_id,omitempty"`
	TradeIDs []string `json:"trade_ids,omitempty"`
	TxHash   string   `json:"tx_hash,omitempty"`
}

// legal holds, for each status, the set of statuses it may transition
// to. Received is the only entry point; Rejected, SettlementConfirmed,
// and SettlementFailed are terminal. Deposits and cancels resolve
// directly from Received to SettlementConfirmed in one executor step
// (§4.4.1, §4.4.3: both are confirmed off-chain the instant the
// handler runs, with no separate chain submission of their own), while
// orders and withdrawals pass through Accepted and, for withdrawals,
// SettlementPending first.
var legal = map[types.MessageStatus]map[types.MessageStatus]bool{
	types.StatusReceived: {
		types.StatusAccepted:            true,
		types.StatusRejected:            true,
		types.StatusSettlementConfirmed: true,
	},
	types.StatusAccepted: {
		types.StatusSettlementPending: true,
	},
	types.StatusSettlementPending: {
		types.StatusSettlementConfirmed: true,
		types.StatusSettlementFailed:    true,
	},
}

// Store is the in-memory message table with an optional Pebble
// snapshot hook.
type Store struct {
	mu       sync.RWMutex
	messages map[string]*Message
	persist  *storage.Store
}

func New(persist *storage.Store) *Store {
	return &Store{messages: make(map[string]*Message), persist: persist}
}

// Load restores all persisted messages into memory. Call once at
// startup, before the executor begins consuming the incoming queue.
func (s *Store) Load() error {
	if s.persist == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist.IteratePrefix(storage.MessagePrefix(), func(value []byte) error {
		var m Message
		if err := json.Unmarshal(value, &m); err != nil {
			return err
		}
		s.messages[m.ID] = &m
		return nil
	})
}

// Create inserts a new message in the Received status. It is an error
// to create a message ID that already exists (callers are expected to
// dedup before calling, e.g. on (tx_hash, event_index) for deposits).
func (s *Store) Create(id string, kind types.MessageKind, user common.Address, now time.Time) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[id]; exists {
		return nil, fmt.Errorf("messages: id %q already exists", id)
	}
	m := &Message{ID: id, Kind: kind, User: user, Status: types.StatusReceived, CreatedAt: now, UpdatedAt: now}
	s.messages[id] = m
	return m, s.saveLocked(m)
}

// Get returns a copy of the message with the given ID.
func (s *Store) Get(id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return *m, nil
}

// Transition moves a message to a new status, enforcing the DAG in
// `legal`. detail is recorded for Rejected/SettlementFailed outcomes.
func (s *Store) Transition(id string, next types.MessageStatus, detail string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	allowed, ok := legal[m.Status]
	if !ok || !allowed[next] {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, m.Status, next)
	}

	m.Status = next
	m.Detail = detail
	m.UpdatedAt = now
	return s.saveLocked(m)
}

func (s *Store) saveLocked(m *Message) error {
	if s.persist == nil {
		return nil
	}
	return s.persist.PutJSON(storage.MessageKey(m.ID), m)
}

// SetOrderID records the order_id an accepted order message produced.
func (s *Store) SetOrderID(id, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.OrderID = orderID
	return s.saveLocked(m)
}

// AppendTradeID records a trade_id that filled (wholly or partly)
// against the order a message tracks.
func (s *Store) AppendTradeID(id, tradeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.TradeIDs = append(m.TradeIDs, tradeID)
	return s.saveLocked(m)
}

// SetTxHash records the chain transaction hash a withdrawal's
// settlement intent was submitted under.
func (s *Store) SetTxHash(id, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.TxHash = txHash
	return s.saveLocked(m)
}
