// Package api implements the venue's external interfaces per spec.md
// §6: REST endpoints for order submission, cancellation, withdrawal,
// status queries, and health, plus a WebSocket hub broadcasting trade
// prints. It parses and verifies the authenticated request envelope
// and hands already-authenticated, already-decimal-parsed request
// records to the core; it owns no ledger, book, or message logic
// itself.
package api

// SubmitOrderRequest is the body of POST /v1/orders.
type SubmitOrderRequest struct {
	Side     string `json:"side"`     // "buy" or "sell"
	Price    string `json:"price"`    // decimal string, up to 7 fractional digits
	Quantity string `json:"quantity"` // decimal string, up to 7 fractional digits
}

// CancelRequest is the body of POST /v1/orders/cancel.
type CancelRequest struct {
	OrderID string `json:"order_id"`
}

// WithdrawalRequest is the body of POST /v1/withdrawals.
type WithdrawalRequest struct {
	Asset  string `json:"asset"`  // "a" or "b"
	Amount string `json:"amount"` // integer string, base units
}

// MessageIDResponse is the response shared by all three submission
// endpoints.
type MessageIDResponse struct {
	MessageID string `json:"message_id"`
}

// MessageStatusResponse is the response body of the status query.
type MessageStatusResponse struct {
	MessageID string   `json:"message_id"`
	Kind      string   `json:"kind"`
	Status    string   `json:"status"`
	Detail    string   `json:"detail,omitempty"`
	OrderID   string   `json:"order_id,omitempty"`
	TradeIDs  []string `json:"trade_ids,omitempty"`
	TxHash    string   `json:"tx_hash,omitempty"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// HealthResponse reports liveness of the three background agents, per
// spec.md §6 ("each reports last progress timestamp").
type HealthResponse struct {
	Status           string `json:"status"`
	ExecutorAliveAt  int64  `json:"executor_alive_at"`
	ProcessorAliveAt int64  `json:"processor_alive_at"`
	IngestorAliveAt  int64  `json:"ingestor_alive_at"`
}

// BalanceResponse reports one user's holdings of one asset.
type BalanceResponse struct {
	Address         string `json:"address"`
	Asset           string `json:"asset"`
	Available       int64  `json:"available"`
	Liabilities     int64  `json:"liabilities"`
	PendingDeposits int64  `json:"pending_deposits"`
}

// TradeResponse is one entry in the recent-trades read surface.
type TradeResponse struct {
	TradeID      string `json:"trade_id"`
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	Price        int64  `json:"price"`
	Quantity     int64  `json:"quantity"`
	TakerOrderID string `json:"taker_order_id"`
	MakerOrderID string `json:"maker_order_id"`
	Timestamp    int64  `json:"timestamp"`
}

// TradeBroadcast is the WebSocket payload pushed on every trade,
// mirroring the teacher's TradeUpdate shape.
type TradeBroadcast struct {
	Type     string `json:"type"` // "trade"
	TradeID  string `json:"trade_id"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
	Time     int64  `json:"timestamp"`
}

// WSSubscribeRequest is sent by a client to subscribe to channels,
// unchanged in shape from the teacher's message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// ErrorResponse is returned for all error statuses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
