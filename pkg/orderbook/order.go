package orderbook

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/duskpool/venue/pkg/types"
)

// RestingOrder is a resting (possibly partially filled) GTC order held in
// the book's price-level FIFO queues.
type RestingOrder struct {
	ID       string
	MsgID    string
	User     common.Address
	Side     types.Side
	Price    types.Price
	Qty      types.Amount // remaining, unfilled quantity
	Sequence uint64       // monotonic arrival order, for price-time tiebreak
}

// MakerView is a read-only snapshot of a resting order exposed to
// pkg/matching. Matching never sees *RestingOrder directly so it cannot
// mutate book state; it returns fill decisions that the book applies.
type MakerView struct {
	OrderID string
	MsgID   string
	User    common.Address
	Price   types.Price
	Qty     types.Amount
}
