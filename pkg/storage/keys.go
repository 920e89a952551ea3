package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key prefixes for the domain snapshots kept in the shared Pebble
// database. Each prefix is its own logical table.
const (
	prefixBalance  = "bal:"    // ledger balances: bal:{address}:{asset}
	prefixOrder    = "ord:"    // resting orders: ord:{orderID}
	prefixMessage  = "msg:"    // message store: msg:{messageID}
	prefixCursor   = "cursor:" // ingestor chain-event cursor (singleton)
	prefixDepositD = "dep:"    // deposit dedup set: dep:{txHash}:{eventIndex}
	prefixTrade    = "trd:"    // trade log: trd:{tradeID}
)

func BalanceKey(addr common.Address, asset string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, addr.Hex(), asset))
}

func BalancePrefix() []byte {
	return []byte(prefixBalance)
}

func OrderKey(orderID string) []byte {
	return []byte(prefixOrder + orderID)
}

func OrderPrefix() []byte {
	return []byte(prefixOrder)
}

func MessageKey(messageID string) []byte {
	return []byte(prefixMessage + messageID)
}

func MessagePrefix() []byte {
	return []byte(prefixMessage)
}

func CursorKey() []byte {
	return []byte(prefixCursor + "chain")
}

func DepositDedupKey(txHash string, eventIndex uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", prefixDepositD, txHash, eventIndex))
}

func DepositDedupPrefix() []byte {
	return []byte(prefixDepositD)
}

func TradeKey(tradeID string) []byte {
	return []byte(prefixTrade + tradeID)
}

func TradePrefix() []byte {
	return []byte(prefixTrade)
}
