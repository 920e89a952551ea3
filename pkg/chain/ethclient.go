package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	venuecrypto "github.com/duskpool/venue/pkg/crypto"
	"github.com/duskpool/venue/pkg/queue"
	venuetypes "github.com/duskpool/venue/pkg/types"
)

// escrowABI describes the chain contract surface the core consumes
// (spec.md §6): the Deposit event, and the settle/withdraw admin
// methods. Parsed once at construction rather than generated, since the
// venue only ever calls these three members.
const escrowABI = `[
	{"anonymous": false, "inputs": [
		{"indexed": true, "name": "user", "type": "address"},
		{"indexed": false, "name": "asset", "type": "uint8"},
		{"indexed": false, "name": "amount", "type": "uint256"}
	], "name": "Deposit", "type": "event"},
	{"constant": false, "inputs": [
		{"name": "buyer", "type": "address"},
		{"name": "seller", "type": "address"},
		{"name": "assetSold", "type": "uint8"},
		{"name": "amountSold", "type": "uint256"},
		{"name": "assetBought", "type": "uint8"},
		{"name": "amountBought", "type": "uint256"},
		{"name": "tradeId", "type": "string"}
	], "name": "settle", "outputs": [], "type": "function"},
	{"constant": false, "inputs": [
		{"name": "user", "type": "address"},
		{"name": "asset", "type": "uint8"},
		{"name": "amount", "type": "uint256"}
	], "name": "withdraw", "outputs": [], "type": "function"}
]`

// EthClient is the go-ethereum-backed implementation of
// DepositEventSource and Submitter: it polls the escrow contract's
// Deposit logs and submits settle() and withdraw() transactions.
type EthClient struct {
	rpc           *ethclient.Client
	contract      common.Address
	abi           abi.ABI
	signer        *venuecrypto.Signer
	chainID       *big.Int
	confirmations uint64
}

// NewEthClient dials rpcURL and configures a client bound to the given
// escrow contract address, signing outgoing transactions with signer.
func NewEthClient(ctx context.Context, rpcURL string, contract common.Address, signer *venuecrypto.Signer, confirmations uint64) (*EthClient, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	return &EthClient{rpc: rpc, contract: contract, abi: parsed, signer: signer, chainID: chainID, confirmations: confirmations}, nil
}

// PollDeposits fetches Deposit logs in (from.BlockNumber, latest] and
// returns them in ascending order along with the new cursor.
func (c *EthClient) PollDeposits(ctx context.Context, from Cursor) ([]queue.DepositEvent, Cursor, error) {
	latest, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return nil, from, fmt.Errorf("chain: block number: %w", err)
	}
	if latest <= from.BlockNumber {
		return nil, from, nil
	}

	topic := c.abi.Events["Deposit"].ID
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from.BlockNumber + 1),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{topic}},
	}
	logs, err := c.rpc.FilterLogs(ctx, query)
	if err != nil {
		return nil, from, fmt.Errorf("chain: filter logs: %w", err)
	}

	cursor := from
	events := make([]queue.DepositEvent, 0, len(logs))
	for _, lg := range logs {
		var decoded struct {
			Asset  uint8
			Amount *big.Int
		}
		if err := c.abi.UnpackIntoInterface(&decoded, "Deposit", lg.Data); err != nil {
			return nil, from, fmt.Errorf("chain: unpack deposit log: %w", err)
		}
		user := common.HexToAddress(lg.Topics[1].Hex())
		asset := venuetypes.AssetA
		if decoded.Asset == 1 {
			asset = venuetypes.AssetB
		}
		events = append(events, queue.DepositEvent{
			TxHash:     lg.TxHash.Hex(),
			EventIndex: uint64(lg.Index),
			User:       user,
			Asset:      asset,
			Amount:     venuetypes.Amount(decoded.Amount.Int64()),
		})
		cursor = Cursor{BlockNumber: lg.BlockNumber, LogIndex: uint64(lg.Index)}
	}
	if len(events) == 0 {
		cursor = Cursor{BlockNumber: latest}
	}
	return events, cursor, nil
}

func assetCode(a venuetypes.Asset) uint8 {
	if a == venuetypes.AssetB {
		return 1
	}
	return 0
}

// SubmitSettle calls settle(buyer, seller, assetSold, amountSold,
// assetBought, amountBought, tradeId) atomically moving both legs of a
// trade, signing with the venue's admin hot key.
func (c *EthClient) SubmitSettle(ctx context.Context, intent queue.SettleIntent) (string, error) {
	data, err := c.abi.Pack("settle",
		intent.Buyer, intent.Seller,
		assetCode(intent.AssetSold), big.NewInt(int64(intent.AmountSold)),
		assetCode(intent.AssetBought), big.NewInt(int64(intent.AmountBought)),
		intent.TradeID)
	if err != nil {
		return "", fmt.Errorf("chain: pack settle: %w", err)
	}
	return c.sendTx(ctx, data)
}

// SubmitWithdraw calls withdraw(user, asset, amount) to pay out a user
// withdrawal, signing with the venue's admin hot key.
func (c *EthClient) SubmitWithdraw(ctx context.Context, intent queue.WithdrawIntent) (string, error) {
	data, err := c.abi.Pack("withdraw", intent.User, assetCode(intent.Asset), big.NewInt(int64(intent.Amount)))
	if err != nil {
		return "", fmt.Errorf("chain: pack withdraw: %w", err)
	}
	return c.sendTx(ctx, data)
}

func (c *EthClient) sendTx(ctx context.Context, data []byte) (string, error) {
	nonce, err := c.rpc.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return "", fmt.Errorf("chain: nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, c.contract, big.NewInt(0), 300_000, gasPrice, data)
	signer := types.NewEIP155Signer(c.chainID)
	hash := signer.Hash(tx)
	sig, err := c.signer.Sign(hash.Bytes())
	if err != nil {
		return "", fmt.Errorf("chain: sign tx: %w", err)
	}
	signedTx, err := tx.WithSignature(signer, sig)
	if err != nil {
		return "", fmt.Errorf("chain: attach signature: %w", err)
	}

	if err := c.rpc.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("chain: send: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// IsConfirmed reports whether txHash has reached the configured
// confirmation depth (confirmed=true), reverted (failed=true), or is
// still pending (both false).
func (c *EthClient) IsConfirmed(ctx context.Context, txHash string) (confirmed bool, failed bool, err error) {
	receipt, err := c.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return false, false, nil
		}
		return false, false, fmt.Errorf("chain: receipt: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return false, true, nil
	}

	latest, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return false, false, fmt.Errorf("chain: block number: %w", err)
	}
	if latest < receipt.BlockNumber.Uint64()+c.confirmations {
		return false, false, nil
	}
	return true, false, nil
}
