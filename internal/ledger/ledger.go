// Package ledger verifies that a claimed incident is backed by exactly one
// SosTriggered event emitted by the configured contract.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"sentinel-sos/pkg/domain"
)

// Chain is the read-only slice of an RPC client the verifier needs.
// *ethclient.Client satisfies it.
type Chain interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Anchor is what the ledger says about an incident. Nothing else about a
// submission is trusted.
type Anchor struct {
	IncidentID  string // decimal, as emitted
	Subject     domain.Address
	PayloadHash string // 0x-prefixed keccak-256
	Timestamp   time.Time
	TxRef       string
	BlockNumber uint64
}
