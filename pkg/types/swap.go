package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeTokenAddress is the placeholder address the aggregator uses for the chain's native asset
var NativeTokenAddress = common.Address{}

// Token is a resolved token on a single chain
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	IsNative bool
	ChainID  uint64
}

// SwapRequest represents a user's swap intent
type SwapRequest struct {
	Amount          decimal.Decimal // human-readable amount of the source token
	SlippagePercent decimal.Decimal // (0, 100]
	FromToken       string
	ToToken         string
}

// QuoteRequest is the aggregator input for a single quote
type QuoteRequest struct {
	ChainID         uint64
	From            Token
	To              Token
	Amount          *big.Int // smallest unit of From
	SlippagePercent decimal.Decimal
	User            common.Address
}

// Quote is a priced route. It can be built into a transaction exactly once.
type Quote struct {
	PathID       string
	ChainID      uint64
	EstimatedGas uint64 // zero when the aggregator did not provide one
	AmountOut    *big.Int
	Raw          json.RawMessage

	consumed atomic.Bool
}

// Consume marks the quote as used. It returns false if it was already consumed.
func (q *Quote) Consume() bool {
	return q.consumed.CompareAndSwap(false, true)
}

// Consumed reports whether the quote has been handed to a build call
func (q *Quote) Consumed() bool {
	return q.consumed.Load()
}

// ContractInfo holds what is needed to approve the aggregator router
type ContractInfo struct {
	RouterAddress common.Address
	ERC20ABI      string
}

// TxFragment is the aggregator-built part of the swap transaction
type TxFragment struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64 // hint, zero when absent
}

// GasFees holds either EIP-1559 caps or a legacy gas price
type GasFees struct {
	MaxPriorityFeePerGas *big.Int
	MaxFeePerGas         *big.Int
	GasPrice             *big.Int
}

// IsDynamic reports whether the fees are EIP-1559 style
func (f GasFees) IsDynamic() bool {
	return f.MaxFeePerGas != nil
}

// PerGas returns the worst-case price paid per gas unit
func (f GasFees) PerGas() *big.Int {
	if f.IsDynamic() {
		return f.MaxFeePerGas
	}
	if f.GasPrice == nil {
		return new(big.Int)
	}
	return f.GasPrice
}

// PreparedTransaction is a fully populated transaction ready for signing
type PreparedTransaction struct {
	To      common.Address
	Data    []byte
	Value   *big.Int
	Gas     uint64
	Fees    GasFees
	Nonce   uint64
	ChainID uint64
}

// SignedTransaction is an encoded, signed transaction
type SignedTransaction struct {
	Raw  []byte
	Hash string
}

// String never prints the payload
func (s SignedTransaction) String() string {
	return fmt.Sprintf("signed tx %s (%d bytes)", s.Hash, len(s.Raw))
}

// TransactionReceipt is the terminal artifact of a submitted transaction
type TransactionReceipt struct {
	Hash        string
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
}
