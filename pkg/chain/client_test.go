package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-swap/pkg/swaperr"
	"evm-swap/pkg/types"
)

// well-known development key
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

type fakeBackend struct {
	mu sync.Mutex

	chainID  *big.Int
	balance  *big.Int
	nonce    uint64
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int
	gas      uint64
	gasErr   error
	callOut  []byte
	calls    []ethereum.CallMsg

	sent          []*ethtypes.Transaction
	sendErr       error
	receiptMisses int
	receipt       *ethtypes.Receipt
	receiptCalls  int
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: big.NewInt(100), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.gas, f.gasErr
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	return f.callOut, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if f.sendErr != nil {
		return f.sendErr
	}
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if f.receipt == nil || f.receiptCalls <= f.receiptMisses {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeBackend) Close() {}

func newTestChain(t *testing.T, backend *fakeBackend) *Client {
	t.Helper()
	c, err := New(context.Background(), backend, Config{
		PrivateKey:       testKey,
		PollInterval:     5 * time.Millisecond,
		GasBufferPercent: 20,
	}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNewDerivesAddressAndChain(t *testing.T) {
	c := newTestChain(t, &fakeBackend{chainID: big.NewInt(42161)})
	assert.Equal(t, testAddress, c.Address())
	assert.Equal(t, uint64(42161), c.ChainID())
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New(context.Background(), &fakeBackend{chainID: big.NewInt(1)}, Config{PrivateKey: "0xnot-a-key"}, zerolog.Nop())
	require.Error(t, err)
	assert.True(t, swaperr.Is(err, swaperr.InvalidRequest))
	assert.NotContains(t, err.Error(), "not-a-key")
}

func TestEstimateFees(t *testing.T) {
	c := newTestChain(t, &fakeBackend{chainID: big.NewInt(1), baseFee: big.NewInt(10), tip: big.NewInt(2)})
	fees, err := c.EstimateFees(context.Background())
	require.NoError(t, err)
	assert.True(t, fees.IsDynamic())
	assert.Equal(t, int64(22), fees.MaxFeePerGas.Int64())
	assert.Equal(t, int64(2), fees.MaxPriorityFeePerGas.Int64())

	legacy := newTestChain(t, &fakeBackend{chainID: big.NewInt(56), gasPrice: big.NewInt(5)})
	fees, err = legacy.EstimateFees(context.Background())
	require.NoError(t, err)
	assert.False(t, fees.IsDynamic())
	assert.Equal(t, int64(5), fees.PerGas().Int64())
}

func TestEstimateGasAddsBuffer(t *testing.T) {
	c := newTestChain(t, &fakeBackend{chainID: big.NewInt(1), gas: 100000})
	gas, err := c.EstimateGas(context.Background(), common.Address{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(120000), gas)
}

func TestGetBalance(t *testing.T) {
	backend := &fakeBackend{
		chainID: big.NewInt(1),
		balance: big.NewInt(7),
		callOut: common.LeftPadBytes(big.NewInt(1234).Bytes(), 32),
	}
	c := newTestChain(t, backend)

	native, err := c.GetBalance(context.Background(), types.Token{IsNative: true})
	require.NoError(t, err)
	assert.Equal(t, int64(7), native.Int64())

	tokenAddr := common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	erc20, err := c.GetBalance(context.Background(), types.Token{Address: tokenAddr, Symbol: "USDC"})
	require.NoError(t, err)
	assert.Equal(t, int64(1234), erc20.Int64())
	require.Len(t, backend.calls, 1)
	assert.Equal(t, tokenAddr, *backend.calls[0].To)
	assert.Equal(t, []byte{0x70, 0xa0, 0x82, 0x31}, backend.calls[0].Data[:4])
}

func TestSignAndSubmit(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(42161)}
	c := newTestChain(t, backend)

	router := common.HexToAddress("0xCa423977156BB05b13A2BA3b76Bc5419E2fE9680")
	signed, err := c.Sign(context.Background(), &types.PreparedTransaction{
		To:      router,
		Data:    []byte{0xde, 0xad},
		Value:   big.NewInt(1500000000000000000),
		Gas:     300000,
		Fees:    types.GasFees{MaxPriorityFeePerGas: big.NewInt(1), MaxFeePerGas: big.NewInt(100)},
		Nonce:   9,
		ChainID: 42161,
	})
	require.NoError(t, err)

	hash, err := c.Submit(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, signed.Hash, hash)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, uint8(ethtypes.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(9), tx.Nonce())
	assert.Equal(t, router, *tx.To())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(42161)), tx)
	require.NoError(t, err)
	assert.Equal(t, testAddress, sender)
}

func TestSignRejectsIncompleteTransaction(t *testing.T) {
	c := newTestChain(t, &fakeBackend{chainID: big.NewInt(1)})

	_, err := c.Sign(context.Background(), &types.PreparedTransaction{Gas: 21000, ChainID: 1})
	assert.True(t, swaperr.Is(err, swaperr.InvalidRequest))

	_, err = c.Sign(context.Background(), &types.PreparedTransaction{Gas: 21000, ChainID: 5, Fees: types.GasFees{GasPrice: big.NewInt(1)}})
	assert.True(t, swaperr.Is(err, swaperr.InvalidRequest))
}

func TestApprove(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(1), nonce: 4, gasPrice: big.NewInt(3), gasErr: errors.New("execution reverted")}
	c := newTestChain(t, backend)

	token := types.Token{Address: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Symbol: "USDC", Decimals: 6}
	spender := common.HexToAddress("0xCa423977156BB05b13A2BA3b76Bc5419E2fE9680")

	hash, err := c.Approve(context.Background(), token, spender, big.NewInt(5000000), "")
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash().Hex())
	assert.Equal(t, uint64(4), tx.Nonce())
	assert.Equal(t, uint64(defaultApproveGas), tx.Gas())
	assert.Equal(t, token.Address, *tx.To())
	assert.Equal(t, []byte{0x09, 0x5e, 0xa7, 0xb3}, tx.Data()[:4])
}

func TestApproveNativeToken(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(1)}
	c := newTestChain(t, backend)

	_, err := c.Approve(context.Background(), types.Token{IsNative: true, Symbol: "ETH"}, common.Address{}, big.NewInt(1), "")
	assert.True(t, swaperr.Is(err, swaperr.ApprovalFailed))
	assert.Empty(t, backend.sent)
}

func TestApproveBroadcastFailureReturnsHash(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(1), nonce: 2, gas: 50000, gasPrice: big.NewInt(3), sendErr: context.DeadlineExceeded}
	c := newTestChain(t, backend)

	token := types.Token{Address: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Symbol: "USDC", Decimals: 6}
	hash, err := c.Approve(context.Background(), token, common.Address{}, big.NewInt(1), "")
	require.Error(t, err)

	require.Len(t, backend.sent, 1)
	assert.Equal(t, backend.sent[0].Hash().Hex(), hash)
	assert.Equal(t, hash, swaperr.HashOf(err))
	assert.True(t, swaperr.Is(err, swaperr.ChainError))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitFailureCarriesHash(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(1), sendErr: errors.New("connection reset")}
	c := newTestChain(t, backend)

	signed, err := c.Sign(context.Background(), &types.PreparedTransaction{Gas: 21000, ChainID: 1, Fees: types.GasFees{GasPrice: big.NewInt(1)}})
	require.NoError(t, err)

	hash, err := c.Submit(context.Background(), signed)
	require.Error(t, err)
	assert.Empty(t, hash)
	assert.Equal(t, signed.Hash, swaperr.HashOf(err))
}

func TestTxEventsCarryOneCategory(t *testing.T) {
	var buf bytes.Buffer
	backend := &fakeBackend{chainID: big.NewInt(1), gas: 50000, gasPrice: big.NewInt(3)}
	c, err := New(context.Background(), backend, Config{PrivateKey: testKey}, zerolog.New(&buf))
	require.NoError(t, err)

	_, err = c.Approve(context.Background(), types.Token{Address: common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"), Symbol: "USDC"}, common.Address{}, big.NewInt(1), "")
	require.NoError(t, err)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, "approval submitted") {
			continue
		}
		found = true
		assert.Equal(t, 1, strings.Count(line, `"category"`), line)
		assert.Contains(t, line, `"category":"tx"`)
	}
	assert.True(t, found)
}

const testHash ="0x8f1a2b9c4d3e5f60718293a4b5c6d7e8f90112233445566778899aabbccddeef"

func TestWaitForConfirmation(t *testing.T) {
	backend := &fakeBackend{
		chainID:       big.NewInt(1),
		receiptMisses: 2,
		receipt:       &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(77), GasUsed: 21000},
	}
	c := newTestChain(t, backend)

	receipt, err := c.WaitForConfirmation(context.Background(), testHash, time.Second)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, uint64(77), receipt.BlockNumber)
	assert.Equal(t, testHash, receipt.Hash)
	assert.Equal(t, 3, backend.receiptCalls)
}

func TestWaitForConfirmationReverted(t *testing.T) {
	backend := &fakeBackend{
		chainID: big.NewInt(1),
		receipt: &ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(5)},
	}
	c := newTestChain(t, backend)

	receipt, err := c.WaitForConfirmation(context.Background(), testHash, time.Second)
	require.NoError(t, err)
	assert.False(t, receipt.Success)
}

func TestWaitForConfirmationTimeout(t *testing.T) {
	c := newTestChain(t, &fakeBackend{chainID: big.NewInt(1)})

	_, err := c.WaitForConfirmation(context.Background(), testHash, 40*time.Millisecond)
	require.Error(t, err)
	assert.True(t, swaperr.Is(err, swaperr.ConfirmationTimeout))
	assert.Equal(t, testHash, swaperr.HashOf(err))
}

func TestWaitForConfirmationCancelled(t *testing.T) {
	c := newTestChain(t, &fakeBackend{chainID: big.NewInt(1)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.WaitForConfirmation(ctx, testHash, time.Minute)
	require.Error(t, err)
	assert.True(t, swaperr.Is(err, swaperr.ConfirmationTimeout))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, testHash, swaperr.HashOf(err))
}

func TestReceiptRejectsBadHash(t *testing.T) {
	c := newTestChain(t, &fakeBackend{chainID: big.NewInt(1)})
	_, err := c.Receipt(context.Background(), "0x1234")
	assert.True(t, swaperr.Is(err, swaperr.InvalidRequest))
}
