// Package chain talks to an EVM JSON-RPC node on behalf of a single account.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"evm-swap/pkg/logger"
	"evm-swap/pkg/swaperr"
	"evm-swap/pkg/types"
)

const (
	DefaultRPCTimeout       = 15 * time.Second
	DefaultPollInterval     = 2 * time.Second
	DefaultGasBufferPercent = 20

	// gas limit used for approve when estimation fails
	defaultApproveGas = 100000
)

// Backend is the subset of ethclient.Client the chain client needs
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

// Config holds the connection and signing settings
type Config struct {
	RPCURL           string
	PrivateKey       string
	ChainID          uint64 // zero means ask the node
	Proxy            string
	RPCTimeout       time.Duration
	PollInterval     time.Duration
	GasBufferPercent uint64
}

// Client signs and submits transactions for one account. Nonce allocation is
// serialized per client, so one client must be shared by everything that
// sends from the same key.
type Client struct {
	backend      Backend
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	rpcTimeout   time.Duration
	pollInterval time.Duration
	gasBuffer    uint64
	log          zerolog.Logger
	txLog        zerolog.Logger

	sendMu sync.Mutex
}

// Dial connects to cfg.RPCURL and creates a new client
func Dial(ctx context.Context, cfg Config, l zerolog.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, swaperr.New(swaperr.InvalidRequest, "RPC URL not configured")
	}

	var opts []rpc.ClientOption
	if cfg.Proxy != "" {
		httpClient, err := proxyHTTPClient(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rpc.WithHTTPClient(httpClient))
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.RPCURL, opts...)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.ChainError, err, "failed to connect to RPC endpoint")
	}

	c, err := New(ctx, ethclient.NewClient(rpcClient), cfg, l)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	return c, nil
}

// New creates a client over an existing backend
func New(ctx context.Context, backend Backend, cfg Config, l zerolog.Logger) (*Client, error) {
	if cfg.PrivateKey == "" {
		return nil, swaperr.New(swaperr.InvalidRequest, "private key not configured")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		// the key itself is never echoed
		return nil, swaperr.New(swaperr.InvalidRequest, "invalid private key")
	}

	c := &Client{
		backend:      backend,
		privateKey:   privateKey,
		address:      crypto.PubkeyToAddress(privateKey.PublicKey),
		rpcTimeout:   cfg.RPCTimeout,
		pollInterval: cfg.PollInterval,
		gasBuffer:    cfg.GasBufferPercent,
		log:          logger.Category(l, logger.CategoryNetwork),
		txLog:        logger.Category(l, logger.CategoryTx),
	}
	if c.rpcTimeout <= 0 {
		c.rpcTimeout = DefaultRPCTimeout
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}

	if cfg.ChainID != 0 {
		c.chainID = new(big.Int).SetUint64(cfg.ChainID)
		return c, nil
	}

	rctx, cancel := c.rpcContext(ctx)
	defer cancel()
	chainID, err := backend.ChainID(rctx)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.ChainError, err, "failed to get chain id")
	}
	c.chainID = chainID
	return c, nil
}

func proxyHTTPClient(proxy string) (*http.Client, error) {
	if !strings.Contains(proxy, "://") {
		proxy = "http://" + proxy
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return nil, swaperr.New(swaperr.InvalidRequest, "invalid proxy %q", proxy)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxyURL)
	return &http.Client{Transport: transport}, nil
}

func (c *Client) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.rpcTimeout)
}

// Address returns the account address derived from the private key
func (c *Client) Address() common.Address {
	return c.address
}

// ChainID returns the chain the client signs for
func (c *Client) ChainID() uint64 {
	return c.chainID.Uint64()
}

// Close releases the RPC connection
func (c *Client) Close() {
	c.backend.Close()
}

// GetBalance returns the account balance of token in its smallest unit
func (c *Client) GetBalance(ctx context.Context, token types.Token) (*big.Int, error) {
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()

	if token.IsNative {
		balance, err := c.backend.BalanceAt(rctx, c.address, nil)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.ChainError, err, "failed to get balance")
		}
		return balance, nil
	}

	balance, err := c.erc20Balance(rctx, token.Address, c.address)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.ChainError, err, "failed to get %s balance", token.Symbol)
	}
	return balance, nil
}

// GetNonce returns the pending nonce of the account
func (c *Client) GetNonce(ctx context.Context) (uint64, error) {
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(rctx, c.address)
	if err != nil {
		return 0, swaperr.Wrap(swaperr.ChainError, err, "failed to get nonce")
	}
	return nonce, nil
}

// EstimateFees returns EIP-1559 fees when the latest block carries a base fee,
// and a legacy gas price otherwise.
func (c *Client) EstimateFees(ctx context.Context) (types.GasFees, error) {
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()

	header, err := c.backend.HeaderByNumber(rctx, nil)
	if err != nil {
		return types.GasFees{}, swaperr.Wrap(swaperr.ChainError, err, "failed to get latest header")
	}

	if header.BaseFee != nil {
		tip, err := c.backend.SuggestGasTipCap(rctx)
		if err != nil {
			return types.GasFees{}, swaperr.Wrap(swaperr.ChainError, err, "failed to get gas tip cap")
		}
		// maxFee = 2 * baseFee + tip
		maxFee := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		maxFee.Add(maxFee, tip)
		return types.GasFees{MaxPriorityFeePerGas: tip, MaxFeePerGas: maxFee}, nil
	}

	gasPrice, err := c.backend.SuggestGasPrice(rctx)
	if err != nil {
		return types.GasFees{}, swaperr.Wrap(swaperr.ChainError, err, "failed to get gas price")
	}
	return types.GasFees{GasPrice: gasPrice}, nil
}

// EstimateGas estimates the gas of a call from the account and adds the
// configured buffer
func (c *Client) EstimateGas(ctx context.Context, to common.Address, data []byte, value *big.Int) (uint64, error) {
	rctx, cancel := c.rpcContext(ctx)
	defer cancel()

	gas, err := c.backend.EstimateGas(rctx, ethereum.CallMsg{
		From:  c.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, swaperr.Wrap(swaperr.ChainError, err, "failed to estimate gas")
	}
	return gas * (100 + c.gasBuffer) / 100, nil
}

// WithNonce holds the account send lock, fetches a fresh pending nonce and
// runs fn with it. Everything that signs and submits from this account must
// go through here so two transactions never share a nonce.
func (c *Client) WithNonce(ctx context.Context, fn func(nonce uint64) error) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.GetNonce(ctx)
	if err != nil {
		return err
	}
	return fn(nonce)
}

// Approve lets spender move amount of token from the account. It returns the
// hash of the broadcast approval without waiting for it. When the broadcast
// itself fails after signing, the signed hash is returned together with the
// error since the node may still have accepted the transaction.
func (c *Client) Approve(ctx context.Context, token types.Token, spender common.Address, amount *big.Int, erc20ABI string) (string, error) {
	if token.IsNative {
		return "", swaperr.New(swaperr.ApprovalFailed, "native token %s needs no approval", token.Symbol)
	}

	data, err := packApprove(erc20ABI, spender, amount)
	if err != nil {
		return "", swaperr.Wrap(swaperr.ApprovalFailed, err, "failed to encode approval")
	}

	gas, err := c.EstimateGas(ctx, token.Address, data, nil)
	if err != nil {
		c.log.Warn().Err(err).Msg("approve gas estimation failed, using default")
		gas = defaultApproveGas
	}

	fees, err := c.EstimateFees(ctx)
	if err != nil {
		return "", err
	}

	var hash string
	err = c.WithNonce(ctx, func(nonce uint64) error {
		signed, err := c.Sign(ctx, &types.PreparedTransaction{
			To:      token.Address,
			Data:    data,
			Value:   new(big.Int),
			Gas:     gas,
			Fees:    fees,
			Nonce:   nonce,
			ChainID: c.ChainID(),
		})
		if err != nil {
			return err
		}
		hash = signed.Hash
		_, err = c.Submit(ctx, signed)
		return err
	})
	if err != nil {
		if hash == "" {
			return "", err
		}
		return hash, &swaperr.Error{
			Kind:    swaperr.ChainError,
			Message: "approval broadcast failed, outcome unknown",
			TxHash:  hash,
			Err:     err,
		}
	}

	c.txLog.Info().
		Str("token", token.Symbol).
		Str("spender", spender.Hex()).
		Str("tx_hash", hash).
		Msg("approval submitted")
	return hash, nil
}

// Sign signs a fully populated transaction with the account key
func (c *Client) Sign(_ context.Context, tx *types.PreparedTransaction) (*types.SignedTransaction, error) {
	if tx == nil {
		return nil, swaperr.New(swaperr.InvalidRequest, "nothing to sign")
	}
	if tx.Gas == 0 {
		return nil, swaperr.New(swaperr.InvalidRequest, "gas limit not set")
	}
	if tx.ChainID != c.ChainID() {
		return nil, swaperr.New(swaperr.InvalidRequest, "transaction chain %d does not match client chain %d", tx.ChainID, c.ChainID())
	}

	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	to := tx.To

	var unsigned *ethtypes.Transaction
	switch {
	case tx.Fees.IsDynamic():
		if tx.Fees.MaxPriorityFeePerGas == nil {
			return nil, swaperr.New(swaperr.InvalidRequest, "priority fee not set")
		}
		unsigned = ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     tx.Nonce,
			GasTipCap: tx.Fees.MaxPriorityFeePerGas,
			GasFeeCap: tx.Fees.MaxFeePerGas,
			Gas:       tx.Gas,
			To:        &to,
			Value:     value,
			Data:      tx.Data,
		})
	case tx.Fees.GasPrice != nil:
		unsigned = ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    tx.Nonce,
			GasPrice: tx.Fees.GasPrice,
			Gas:      tx.Gas,
			To:       &to,
			Value:    value,
			Data:     tx.Data,
		})
	default:
		return nil, swaperr.New(swaperr.InvalidRequest, "gas fees not set")
	}

	signer := ethtypes.LatestSignerForChainID(c.chainID)
	signed, err := ethtypes.SignTx(unsigned, signer, c.privateKey)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.ChainError, err, "failed to sign transaction")
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, swaperr.Wrap(swaperr.ChainError, err, "failed to encode transaction")
	}

	return &types.SignedTransaction{Raw: raw, Hash: signed.Hash().Hex()}, nil
}

// Submit broadcasts a signed transaction and returns its hash. A failed
// broadcast still carries the hash in its error.
func (c *Client) Submit(ctx context.Context, signed *types.SignedTransaction) (string, error) {
	if signed == nil || len(signed.Raw) == 0 {
		return "", swaperr.New(swaperr.InvalidRequest, "nothing to submit")
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(signed.Raw); err != nil {
		return "", swaperr.Wrap(swaperr.InvalidRequest, err, "invalid signed transaction")
	}

	rctx, cancel := c.rpcContext(ctx)
	defer cancel()

	hash := tx.Hash().Hex()
	if err := c.backend.SendTransaction(rctx, tx); err != nil {
		return "", &swaperr.Error{
			Kind:    swaperr.ChainError,
			Message: "failed to send transaction",
			TxHash:  hash,
			Err:     err,
		}
	}

	c.txLog.Debug().Str("tx_hash", hash).Uint64("nonce", tx.Nonce()).Msg("transaction sent")
	return hash, nil
}

// ErrReceiptNotFound is returned by Receipt while a transaction is unmined
var ErrReceiptNotFound = errors.New("receipt not found")

// Receipt fetches the receipt of hash once
func (c *Client) Receipt(ctx context.Context, hash string) (*types.TransactionReceipt, error) {
	h, err := parseHash(hash)
	if err != nil {
		return nil, err
	}

	rctx, cancel := c.rpcContext(ctx)
	defer cancel()

	r, err := c.backend.TransactionReceipt(rctx, h)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, swaperr.Wrap(swaperr.ChainError, err, "failed to get receipt")
	}
	return toReceipt(hash, r), nil
}

// WaitForConfirmation polls for the receipt of hash until it appears or
// timeout elapses. RPC errors while polling are retried. A timeout or a
// cancelled ctx yields a ConfirmationTimeout carrying the hash; the
// transaction itself may still be mined later.
func (c *Client) WaitForConfirmation(ctx context.Context, hash string, timeout time.Duration) (*types.TransactionReceipt, error) {
	if _, err := parseHash(hash); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	op := func() (*types.TransactionReceipt, error) {
		return c.Receipt(waitCtx, hash)
	}

	receipt, err := backoff.Retry(waitCtx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			if !errors.Is(err, ErrReceiptNotFound) {
				c.log.Debug().Err(err).Str("tx_hash", hash).Dur("retry_in", next).Msg("receipt poll failed")
			}
		}),
	)
	if err != nil {
		se := &swaperr.Error{
			Kind:    swaperr.ConfirmationTimeout,
			Message: fmt.Sprintf("no receipt within %s", timeout),
			TxHash:  hash,
			Err:     err,
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			se.Message = "stopped waiting for receipt"
			se.Err = ctxErr
		}
		return nil, se
	}

	c.txLog.Debug().
		Str("tx_hash", hash).
		Bool("success", receipt.Success).
		Uint64("block", receipt.BlockNumber).
		Msg("receipt received")
	return receipt, nil
}

func parseHash(hash string) (common.Hash, error) {
	b, err := hexutil.Decode(hash)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, swaperr.New(swaperr.InvalidRequest, "invalid transaction hash %q", hash)
	}
	return common.BytesToHash(b), nil
}

func toReceipt(hash string, r *ethtypes.Receipt) *types.TransactionReceipt {
	receipt := &types.TransactionReceipt{
		Hash:    hash,
		Success: r.Status == ethtypes.ReceiptStatusSuccessful,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	return receipt
}
