// Package swap runs a single-chain token swap end to end: resolve, quote,
// approve when needed, build, sign, submit and confirm.
package swap

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"evm-swap/pkg/amount"
	"evm-swap/pkg/journal"
	"evm-swap/pkg/logger"
	"evm-swap/pkg/swaperr"
	"evm-swap/pkg/types"
)

const (
	DefaultConfirmTimeout = 80 * time.Second
	DefaultGasReserve     = 300000
)

var maxSlippage = decimal.NewFromInt(100)

// TokenResolver maps a symbol to a token on a chain
type TokenResolver interface {
	Resolve(ctx context.Context, symbol string, chainID uint64) (types.Token, error)
}

// Aggregator prices routes and builds their call data
type Aggregator interface {
	GetQuote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error)
	BuildTransaction(ctx context.Context, quote *types.Quote, user common.Address) (*types.TxFragment, error)
	GetContractInfo(ctx context.Context, chainID uint64) (*types.ContractInfo, error)
}

// ChainClient is everything the orchestrator needs from the key-holding
// chain client. The private key itself is never exposed.
type ChainClient interface {
	Address() common.Address
	ChainID() uint64
	GetBalance(ctx context.Context, token types.Token) (*big.Int, error)
	EstimateFees(ctx context.Context) (types.GasFees, error)
	EstimateGas(ctx context.Context, to common.Address, data []byte, value *big.Int) (uint64, error)
	WithNonce(ctx context.Context, fn func(nonce uint64) error) error
	Approve(ctx context.Context, token types.Token, spender common.Address, amount *big.Int, erc20ABI string) (string, error)
	Sign(ctx context.Context, tx *types.PreparedTransaction) (*types.SignedTransaction, error)
	Submit(ctx context.Context, signed *types.SignedTransaction) (string, error)
	WaitForConfirmation(ctx context.Context, hash string, timeout time.Duration) (*types.TransactionReceipt, error)
}

// StateHook observes every state transition of a swap attempt
type StateHook func(state State)

// Orchestrator runs swap attempts against one account on one chain
type Orchestrator struct {
	resolver   TokenResolver
	aggregator Aggregator
	chain      ChainClient

	recorder       Recorder
	confirmTimeout time.Duration
	gasReserve     uint64
	hook           StateHook
	log            zerolog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRecorder persists every broadcast hash
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithConfirmTimeout bounds each confirmation wait
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.confirmTimeout = d
		}
	}
}

// WithGasReserve sets the gas units reserved in the balance check when the
// quote carries no gas estimate
func WithGasReserve(units uint64) Option {
	return func(o *Orchestrator) {
		o.gasReserve = units
	}
}

func WithStateHook(h StateHook) Option {
	return func(o *Orchestrator) {
		o.hook = h
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = logger.Category(l, logger.CategorySwap)
	}
}

// New creates a new orchestrator
func New(resolver TokenResolver, aggregator Aggregator, chain ChainClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:       resolver,
		aggregator:     aggregator,
		chain:          chain,
		recorder:       nopRecorder{},
		confirmTimeout: DefaultConfirmTimeout,
		gasReserve:     DefaultGasReserve,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// attempt carries the per-swap values between steps
type attempt struct {
	req      types.SwapRequest
	from, to types.Token
	amount   *big.Int
	quote    *types.Quote
	fragment *types.TxFragment
	signed   *types.SignedTransaction
	hash     string
	state    State
}

// Swap executes req and returns the receipt of the confirmed swap.
//
// ctx is observed at every network call and while waiting for receipts.
// Cancelling it stops the orchestrator from waiting; it does not recall a
// transaction that was already broadcast. When an approval or swap
// transaction is in flight the returned error carries its hash, and the
// caller must check its outcome out of band.
//
// Every failure is terminal for the attempt and nothing is retried. A new
// attempt fetches a new quote.
func (o *Orchestrator) Swap(ctx context.Context, req types.SwapRequest) (*types.TransactionReceipt, error) {
	a := &attempt{req: req}

	if err := validate(req); err != nil {
		return nil, o.fail(a, err)
	}

	steps := []func(context.Context, *attempt) error{
		o.resolve,
		o.quote,
		o.approve,
		o.build,
		o.signAndSubmit,
	}
	for _, step := range steps {
		if err := step(ctx, a); err != nil {
			return nil, o.fail(a, err)
		}
	}

	receipt, err := o.confirm(ctx, a)
	if err != nil {
		return nil, o.fail(a, err)
	}

	o.enter(a, StateDone)
	o.log.Info().
		Str("tx_hash", receipt.Hash).
		Uint64("block", receipt.BlockNumber).
		Uint64("gas_used", receipt.GasUsed).
		Msg("swap confirmed")
	return receipt, nil
}

func validate(req types.SwapRequest) error {
	if !req.Amount.IsPositive() {
		return swaperr.New(swaperr.InvalidRequest, "amount must be greater than zero, got %s", req.Amount)
	}
	if !req.SlippagePercent.IsPositive() || req.SlippagePercent.GreaterThan(maxSlippage) {
		return swaperr.New(swaperr.InvalidRequest, "slippage must be in (0, 100], got %s", req.SlippagePercent)
	}
	if strings.TrimSpace(req.FromToken) == "" || strings.TrimSpace(req.ToToken) == "" {
		return swaperr.New(swaperr.InvalidRequest, "both tokens are required")
	}
	if strings.EqualFold(req.FromToken, req.ToToken) {
		return swaperr.New(swaperr.InvalidRequest, "cannot swap %s to itself", req.FromToken)
	}
	return nil
}

func (o *Orchestrator) enter(a *attempt, s State) {
	a.state = s
	o.log.Debug().Str("state", string(s)).Msg("swap state")
	if o.hook != nil {
		o.hook(s)
	}
}

// fail classifies err for the step it happened in and enters Failed
func (o *Orchestrator) fail(a *attempt, err error) error {
	se := swaperr.Wrap(defaultKind(a.state), err, "%s failed", strings.ToLower(string(a.state)))
	if se.State == "" && a.state != "" {
		se.State = string(a.state)
	}
	if se.TxHash == "" {
		se.TxHash = a.hash
	}

	o.enter(a, StateFailed)
	o.log.Error().Err(se).Str("kind", string(se.Kind)).Msg("swap failed")
	return se
}

func defaultKind(s State) swaperr.Kind {
	switch s {
	case StateResolving:
		return swaperr.TokenNotFound
	case StateQuoting:
		return swaperr.QuoteError
	case StateApprovalPending:
		return swaperr.ApprovalFailed
	case StateBuilding:
		return swaperr.BuildError
	case StateConfirming:
		return swaperr.ConfirmationTimeout
	case "":
		return swaperr.InvalidRequest
	default:
		return swaperr.ChainError
	}
}

func (o *Orchestrator) resolve(ctx context.Context, a *attempt) error {
	o.enter(a, StateResolving)
	chainID := o.chain.ChainID()

	from, err := o.resolver.Resolve(ctx, a.req.FromToken, chainID)
	if err != nil {
		return err
	}
	to, err := o.resolver.Resolve(ctx, a.req.ToToken, chainID)
	if err != nil {
		return err
	}
	if from.Address == to.Address {
		return swaperr.New(swaperr.InvalidRequest, "%s and %s are the same token", from.Symbol, to.Symbol)
	}

	a.from, a.to = from, to
	a.amount = amount.ToSmallestUnit(a.req.Amount, from.Decimals)
	if a.amount.Sign() <= 0 {
		return swaperr.New(swaperr.InvalidRequest, "amount %s is below the precision of %s (%d decimals)", a.req.Amount, from.Symbol, from.Decimals)
	}
	return nil
}

// quote fetches the route and the funds needed to pay for it concurrently.
// Both must succeed before anything is broadcast.
func (o *Orchestrator) quote(ctx context.Context, a *attempt) error {
	o.enter(a, StateQuoting)

	var (
		quote   *types.Quote
		balance *big.Int
		fees    types.GasFees
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := o.aggregator.GetQuote(gctx, types.QuoteRequest{
			ChainID:         o.chain.ChainID(),
			From:            a.from,
			To:              a.to,
			Amount:          a.amount,
			SlippagePercent: a.req.SlippagePercent,
			User:            o.chain.Address(),
		})
		if err != nil {
			return swaperr.Wrap(swaperr.QuoteError, err, "no route for %s %s to %s", a.req.Amount, a.from.Symbol, a.to.Symbol)
		}
		quote = q
		return nil
	})
	g.Go(func() error {
		b, err := o.chain.GetBalance(gctx, a.from)
		if err != nil {
			return err
		}
		if a.from.IsNative {
			if fees, err = o.chain.EstimateFees(gctx); err != nil {
				return err
			}
		}
		balance = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	required := new(big.Int).Set(a.amount)
	if a.from.IsNative {
		gasUnits := quote.EstimatedGas
		if gasUnits == 0 {
			gasUnits = o.gasReserve
		}
		gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), fees.PerGas())
		required.Add(required, gasCost)
	}

	if balance.Cmp(required) < 0 {
		shortfall := new(big.Int).Sub(required, balance)
		return swaperr.New(swaperr.InsufficientFunds,
			"have %s %s, need %s %s (short %s %s)",
			amount.Format(balance, a.from.Decimals), a.from.Symbol,
			amount.Format(required, a.from.Decimals), a.from.Symbol,
			amount.Format(shortfall, a.from.Decimals), a.from.Symbol)
	}

	a.quote = quote
	o.log.Info().
		Str("from", a.from.Symbol).
		Str("to", a.to.Symbol).
		Str("amount_in", a.amount.String()).
		Str("amount_out", bigString(quote.AmountOut)).
		Uint64("estimated_gas", quote.EstimatedGas).
		Msg("quote received")
	return nil
}

// approve lets the router spend the source token and blocks until the
// approval is mined successfully. Native tokens skip this step.
func (o *Orchestrator) approve(ctx context.Context, a *attempt) error {
	if a.from.IsNative {
		return nil
	}
	o.enter(a, StateApprovalPending)

	info, err := o.aggregator.GetContractInfo(ctx, o.chain.ChainID())
	if err != nil {
		return swaperr.Wrap(swaperr.ApprovalFailed, err, "failed to get router address")
	}

	hash, err := o.chain.Approve(ctx, a.from, info.RouterAddress, a.amount, info.ERC20ABI)
	if err != nil {
		if hash == "" {
			return swaperr.Wrap(swaperr.ApprovalFailed, err, "failed to submit approval of %s", a.from.Symbol)
		}
		// signed but the broadcast result is unknown
		o.record(o.submission(a, hash, journal.KindApprove))
		o.settle(hash, nil, err)
		return &swaperr.Error{
			Kind:    swaperr.ApprovalFailed,
			Message: "approval broadcast failed, outcome unknown",
			TxHash:  hash,
			Err:     err,
		}
	}
	o.record(o.submission(a, hash, journal.KindApprove))

	receipt, err := o.chain.WaitForConfirmation(ctx, hash, o.confirmTimeout)
	o.settle(hash, receipt, err)
	if err != nil {
		// an approval that never confirmed must stop the swap whatever the wait reported
		return &swaperr.Error{
			Kind:    swaperr.ApprovalFailed,
			Message: "approval was not confirmed",
			TxHash:  hash,
			Err:     err,
		}
	}
	if !receipt.Success {
		return &swaperr.Error{
			Kind:    swaperr.ApprovalFailed,
			Message: "approval reverted on-chain",
			TxHash:  hash,
		}
	}

	o.log.Info().Str("tx_hash", hash).Str("spender", info.RouterAddress.Hex()).Msg("approval confirmed")
	return nil
}

// build consumes the quote. It is never called twice for the same quote.
func (o *Orchestrator) build(ctx context.Context, a *attempt) error {
	o.enter(a, StateBuilding)

	fragment, err := o.aggregator.BuildTransaction(ctx, a.quote, o.chain.Address())
	if err != nil {
		return err
	}
	a.fragment = fragment
	return nil
}

// signAndSubmit prepares the swap with a fresh nonce and fresh fees, signs it
// and broadcasts it while holding the account's send lock.
func (o *Orchestrator) signAndSubmit(ctx context.Context, a *attempt) error {
	o.enter(a, StateSigning)
	frag := a.fragment

	value := frag.Value
	if value == nil {
		value = new(big.Int)
	}

	gas := frag.Gas
	if gas == 0 {
		estimated, err := o.chain.EstimateGas(ctx, frag.To, frag.Data, value)
		if err != nil {
			return err
		}
		gas = estimated
	}

	fees, err := o.chain.EstimateFees(ctx)
	if err != nil {
		return err
	}

	return o.chain.WithNonce(ctx, func(nonce uint64) error {
		signed, err := o.chain.Sign(ctx, &types.PreparedTransaction{
			To:      frag.To,
			Data:    frag.Data,
			Value:   value,
			Gas:     gas,
			Fees:    fees,
			Nonce:   nonce,
			ChainID: o.chain.ChainID(),
		})
		if err != nil {
			return err
		}
		a.signed = signed

		o.enter(a, StateSubmitting)
		hash, err := o.chain.Submit(ctx, signed)
		if err != nil {
			return o.submitFailed(a, err)
		}
		a.hash = hash

		o.record(o.submission(a, hash, journal.KindSwap))
		o.log.Info().Str("tx_hash", hash).Uint64("nonce", nonce).Uint64("gas", gas).Msg("swap submitted")
		return nil
	})
}

// submitFailed keeps the signed hash of a swap whose broadcast failed. The
// node may have accepted it before the call returned, so the caller gets the
// hash to check and the journal marks it unknown.
func (o *Orchestrator) submitFailed(a *attempt, err error) error {
	a.hash = a.signed.Hash
	o.record(o.submission(a, a.hash, journal.KindSwap))
	o.settle(a.hash, nil, err)
	return &swaperr.Error{
		Kind:    swaperr.ChainError,
		Message: "swap broadcast failed, outcome unknown",
		TxHash:  a.hash,
		Err:     err,
	}
}

func (o *Orchestrator) submission(a *attempt, hash string, kind journal.Kind) Submission {
	s := Submission{
		Hash:      hash,
		Kind:      kind,
		ChainID:   o.chain.ChainID(),
		FromToken: a.from.Symbol,
		Amount:    a.req.Amount.String(),
	}
	if kind == journal.KindSwap {
		s.ToToken = a.to.Symbol
	}
	return s
}

func (o *Orchestrator) confirm(ctx context.Context, a *attempt) (*types.TransactionReceipt, error) {
	o.enter(a, StateConfirming)

	receipt, err := o.chain.WaitForConfirmation(ctx, a.hash, o.confirmTimeout)
	o.settle(a.hash, receipt, err)
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		return nil, &swaperr.Error{
			Kind:    swaperr.OnChainRevert,
			Message: "swap reverted on-chain",
			TxHash:  a.hash,
		}
	}
	return receipt, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
