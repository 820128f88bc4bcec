package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"evm-swap/pkg/logger"
	"evm-swap/pkg/swaperr"
	"evm-swap/pkg/types"
)

const (
	DefaultBaseURL = "https://api.odos.xyz"

	nativeProtocolID = "native"

	pathTokens       = "/info/tokens/%d"
	pathContractInfo = "/info/contract-info/v2/%d"
	pathQuote        = "/sor/quote/v2"
	pathAssemble     = "/sor/assemble"
)

// TokenInfo is one entry of the aggregator's token map
type TokenInfo struct {
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	Decimals   uint8  `json:"decimals"`
	ProtocolID string `json:"protocolId"`
}

type tokenMapResponse struct {
	TokenMap map[string]TokenInfo `json:"tokenMap"`
}

type contractInfoResponse struct {
	RouterAddress string `json:"routerAddress"`
	ERC20ABI      struct {
		ABI json.RawMessage `json:"abi"`
	} `json:"erc20Abi"`
}

type quoteInputToken struct {
	TokenAddress string `json:"tokenAddress"`
	Amount       string `json:"amount"`
}

type quoteOutputToken struct {
	TokenAddress string `json:"tokenAddress"`
	Proportion   int    `json:"proportion"`
}

type quoteRequest struct {
	ChainID              uint64             `json:"chainId"`
	Compact              bool               `json:"compact"`
	UserAddr             string             `json:"userAddr"`
	SlippageLimitPercent json.Number        `json:"slippageLimitPercent"`
	InputTokens          []quoteInputToken  `json:"inputTokens"`
	OutputTokens         []quoteOutputToken `json:"outputTokens"`
}

type quoteResponse struct {
	PathID      string     `json:"pathId"`
	GasEstimate flexNumber `json:"gasEstimate"`
	OutAmounts  []string   `json:"outAmounts"`
}

type assembleRequest struct {
	PathID   string `json:"pathId"`
	Simulate bool   `json:"simulate"`
	UserAddr string `json:"userAddr"`
}

type assembledTransaction struct {
	To       string     `json:"to"`
	From     string     `json:"from"`
	Data     string     `json:"data"`
	Value    flexNumber `json:"value"`
	Gas      flexNumber `json:"gas"`
	GasPrice flexNumber `json:"gasPrice"`
	Nonce    flexNumber `json:"nonce"`
	ChainID  flexNumber `json:"chainId"`
}

type simulation struct {
	IsSuccess       bool `json:"isSuccess"`
	SimulationError *struct {
		Type         string `json:"type"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"simulationError"`
}

type assembleResponse struct {
	Transaction *assembledTransaction `json:"transaction"`
	Simulation  *simulation           `json:"simulation"`
}

// flexNumber accepts a JSON number, a decimal string or a 0x-prefixed hex string
type flexNumber struct {
	v *big.Int
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	var s string
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		s = r.Raw
	case gjson.String:
		s = strings.TrimSpace(r.Str)
	default:
		return fmt.Errorf("unexpected numeric value %s", r.Raw)
	}
	if s == "" {
		return nil
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := hexutil.DecodeBig(s)
		if err != nil {
			return fmt.Errorf("invalid hex number %q: %w", s, err)
		}
		n.v = v
		return nil
	}

	// gas estimates may arrive as floats
	if i := strings.IndexAny(s, ".eE"); i >= 0 {
		f, ok := new(big.Float).SetString(s)
		if !ok {
			return fmt.Errorf("invalid number %q", s)
		}
		n.v, _ = f.Int(nil)
		return nil
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid number %q", s)
	}
	n.v = v
	return nil
}

func (n flexNumber) Int() *big.Int {
	if n.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(n.v)
}

func (n flexNumber) Uint64() uint64 {
	if n.v == nil || n.v.Sign() < 0 || !n.v.IsUint64() {
		return 0
	}
	return n.v.Uint64()
}

// AggregatorClient talks to the swap aggregator REST API
type AggregatorClient struct {
	http *HTTPClient
	log  zerolog.Logger
}

// NewAggregatorClient creates a new aggregator client
func NewAggregatorClient(httpClient *HTTPClient, l zerolog.Logger) *AggregatorClient {
	return &AggregatorClient{
		http: httpClient,
		log:  logger.Category(l, logger.CategorySwap),
	}
}

// GetTokens retrieves the token map for a chain, keyed by checksummed address
func (c *AggregatorClient) GetTokens(ctx context.Context, chainID uint64) (map[common.Address]TokenInfo, error) {
	var resp tokenMapResponse
	if err := c.http.Get(ctx, fmt.Sprintf(pathTokens, chainID), nil, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to get tokens")
	}

	tokens := make(map[common.Address]TokenInfo, len(resp.TokenMap))
	for addr, info := range resp.TokenMap {
		if !common.IsHexAddress(addr) {
			c.log.Debug().Str("address", addr).Msg("skipping token with invalid address")
			continue
		}
		tokens[common.HexToAddress(addr)] = info
	}
	return tokens, nil
}

// IsNative reports whether the token entry is the chain's native asset
func (t TokenInfo) IsNative() bool {
	return strings.EqualFold(t.ProtocolID, nativeProtocolID)
}

// GetContractInfo returns the router that needs the ERC20 allowance and the ERC20 ABI
func (c *AggregatorClient) GetContractInfo(ctx context.Context, chainID uint64) (*types.ContractInfo, error) {
	var resp contractInfoResponse
	if err := c.http.Get(ctx, fmt.Sprintf(pathContractInfo, chainID), nil, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to get contract info")
	}
	if !common.IsHexAddress(resp.RouterAddress) {
		return nil, swaperr.New(swaperr.ApprovalFailed, "invalid router address %q in contract info", resp.RouterAddress)
	}

	return &types.ContractInfo{
		RouterAddress: common.HexToAddress(resp.RouterAddress),
		ERC20ABI:      string(resp.ERC20ABI.ABI),
	}, nil
}

// GetQuote requests a priced route for req
func (c *AggregatorClient) GetQuote(ctx context.Context, req types.QuoteRequest) (*types.Quote, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, swaperr.New(swaperr.QuoteError, "amount must be positive")
	}

	payload := quoteRequest{
		ChainID:              req.ChainID,
		Compact:              true,
		UserAddr:             req.User.Hex(),
		SlippageLimitPercent: json.Number(req.SlippagePercent.String()),
		InputTokens: []quoteInputToken{{
			TokenAddress: req.From.Address.Hex(),
			Amount:       req.Amount.String(),
		}},
		OutputTokens: []quoteOutputToken{{
			TokenAddress: req.To.Address.Hex(),
			Proportion:   1,
		}},
	}

	var raw json.RawMessage
	if err := c.http.Post(ctx, pathQuote, payload, &raw); err != nil {
		return nil, swaperr.Wrap(swaperr.QuoteError, err, "quote request failed")
	}

	var resp quoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, swaperr.Wrap(swaperr.QuoteError, err, "malformed quote response")
	}
	if resp.PathID == "" {
		return nil, swaperr.New(swaperr.QuoteError, "no route found for %s -> %s", req.From.Symbol, req.To.Symbol)
	}

	quote := &types.Quote{
		PathID:       resp.PathID,
		ChainID:      req.ChainID,
		EstimatedGas: resp.GasEstimate.Uint64(),
		Raw:          raw,
	}
	if len(resp.OutAmounts) > 0 {
		if out, ok := new(big.Int).SetString(resp.OutAmounts[0], 10); ok {
			quote.AmountOut = out
		}
	}

	c.log.Debug().
		Str("path_id", quote.PathID).
		Uint64("gas_estimate", quote.EstimatedGas).
		Msg("quote received")

	return quote, nil
}

// BuildTransaction turns a quote into call data. A quote can only be built once.
func (c *AggregatorClient) BuildTransaction(ctx context.Context, quote *types.Quote, user common.Address) (*types.TxFragment, error) {
	if quote == nil || quote.PathID == "" {
		return nil, swaperr.New(swaperr.BuildError, "missing quote")
	}
	if !quote.Consume() {
		return nil, swaperr.New(swaperr.BuildError, "quote %s was already used; request a new quote", quote.PathID)
	}

	payload := assembleRequest{
		PathID:   quote.PathID,
		Simulate: true,
		UserAddr: user.Hex(),
	}

	var resp assembleResponse
	if err := c.http.Post(ctx, pathAssemble, payload, &resp); err != nil {
		return nil, swaperr.Wrap(swaperr.BuildError, err, "assemble request failed")
	}

	if sim := resp.Simulation; sim != nil && !sim.IsSuccess {
		if sim.SimulationError != nil && sim.SimulationError.ErrorMessage != "" {
			return nil, swaperr.New(swaperr.BuildError, "%s", sim.SimulationError.ErrorMessage)
		}
		return nil, swaperr.New(swaperr.BuildError, "simulation failed")
	}

	tx := resp.Transaction
	if tx == nil {
		return nil, swaperr.New(swaperr.BuildError, "no transaction in assemble response")
	}
	if !common.IsHexAddress(tx.To) {
		return nil, swaperr.New(swaperr.BuildError, "invalid transaction target %q", tx.To)
	}
	data, err := hexutil.Decode(tx.Data)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.BuildError, err, "invalid transaction data")
	}

	return &types.TxFragment{
		To:    common.HexToAddress(tx.To),
		Data:  data,
		Value: tx.Value.Int(),
		Gas:   tx.Gas.Uint64(),
	}, nil
}
