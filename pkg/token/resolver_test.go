package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-swap/pkg/client"
	"evm-swap/pkg/swaperr"
	"evm-swap/pkg/types"
)

type fakeSource struct {
	calls  atomic.Int32
	tokens map[common.Address]client.TokenInfo
	err    error
}

func (f *fakeSource) GetTokens(_ context.Context, _ uint64) (map[common.Address]client.TokenInfo, error) {
	f.calls.Add(1)
	return f.tokens, f.err
}

var (
	usdc = common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	weth = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
)

func newSource() *fakeSource {
	return &fakeSource{tokens: map[common.Address]client.TokenInfo{
		types.NativeTokenAddress: {Symbol: "ETH", Decimals: 18, ProtocolID: "native"},
		usdc:                     {Symbol: "USDC", Decimals: 6, ProtocolID: "erc20"},
		weth:                     {Symbol: "WETH", Decimals: 18},
	}}
}

func TestResolveCaseInsensitive(t *testing.T) {
	src := newSource()
	r := NewResolver(src, zerolog.Nop())

	tok, err := r.Resolve(context.Background(), "usdc", 42161)
	require.NoError(t, err)
	assert.Equal(t, usdc, tok.Address)
	assert.Equal(t, uint8(6), tok.Decimals)
	assert.False(t, tok.IsNative)
	assert.Equal(t, uint64(42161), tok.ChainID)

	eth, err := r.Resolve(context.Background(), "Eth", 42161)
	require.NoError(t, err)
	assert.True(t, eth.IsNative)
	assert.Equal(t, types.NativeTokenAddress, eth.Address)
}

func TestResolveNotFound(t *testing.T) {
	r := NewResolver(newSource(), zerolog.Nop())

	_, err := r.Resolve(context.Background(), "DOGE", 42161)
	require.Error(t, err)
	assert.True(t, swaperr.Is(err, swaperr.TokenNotFound))
}

func TestResolveSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	r := NewResolver(src, zerolog.Nop())

	_, err := r.Resolve(context.Background(), "ETH", 1)
	require.Error(t, err)
	assert.True(t, swaperr.Is(err, swaperr.TokenNotFound))
	assert.ErrorContains(t, err, "connection refused")
}

func TestTokenMapIsCachedPerChain(t *testing.T) {
	src := newSource()
	r := NewResolver(src, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Resolve(context.Background(), "USDC", 42161)
		}()
	}
	wg.Wait()

	_, err := r.Resolve(context.Background(), "WETH", 42161)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	_, err = r.Resolve(context.Background(), "WETH", 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestTokensOrderAndFilter(t *testing.T) {
	r := NewResolver(newSource(), zerolog.Nop())

	tokens, err := r.Tokens(context.Background(), 42161)
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, "ETH", tokens[0].Symbol)
	assert.Equal(t, "USDC", tokens[1].Symbol)
	assert.Equal(t, "WETH", tokens[2].Symbol)

	filtered := Filter(tokens, "eth")
	require.Len(t, filtered, 2)
	assert.Equal(t, "ETH", filtered[0].Symbol)
	assert.Equal(t, "WETH", filtered[1].Symbol)
}

type blockingSource struct {
	started chan struct{}
	release chan struct{}
	loadErr chan error
	dl      chan bool
}

func (b *blockingSource) GetTokens(ctx context.Context, _ uint64) (map[common.Address]client.TokenInfo, error) {
	close(b.started)
	<-b.release
	_, ok := ctx.Deadline()
	b.dl <- ok
	b.loadErr <- ctx.Err()
	return newSource().tokens, nil
}

func TestSharedLoadSurvivesCallerCancel(t *testing.T) {
	src := &blockingSource{
		started: make(chan struct{}),
		release: make(chan struct{}),
		loadErr: make(chan error, 1),
		dl:      make(chan bool, 1),
	}
	r := NewResolver(src, zerolog.Nop(), WithLoadTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Tokens(ctx, 42161)
		firstErr <- err
	}()
	<-src.started

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(src.release)
	assert.True(t, <-src.dl)
	assert.NoError(t, <-src.loadErr)

	tokens, err := r.Tokens(context.Background(), 42161)
	require.NoError(t, err)
	assert.Len(t, tokens, 3)
}
