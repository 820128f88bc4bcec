package token

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"evm-swap/pkg/client"
	"evm-swap/pkg/logger"
	"evm-swap/pkg/swaperr"
	"evm-swap/pkg/types"
)

// Source provides the aggregator token map for a chain
type Source interface {
	GetTokens(ctx context.Context, chainID uint64) (map[common.Address]client.TokenInfo, error)
}

// Resolver maps token symbols to on-chain tokens. Token maps are cached per
// chain for the lifetime of the process.
type Resolver struct {
	source      Source
	cache       *cache.Cache
	group       singleflight.Group
	loadTimeout time.Duration
	log         zerolog.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithLoadTimeout bounds a shared token map load
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// NewResolver creates a new resolver backed by source
func NewResolver(source Source, l zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		source:      source,
		cache:       cache.New(cache.NoExpiration, 0),
		loadTimeout: client.DefaultTimeout,
		log:         logger.Category(l, logger.CategoryToken),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up symbol (case-insensitive) on chainID
func (r *Resolver) Resolve(ctx context.Context, symbol string, chainID uint64) (types.Token, error) {
	tokens, err := r.Tokens(ctx, chainID)
	if err != nil {
		return types.Token{}, swaperr.Wrap(swaperr.TokenNotFound, err, "failed to load token map for chain %d", chainID)
	}

	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			r.log.Debug().
				Str("symbol", t.Symbol).
				Str("address", t.Address.Hex()).
				Uint8("decimals", t.Decimals).
				Bool("native", t.IsNative).
				Msg("token resolved")
			return t, nil
		}
	}

	return types.Token{}, swaperr.New(swaperr.TokenNotFound, "token %q not found on chain %d", symbol, chainID)
}

// Tokens returns every known token on chainID, sorted by symbol.
// Concurrent callers share one load, which is detached from any single
// caller's cancellation and bounded by the load timeout instead.
func (r *Resolver) Tokens(ctx context.Context, chainID uint64) ([]types.Token, error) {
	key := strconv.FormatUint(chainID, 10)
	if cached, ok := r.cache.Get(key); ok {
		return cached.([]types.Token), nil
	}

	ch := r.group.DoChan(key, func() (interface{}, error) {
		if cached, ok := r.cache.Get(key); ok {
			return cached, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()

		infos, err := r.source.GetTokens(lctx, chainID)
		if err != nil {
			return nil, err
		}
		tokens := toTokens(infos, chainID)
		r.cache.Set(key, tokens, cache.NoExpiration)
		r.log.Debug().Uint64("chain_id", chainID).Int("tokens", len(tokens)).Msg("token map loaded")
		return tokens, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]types.Token), nil
	}
}
