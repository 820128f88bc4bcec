package token

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"evm-swap/pkg/client"
	"evm-swap/pkg/types"
)

// toTokens converts the aggregator map into a stable order: native asset first,
// then by symbol, then by address. Symbol lookups take the first match.
func toTokens(infos map[common.Address]client.TokenInfo, chainID uint64) []types.Token {
	tokens := lo.MapToSlice(infos, func(addr common.Address, info client.TokenInfo) types.Token {
		return types.Token{
			Address:  addr,
			Symbol:   info.Symbol,
			Decimals: info.Decimals,
			IsNative: info.IsNative(),
			ChainID:  chainID,
		}
	})

	sort.Slice(tokens, func(i, j int) bool {
		a, b := tokens[i], tokens[j]
		if a.IsNative != b.IsNative {
			return a.IsNative
		}
		if sa, sb := strings.ToUpper(a.Symbol), strings.ToUpper(b.Symbol); sa != sb {
			return sa < sb
		}
		return a.Address.Cmp(b.Address) < 0
	})

	return tokens
}

// Filter returns the tokens whose symbol contains substr, case-insensitive
func Filter(tokens []types.Token, substr string) []types.Token {
	if substr == "" {
		return tokens
	}
	substr = strings.ToUpper(substr)
	return lo.Filter(tokens, func(t types.Token, _ int) bool {
		return strings.Contains(strings.ToUpper(t.Symbol), substr)
	})
}
