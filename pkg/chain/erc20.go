package chain

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Minimal ERC20 ABI used when the aggregator does not supply one
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var defaultERC20ABI = mustParseABI(erc20ABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// parseERC20ABI prefers the supplied ABI when it declares approve
func parseERC20ABI(s string) abi.ABI {
	if strings.TrimSpace(s) == "" {
		return defaultERC20ABI
	}
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		return defaultERC20ABI
	}
	if _, ok := parsed.Methods["approve"]; !ok {
		return defaultERC20ABI
	}
	return parsed
}

// packApprove encodes approve(spender, amount)
func packApprove(abiJSON string, spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := parseERC20ABI(abiJSON).Pack("approve", spender, amount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack approve data")
	}
	return data, nil
}

// erc20Balance gets the balance of an ERC20 token for an address
func (c *Client) erc20Balance(ctx context.Context, tokenAddress, account common.Address) (*big.Int, error) {
	data, err := defaultERC20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack balanceOf data")
	}

	msg := ethereum.CallMsg{
		To:   &tokenAddress,
		Data: data,
	}

	result, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to call balanceOf")
	}

	out, err := defaultERC20ABI.Unpack("balanceOf", result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack balanceOf result")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected balanceOf result type")
	}
	return balance, nil
}
