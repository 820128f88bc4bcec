package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"evm-swap/pkg/amount"
	"evm-swap/pkg/swaperr"
	"evm-swap/pkg/types"
)

var (
	swapPattern = regexp.MustCompile(`^(\S+)\s+([A-Z0-9.\-_]+)\s+(?:TO|FOR|->)\s+([A-Z0-9.\-_]+)$`)
	maxSlippage = decimal.NewFromInt(100)
)

// ParseSwapCommand parses a swap command
// Examples:
//   - "swap 1.5 ETH to USDC"
//   - "100 USDC to WETH"
//   - "0.25 ARB for ETH"
func ParseSwapCommand(command string, slippage decimal.Decimal) (*types.SwapRequest, error) {
	// Normalize the command
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "SWAP ")

	matches := swapPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, swaperr.New(swaperr.InvalidRequest, "invalid swap command format. Expected: 'swap <amount> <token> to <token>' (e.g., 'swap 1.5 ETH to USDC')")
	}

	amt, err := amount.Parse(matches[1])
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InvalidRequest, err, "invalid amount")
	}

	req := &types.SwapRequest{
		Amount:          amt,
		SlippagePercent: slippage,
		FromToken:       matches[2],
		ToToken:         matches[3],
	}
	if err := ValidateSwapRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ValidateSwapRequest validates that a swap request has all required fields
func ValidateSwapRequest(req *types.SwapRequest) error {
	if !req.Amount.IsPositive() {
		return swaperr.New(swaperr.InvalidRequest, "amount must be greater than zero")
	}
	if req.FromToken == "" {
		return swaperr.New(swaperr.InvalidRequest, "source token is required")
	}
	if req.ToToken == "" {
		return swaperr.New(swaperr.InvalidRequest, "destination token is required")
	}
	if strings.EqualFold(req.FromToken, req.ToToken) {
		return swaperr.New(swaperr.InvalidRequest, "source and destination token are both %s", req.FromToken)
	}
	return ValidateSlippage(req.SlippagePercent)
}

// ValidateSlippage checks slippage is a percentage in (0, 100]
func ValidateSlippage(slippage decimal.Decimal) error {
	if !slippage.IsPositive() || slippage.GreaterThan(maxSlippage) {
		return swaperr.New(swaperr.InvalidRequest, "slippage must be greater than 0 and at most 100 percent, got %s", slippage)
	}
	return nil
}

// ParseSlippage reads a slippage percentage such as "0.5" or "1%"
func ParseSlippage(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if err != nil {
		return decimal.Zero, swaperr.New(swaperr.InvalidRequest, "invalid slippage %q", s)
	}
	if err := ValidateSlippage(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}
