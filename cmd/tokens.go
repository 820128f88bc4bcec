package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"evm-swap/pkg/token"
	"evm-swap/pkg/types"
)

var filterSymbol string

var tokensCmd = &cobra.Command{
	Use:     "list-tokens",
	Aliases: []string{"tokens", "ls"},
	Short:   "List the tokens the aggregator supports on the chain",
	Long: `List the tokens the aggregator supports on the configured chain.

You can filter tokens by symbol.

Examples:
  evm-swap list-tokens
  evm-swap list-tokens --symbol usdc
  evm-swap list-tokens --chain-id 10`,
	Run: exitOnFailure(runListTokens),
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) int {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx := context.Background()
	a, err := newApp(ctx, cmd, false)
	if err != nil {
		printError(err)
		return 1
	}
	defer a.Close()

	// Get tokens with spinner
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching supported tokens..."
		s.Start()
	}

	tokens, err := a.resolver.Tokens(ctx, a.chain.ChainID())
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		return 1
	}

	filtered := token.Filter(tokens, filterSymbol)

	// Output
	if jsonOutput {
		type tokenJSON struct {
			Symbol   string `json:"symbol"`
			Address  string `json:"address"`
			Decimals uint8  `json:"decimals"`
			Native   bool   `json:"native"`
		}
		out := lo.Map(filtered, func(t types.Token, _ int) tokenJSON {
			return tokenJSON{Symbol: t.Symbol, Address: t.Address.Hex(), Decimals: t.Decimals, Native: t.IsNative}
		})
		jsonData, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayTokens(filtered, a.chain.ChainID())
	}
	return 0
}

func displayTokens(tokens []types.Token, chainID uint64) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	color.Green("                     SUPPORTED TOKENS (chain %d)", chainID)
	fmt.Println(strings.Repeat("=", 80))

	for _, t := range tokens {
		address := t.Address.Hex()
		if t.IsNative {
			address = "native"
		}
		fmt.Printf("  %-12s  %2d decimals  %s\n",
			color.YellowString(t.Symbol),
			t.Decimals,
			color.HiBlackString(address))
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("\nTotal: %d tokens\n\n", len(tokens))
}
