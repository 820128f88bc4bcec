package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"evm-swap/config"
	"evm-swap/pkg/chain"
	"evm-swap/pkg/client"
	"evm-swap/pkg/logger"
	"evm-swap/pkg/swaperr"
	"evm-swap/pkg/token"
)

var rootCmd = &cobra.Command{
	Use:   "evm-swap",
	Short: "A CLI for single-chain token swaps through a DEX aggregator",
	Long: `evm-swap swaps tokens on an EVM chain using a DEX aggregator for routing.
It resolves both tokens, fetches a quote, approves the router when needed,
then signs, submits and waits for the swap transaction.

Examples:
  evm-swap swap 1.5 ETH to USDC
  evm-swap swap 100 USDC to WETH --slippage 0.3
  evm-swap list-tokens --symbol usd
  evm-swap status 0x1234...abcd --watch
  evm-swap history`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().Uint64("chain-id", 0, "Chain id (defaults to the RPC node's chain)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	_ = viper.BindPFlag("chain_id", rootCmd.PersistentFlags().Lookup("chain-id"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// exitOnFailure adapts a command body returning an exit code. The body has
// returned, and its deferred cleanup has run, before the process exits.
func exitOnFailure(run func(cmd *cobra.Command, args []string) int) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		if code := run(cmd, args); code != 0 {
			os.Exit(code)
		}
	}
}

// app holds the collaborators a command needs, built from configuration
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	http       *client.HTTPClient
	aggregator *client.AggregatorClient
	chain      *chain.Client
	resolver   *token.Resolver
}

// newApp loads configuration and connects to the RPC node. Commands that
// never sign pass signer=false and get a throwaway key when none is configured.
func newApp(ctx context.Context, cmd *cobra.Command, signer bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireRPC(); err != nil {
		return nil, err
	}
	privateKey := cfg.PrivateKey
	if signer {
		if err := cfg.RequireSigner(); err != nil {
			return nil, err
		}
	} else if privateKey == "" {
		privateKey = readOnlyKey
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	l := logger.Init(cfg.LogLevel, verbose)

	httpClient := client.NewHTTPClient(cfg.BaseURL,
		client.WithLogger(l),
		client.WithTimeout(cfg.HTTPTimeout),
		client.WithProxy(cfg.Proxy),
	)
	aggregator := client.NewAggregatorClient(httpClient, l)

	chainClient, err := chain.Dial(ctx, chain.Config{
		RPCURL:           cfg.RPCURL,
		PrivateKey:       privateKey,
		ChainID:          cfg.ChainID,
		Proxy:            cfg.Proxy,
		RPCTimeout:       cfg.RPCTimeout,
		PollInterval:     cfg.PollInterval,
		GasBufferPercent: cfg.GasBufferPercent,
	}, l)
	if err != nil {
		httpClient.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		log:        l,
		http:       httpClient,
		aggregator: aggregator,
		chain:      chainClient,
		resolver:   token.NewResolver(aggregator, l, token.WithLoadTimeout(cfg.HTTPTimeout)),
	}, nil
}

// Close releases the HTTP and RPC connections
func (a *app) Close() {
	a.chain.Close()
	a.http.Close()
}

const readOnlyKey = "0x0000000000000000000000000000000000000000000000000000000000000001"

func printError(err error) {
	fmt.Fprintf(os.Stderr, "\n%s %v\n", color.RedString("Error:"), err)
	if hash := swaperr.HashOf(err); hash != "" {
		fmt.Fprintf(os.Stderr, "Transaction %s was broadcast. Check it with:\n", color.CyanString(hash))
		color.New(color.FgCyan).Fprintf(os.Stderr, "  evm-swap status %s\n", hash)
	}
	fmt.Fprintln(os.Stderr)
}
