package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"evm-swap/pkg/journal"
	"evm-swap/pkg/parser"
	"evm-swap/pkg/swap"
	"evm-swap/pkg/swaperr"
	"evm-swap/pkg/types"
)

var (
	slippageFlag string
	noConfirm    bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount> <source-token> to <dest-token>",
	Short: "Swap tokens on the configured chain",
	Long: `Swap tokens on a single EVM chain through the DEX aggregator.

ERC20 source tokens are approved for the aggregator router first; the swap is
only signed after the approval is confirmed. Every broadcast transaction hash
is written to the local journal before waiting for it.

Pressing Ctrl+C stops waiting but does not cancel a transaction that was
already broadcast. Use 'evm-swap status <hash>' to follow it.

Examples:
  evm-swap swap 1.5 ETH to USDC
  evm-swap swap 100 USDC to WETH --slippage 0.3
  evm-swap swap 0.25 ARB to ETH --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  exitOnFailure(runSwap),
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().StringVarP(&slippageFlag, "slippage", "s", "0.5", "Slippage tolerance in percent, in (0, 100]")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runSwap(cmd *cobra.Command, args []string) int {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	slippage, err := parser.ParseSlippage(slippageFlag)
	if err != nil {
		printError(err)
		return 1
	}

	// Parse the command
	swapReq, err := parser.ParseSwapCommand(strings.Join(args, " "), slippage)
	if err != nil {
		printError(err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, true)
	if err != nil {
		printError(err)
		return 1
	}
	defer a.Close()

	j, err := journal.Open(a.cfg.JournalPath)
	if err != nil {
		printError(err)
		return 1
	}

	if !jsonOutput {
		displayRequest(swapReq, a)
	}

	// Ask for confirmation
	if !noConfirm && !jsonOutput {
		if !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			return 0
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	hook := func(state swap.State) {
		if jsonOutput {
			return
		}
		if state.Terminal() {
			s.Stop()
			return
		}
		s.Suffix = " " + state.Description()
		if !s.Active() {
			s.Start()
		}
	}

	orch := swap.New(a.resolver, a.aggregator, a.chain,
		swap.WithRecorder(&explorerRecorder{Recorder: swap.NewJournalRecorder(j), txURL: a.cfg.TxURL, quiet: jsonOutput, s: s}),
		swap.WithConfirmTimeout(a.cfg.ConfirmTimeout),
		swap.WithGasReserve(a.cfg.GasReserve),
		swap.WithStateHook(hook),
		swap.WithLogger(a.log),
	)

	receipt, err := orch.Swap(ctx, *swapReq)
	s.Stop()

	if jsonOutput {
		printSwapJSON(swapReq, receipt, err)
		if err != nil {
			return 1
		}
		return 0
	}

	if err != nil {
		printError(err)
		return 1
	}

	displayReceipt(receipt, a)
	return 0
}

// explorerRecorder prints each hash as soon as it is recorded
type explorerRecorder struct {
	swap.Recorder
	txURL func(string) string
	quiet bool
	s     *spinner.Spinner
}

func (r *explorerRecorder) Submitted(sub swap.Submission) error {
	err := r.Recorder.Submitted(sub)
	if r.quiet {
		return err
	}

	active := r.s.Active()
	r.s.Stop()
	fmt.Printf("  %s transaction sent: %s\n", sub.Kind, color.CyanString(sub.Hash))
	if link := r.txURL(sub.Hash); link != "" {
		fmt.Printf("  %s\n", color.HiBlackString(link))
	}
	if active {
		r.s.Start()
	}
	return err
}

func displayRequest(req *types.SwapRequest, a *app) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                      SWAP")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:      %s %s\n", req.Amount, color.YellowString(req.FromToken))
	fmt.Printf("  To:        %s\n", color.YellowString(req.ToToken))
	fmt.Printf("  Slippage:  %s%%\n", req.SlippagePercent)
	fmt.Printf("  Chain ID:  %d\n", a.chain.ChainID())
	fmt.Printf("  Account:   %s\n", color.CyanString(a.chain.Address().Hex()))

	fmt.Println("\n" + strings.Repeat("=", 60))
}

func displayReceipt(receipt *types.TransactionReceipt, a *app) {
	color.Green("\n✓ Swap confirmed")
	fmt.Printf("  Transaction: %s\n", color.CyanString(receipt.Hash))
	fmt.Printf("  Block:       %d\n", receipt.BlockNumber)
	fmt.Printf("  Gas used:    %d\n", receipt.GasUsed)
	if link := a.cfg.TxURL(receipt.Hash); link != "" {
		fmt.Printf("  Explorer:    %s\n", link)
	}
	fmt.Println()
}

func printSwapJSON(req *types.SwapRequest, receipt *types.TransactionReceipt, err error) {
	output := map[string]interface{}{
		"amount":     req.Amount.String(),
		"from_token": req.FromToken,
		"to_token":   req.ToToken,
		"slippage":   req.SlippagePercent.String(),
	}
	if receipt != nil {
		output["status"] = "confirmed"
		output["tx_hash"] = receipt.Hash
		output["block_number"] = receipt.BlockNumber
		output["gas_used"] = receipt.GasUsed
	}
	if err != nil {
		output["status"] = "failed"
		output["error"] = err.Error()
		output["error_kind"] = string(swaperr.KindOf(err))
		if hash := swaperr.HashOf(err); hash != "" {
			output["tx_hash"] = hash
		}
	}
	jsonData, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(jsonData))
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with swap? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
