package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"evm-swap/pkg/chain"
	"evm-swap/pkg/journal"
	"evm-swap/pkg/swap"
	"evm-swap/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <tx-hash>",
	Short: "Check the outcome of a submitted transaction",
	Long: `Check whether a submitted approval or swap transaction has been mined.

Use this after a swap stopped waiting for confirmation: the transaction may
still be mined later. The local journal is updated with the result.

Examples:
  evm-swap status 0x1234...abcd
  evm-swap status 0x1234...abcd --watch
  evm-swap status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  exitOnFailure(runStatus),
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch until the transaction is mined")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) int {
	hash := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd, false)
	if err != nil {
		printError(err)
		return 1
	}
	defer a.Close()

	// journal is best effort here
	j, jerr := journal.Open(a.cfg.JournalPath)
	if jerr != nil {
		a.log.Warn().Err(jerr).Msg("journal unavailable")
	}

	if watchStatus {
		if jsonOutput {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			return 1
		}
		watchTxStatus(ctx, a, j, hash)
		return 0
	}

	return checkTxStatus(ctx, a, j, hash, jsonOutput)
}

func checkTxStatus(ctx context.Context, a *app, j *journal.Journal, hash string, jsonOutput bool) int {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking transaction status..."
		s.Start()
	}

	receipt, err := a.chain.Receipt(ctx, hash)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil && !errors.Is(err, chain.ErrReceiptNotFound) {
		printError(err)
		return 1
	}
	updateJournal(a, j, hash, receipt)

	if jsonOutput {
		output := map[string]interface{}{
			"tx_hash": hash,
			"status":  string(receiptStatus(receipt)),
		}
		if receipt != nil {
			output["block_number"] = receipt.BlockNumber
			output["gas_used"] = receipt.GasUsed
		}
		jsonData, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonData))
		return 0
	}

	displayStatus(a, j, hash, receipt)
	return 0
}

func watchTxStatus(ctx context.Context, a *app, j *journal.Journal, hash string) {
	fmt.Printf("\nWatching transaction %s\n", color.CyanString(hash))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := a.chain.Receipt(ctx, hash)
		switch {
		case err == nil:
			updateJournal(a, j, hash, receipt)
			displayStatus(a, j, hash, receipt)
			return
		case errors.Is(err, chain.ErrReceiptNotFound):
			fmt.Printf("  %s  %s\n", time.Now().Format(time.TimeOnly), color.YellowString("PENDING"))
		default:
			color.Red("Error: %v", err)
		}

		select {
		case <-ctx.Done():
			fmt.Println("\nStopped watching. The transaction is unaffected.")
			return
		case <-ticker.C:
		}
	}
}

func receiptStatus(receipt *types.TransactionReceipt) journal.Status {
	return swap.StatusOf(receipt, nil)
}

func updateJournal(a *app, j *journal.Journal, hash string, receipt *types.TransactionReceipt) {
	if j == nil || receipt == nil {
		return
	}
	if _, ok := j.Get(hash); !ok {
		return
	}
	if err := j.UpdateStatus(hash, receiptStatus(receipt), receipt.BlockNumber); err != nil {
		a.log.Warn().Err(err).Str("tx_hash", hash).Msg("failed to update journal")
	}
}

func displayStatus(a *app, j *journal.Journal, hash string, receipt *types.TransactionReceipt) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                     TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Hash:          %s\n", color.CyanString(hash))
	fmt.Printf("  Status:        %s\n", getColoredStatus(receiptStatus(receipt)))
	if receipt != nil {
		fmt.Printf("  Block:         %d\n", receipt.BlockNumber)
		fmt.Printf("  Gas used:      %d\n", receipt.GasUsed)
	}
	if j != nil {
		if e, ok := j.Get(hash); ok {
			fmt.Printf("  Kind:          %s\n", e.Kind)
			fmt.Printf("  Swap:          %s %s -> %s\n", e.Amount, e.FromToken, e.ToToken)
			fmt.Printf("  Submitted:     %s\n", e.Created.Local().Format(time.DateTime))
		}
	}
	if link := a.cfg.TxURL(hash); link != "" {
		fmt.Printf("  Explorer:      %s\n", color.HiBlackString(link))
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status journal.Status) string {
	s := strings.ToUpper(string(status))

	switch status {
	case journal.StatusConfirmed:
		return color.GreenString(s)
	case journal.StatusPending:
		return color.YellowString(s)
	case journal.StatusReverted:
		return color.RedString(s)
	case journal.StatusUnknown:
		return color.MagentaString(s)
	default:
		return s
	}
}
