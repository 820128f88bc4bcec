package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"evm-swap/config"
	"evm-swap/pkg/journal"
)

var (
	historyStatusFilter string
	historyLimit        int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List transactions recorded in the local journal",
	Long: `List every approval and swap transaction this CLI has broadcast, newest first.

Hashes are recorded right after submission, so a transaction shows up here even
if the CLI stopped before it was confirmed. Refresh a pending entry with
'evm-swap status <hash>'.

Examples:
  evm-swap history
  evm-swap history --status unknown
  evm-swap history --limit 5 --json`,
	Run: exitOnFailure(runHistory),
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyStatusFilter, "status", "", "Filter by status (pending, confirmed, reverted, unknown)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show at most this many entries")
}

func runHistory(cmd *cobra.Command, args []string) int {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	// Load config
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		return 1
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		printError(err)
		return 1
	}

	var entries []journal.Entry
	if historyStatusFilter != "" {
		entries = j.ListByStatus(journal.Status(strings.ToLower(historyStatusFilter)))
	} else {
		entries = j.List()
	}
	if historyLimit > 0 && len(entries) > historyLimit {
		entries = entries[:historyLimit]
	}

	if jsonOutput {
		output, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(output))
		return 0
	}

	if len(entries) == 0 {
		color.Yellow("No transactions recorded.\n")
		fmt.Println("\nStart a swap with:")
		color.Cyan("  evm-swap swap <amount> <token> to <token>\n")
		return 0
	}

	fmt.Println("\n" + strings.Repeat("=", 120))
	color.Green("                                              TRANSACTIONS")
	fmt.Println(strings.Repeat("=", 120))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nSUBMITTED\tKIND\tSWAP\tCHAIN\tSTATUS\tHASH")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, e := range entries {
		pair := e.FromToken
		if e.ToToken != "" {
			pair += " -> " + e.ToToken
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%d\t%s\t%s\n",
			e.Created.Local().Format(time.DateTime), e.Kind, e.Amount, pair, e.ChainID, getColoredStatus(e.Status), e.Hash)
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 120))
	fmt.Printf("\nJournal: %s\n\n", j.Path())
	return 0
}
