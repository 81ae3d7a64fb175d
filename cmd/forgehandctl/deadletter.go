package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"forgehand/deadletter"
)

var deadLetterCmd = &cobra.Command{
	Use:     "deadletter",
	Aliases: []string{"dlq"},
	Short:   "List and manage dead-lettered tasks",
}

var (
	dlqListStatus     string
	dlqListRepository string
	dlqListLimit      int
)

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter items, optionally filtered by status or repository",
	RunE:  runDeadLetterList,
}

var deadLetterRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Mark a dead-letter item reprocessable",
	Long: `Retry marks item id reprocessable, per spec.md's deliberate design: a
dead-lettered task is never retried on a timer, only on an explicit
operator decision. The item does not re-enter the live queue by itself —
a future reprocessing worker loop consumes MarkReprocessable'd items; for
now this command only flips the flag so that loop (or another explicit
resubmission) has something to act on.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeadLetterRetry,
}

var dlqDiscardReason string
var dlqRetryReason string

var deadLetterDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Permanently abandon a dead-letter item",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeadLetterDiscard,
}

func init() {
	deadLetterListCmd.Flags().StringVar(&dlqListStatus, "status", "", "filter by status (pending, reprocessable, reprocessing, resolved, discarded, expired)")
	deadLetterListCmd.Flags().StringVar(&dlqListRepository, "repository", "", "filter by repository")
	deadLetterListCmd.Flags().IntVar(&dlqListLimit, "limit", 50, "maximum rows to print")

	deadLetterRetryCmd.Flags().StringVar(&dlqRetryReason, "reason", "operator requested retry", "reason recorded on the item")
	deadLetterDiscardCmd.Flags().StringVar(&dlqDiscardReason, "reason", "operator discarded", "reason recorded on the item")

	deadLetterCmd.AddCommand(deadLetterListCmd)
	deadLetterCmd.AddCommand(deadLetterRetryCmd)
	deadLetterCmd.AddCommand(deadLetterDiscardCmd)
}

func runDeadLetterList(cmd *cobra.Command, args []string) error {
	dl, err := newDeadLetterQueueForCLI()
	if err != nil {
		return fmt.Errorf("open dead-letter store: %w", err)
	}

	filter := deadletter.Filter{Repository: dlqListRepository, Limit: dlqListLimit}
	if dlqListStatus != "" {
		s := deadletter.Status(dlqListStatus)
		filter.Status = &s
	}

	items := dl.List(filter)
	if len(items) == 0 {
		fmt.Println("no dead-letter items match")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"ID", "Status", "Repository", "Kind", "Attempts", "Last Error"})
	for _, item := range items {
		table.Append([]string{
			item.ID,
			statusLabel(item.Status),
			item.Repository,
			string(item.Kind),
			fmt.Sprint(item.TotalAttempts),
			truncateForTable(item.LastError, 60),
		})
	}
	table.Render()
	return nil
}

func runDeadLetterRetry(cmd *cobra.Command, args []string) error {
	dl, err := newDeadLetterQueueForCLI()
	if err != nil {
		return fmt.Errorf("open dead-letter store: %w", err)
	}
	if err := dl.MarkReprocessable(args[0], dlqRetryReason); err != nil {
		return err
	}
	fmt.Printf("%s marked reprocessable\n", args[0])
	return nil
}

func runDeadLetterDiscard(cmd *cobra.Command, args []string) error {
	dl, err := newDeadLetterQueueForCLI()
	if err != nil {
		return fmt.Errorf("open dead-letter store: %w", err)
	}
	if err := dl.Discard(args[0], dlqDiscardReason); err != nil {
		return err
	}
	fmt.Printf("%s discarded\n", args[0])
	return nil
}

func statusLabel(s deadletter.Status) string {
	switch s {
	case deadletter.StatusResolved:
		return color.New(color.FgGreen).Sprint(string(s))
	case deadletter.StatusDiscarded, deadletter.StatusExpired:
		return color.New(color.Faint).Sprint(string(s))
	case deadletter.StatusReprocessable, deadletter.StatusReprocessing:
		return color.New(color.FgYellow).Sprint(string(s))
	default:
		return color.New(color.FgRed).Sprint(string(s))
	}
}

func truncateForTable(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
