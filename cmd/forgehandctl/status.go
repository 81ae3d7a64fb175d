package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"forgehand/deadletter"
	"forgehand/queue"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a snapshot of queue depth, inbox backlog, and dead-letter counts",
	Long: `Status reads the on-disk state a forgehand-worker instance persists — its
most recent queue snapshot, its unconsumed inbox files, and its dead-letter
store — and renders a one-shot table. It does not connect to a running
daemon process; there is no live RPC surface, only the shared work
directory, mirroring app/cli/cmd/doctor.go's one-shot diagnostic report
rather than a streaming dashboard.`,
	RunE: runStatus,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or manage the persisted task queue",
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Delete the most recent persisted queue snapshot without resubmitting it",
	Long: `Drain is an operator escape hatch for a queue snapshot an operator has
decided not to resume (e.g. after confirming its tasks were superseded). It
permanently removes the snapshot file(s) forgehand-worker would otherwise
load as a priority-boosted prefix on its next restart.`,
	RunE: runQueueDrain,
}

func init() {
	queueCmd.AddCommand(queueDrainCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println(color.New(color.Bold).Sprint("forgehand status"))
	fmt.Println(color.New(color.Faint).Sprint("work dir: " + workDir))
	fmt.Println()

	inboxDir := filepath.Join(workDir, "inbox")
	inboxCount := countJSONFiles(inboxDir)

	queueStore, err := queue.NewFileStore(workDir)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	persisted, err := queueStore.PeekLatestCount()
	if err != nil {
		return fmt.Errorf("peek persisted queue: %w", err)
	}

	dl, err := newDeadLetterQueueForCLI()
	if err != nil {
		return fmt.Errorf("open dead-letter store: %w", err)
	}
	stats := dl.Stats()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Inbox files awaiting pickup", fmt.Sprint(inboxCount)})
	table.Append([]string{"Persisted queue tasks (last snapshot)", fmt.Sprint(persisted)})
	table.Append([]string{"Queue overflow policy", string(cfg.Queue.OverflowStrategy)})
	table.Append([]string{"Dead-letter items (current)", fmt.Sprint(stats.CurrentSize)})
	table.Append([]string{"Dead-letter total added", fmt.Sprint(stats.TotalAdded)})
	table.Append([]string{"Dead-letter total resolved", fmt.Sprint(stats.TotalResolved)})
	table.Append([]string{"Dead-letter total discarded", fmt.Sprint(stats.TotalDiscarded)})
	table.Render()

	return nil
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	queueStore, err := queue.NewFileStore(workDir)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	q := queue.New(nil)
	n, err := q.LoadPersisted(queueStore)
	if err != nil {
		return fmt.Errorf("load persisted queue: %w", err)
	}
	fmt.Printf("dropped %d persisted task(s)\n", n)
	return nil
}

func countJSONFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			n++
		}
	}
	return n
}

func newDeadLetterQueueForCLI() (*deadletter.Queue, error) {
	var store deadletter.Store
	var err error
	switch cfg.DeadLetter.Backend {
	case "postgres":
		store, err = deadletter.NewPostgresStore(cfg.DeadLetter.PostgresDSN)
	default:
		store, err = deadletter.NewFileStore(filepath.Join(workDir, "deadletter.jsonl"))
	}
	if err != nil {
		return nil, err
	}
	return deadletter.New(store, nil)
}
