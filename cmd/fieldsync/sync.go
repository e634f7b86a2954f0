package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitesense/fieldsync/internal/reconcile"
	"github.com/sitesense/fieldsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the pending queue against the server",
	Long: `Replay every buffered record against the server in capture order.

Records are sent one at a time. Each success removes the record from
the queue; the first failure halts the drain and leaves the failed
record and everything behind it queued for the next attempt. An empty
queue is a no-op.`,
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openQueue()
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		depth, err := db.Depth()
		if err != nil {
			fatal("failed to read queue: %v", err)
		}
		if depth == 0 {
			fmt.Printf("%s Nothing pending\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("%s Draining %d pending records...\n", ui.RenderAccent("🔄"), depth)

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		reconciler := reconcile.New(db, newClient(), logger, nil)

		res, err := reconciler.Sync(context.Background())
		if err != nil {
			if errors.Is(err, reconcile.ErrSyncInProgress) {
				fatal("a sync is already running")
			}
			fmt.Printf("%s Drain halted after %d of %d records: %v\n",
				ui.RenderFail("✗"), res.Synced, depth, err)
			fmt.Printf("   %d records remain queued in order; run 'fieldsync sync' to retry\n", res.Remaining)
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete: %d records in %v\n",
			ui.RenderPass("✓"), res.Synced, res.Duration.Round(time.Millisecond))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
