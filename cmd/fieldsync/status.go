package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitesense/fieldsync/internal/netmon"
	"github.com/sitesense/fieldsync/internal/reconcile"
	"github.com/sitesense/fieldsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync indicator and pending queue",
	Long: `Display the current sync state.

Shows the same indicator the field app renders: green when everything
is on the server, yellow when records are waiting for connectivity,
blue during a drain, and red when a drain halted and needs a retry.
Also lists the pending queue depth by record kind and the time of the
last successful sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		db, err := openQueue()
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		client := newClient()
		logger := log.New(os.Stderr, "[status] ", 0)

		monitor := netmon.New(client, &netmon.Config{
			ProbeInterval: cfg.Probe.Interval,
			ProbeTimeout:  cfg.Probe.Timeout,
			Logger:        logger,
		})
		state := monitor.Probe(context.Background())

		reconciler := reconcile.New(db, client, logger, nil)
		reconciler.NoteConnectivity(state == netmon.StateOnline)

		depth, err := db.Depth()
		if err != nil {
			fatal("failed to read queue: %v", err)
		}
		counts, err := db.Counts()
		if err != nil {
			fatal("failed to read queue: %v", err)
		}
		byKind := make(map[string]int, len(counts))
		for kind, n := range counts {
			byKind[string(kind)] = n
		}

		var lastSync time.Time
		if t, ok := reconciler.LastSync(); ok {
			lastSync = t
		}

		fmt.Printf("\n%s\n\n", ui.RenderAccent(brand.ProductName+" sync status"))
		fmt.Println(ui.StatusCard(reconciler.Phase(), depth, byKind, state == netmon.StateOnline, lastSync))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
