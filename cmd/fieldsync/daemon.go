package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sitesense/fieldsync/internal/daemon"
	"github.com/sitesense/fieldsync/internal/dashboard"
	"github.com/sitesense/fieldsync/internal/netmon"
	"github.com/sitesense/fieldsync/internal/reconcile"
	"github.com/sitesense/fieldsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync agent (foreground)",
	Long: `Run the background sync agent in foreground mode.

The agent:
  1. Watches the spool directory for records dropped by the capture app
  2. Submits them to the server, buffering while offline
  3. Probes connectivity and drains the buffer on every reconnect
  4. Optionally serves the WebSocket dashboard (--dashboard)

For production use, run it under a process manager.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		db, err := openQueue()
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		client := newClient()

		netmonLogger, err := cfg.NewLogger("[netmon] ")
		if err != nil {
			fatal("%v", err)
		}
		monitor := netmon.New(client, &netmon.Config{
			ProbeInterval: cfg.Probe.Interval,
			ProbeTimeout:  cfg.Probe.Timeout,
			Logger:        netmonLogger,
		})

		syncLogger, err := cfg.NewLogger("[sync] ")
		if err != nil {
			fatal("%v", err)
		}

		var events reconcile.Events
		var handler *dashboard.Handler
		var dashServer *dashboard.Server
		if withDashboard {
			dashLogger, err := cfg.NewLogger("[dashboard] ")
			if err != nil {
				fatal("%v", err)
			}

			dashServer = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Dashboard.Port,
				Logger: dashLogger,
				Status: func() (*dashboard.StatusData, error) { return handler.Status() },
			})
			handler = dashboard.NewHandler(dashServer, db, monitor, nil, dashLogger)
			events = handler
		}

		reconciler := reconcile.New(db, client, syncLogger, events)
		if handler != nil {
			handler.SetReconciler(reconciler)
		}

		daemonLogger, err := cfg.NewLogger("[daemon] ")
		if err != nil {
			fatal("%v", err)
		}
		d, err := daemon.NewWithConfig(reconciler, monitor, cfg.Spool.Dir, &daemon.Config{
			DebounceInterval: daemon.DefaultConfig().DebounceInterval,
			Logger:           daemonLogger,
		})
		if err != nil {
			fatal("failed to create daemon: %v", err)
		}

		if dashServer != nil {
			if err := dashServer.Start(); err != nil {
				fatal("failed to start dashboard: %v", err)
			}
			defer dashServer.Stop()
			fmt.Printf("   Dashboard: http://localhost:%d\n", cfg.Dashboard.Port)
		}

		fmt.Printf("%s Starting %s sync agent...\n", ui.RenderAccent("🚀"), brand.ProductName)
		fmt.Printf("   Spool: %s\n", cfg.Spool.Dir)
		fmt.Printf("   Queue: %s\n", cfg.DB.Path)
		fmt.Printf("   Server: %s\n", cfg.API.BaseURL)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fatal("daemon stopped with error: %v", err)
		}
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "also serve the WebSocket dashboard")
	rootCmd.AddCommand(daemonCmd)
}
