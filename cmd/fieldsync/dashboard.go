package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sitesense/fieldsync/internal/dashboard"
	"github.com/sitesense/fieldsync/internal/netmon"
	"github.com/sitesense/fieldsync/internal/reconcile"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the real-time sync dashboard server",
	Long: `Start a WebSocket dashboard server for monitoring sync state in real-time.

The server broadcasts queue and drain events to connected clients, so an
office operator can watch a field device reconcile without shelling
into it.

WebSocket messages include:
- queue_update: pending queue depth changed
- phase_change: the sync indicator moved
- sync_started / sync_complete / sync_failed: drain lifecycle
- status: full snapshot (also served at /status)

Example usage:
  fieldsync dashboard                # Start on the configured port
  fieldsync dashboard --port 9000    # Start on a custom port

Connect with a WebSocket client:
  ws://localhost:8484/ws

Note: drain events only flow when the daemon runs in the same process
('fieldsync daemon --dashboard'). Standalone, this serves the /status
snapshot and connectivity polling.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.Dashboard.Port
		}

		db, err := openQueue()
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		client := newClient()
		logger := log.New(os.Stderr, "[dashboard] ", log.LstdFlags)

		monitor := netmon.New(client, &netmon.Config{
			ProbeInterval: cfg.Probe.Interval,
			ProbeTimeout:  cfg.Probe.Timeout,
			Logger:        logger,
		})
		reconciler := reconcile.New(db, client, logger, nil)

		var handler *dashboard.Handler
		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: logger,
			Status: func() (*dashboard.StatusData, error) { return handler.Status() },
		})
		handler = dashboard.NewHandler(server, db, monitor, reconciler, logger)

		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}

		fmt.Printf("%s dashboard started on http://localhost:%d\n", brand.ProductName, port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Status snapshot: http://localhost:%d/status\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Keep the connectivity probe running so /status stays fresh.
		go monitor.Run(ctx)

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatal("error during shutdown: %v", err)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8484, "Port to listen on")
	rootCmd.AddCommand(dashboardCmd)
}
