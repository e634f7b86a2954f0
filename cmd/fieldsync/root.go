package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitesense/fieldsync/internal/api"
	"github.com/sitesense/fieldsync/internal/config"
	"github.com/sitesense/fieldsync/internal/queue"
)

var (
	cfgFile string
	cfg     *config.Config
	brand   *config.Branding
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first sync agent for field survey devices",
	Long: `fieldsync keeps field survey data flowing to the server from devices
with unreliable connectivity.

Records captured in the field (surveys, observations, photos) are
submitted directly when the network is up. When it is down they are
buffered in a durable local queue and replayed, in capture order, as
soon as connectivity returns. A failed replay halts the drain and keeps
everything after the failure queued, so nothing is lost or reordered.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		brand, err = config.LoadBranding(cfg.Branding.File)
		if err != nil {
			return err
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fieldsync.yaml)")
}

// openQueue opens the durable queue database and initializes its schema.
func openQueue() (*queue.DB, error) {
	db, err := queue.Open(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return db, nil
}

// newClient builds the remote API client from configuration.
func newClient() *api.HTTPClient {
	return api.NewHTTPClient(cfg.API.BaseURL, cfg.API.Token, nil)
}

// fatal prints an error and exits.
func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
