package main

import (
	"fmt"
	"log"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/sitesense/fieldsync/internal/reconcile"
	"github.com/sitesense/fieldsync/internal/ui"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every pending record",
	Long: `Empty the pending queue without sending anything to the server.

This is destructive: buffered records are deleted locally and will
never reach the server. It works regardless of connectivity. A
confirmation prompt is shown unless --force is given.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

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
			fmt.Printf("%s Queue is already empty\n", ui.RenderPass("✓"))
			return
		}

		if !force {
			var confirmed bool
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Discard %d pending records?", depth)).
				Description("They have not reached the server and will be lost.").
				Affirmative("Discard").
				Negative("Keep").
				Value(&confirmed)

			if err := prompt.Run(); err != nil {
				fatal("prompt failed: %v", err)
			}
			if !confirmed {
				fmt.Println("Aborted; queue unchanged")
				return
			}
		}

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		reconciler := reconcile.New(db, newClient(), logger, nil)

		removed, err := db.Clear()
		if err != nil {
			fatal("failed to clear queue: %v", err)
		}
		reconciler.NoteCleared()

		fmt.Printf("%s Discarded %d pending records\n", ui.RenderWarn("⚠"), removed)
	},
}

func init() {
	clearCmd.Flags().BoolP("force", "f", false, "skip the confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}
