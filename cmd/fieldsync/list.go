package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitesense/fieldsync/internal/queue"
	"github.com/sitesense/fieldsync/internal/record"
	"github.com/sitesense/fieldsync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List server records, from cache when offline",
	Long: `List surveys or observations as the server knows them.

Results come from the server when it is reachable and are cached
locally. Offline, the cached copy is served with a staleness note.
A successful sync invalidates the cache, so the first list after a
drain always refetches server truth.`,
	Run: func(cmd *cobra.Command, args []string) {
		kindFlag, _ := cmd.Flags().GetString("kind")
		refresh, _ := cmd.Flags().GetBool("refresh")

		kind := record.Kind(kindFlag)
		if kind != record.KindSurvey && kind != record.KindObservation {
			fatal("unsupported kind %q (survey or observation)", kindFlag)
		}

		db, err := openQueue()
		if err != nil {
			fatal("%v", err)
		}
		defer db.Close()

		client := newClient()
		ctx := context.Background()

		if !refresh {
			if body, err := db.CacheGet(kind); err == nil {
				printRecords(kind, body, true)
				return
			} else if !errors.Is(err, queue.ErrNotFound) {
				fatal("failed to read cache: %v", err)
			}
		}

		var body json.RawMessage
		if kind == record.KindSurvey {
			body, err = client.ListSurveys(ctx)
		} else {
			body, err = client.ListObservations(ctx)
		}
		if err != nil {
			// Offline: fall back to whatever the cache holds.
			if cached, cacheErr := db.CacheGet(kind); cacheErr == nil {
				fmt.Printf("%s Server unreachable; showing cached results\n", ui.RenderWarn("⚠"))
				printRecords(kind, cached, true)
				return
			}
			fatal("failed to fetch %ss: %v", kind, err)
		}

		if err := db.CachePut(kind, body); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to cache results: %v\n", err)
		}
		printRecords(kind, body, false)
	},
}

// printRecords renders a JSON array of entities, one line per record.
func printRecords(kind record.Kind, body json.RawMessage, cached bool) {
	var items []map[string]interface{}
	if err := json.Unmarshal(body, &items); err != nil {
		fatal("unexpected %s list payload: %v", kind, err)
	}

	source := "server"
	if cached {
		source = "cache"
	}
	fmt.Printf("\n%s %d %ss (%s)\n\n", ui.RenderAccent("≡"), len(items), kind, source)

	for _, item := range items {
		id, _ := item["id"].(string)
		label := ""
		for _, key := range []string{"name", "site", "title"} {
			if v, ok := item[key].(string); ok {
				label = v
				break
			}
		}
		fmt.Printf("  %s  %s\n", id, label)
	}
	fmt.Println()
}

func init() {
	listCmd.Flags().String("kind", "survey", "record kind: survey or observation")
	listCmd.Flags().Bool("refresh", false, "bypass the cache and refetch from the server")
	rootCmd.AddCommand(listCmd)
}
