package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecolog/ecolog/internal/store"
	"github.com/ecolog/ecolog/internal/ui"
)

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a logged entry",
	Long: `Remove an entry from the local store and queue its deletion for the
backend. Entries are immutable once logged; removal is the only change
allowed after the fact.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := args[0]

		e, err := openEngine(nil)
		if err != nil {
			fatalf("opening data layer: %v", err)
		}
		defer e.Close()

		ctx := context.Background()
		if _, err := e.GetEntry(ctx, id); errors.Is(err, store.ErrNotFound) {
			fatalf("no entry with id %s", id)
		}

		if err := e.DeleteEntry(ctx, id); err != nil {
			fatalf("removing entry: %v", err)
		}

		fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), id)
		fmt.Printf("   %s\n", ui.RenderDim("deletion queued for sync"))
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
