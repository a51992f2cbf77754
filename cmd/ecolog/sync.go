package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecolog/ecolog/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the outbox now",
	Long: `Run one sync pass immediately instead of waiting for the background
engine. Requires connectivity and a configured sync endpoint.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Sync.Endpoint == "" {
			fatalf("sync.endpoint is not configured")
		}

		e, err := openEngine(nil)
		if err != nil {
			fatalf("opening data layer: %v", err)
		}
		defer e.Close()

		fmt.Printf("%s Syncing...\n", ui.RenderAccent("🔄"))
		start := time.Now()
		res := e.ForceSyncNow(context.Background())
		elapsed := time.Since(start).Round(time.Millisecond)

		if res.Success {
			fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed)
		} else {
			fmt.Printf("%s Sync finished with errors in %v\n", ui.RenderWarn("⚠"), elapsed)
		}
		fmt.Printf("   Synced: %d\n", res.Synced)
		if res.Failed > 0 {
			fmt.Printf("   Failed: %d (still queued)\n", res.Failed)
		}
		if res.Dropped > 0 {
			fmt.Printf("   Dropped: %d (retry budget exhausted)\n", res.Dropped)
		}
		for _, err := range res.Errors {
			fmt.Printf("   %s %v\n", ui.RenderFail("✗"), err)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
