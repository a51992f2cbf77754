package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecolog/ecolog/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status and aggregate stats",
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEngine(nil)
		if err != nil {
			fatalf("opening data layer: %v", err)
		}
		defer e.Close()

		ctx := context.Background()
		status, err := e.Status(ctx)
		if err != nil {
			fatalf("reading status: %v", err)
		}
		stats, err := e.Stats(ctx)
		if err != nil {
			fatalf("reading stats: %v", err)
		}

		fmt.Printf("\n%s Sync\n\n", ui.RenderAccent("📊"))
		if status.IsOnline {
			fmt.Printf("   %s %s\n", ui.RenderLabel("Network:"), ui.RenderPass("online"))
		} else {
			fmt.Printf("   %s %s\n", ui.RenderLabel("Network:"), ui.RenderWarn("offline"))
		}
		fmt.Printf("   %s %d\n", ui.RenderLabel("Pending:"), status.PendingCount)
		if status.LastSyncTime.IsZero() {
			fmt.Printf("   %s %s\n", ui.RenderLabel("Last sync:"), ui.RenderDim("never"))
		} else {
			fmt.Printf("   %s %s (%s ago)\n", ui.RenderLabel("Last sync:"),
				status.LastSyncTime.Local().Format("2006-01-02 15:04:05"),
				time.Since(status.LastSyncTime).Round(time.Second))
		}
		if status.IsSyncing {
			fmt.Printf("   %s\n", ui.RenderAccent("sync in progress"))
		}

		fmt.Printf("\n%s Totals\n\n", ui.RenderAccent("🌱"))
		fmt.Printf("   %s %d\n", ui.RenderLabel("Entries:"), stats.TotalEntries)
		fmt.Printf("   %s %.2f kg\n", ui.RenderLabel("Weight:"), stats.TotalWeightKG)
		fmt.Printf("   %s %d\n", ui.RenderLabel("Credits:"), stats.TotalCredits)

		if len(stats.PerCategory) > 0 {
			categories := make([]string, 0, len(stats.PerCategory))
			for c := range stats.PerCategory {
				categories = append(categories, c)
			}
			sort.Strings(categories)
			fmt.Printf("\n   %s\n", ui.RenderLabel("By category:"))
			for _, c := range categories {
				fmt.Printf("     %-12s %d\n", c, stats.PerCategory[c])
			}
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
