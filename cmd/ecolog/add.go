package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ecolog/ecolog/internal/schema"
	"github.com/ecolog/ecolog/internal/ui"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Log a disposal entry",
	Long: `Log a new disposal entry to the local store.

The entry is durable immediately and queued for background delivery; the
command never waits on the network.

Example:
  ecolog add --category plastic --disposal recycled --weight 0.4 --credits 3`,
	Run: func(cmd *cobra.Command, args []string) {
		category, _ := cmd.Flags().GetString("category")
		disposal, _ := cmd.Flags().GetString("disposal")
		weight, _ := cmd.Flags().GetFloat64("weight")
		credits, _ := cmd.Flags().GetInt("credits")

		entry := &schema.TrackedEntry{
			ID:       uuid.NewString(),
			Category: category,
			Disposal: schema.Disposal(disposal),
			WeightKG: weight,
			Credits:  credits,
		}

		e, err := openEngine(nil)
		if err != nil {
			fatalf("opening data layer: %v", err)
		}
		defer e.Close()

		if err := e.SaveEntry(context.Background(), entry); err != nil {
			fatalf("saving entry: %v", err)
		}

		fmt.Printf("%s Logged %s (%s, %.2f kg, %+d credits)\n",
			ui.RenderPass("✓"), entry.ID, entry.Category, entry.WeightKG, entry.Credits)
		fmt.Printf("   %s\n", ui.RenderDim("queued for sync"))
	},
}

func init() {
	addCmd.Flags().StringP("category", "c", "", "entry category (e.g. plastic, glass, organic)")
	addCmd.Flags().StringP("disposal", "d", "", "disposal method: recycled, composted, landfill, donated, hazardous")
	addCmd.Flags().Float64P("weight", "w", 0, "weight in kilograms")
	addCmd.Flags().Int("credits", 0, "credit value (may be negative)")
	addCmd.MarkFlagRequired("category")
	addCmd.MarkFlagRequired("disposal")
	addCmd.MarkFlagRequired("weight")

	rootCmd.AddCommand(addCmd)
}
