package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/ecolog/ecolog/internal/schema"
	"github.com/ecolog/ecolog/internal/ui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List logged entries",
	Long: `List entries from the local store. Reads never touch the network.

Time windows accept natural language via --since ("yesterday", "3 days ago",
"last monday") or explicit bounds via --from/--to (RFC 3339 or 2006-01-02).

Examples:
  ecolog list
  ecolog list --since "3 days ago"
  ecolog list --date 2026-08-28 --category plastic`,
	Run: func(cmd *cobra.Command, args []string) {
		since, _ := cmd.Flags().GetString("since")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		date, _ := cmd.Flags().GetString("date")
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := schema.EntryFilter{
			Date:     date,
			Category: category,
			Limit:    limit,
		}

		if since != "" {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)
			r, err := w.Parse(since, time.Now())
			if err != nil || r == nil {
				fatalf("cannot parse --since %q", since)
			}
			filter.Start = r.Time
		}
		if from != "" {
			t, err := parseTimeFlag(from)
			if err != nil {
				fatalf("cannot parse --from %q: %v", from, err)
			}
			filter.Start = t
		}
		if to != "" {
			t, err := parseTimeFlag(to)
			if err != nil {
				fatalf("cannot parse --to %q: %v", to, err)
			}
			filter.End = t
		}

		e, err := openEngine(nil)
		if err != nil {
			fatalf("opening data layer: %v", err)
		}
		defer e.Close()

		entries, err := e.GetEntries(context.Background(), filter)
		if err != nil {
			fatalf("listing entries: %v", err)
		}

		if len(entries) == 0 {
			fmt.Println(ui.RenderDim("No entries found"))
			return
		}

		fmt.Printf("%-38s %-12s %-10s %10s %8s  %s\n",
			ui.RenderLabel("ID"), ui.RenderLabel("DATE"), ui.RenderLabel("CATEGORY"),
			ui.RenderLabel("WEIGHT"), ui.RenderLabel("CREDITS"), ui.RenderLabel("DISPOSAL"))
		for _, entry := range entries {
			fmt.Printf("%-38s %-12s %-10s %8.2fkg %8d  %s\n",
				entry.ID, entry.EntryDate, entry.Category,
				entry.WeightKG, entry.Credits, entry.Disposal)
		}
		fmt.Printf("\n%s\n", ui.RenderDim(fmt.Sprintf("%d entries", len(entries))))
	},
}

func parseTimeFlag(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(schema.EntryDateLayout, s, time.Local)
}

func init() {
	listCmd.Flags().String("since", "", "natural-language lower bound (e.g. \"3 days ago\")")
	listCmd.Flags().String("from", "", "lower time bound, inclusive")
	listCmd.Flags().String("to", "", "upper time bound, exclusive")
	listCmd.Flags().String("date", "", "exact calendar date (2006-01-02)")
	listCmd.Flags().StringP("category", "c", "", "filter by category")
	listCmd.Flags().IntP("limit", "n", 0, "maximum number of entries (0 = all)")

	rootCmd.AddCommand(listCmd)
}
