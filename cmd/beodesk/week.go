package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eringen/beodesk"
)

var (
	weekYear   int
	weekNumber int
	weekJSON   bool
)

var weekCmd = &cobra.Command{
	Use:   "week",
	Short: "Print the calendar board of an ISO week from the database",
	RunE:  runWeek,
}

func init() {
	year, week := time.Now().ISOWeek()
	weekCmd.Flags().IntVar(&weekYear, "year", year, "ISO week-year")
	weekCmd.Flags().IntVar(&weekNumber, "week", week, "ISO week number")
	weekCmd.Flags().BoolVar(&weekJSON, "json", false, "Print JSON instead of a table")
}

func runWeek(cmd *cobra.Command, args []string) error {
	store, err := beodesk.NewStore(databasePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", databasePath, err)
	}
	defer store.Close()

	w, err := beodesk.NewCalendar(store, time.Now).ListByWeek(cmd.Context(), weekYear, weekNumber)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if weekJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(w)
	}

	fmt.Fprintf(out, "Week %d, %d (%s to %s)\n\n", w.WeekNumber, w.Year,
		w.Start.Format(time.DateOnly), w.End.Format(time.DateOnly))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\t#\tBEO\tFILE\tSTATUS\tPAGES")
	for _, day := range beodesk.WeekdayNames {
		for _, d := range w.Days[day] {
			number := d.Number
			if number == "" {
				number = "-"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%d\n", day, d.OrderPosition+1, number, d.Filename, d.Status, d.TotalPages)
		}
	}
	return tw.Flush()
}
