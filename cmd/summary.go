package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/JakeFAU/animal-gallery/internal/app"
)

// printSummary writes the outcome counts table and the report location.
func printSummary(w io.Writer, summary app.Summary) error {
	counts := summary.Counts
	table, err := pterm.DefaultTable.
		WithHasHeader().
		WithData(pterm.TableData{
			{"Outcome", "Count"},
			{"success", strconv.Itoa(counts.Success)},
			{"not found", strconv.Itoa(counts.NotFound)},
			{"error", strconv.Itoa(counts.FetchError)},
			{"timed out", strconv.Itoa(counts.TimedOut)},
			{"total", strconv.Itoa(counts.Total())},
		}).
		Srender()
	if err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	if _, err := fmt.Fprintln(w, table); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if summary.Duplicates > 0 {
		if _, err := fmt.Fprintf(w, "%d duplicate animal names were skipped.\n", summary.Duplicates); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "HTML file generated successfully. Check '%s'.\n", summary.ReportPath); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
