/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/valpere/parserport/internal/store"
)

var (
	historyLimit  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previous conversion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversion runs recorded.")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Started", "Backend", "Total", "OK", "Cached", "Skipped", "Failed", "Download"})
		for _, r := range runs {
			t.AppendRow(table.Row{
				r.ID, r.StartedAt.Format("2006-01-02 15:04"), r.Backend,
				r.Total, r.Succeeded, r.Cached, r.Skipped, r.Failed, orDash(r.DownloadURL),
			})
		}
		return render(t, historyFormat)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the per-record outcomes of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.GetRun(cmd.Context(), args[0])
		if errors.Is(err, store.ErrRunNotFound) {
			return fmt.Errorf("no run with ID %s", args[0])
		}
		if err != nil {
			return err
		}
		outcomes, err := db.RunOutcomes(cmd.Context(), run.ID)
		if err != nil {
			return fmt.Errorf("failed to load outcomes: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Run %s (%s), started %s\n", run.ID, run.Backend, run.StartedAt.Format("2006-01-02 15:04:05"))
		if run.Error != "" {
			fmt.Fprintf(out, "Error: %s\n", run.Error)
		}

		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "Source", "Class", "Status", "Attempts", "Cached", "Output", "Reason"})
		for _, o := range outcomes {
			reason := o.Reason
			if historyFormat == "table" {
				reason = truncate(reason, 60)
			}
			t.AppendRow(table.Row{
				o.Index + 1, o.SourceFilename, o.ClassName, o.Status,
				o.Attempts, o.Cached, orDash(o.OutputPath), reason,
			})
		}
		return render(t, historyFormat)
	},
}

// render writes t as a table, CSV or Markdown.
func render(t table.Writer, format string) error {
	switch format {
	case "table", "":
		t.Render()
	case "csv":
		t.RenderCSV()
	case "markdown":
		t.RenderMarkdown()
	default:
		return fmt.Errorf("unknown format %q (table, csv, markdown)", format)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to list")
	historyCmd.PersistentFlags().StringVar(&historyFormat, "format", "table", "Output format (table, csv, markdown)")
}
