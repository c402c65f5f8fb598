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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/valpere/parserport/internal"
	"github.com/valpere/parserport/internal/artifact"
	"github.com/valpere/parserport/internal/orchestrator"
	"github.com/valpere/parserport/internal/pipeline"
)

var (
	noExtract  bool
	noMemory   bool
	noHistory  bool
	sourceFile string
	writeOne   bool
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert every extracted parser and package the results",
	Long: `Run the full batch: extract parser records with the Node.js tool, convert
each record with the configured LLM backend, repair code that fails the syntax
check, write the results under the output directory, zip them and upload the
archive.

Records whose JavaScript source is missing are skipped. A record that still
fails after three attempts is reported and the batch continues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		applyConvertFlags()
		a, err := buildApp(ctx, cfg, !noHistory)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		sum, err := a.pipeline.Run(ctx, func(line string) {
			fmt.Fprintln(out, line)
		})
		if err != nil {
			return err
		}
		renderSummary(cmd, sum)
		return nil
	},
}

var convertOneCmd = &cobra.Command{
	Use:   "one <class_name>",
	Short: "Convert a single record from the records file",
	Long: `Convert the record with the given class name and print the generated code.
Use --source to read the JavaScript from a specific file instead of the
sources directory, and --write to store the result under the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		applyConvertFlags()
		records, err := internal.LoadRecordsFile(cfg.Paths.Records)
		if err != nil {
			return err
		}
		rec, ok := findRecord(records, args[0])
		if !ok {
			return fmt.Errorf("no record with class name %s in %s", args[0], cfg.Paths.Records)
		}

		a, err := buildApp(ctx, cfg, !noHistory)
		if err != nil {
			return err
		}
		defer a.Close()

		var outcome orchestrator.Outcome
		if sourceFile != "" {
			src, err := os.ReadFile(sourceFile)
			if err != nil {
				return fmt.Errorf("failed to read source: %w", err)
			}
			outcome = a.driver.ConvertSource(ctx, rec, string(src))
		} else {
			outcome = a.driver.ConvertOne(ctx, rec)
		}

		switch outcome.Status {
		case orchestrator.StatusSkipped:
			return fmt.Errorf("skipped %s: %s", rec.ClassName, outcome.Reason)
		case orchestrator.StatusFailed:
			return fmt.Errorf("failed to generate valid code for %s after %d attempts: %s", rec.SourceFilename, outcome.Attempts, outcome.Reason)
		}

		if writeOne {
			sink := artifact.NewSink(cfg.Paths.OutputDir, cfg.Paths.Lang, logger)
			rel, err := sink.Write(rec, outcome.Code)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d attempts)\n", rel, outcome.Attempts)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), outcome.Code)
		return nil
	},
}

func applyConvertFlags() {
	if noExtract {
		cfg.Convert.Extract = false
	}
	if noMemory {
		cfg.Convert.Memory = false
	}
}

func findRecord(records []internal.ParserRecord, className string) (internal.ParserRecord, bool) {
	for _, r := range records {
		if r.ClassName == className {
			return r, true
		}
	}
	return internal.ParserRecord{}, false
}

func renderSummary(cmd *cobra.Command, sum *pipeline.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Total", "Succeeded", "Cached", "Skipped", "Failed", "Archive", "Download"})
	t.AppendRow(table.Row{sum.Total, sum.Succeeded, sum.Cached, sum.Skipped, sum.Failed, sum.ArchivePath, orDash(sum.DownloadURL)})
	t.Render()
	if sum.RunID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Run ID: %s\n", sum.RunID)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// addLLMFlags registers the flags shared by commands that call the model.
func addLLMFlags(cmd *cobra.Command) {
	cmd.Flags().String("backend", "gemini", "Completion backend (gemini, openai, ollama)")
	cmd.Flags().String("model", "", "Model name (backend default if empty)")
	cmd.Flags().String("base-url", "", "Override the backend endpoint URL")
	cmd.Flags().Float64("temperature", 0.2, "Sampling temperature")
	cmd.Flags().Int("max-tokens", 4096, "Maximum output tokens per request")
	cmd.Flags().Int("rpm", 0, "Maximum requests per minute (0 = unlimited)")
	cmd.Flags().String("sources", "webtoepub_js_parsers", "Directory with the JavaScript parser sources")
	cmd.Flags().String("records", "parsers_data.json", "Extracted records file")
	cmd.Flags().String("output", "generated_parsers", "Directory for generated parsers")
	cmd.Flags().String("lang", "en", "Language directory for generated parsers")
	cmd.Flags().Int("concurrency", 1, "Records converted in parallel")
	cmd.Flags().BoolVar(&noMemory, "no-memory", false, "Do not reuse code from the conversion memory")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not open the database")
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.AddCommand(convertOneCmd)

	addLLMFlags(convertCmd)
	convertCmd.Flags().String("archive", "parsers.zip", "Path of the ZIP archive")
	convertCmd.Flags().String("upload", "fileio", "Upload backend (fileio, s3, none)")
	convertCmd.Flags().BoolVar(&noExtract, "no-extract", false, "Use the existing records file instead of running the extractor")

	addLLMFlags(convertOneCmd)
	convertOneCmd.Flags().StringVar(&sourceFile, "source", "", "Read the JavaScript source from this file")
	convertOneCmd.Flags().BoolVar(&writeOne, "write", false, "Write the result under the output directory")
}
