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

	"github.com/spf13/cobra"

	"github.com/valpere/parserport/internal/extractor"
)

var installDeps bool

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract parser records from the JavaScript sources",
	Long: `Run the Node.js extraction tool over the sources directory and write the
records file used by "parserport convert --no-extract".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner := extractor.New(cfg.Extractor, logger.Named("extractor"))
		if installDeps {
			if err := runner.EnsureDeps(ctx); err != nil {
				return fmt.Errorf("failed to install extractor dependencies: %w", err)
			}
		}

		records, err := runner.Extract(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d parser records to %s\n", len(records), runner.OutputPath())

		invalid := 0
		for _, r := range records {
			if err := r.Validate(); err != nil {
				invalid++
				fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: %s: %v\n", r.SourceFilename, err)
			}
		}
		if invalid > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d records will be skipped during conversion.\n", invalid)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().String("sources", "webtoepub_js_parsers", "Directory with the JavaScript parser sources")
	extractCmd.Flags().String("records", "parsers_data.json", "Records file written by the extractor")
	extractCmd.Flags().BoolVar(&installDeps, "install", true, "Run the install command when node_modules is missing")
}
