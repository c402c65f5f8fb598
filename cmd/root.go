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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/valpere/parserport/internal/config"
	"github.com/valpere/parserport/internal/logging"
)

var version = "0.1.0"

var (
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  = zap.NewNop()
)

// flagKeys maps command-line flags to configuration keys. A flag binds only
// on the commands that define it.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"dev":         "log.development",
	"backend":     "llm.backend",
	"model":       "llm.model",
	"base-url":    "llm.base_url",
	"temperature": "llm.temperature",
	"max-tokens":  "llm.max_output_tokens",
	"rpm":         "llm.requests_per_minute",
	"sources":     "paths.sources_dir",
	"output":      "paths.output_dir",
	"records":     "paths.records",
	"archive":     "paths.archive",
	"db":          "paths.database",
	"lang":        "paths.lang",
	"concurrency": "convert.concurrency",
	"upload":      "upload.backend",
	"addr":        "server.addr",
}

var rootCmd = &cobra.Command{
	Use:   "parserport",
	Short: "Convert WebToEpub JavaScript parsers into lncrawl Python crawlers",
	Long: `A CLI application that ports WebToEpub site parsers to lncrawl crawlers
with an LLM, checks every generated file for syntax errors and asks the model
to repair them.

Supported backends: Gemini, OpenAI-compatible endpoints, Ollama

Use "parserport convert --help" for conversion options.`,
	Version:       version,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine.
		_ = godotenv.Load()

		v = config.NewViper(cfgFile)
		if err := bindFlags(v, cmd); err != nil {
			return err
		}
		if err := config.ReadFile(v, cfgFile != ""); err != nil {
			return err
		}

		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		cfg = loaded

		l, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return err
		}
		logger = l
		if used := v.ConfigFileUsed(); used != "" {
			logger.Debug("loaded config file", zap.String("path", used))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./parserport.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("dev", false, "Human-readable development logging")
	rootCmd.PersistentFlags().String("db", "parserport.db", "SQLite database for run history and conversion memory")
}
