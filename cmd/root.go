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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/valpere/peredoc/internal/config"
)

var version = "0.3.0"

var (
	cfgFile string
	v       = config.New()
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "peredoc",
	Short: "Resilient multi-stage document translator",
	Long: `A CLI application and HTTP service that translates whole documents in stages:
profile, draft, revise and proofread. Every model call survives truncated
output, malformed JSON and rate limits by shrinking its budget, switching to
a fallback model or splitting the batch.

Use "peredoc translate --help" for translation options.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		return setupLogging(cfg.Log.Level, cfg.Log.Format)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q (text|json)", format)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./peredoc.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text|json)")
	rootCmd.PersistentFlags().String("db", "./data/peredoc.db", "Database path")
	rootCmd.PersistentFlags().String("routing", "", "Model routing file (yaml)")

	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	v.BindPFlag("db_path", rootCmd.PersistentFlags().Lookup("db"))
	v.BindPFlag("routing_file", rootCmd.PersistentFlags().Lookup("routing"))
}
