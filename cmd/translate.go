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
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valpere/peredoc/internal"
	"github.com/valpere/peredoc/internal/origin"
)

var (
	inputFile  string
	outputFile string
	sourceLang string
	targetLang string
	jobName    string
	provider   string
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a document through every stage",
	Long: `Translate a document through the profile, draft, revise and proofread
stages and write the revised text to the output file.

Input may be plain text, Markdown, HWPX or text in a legacy Korean encoding.
Models come from the routing file (--routing); without one every stage uses
the offline echo client. Override all primaries with --provider, for example:

  --provider openai:gpt-4o-mini
  --provider ollama:qwen3:14b
  --provider mock`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == outputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		doc, err := origin.Extract(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Extracted %s (%s)\n", inputFile, doc.Method)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		p, err := buildPipeline(ctx, db, provider)
		if err != nil {
			return err
		}
		defer p.Close()

		name := jobName
		if name == "" {
			name = filepath.Base(inputFile)
		}
		job, err := p.Run(ctx, internal.JobRequest{
			Name:       name,
			Text:       doc.Text,
			SourceLang: sourceLang,
			TargetLang: targetLang,
		})
		if err != nil {
			return err
		}

		text, err := p.Output(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to load translation: %w", err)
		}

		if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(outputFile, []byte(text+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}

		fmt.Printf("Successfully translated %s to %s\n", job.SourceLang, job.TargetLang)
		fmt.Printf("Job: %s (%d units)\n", job.ID, job.UnitCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file to translate (required)")
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file for translation (required)")
	translateCmd.Flags().StringVarP(&sourceLang, "source", "s", "auto", "Source language code")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language code (required)")
	translateCmd.Flags().StringVar(&jobName, "name", "", "Job name (default: input file name)")
	translateCmd.Flags().StringVar(&provider, "provider", "", "Use provider[:model] for every stage")

	translateCmd.MarkFlagRequired("input")
	translateCmd.MarkFlagRequired("output")
	translateCmd.MarkFlagRequired("target")
}
