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

	"github.com/spf13/cobra"

	"github.com/valpere/peredoc/internal/origin"
)

var extractOutput string

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract plain text from a document",
	Long:  `Extract the text a translation job would see from a txt, md or hwpx file.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := origin.Extract(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Method: %s\n", doc.Method)

		if extractOutput == "" {
			fmt.Println(doc.Text)
			return nil
		}
		if err := os.WriteFile(extractOutput, []byte(doc.Text+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "Output file (default stdout)")
}
