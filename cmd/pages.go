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
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/peredoc/internal/pagination"
)

var pageCursor string

var pagesCmd = &cobra.Command{
	Use:   "pages <job> <stage>",
	Short: "Print one page of a stage's output",
	Long: `Print one page of a stage's output as JSON. Continue with the page's
next_cursor:

  peredoc pages <job> draft
  peredoc pages <job> draft --cursor draft:1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		jobID, stage := args[0], args[1]
		pages, err := db.Pages(context.Background(), jobID, stage)
		if err != nil {
			return fmt.Errorf("failed to load %s pages: %w", stage, err)
		}
		page, err := pagination.Resume(pages, pagination.ParseFor(stage, pageCursor))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	},
}

func init() {
	rootCmd.AddCommand(pagesCmd)
	pagesCmd.Flags().StringVar(&pageCursor, "cursor", "", "Resume cursor (<stage>:<page> or <stage>:<hash>)")
}
