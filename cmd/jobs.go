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
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/peredoc/internal/pipeline"
	"github.com/valpere/peredoc/internal/store"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect translation jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		jobs, err := db.ListJobs(context.Background(), jobsLimit)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSOURCE\tTARGET\tSTATUS\tSTAGE\tUNITS\tUPDATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				j.ID, j.Name, j.SourceLang, j.TargetLang, j.Status, j.Stage,
				j.UnitCount, j.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job with its stage results and attempt history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		job, err := db.GetJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}

		fmt.Printf("Job:     %s\n", job.ID)
		fmt.Printf("Name:    %s\n", job.Name)
		fmt.Printf("Pair:    %s -> %s\n", job.SourceLang, job.TargetLang)
		fmt.Printf("Status:  %s (%s)\n", job.Status, job.Stage)
		fmt.Printf("Units:   %d\n", job.UnitCount)
		if job.Error != "" {
			fmt.Printf("Error:   %s\n", job.Error)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nSTAGE\tATTEMPTS\tMAX TOKENS\tTRUNCATED\tDOWNSHIFTS\tRATE LIMITS\tFALLBACK\tSEGMENT\tTOKENS")
		for _, name := range pipeline.Stages {
			res, err := db.GetStageResult(ctx, job.ID, name)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			m := res.Metrics
			fmt.Fprintf(w, "%s\t%d\t%d\t%v\t%d\t%d\t%v\t%v\t%d\n",
				name, res.Attempts, res.MaxOutputTokens, res.Truncated, m.Downshifts,
				m.RateLimitRetries, m.FallbackUsed, m.SegmentRetryUsed, res.Usage.TotalTokens)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		attempts, err := db.Attempts(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("failed to load attempts: %w", err)
		}
		if len(attempts) == 0 {
			return nil
		}
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nSTAGE\tCALL\t#\tRUNG\tREASON\tMAX TOKENS")
		for _, a := range attempts {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\n",
				a.Stage, a.CallID, a.AttemptIndex, a.AttemptContext.Stage, a.Reason, a.MaxOutputTokens)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)

	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 50, "Maximum number of jobs")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
}
