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
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/valpere/peredoc/internal/store"
)

var (
	memSource string
	memTarget string
	memLimit  int
	memForce  bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the translation memory",
	Long: `Inspect the translation memory consulted by the draft stage.

Invalidated entries stay in the database but are never recalled; the next
draft of the same sentence replaces them.`,
}

// withStore runs fn against the configured database and closes it afterwards.
func withStore(cmd *cobra.Command, fn func(context.Context, *store.Store) error) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(cmd.Context(), db)
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List translation memory entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, db *store.Store) error {
			entries, err := db.ListMemory(ctx)
			if err != nil {
				return fmt.Errorf("failed to list memory: %w", err)
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPAIR\tBY\tUSED\tLAST USED\tSTATE\tSOURCE")
			shown := 0
			for _, e := range entries {
				if memSource != "" && !strings.EqualFold(e.SourceLang, memSource) {
					continue
				}
				if memTarget != "" && !strings.EqualFold(e.TargetLang, memTarget) {
					continue
				}
				if memLimit > 0 && shown == memLimit {
					break
				}
				state := "active"
				if e.Invalidated {
					state = "invalid"
				}
				fmt.Fprintf(w, "%s\t%s->%s\t%s\t%d\t%s\t%s\t%s\n",
					e.ID, e.SourceLang, e.TargetLang, e.ServiceUsed, e.UsageCount,
					e.LastUsed.Format("2006-01-02 15:04"), state, snippet(e.SourceText, 40))
				shown++
			}
			if shown == 0 {
				fmt.Fprintln(out, "Translation memory is empty.")
				return nil
			}
			return w.Flush()
		})
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show translation memory statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, db *store.Store) error {
			stats, err := db.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to read memory stats: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "entries\t%d\n", stats.TotalEntries)
			fmt.Fprintf(w, "active\t%d\n", stats.ActiveEntries)
			fmt.Fprintf(w, "invalidated\t%d\n", stats.InvalidEntries)
			fmt.Fprintf(w, "recalls\t%d\n", stats.TotalUsage)
			return w.Flush()
		})
	},
}

// entryCmd builds a command that applies op to one memory entry.
func entryCmd(use, short, verb string, op func(*store.Store, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, db *store.Store) error {
				if err := op(db, ctx, args[0]); err != nil {
					return fmt.Errorf("failed to %s %s: %w", use, args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
				return nil
			})
		},
	}
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every translation memory entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !memForce {
			return fmt.Errorf("refusing to clear translation memory without --force")
		}
		return withStore(cmd, func(ctx context.Context, db *store.Store) error {
			n, err := db.ClearMemory(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear memory: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", n)
			return nil
		})
	},
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheListCmd.Flags().StringVarP(&memSource, "source", "s", "", "only entries with this source language")
	cacheListCmd.Flags().StringVarP(&memTarget, "target", "t", "", "only entries with this target language")
	cacheListCmd.Flags().IntVarP(&memLimit, "limit", "n", 0, "maximum number of entries (0 = all)")
	cacheClearCmd.Flags().BoolVar(&memForce, "force", false, "confirm removal of every entry")

	cacheCmd.AddCommand(
		cacheListCmd,
		cacheStatsCmd,
		entryCmd("delete", "Delete a translation memory entry", "deleted", (*store.Store).DeleteMemory),
		entryCmd("invalidate", "Stop recalling an entry until it is drafted again", "invalidated", (*store.Store).InvalidateMemory),
		cacheClearCmd,
	)
}
