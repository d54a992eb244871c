// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verandana/leadgraph/internal/queue"
	"github.com/verandana/leadgraph/internal/replay"
)

var listLimit int64

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rdb, err := redisClient()
		if err != nil {
			return err
		}
		defer rdb.Close()

		runner := replay.NewRunner(queue.NewDeadLetterStore(rdb, cfg.Redis.Queue), nil, 0)
		entries, err := runner.List(ctx, listLimit)
		if err != nil {
			return eris.Wrap(err, "list dead letters")
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "no dead-lettered jobs")
			return nil
		}
		printDeadLetters(out, entries)
		return nil
	},
}

func init() {
	listCmd.Flags().Int64Var(&listLimit, "limit", 50, "maximum number of entries to show")
}

func printDeadLetters(w io.Writer, entries []queue.DeadLetter) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tJOB\tATTEMPTS\tFAILED AT\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.JobID, e.Attempts, e.FailedAt.Format(time.RFC3339), truncate(e.Error, 80))
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
