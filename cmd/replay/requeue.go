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
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/ledger"
	"github.com/verandana/leadgraph/internal/queue"
	"github.com/verandana/leadgraph/internal/replay"
)

var (
	requeueAll   bool
	requeueLimit int64
)

var requeueCmd = &cobra.Command{
	Use:   "requeue [entry-or-job-id...]",
	Short: "Put dead-lettered jobs back on the ingest queue",
	Long: "Requeue named dead letters (by entry id or job id), or every dead letter with --all. " +
		"Requeued jobs are marked requeued in the job ledger.",
	Args: func(_ *cobra.Command, args []string) error {
		if requeueAll && len(args) > 0 {
			return eris.New("pass ids or --all, not both")
		}
		if !requeueAll && len(args) == 0 {
			return eris.New("pass at least one id, or --all")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rdb, err := redisClient()
		if err != nil {
			return err
		}
		defer rdb.Close()

		pool, err := ledger.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		jobs := ledger.NewStore(pool)
		defer jobs.Close()

		runner := replay.NewRunner(queue.NewDeadLetterStore(rdb, cfg.Redis.Queue), jobs, requeueLimit)

		var res *replay.Result
		if requeueAll {
			res, err = runner.RequeueAll(ctx)
		} else {
			res, err = runner.Requeue(ctx, args)
		}
		if err != nil {
			return eris.Wrap(err, "requeue")
		}

		out := cmd.OutOrStdout()
		for _, dl := range res.Requeued {
			fmt.Fprintf(out, "requeued %s (job %s)\n", dl.ID, dl.JobID)
		}
		for _, id := range res.Missing {
			fmt.Fprintf(out, "not found %s\n", id)
		}
		for id, ferr := range res.Failed {
			fmt.Fprintf(out, "failed %s: %v\n", id, ferr)
		}

		zap.L().Info("requeue finished",
			zap.Int("requeued", len(res.Requeued)),
			zap.Int("missing", len(res.Missing)),
			zap.Int("failed", len(res.Failed)),
			zap.Duration("elapsed", res.Elapsed),
		)
		if len(res.Failed) > 0 {
			return eris.Errorf("%d dead letters could not be requeued", len(res.Failed))
		}
		return nil
	},
}

func init() {
	requeueCmd.Flags().BoolVar(&requeueAll, "all", false, "requeue every dead letter")
	requeueCmd.Flags().Int64Var(&requeueLimit, "scan-limit", replay.DefaultScanLimit, "maximum dead letters to scan")
}
