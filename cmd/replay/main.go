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

// Leadgraph dead-letter replay.
//
// Operator tool for jobs that ended on the dead-letter stream. After the
// cause is fixed (graph outage, bad deploy), requeue puts them back on the
// ingest queue with a fresh delivery budget; their job ids are kept, so
// replaying is idempotent.
//
// Usage:
//
//	replay list [--limit 50]
//	replay requeue <id>... | --all
package main

import (
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "replay",
	Short:        "Inspect and requeue dead-lettered ingestion jobs",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		if err := c.ValidateReplay(); err != nil {
			return err
		}
		if _, err := config.InitLogger(c.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.AddCommand(listCmd, requeueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func redisClient() (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, eris.Wrap(err, "invalid REDIS_URL")
	}
	return redis.NewClient(opt), nil
}
