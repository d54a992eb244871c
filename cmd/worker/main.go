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

// Leadgraph ingest worker.
//
// Consumes jobs from the Redis ingest queue and resolves them into the
// Neo4j entity graph. It:
//  1. Loads configuration and fails fast on missing settings
//  2. Connects to Redis, Neo4j and Postgres, applying ledger migrations and
//     graph constraints
//  3. Runs worker.slots consumer slots, each handling one job at a time
//  4. On SIGTERM/SIGINT stops pulling jobs, lets in-flight jobs finish,
//     drains pending CRM syncs and closes its connections
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/config"
	"github.com/verandana/leadgraph/internal/crm"
	"github.com/verandana/leadgraph/internal/graph"
	"github.com/verandana/leadgraph/internal/ledger"
	"github.com/verandana/leadgraph/internal/normalize"
	"github.com/verandana/leadgraph/internal/queue"
	"github.com/verandana/leadgraph/internal/resolver"
	"github.com/verandana/leadgraph/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		zap.L().Error("ingest worker failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg *config.Config) error {
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if cfg.Worker.Slots < 1 {
		return eris.Errorf("config: worker.slots must be at least 1, got %d", cfg.Worker.Slots)
	}
	hasher, err := normalize.NewHasher(cfg.Identity.EmailSalt)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return eris.Wrap(err, "invalid REDIS_URL")
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return eris.Wrap(err, "connect to redis")
	}
	zap.L().Info("connected to redis", zap.String("queue", cfg.Redis.Queue))

	// --- Connect to Neo4j ---
	store, err := graph.Open(ctx, graph.Config{
		URI:       cfg.Neo4j.URI,
		Username:  cfg.Neo4j.Username,
		Password:  cfg.Neo4j.Password,
		Database:  cfg.Neo4j.Database,
		TxTimeout: cfg.Neo4j.TxTimeout,
	})
	if err != nil {
		return err
	}
	defer store.Close(context.Background())
	if err := store.EnsureSchema(ctx, resolver.Schema...); err != nil {
		return err
	}
	zap.L().Info("connected to neo4j", zap.String("database", cfg.Neo4j.Database))

	// --- Connect to Postgres ---
	if err := ledger.Migrate(ctx, cfg.Database.URL); err != nil {
		return err
	}
	pool, err := ledger.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	jobs := ledger.NewStore(pool)
	defer jobs.Close()

	// --- CRM sync ---
	var syncer crm.Syncer = crm.Noop{}
	if cfg.CRM.Enabled {
		syncer = crm.NewHubSpot(crm.HubSpotConfig{
			Token:         cfg.CRM.Token,
			BaseURL:       cfg.CRM.BaseURL,
			Timeout:       cfg.CRM.Timeout,
			RatePerSecond: cfg.CRM.RatePerSecond,
		})
	}
	dispatcher := crm.NewDispatcher(syncer, cfg.CRM.Timeout)

	// --- Worker slots ---
	w := worker.New(resolver.New(store, hasher, cfg.Identity.PhoneRegion), jobs, dispatcher, cfg.Worker.JobTimeout)

	host, _ := os.Hostname()
	slots := make([]worker.Slot, 0, cfg.Worker.Slots)
	for i := range cfg.Worker.Slots {
		slots = append(slots, queue.NewConsumer(rdb, queue.ConsumerConfig{
			Stream:        cfg.Redis.Queue,
			Name:          fmt.Sprintf("%s-%d-%d", host, os.Getpid(), i),
			Block:         cfg.Worker.Block,
			RetryBackoff:  cfg.Worker.RetryBackoff,
			MaxDeliveries: cfg.Worker.MaxDeliveries,
		}))
	}

	zap.L().Info("ingest worker started",
		zap.Int("slots", len(slots)),
		zap.Int("max_deliveries", cfg.Worker.MaxDeliveries),
		zap.Duration("retry_backoff", cfg.Worker.RetryBackoff),
		zap.Bool("crm_sync", cfg.CRM.Enabled),
	)

	runErr := worker.Run(ctx, slots, w.Handle)

	// --- Graceful Shutdown ---
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Wait(drainCtx); err != nil {
		zap.L().Warn("crm syncs still pending at shutdown", zap.Error(err))
	}

	zap.L().Info("ingest worker stopped")
	return runErr
}
