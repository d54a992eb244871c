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

// Leadgraph ingestion API.
//
// Accepts lead-form submissions, validates them and enqueues one job per
// accepted submission on the Redis ingest queue. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to Redis (queue and double-submit guard)
//  3. Serves POST /v1/ingest and GET /health
//  4. Shuts down gracefully on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/api"
	"github.com/verandana/leadgraph/internal/config"
	"github.com/verandana/leadgraph/internal/dedup"
	"github.com/verandana/leadgraph/internal/normalize"
	"github.com/verandana/leadgraph/internal/queue"
)

func main() {
	// --- Load Configuration ---
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
		zap.L().Error("ingestion api failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg *config.Config) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
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

	publisher := queue.NewPublisher(rdb, cfg.Redis.Queue)
	if err := publisher.Ping(ctx); err != nil {
		return eris.Wrap(err, "connect to redis")
	}
	zap.L().Info("connected to redis", zap.String("queue", cfg.Redis.Queue))

	// --- Double-submit guard ---
	var guard api.Guard
	if cfg.Dedup.Enabled {
		guard = dedup.NewGuard(rdb, cfg.Dedup.TTL)
	}

	handler := api.NewHandler(publisher, guard, hasher, cfg.Server.MaxBodyBytes)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	zap.L().Info("starting ingestion api",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("dedup", cfg.Dedup.Enabled),
	)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if err := api.Serve(ctx, addr, router, 15*time.Second, nil); err != nil {
		return err
	}

	zap.L().Info("ingestion api stopped")
	return nil
}
