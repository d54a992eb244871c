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

// Package graph is the narrow interface the resolver uses to write to the
// entity graph, and its Neo4j implementation. Callers group statements into
// one write transaction per unit of work; each statement is a Cypher string
// with a flat parameter map.
package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/resilience"
)

// Tx runs statements inside an open transaction.
type Tx interface {
	Run(ctx context.Context, query string, params map[string]any) error
}

// Store opens write transactions. All statements issued through tx commit
// together or not at all.
type Store interface {
	ExecuteWrite(ctx context.Context, work func(ctx context.Context, tx Tx) error) error
}

// Config holds the Neo4j connection settings.
type Config struct {
	URI       string
	Username  string
	Password  string
	Database  string
	TxTimeout time.Duration
}

// Neo4jStore implements Store on a Neo4j driver. The driver owns the
// connection pool and reconnects on its own; one Neo4jStore is shared by
// all worker slots.
type Neo4jStore struct {
	driver    neo4j.DriverWithContext
	database  string
	txTimeout time.Duration
}

// Open creates the driver and verifies connectivity. An unreachable graph at
// startup is a configuration error.
func Open(ctx context.Context, cfg Config) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, eris.Wrap(err, "graph: create driver")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, eris.Wrap(err, "graph: verify connectivity")
	}

	return &Neo4jStore{
		driver:    driver,
		database:  cfg.Database,
		txTimeout: cfg.TxTimeout,
	}, nil
}

// EnsureSchema runs idempotent schema statements (constraints, indexes) in
// auto-commit transactions.
func (s *Neo4jStore) EnsureSchema(ctx context.Context, statements ...string) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	for _, stmt := range statements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return eris.Wrapf(err, "graph: schema statement %q", stmt)
		}
		if _, err := res.Consume(ctx); err != nil {
			return eris.Wrapf(err, "graph: schema statement %q", stmt)
		}
	}
	zap.L().Info("graph schema ensured", zap.Int("statements", len(statements)))
	return nil
}

// ExecuteWrite runs work in one managed write transaction. The driver
// retries the whole function on transient cluster errors, so work must be
// idempotent.
func (s *Neo4jStore) ExecuteWrite(ctx context.Context, work func(ctx context.Context, tx Tx) error) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	var configurers []func(*neo4j.TransactionConfig)
	if s.txTimeout > 0 {
		configurers = append(configurers, neo4j.WithTxTimeout(s.txTimeout))
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(ctx, managedTx{tx: tx})
	}, configurers...)
	return Classify(err)
}

// Ping verifies the driver can reach the server.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.driver.VerifyConnectivity(ctx)
}

// Close releases the driver and its connection pool.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
}

type managedTx struct {
	tx neo4j.ManagedTransaction
}

func (m managedTx) Run(ctx context.Context, query string, params map[string]any) error {
	res, err := m.tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// Classify maps a graph error onto the retry taxonomy. Statement and schema
// errors reported by the server (bad Cypher, type or constraint violations)
// are permanent; everything else, connectivity and timeouts included, is
// left transient.
func Classify(err error) error {
	if err == nil || resilience.IsPermanent(err) {
		return err
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && !neo4j.IsRetryable(err) && isDataError(neoErr.Code) {
		return resilience.Permanent(eris.Wrap(err, "graph: write rejected"))
	}
	return eris.Wrap(err, "graph: write transaction")
}

func isDataError(code string) bool {
	return strings.HasPrefix(code, "Neo.ClientError.Statement.") ||
		strings.HasPrefix(code, "Neo.ClientError.Schema.")
}
