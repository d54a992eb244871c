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

// Package ledger records the lifecycle of every ingestion job in Postgres so
// operators can see what happened to a submission without reading logs. It
// stores job ids, states, attempt counts, errors and a payload digest; never
// personal data.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/models"
)

// Job states.
const (
	StatusReceived       = "received"
	StatusResolving      = "resolving"
	StatusCommitted      = "committed"
	StatusRetryScheduled = "retry_scheduled"
	StatusDeadLettered   = "dead_lettered"
	StatusRequeued       = "requeued"
)

// ErrNotFound is returned when no ledger entry exists for a job id.
var ErrNotFound = eris.New("ledger: job not found")

// maxErrorLen bounds last_error; driver errors can embed whole statements.
const maxErrorLen = 1024

// PgxPool is the subset of *pgxpool.Pool the store uses. pgxmock's pool
// satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Entry is one row of the ledger.
type Entry struct {
	JobID      string
	Status     string
	Attempts   int
	LastError  string
	Digest     string
	ReceivedAt time.Time
	UpdatedAt  time.Time
}

// Store reads and writes ledger entries.
type Store struct {
	pool PgxPool
}

// NewStore returns a store on an open pool. The schema is managed by
// Migrate, not by the store.
func NewStore(pool PgxPool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pgx pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: open pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ledger: ping")
	}
	zap.L().Info("ledger connected")
	return pool, nil
}

// Transition records that jobID entered status at the given attempt. The
// first call inserts the row; later calls update it. Attempts never go
// backwards and an empty digest keeps the stored one.
func (s *Store) Transition(ctx context.Context, jobID, status string, attempt int, errMsg, digest string) error {
	errMsg = truncate(errMsg, maxErrorLen)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_jobs (job_id, status, attempts, last_error, digest)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE SET
			status     = EXCLUDED.status,
			attempts   = GREATEST(ingest_jobs.attempts, EXCLUDED.attempts),
			last_error = EXCLUDED.last_error,
			digest     = COALESCE(NULLIF(EXCLUDED.digest, ''), ingest_jobs.digest),
			updated_at = NOW()
	`, jobID, status, attempt, errMsg, digest)
	if err != nil {
		return eris.Wrapf(err, "ledger: transition %s to %s", jobID, status)
	}
	return nil
}

// Get returns the entry for jobID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT job_id, status, attempts, last_error, digest, received_at, updated_at
		FROM ingest_jobs
		WHERE job_id = $1
	`, jobID)

	var e Entry
	err := row.Scan(&e.JobID, &e.Status, &e.Attempts, &e.LastError, &e.Digest, &e.ReceivedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get %s", jobID)
	}
	return &e, nil
}

// ListByStatus returns up to limit entries in status, most recently updated
// first.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, status, attempts, last_error, digest, received_at, updated_at
		FROM ingest_jobs
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: list %s", status)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.JobID, &e.Status, &e.Attempts, &e.LastError, &e.Digest, &e.ReceivedAt, &e.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "ledger: scan entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Digest returns the hex sha256 of the job's wire form. It identifies a
// payload in the ledger without storing it.
func Digest(job *models.Job) string {
	b, err := json.Marshal(job)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
