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

// Package replay lists dead-lettered ingestion jobs and puts them back on
// the main queue once the cause of their failure has been fixed.
package replay

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/ledger"
	"github.com/verandana/leadgraph/internal/queue"
)

// DefaultScanLimit bounds how many dead letters one run looks at.
const DefaultScanLimit = 1000

// DeadLetters is the dead-letter stream.
type DeadLetters interface {
	List(ctx context.Context, limit int64) ([]queue.DeadLetter, error)
	Requeue(ctx context.Context, id string) (queue.DeadLetter, error)
}

// Ledger records the requeue in the job ledger.
type Ledger interface {
	Transition(ctx context.Context, jobID, status string, attempt int, errMsg, digest string) error
}

// Result summarises a requeue run.
type Result struct {
	Requeued []queue.DeadLetter
	Missing  []string
	Failed   map[string]error
	Elapsed  time.Duration
}

// Runner performs replay operations.
type Runner struct {
	dead      DeadLetters
	ledger    Ledger
	scanLimit int64
}

// NewRunner creates a Runner. A nil ledger skips ledger updates.
func NewRunner(dead DeadLetters, led Ledger, scanLimit int64) *Runner {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &Runner{dead: dead, ledger: led, scanLimit: scanLimit}
}

// List returns up to limit dead letters, oldest first.
func (r *Runner) List(ctx context.Context, limit int64) ([]queue.DeadLetter, error) {
	return r.dead.List(ctx, limit)
}

// Requeue puts the named jobs back on the queue. Each id may be either a
// dead-letter entry id or a job id. Unknown ids are reported in
// Result.Missing; they do not stop the run.
func (r *Runner) Requeue(ctx context.Context, ids []string) (*Result, error) {
	start := time.Now()
	entries, err := r.dead.List(ctx, r.scanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "replay: list dead letters")
	}

	byID := make(map[string]string, len(entries)*2)
	for _, e := range entries {
		byID[e.ID] = e.ID
		if e.JobID != "" {
			byID[e.JobID] = e.ID
		}
	}

	res := newResult()
	for _, id := range ids {
		entryID, ok := byID[id]
		if !ok {
			res.Missing = append(res.Missing, id)
			continue
		}
		delete(byID, id)
		r.requeueOne(ctx, entryID, res)
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// RequeueAll puts every dead letter (up to the scan limit) back on the
// queue.
func (r *Runner) RequeueAll(ctx context.Context) (*Result, error) {
	start := time.Now()
	entries, err := r.dead.List(ctx, r.scanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "replay: list dead letters")
	}

	res := newResult()
	for _, e := range entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		r.requeueOne(ctx, e.ID, res)
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func (r *Runner) requeueOne(ctx context.Context, entryID string, res *Result) {
	dl, err := r.dead.Requeue(ctx, entryID)
	if errors.Is(err, queue.ErrDeadLetterNotFound) {
		res.Missing = append(res.Missing, entryID)
		return
	}
	if err != nil {
		res.Failed[entryID] = err
		zap.L().Error("requeue failed", zap.String("dead_letter_id", entryID), zap.Error(err))
		return
	}
	res.Requeued = append(res.Requeued, dl)

	if r.ledger == nil || dl.JobID == "" {
		return
	}
	if err := r.ledger.Transition(ctx, dl.JobID, ledger.StatusRequeued, dl.Attempts, "", ""); err != nil {
		zap.L().Warn("ledger transition failed",
			zap.String("job_id", dl.JobID),
			zap.String("status", ledger.StatusRequeued),
			zap.Error(err),
		)
	}
}

func newResult() *Result {
	return &Result{Failed: map[string]error{}}
}
