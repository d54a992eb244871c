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

// Package worker turns queue deliveries into graph writes. Each delivery is
// resolved under its own timeout, its lifecycle is recorded in the ledger,
// and committed jobs are handed to CRM sync.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verandana/leadgraph/internal/ledger"
	"github.com/verandana/leadgraph/internal/models"
	"github.com/verandana/leadgraph/internal/queue"
)

// DefaultJobTimeout bounds one resolve call.
const DefaultJobTimeout = 30 * time.Second

// Resolver applies a job to the entity graph.
type Resolver interface {
	Resolve(ctx context.Context, job *models.Job) error
}

// Ledger records job state transitions.
type Ledger interface {
	Transition(ctx context.Context, jobID, status string, attempt int, errMsg, digest string) error
}

// Dispatcher hands committed submissions to CRM sync.
type Dispatcher interface {
	Dispatch(jobID string, sub *models.Submission)
}

// Slot is one consumer loop.
type Slot interface {
	Consume(ctx context.Context, h queue.Handler) error
}

// Worker processes deliveries.
type Worker struct {
	resolver   Resolver
	ledger     Ledger
	crm        Dispatcher
	jobTimeout time.Duration
}

// New creates a Worker.
func New(resolver Resolver, led Ledger, crm Dispatcher, jobTimeout time.Duration) *Worker {
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &Worker{
		resolver:   resolver,
		ledger:     led,
		crm:        crm,
		jobTimeout: jobTimeout,
	}
}

// Handle processes one delivery. The returned error is what the queue uses
// to decide between acknowledging, retrying and dead-lettering.
//
// The resolve call runs on a context detached from ctx so that a shutdown
// lets an in-flight job finish; only the job timeout bounds it.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) error {
	job := d.Job
	digest := ledger.Digest(job)

	if d.Attempt == 1 {
		w.record(ctx, job.ID, ledger.StatusReceived, d.Attempt, "", digest)
	}
	w.record(ctx, job.ID, ledger.StatusResolving, d.Attempt, "", digest)

	start := time.Now()
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	err := w.resolver.Resolve(resolveCtx, job)
	cancel()

	status := ledger.StatusCommitted
	errMsg := ""
	switch {
	case err == nil:
	case d.DeadLetters(err):
		status, errMsg = ledger.StatusDeadLettered, err.Error()
	default:
		status, errMsg = ledger.StatusRetryScheduled, err.Error()
	}
	w.record(ctx, job.ID, status, d.Attempt, errMsg, digest)

	zap.L().Info("job settled",
		zap.String("job_id", job.ID),
		zap.String("status", status),
		zap.Int("attempt", d.Attempt),
		zap.String("digest", digest),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err != nil {
		return err
	}
	if w.crm != nil {
		w.crm.Dispatch(job.ID, &job.Submission)
	}
	return nil
}

// record writes a ledger transition. The ledger is an audit trail; its
// failures are logged and never change the job outcome.
func (w *Worker) record(ctx context.Context, jobID, status string, attempt int, errMsg, digest string) {
	if w.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := w.ledger.Transition(ctx, jobID, status, attempt, errMsg, digest); err != nil {
		zap.L().Warn("ledger transition failed",
			zap.String("job_id", jobID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// Run drives every slot with h until ctx is cancelled, then waits for the
// slots to finish their in-flight deliveries.
func Run(ctx context.Context, slots []Slot, h queue.Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range slots {
		g.Go(func() error {
			return s.Consume(gctx, h)
		})
	}
	return g.Wait()
}
