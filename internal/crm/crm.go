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

// Package crm forwards accepted submissions to an external CRM. Sync is
// best effort: failures are logged and never change the outcome of the
// ingestion job that triggered them.
package crm

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/models"
)

// Syncer pushes one submission to the CRM.
type Syncer interface {
	Sync(ctx context.Context, sub *models.Submission) error
}

// Noop is the Syncer used when CRM sync is disabled.
type Noop struct{}

func (Noop) Sync(context.Context, *models.Submission) error { return nil }

// DefaultTimeout bounds one dispatched sync.
const DefaultTimeout = 10 * time.Second

// Dispatcher runs syncs in the background, detached from the job that
// requested them.
type Dispatcher struct {
	syncer  Syncer
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher wraps syncer. A nil syncer behaves like Noop.
func NewDispatcher(syncer Syncer, timeout time.Duration) *Dispatcher {
	if syncer == nil {
		syncer = Noop{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{syncer: syncer, timeout: timeout}
}

// Dispatch starts a sync for sub and returns immediately.
func (d *Dispatcher) Dispatch(jobID string, sub *models.Submission) {
	if _, ok := d.syncer.(Noop); ok || sub == nil {
		return
	}

	snapshot := *sub
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.syncer.Sync(ctx, &snapshot); err != nil {
			zap.L().Warn("crm sync failed",
				zap.String("job_id", jobID),
				zap.Error(err),
			)
			return
		}
		zap.L().Debug("crm sync done", zap.String("job_id", jobID))
	}()
}

// Wait blocks until every dispatched sync has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "crm: drain dispatcher")
	}
}
