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

// Package resolver turns a validated ingestion job into entity-graph writes:
// the Person behind the submission, their phone, the Project the job
// represents, and its product, location, timing and consent.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/graph"
	"github.com/verandana/leadgraph/internal/models"
	"github.com/verandana/leadgraph/internal/normalize"
	"github.com/verandana/leadgraph/internal/resilience"
)

var (
	// ErrUnsupportedVersion marks a job produced under a contract this
	// worker does not understand.
	ErrUnsupportedVersion = eris.New("resolver: unsupported job version")

	// ErrMissingEmail marks a job whose person has no email, so no identity
	// can be derived.
	ErrMissingEmail = eris.New("resolver: person email is empty")
)

// Resolver writes jobs into the graph.
type Resolver struct {
	store  graph.Store
	hasher *normalize.Hasher
	region string
}

// New returns a Resolver. An empty region falls back to normalize.DefaultRegion.
func New(store graph.Store, hasher *normalize.Hasher, region string) *Resolver {
	if region == "" {
		region = normalize.DefaultRegion
	}
	return &Resolver{store: store, hasher: hasher, region: region}
}

type statement struct {
	query  string
	params map[string]any
}

// Resolve applies the job to the graph in a single write transaction.
// Invalid jobs fail with a permanent error and touch nothing; graph failures
// are returned as the store classified them.
func (r *Resolver) Resolve(ctx context.Context, job *models.Job) error {
	stmts, err := r.plan(job)
	if err != nil {
		return err
	}

	err = r.store.ExecuteWrite(ctx, func(ctx context.Context, tx graph.Tx) error {
		for _, s := range stmts {
			if err := tx.Run(ctx, s.query, s.params); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "resolver: job %s", job.ID)
	}

	zap.L().Debug("job resolved",
		zap.String("job_id", job.ID),
		zap.Int("statements", len(stmts)),
	)
	return nil
}

// plan builds the ordered statements for a job without touching the graph.
func (r *Resolver) plan(job *models.Job) ([]statement, error) {
	if job.Version != models.ContractVersion {
		return nil, resilience.Permanent(eris.Wrapf(ErrUnsupportedVersion, "version %d", job.Version))
	}
	sub := &job.Submission

	if strings.TrimSpace(sub.Person.Email) == "" {
		return nil, resilience.Permanent(ErrMissingEmail)
	}
	emailHash := r.hasher.HashEmail(sub.Person.Email)

	ts := job.SubmittedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	tsParam := ts.UTC().Format(time.RFC3339)

	stmts := []statement{{
		query: mergePerson,
		params: map[string]any{
			"emailHash": emailHash,
			"ts":        tsParam,
			"givenName": sub.Person.Name,
		},
	}}

	if tel := normalize.Phone(sub.Person.Phone, r.region); tel != "" {
		stmts = append(stmts, statement{
			query:  mergePhone,
			params: map[string]any{"emailHash": emailHash, "telNorm": tel},
		})
	}

	stmts = append(stmts,
		statement{
			query:  mergeProject,
			params: map[string]any{"emailHash": emailHash, "projectId": job.ID, "ts": tsParam},
		},
		statement{
			query:  mergeProduct,
			params: map[string]any{"projectId": job.ID, "productId": sub.ProductID},
		},
	)

	if sub.Location.PostalCode != "" {
		var locality any
		if sub.Location.Locality != "" {
			locality = sub.Location.Locality
		}
		stmts = append(stmts, statement{
			query: mergeAddress,
			params: map[string]any{
				"projectId":  job.ID,
				"postalCode": sub.Location.PostalCode,
				"locality":   locality,
			},
		})
	}

	if start := sub.StartDate(); start != nil {
		stmts = append(stmts, statement{
			query: mergeTimePref,
			params: map[string]any{
				"projectId": job.ID,
				"startDate": start.UTC().Format(time.DateOnly),
			},
		})
	}

	stmts = append(stmts, statement{
		query: mergeConsent,
		params: map[string]any{
			"emailHash": emailHash,
			"projectId": job.ID,
			"marketing": sub.Consent.Marketing,
			"profiling": sub.Consent.Profiling,
			"ts":        tsParam,
		},
	})

	return stmts, nil
}
