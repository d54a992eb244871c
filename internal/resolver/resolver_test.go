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

package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verandana/leadgraph/internal/graph"
	"github.com/verandana/leadgraph/internal/models"
	"github.com/verandana/leadgraph/internal/normalize"
	"github.com/verandana/leadgraph/internal/resilience"
)

// memGraph is an in-memory graph that understands the resolver's statements
// and applies them with MERGE semantics. Statements are buffered per
// transaction and applied only when the work function succeeds.
type memGraph struct {
	nodes map[string]map[string]map[string]any
	rels  map[string]struct{}

	txCount   int
	failQuery string
	failErr   error
	failTimes int
}

func newMemGraph() *memGraph {
	return &memGraph{
		nodes: map[string]map[string]map[string]any{},
		rels:  map[string]struct{}{},
	}
}

type memTx struct {
	g       *memGraph
	pending []statement
}

func (t *memTx) Run(_ context.Context, query string, params map[string]any) error {
	if query == t.g.failQuery && t.g.failTimes > 0 {
		t.g.failTimes--
		return t.g.failErr
	}
	t.pending = append(t.pending, statement{query: query, params: params})
	return nil
}

func (g *memGraph) ExecuteWrite(ctx context.Context, work func(ctx context.Context, tx graph.Tx) error) error {
	g.txCount++
	tx := &memTx{g: g}
	if err := work(ctx, tx); err != nil {
		return err
	}
	for _, s := range tx.pending {
		if err := g.apply(s); err != nil {
			return err
		}
	}
	return nil
}

func (g *memGraph) count(label string) int {
	return len(g.nodes[label])
}

func (g *memGraph) node(label, key string) map[string]any {
	return g.nodes[label][key]
}

func (g *memGraph) hasRel(fromLabel, fromKey, rel, toLabel, toKey string) bool {
	_, ok := g.rels[relKey(fromLabel, fromKey, rel, toLabel, toKey)]
	return ok
}

func relKey(fromLabel, fromKey, rel, toLabel, toKey string) string {
	return fmt.Sprintf("%s:%s-%s->%s:%s", fromLabel, fromKey, rel, toLabel, toKey)
}

// merge returns the node and whether it was created.
func (g *memGraph) merge(label, key string) (map[string]any, bool) {
	if g.nodes[label] == nil {
		g.nodes[label] = map[string]map[string]any{}
	}
	if n, ok := g.nodes[label][key]; ok {
		return n, false
	}
	n := map[string]any{}
	g.nodes[label][key] = n
	return n, true
}

func (g *memGraph) exists(label, key string) bool {
	_, ok := g.nodes[label][key]
	return ok
}

func (g *memGraph) link(fromLabel, fromKey, rel, toLabel, toKey string) {
	g.rels[relKey(fromLabel, fromKey, rel, toLabel, toKey)] = struct{}{}
}

func (g *memGraph) apply(s statement) error {
	p := s.params
	str := func(k string) string {
		v, _ := p[k].(string)
		return v
	}

	switch s.query {
	case mergePerson:
		n, created := g.merge("Person", str("emailHash"))
		if created {
			n["createdAt"] = str("ts")
			n["emailHash"] = str("emailHash")
		} else {
			n["lastSeen"] = str("ts")
		}
		n["givenName"] = str("givenName")
	case mergePhone:
		if !g.exists("Person", str("emailHash")) {
			return nil
		}
		g.merge("PhoneNumber", str("telNorm"))
		g.link("Person", str("emailHash"), "HAS_PHONE", "PhoneNumber", str("telNorm"))
	case mergeProject:
		if !g.exists("Person", str("emailHash")) {
			return nil
		}
		n, created := g.merge("Project", str("projectId"))
		if created {
			n["createdAt"] = str("ts")
		}
		g.link("Person", str("emailHash"), "INITIATED", "Project", str("projectId"))
	case mergeProduct:
		if !g.exists("Project", str("projectId")) {
			return nil
		}
		g.merge("Product", str("productId"))
		g.link("Project", str("projectId"), "HAS_PRODUCT", "Product", str("productId"))
	case mergeAddress:
		if !g.exists("Project", str("projectId")) {
			return nil
		}
		locality := str("locality")
		if locality == "" {
			locality = "unknown"
		}
		key := str("postalCode") + "|" + locality
		g.merge("Address", key)
		g.link("Project", str("projectId"), "AT_LOCATION", "Address", key)
	case mergeTimePref:
		if !g.exists("Project", str("projectId")) {
			return nil
		}
		g.merge("TimePref", str("startDate"))
		g.link("Project", str("projectId"), "HAS_TIME_PREF", "TimePref", str("startDate"))
	case mergeConsent:
		if !g.exists("Person", str("emailHash")) {
			return nil
		}
		n, created := g.merge("Consent", str("projectId"))
		if created {
			n["marketing"] = p["marketing"]
			n["profiling"] = p["profiling"]
			n["timestamp"] = str("ts")
			n["status"] = "active"
		}
		g.link("Person", str("emailHash"), "GAVE_CONSENT", "Consent", str("projectId"))
	default:
		return fmt.Errorf("memGraph: unknown statement %q", s.query)
	}
	return nil
}

func newTestResolver(t *testing.T, g graph.Store) *Resolver {
	t.Helper()
	h, err := normalize.NewHasher("test-salt")
	require.NoError(t, err)
	return New(g, h, "")
}

func pergolaJob(id string) *models.Job {
	start := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	return &models.Job{
		ID:          id,
		Version:     models.ContractVersion,
		SubmittedAt: time.Date(2025, 5, 2, 10, 30, 0, 0, time.UTC),
		Submission: models.Submission{
			ProductID: models.ProductPergola,
			Person: models.Person{
				Name:  "Jan Kowalski",
				Email: "Jan@Example.com ",
				Phone: "601 234 567",
			},
			Location: models.Location{PostalCode: "44-100", Locality: "Gliwice"},
			TimePref: &models.TimePref{Start: &start},
			Consent:  models.Consent{Marketing: true, Profiling: true},
		},
	}
}

func TestResolve_PergolaSubmission(t *testing.T) {
	g := newMemGraph()
	r := newTestResolver(t, g)

	require.NoError(t, r.Resolve(context.Background(), pergolaJob("job-1")))

	emailHash := r.hasher.HashEmail("jan@example.com")
	assert.Equal(t, 1, g.count("Person"))
	assert.Equal(t, 1, g.count("PhoneNumber"))
	assert.Equal(t, 1, g.count("Project"))
	assert.Equal(t, 1, g.count("Product"))
	assert.Equal(t, 1, g.count("Address"))
	assert.Equal(t, 1, g.count("TimePref"))
	assert.Equal(t, 1, g.count("Consent"))

	person := g.node("Person", emailHash)
	require.NotNil(t, person)
	assert.Equal(t, "Jan Kowalski", person["givenName"])
	assert.Equal(t, "2025-05-02T10:30:00Z", person["createdAt"])

	assert.True(t, g.hasRel("Person", emailHash, "HAS_PHONE", "PhoneNumber", "+48601234567"))
	assert.True(t, g.hasRel("Person", emailHash, "INITIATED", "Project", "job-1"))
	assert.True(t, g.hasRel("Project", "job-1", "HAS_PRODUCT", "Product", "pergola"))
	assert.True(t, g.hasRel("Project", "job-1", "AT_LOCATION", "Address", "44-100|Gliwice"))
	assert.True(t, g.hasRel("Project", "job-1", "HAS_TIME_PREF", "TimePref", "2025-07-15"))
	assert.True(t, g.hasRel("Person", emailHash, "GAVE_CONSENT", "Consent", "job-1"))

	consent := g.node("Consent", "job-1")
	assert.Equal(t, true, consent["marketing"])
	assert.Equal(t, "active", consent["status"])
}

func TestResolve_NeverStoresRawEmail(t *testing.T) {
	g := newMemGraph()
	r := newTestResolver(t, g)
	require.NoError(t, r.Resolve(context.Background(), pergolaJob("job-1")))

	for label, nodes := range g.nodes {
		for key, props := range nodes {
			assert.NotContains(t, strings.ToLower(key), "example.com", label)
			for _, v := range props {
				if s, ok := v.(string); ok {
					assert.NotContains(t, strings.ToLower(s), "example.com", label)
				}
			}
		}
	}
}

func TestResolve_RedeliveryIsIdempotent(t *testing.T) {
	g := newMemGraph()
	r := newTestResolver(t, g)
	job := pergolaJob("job-1")

	require.NoError(t, r.Resolve(context.Background(), job))
	relsAfterFirst := len(g.rels)
	require.NoError(t, r.Resolve(context.Background(), job))

	assert.Equal(t, 1, g.count("Person"))
	assert.Equal(t, 1, g.count("Project"))
	assert.Equal(t, 1, g.count("Consent"))
	assert.Equal(t, relsAfterFirst, len(g.rels))
}

func TestResolve_SamePersonTwoJobs(t *testing.T) {
	g := newMemGraph()
	r := newTestResolver(t, g)

	first := pergolaJob("job-1")
	second := pergolaJob("job-2")
	second.SubmittedAt = first.SubmittedAt.Add(time.Hour)
	second.Submission.Person.Email = "jan@example.com"

	require.NoError(t, r.Resolve(context.Background(), first))
	require.NoError(t, r.Resolve(context.Background(), second))

	emailHash := r.hasher.HashEmail("jan@example.com")
	assert.Equal(t, 1, g.count("Person"))
	assert.Equal(t, 2, g.count("Project"))
	assert.Equal(t, 2, g.count("Consent"))
	assert.Equal(t, 1, g.count("Product"))
	assert.Equal(t, "2025-05-02T11:30:00Z", g.node("Person", emailHash)["lastSeen"])
}

func TestResolve_OptionalPartsAbsent(t *testing.T) {
	g := newMemGraph()
	r := newTestResolver(t, g)

	job := pergolaJob("job-1")
	job.Submission.Person.Phone = ""
	job.Submission.Location.Locality = ""
	job.Submission.TimePref = nil

	require.NoError(t, r.Resolve(context.Background(), job))

	assert.Equal(t, 0, g.count("PhoneNumber"))
	assert.Equal(t, 0, g.count("TimePref"))
	assert.NotNil(t, g.node("Address", "44-100|unknown"))
	assert.Equal(t, 1, g.count("Consent"))
}

func TestResolve_UnparseablePhoneSkipped(t *testing.T) {
	g := newMemGraph()
	r := newTestResolver(t, g)

	job := pergolaJob("job-1")
	job.Submission.Person.Phone = "call me maybe"

	require.NoError(t, r.Resolve(context.Background(), job))
	assert.Equal(t, 0, g.count("PhoneNumber"))
	assert.Equal(t, 1, g.count("Project"))
}

func TestResolve_EmptyEmailIsPermanent(t *testing.T) {
	g := newMemGraph()
	r := newTestResolver(t, g)

	job := pergolaJob("job-1")
	job.Submission.Person.Email = "  "

	err := r.Resolve(context.Background(), job)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.ErrorIs(t, err, ErrMissingEmail)
	assert.Zero(t, g.txCount)
}

func TestResolve_UnknownVersionIsPermanent(t *testing.T) {
	g := newMemGraph()
	r := newTestResolver(t, g)

	job := pergolaJob("job-1")
	job.Version = 2

	err := r.Resolve(context.Background(), job)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.Zero(t, g.txCount)
}

func TestResolve_FailedTransactionLeavesNothing(t *testing.T) {
	g := newMemGraph()
	g.failQuery = mergeConsent
	g.failErr = errors.New("connection reset by peer")
	g.failTimes = 1
	r := newTestResolver(t, g)
	job := pergolaJob("job-1")

	err := r.Resolve(context.Background(), job)
	require.Error(t, err)
	assert.False(t, resilience.IsPermanent(err))
	assert.Equal(t, 0, g.count("Project"))
	assert.Equal(t, 0, g.count("Person"))

	require.NoError(t, r.Resolve(context.Background(), job))
	assert.Equal(t, 1, g.count("Project"))
	assert.Equal(t, 1, g.count("Consent"))
}

func TestResolve_PermanentStoreErrorPassesThrough(t *testing.T) {
	g := newMemGraph()
	g.failQuery = mergePerson
	g.failErr = resilience.Permanent(errors.New("type mismatch"))
	g.failTimes = 1
	r := newTestResolver(t, g)

	err := r.Resolve(context.Background(), pergolaJob("job-1"))
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}
