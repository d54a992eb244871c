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

// Package dedup suppresses double submissions of the same lead form (double
// clicks, browser retries) using Redis SET NX with a TTL. A repeat within
// the window is answered with the job id of the first submission instead of
// enqueuing a second job.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/verandana/leadgraph/internal/models"
)

const (
	// DefaultTTL is how long a submission fingerprint is remembered.
	DefaultTTL = 10 * time.Minute

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "leadgraph:submission:"
)

// Guard remembers recently accepted submission fingerprints.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGuard creates a dedup guard backed by Redis. A non-positive ttl uses
// DefaultTTL.
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		rdb: rdb,
		ttl: ttl,
	}
}

// Fingerprint derives the dedup key for a canonical submission. Every field
// takes part, so only identical resubmissions collide; a second lead from the
// same person with any detail changed gets its own key. The raw email is
// replaced by emailHash, which must already be salted.
func Fingerprint(emailHash string, sub *models.Submission) string {
	keyed := *sub
	keyed.Person.Email = emailHash
	b, err := json.Marshal(&keyed)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Claim records jobID under fingerprint if the fingerprint is unseen and
// reports fresh=true. Otherwise it returns the job id recorded first.
func (g *Guard) Claim(ctx context.Context, fingerprint, jobID string) (existingID string, fresh bool, err error) {
	key := keyPrefix + fingerprint

	set, err := g.rdb.SetNX(ctx, key, jobID, g.ttl).Result()
	if err != nil {
		return "", false, eris.Wrap(err, "dedup: setnx")
	}
	if set {
		return jobID, true, nil
	}

	existingID, err = g.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		// Expired between SETNX and GET; the caller may proceed.
		return jobID, true, nil
	}
	if err != nil {
		return "", false, eris.Wrap(err, "dedup: get")
	}
	return existingID, false, nil
}

// Release forgets a fingerprint, used when enqueuing the claimed job failed.
func (g *Guard) Release(ctx context.Context, fingerprint string) error {
	if err := g.rdb.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return eris.Wrap(err, "dedup: del")
	}
	return nil
}
