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

// Package queue carries ingest jobs from the API to the worker over a Redis
// stream. Delivery is at-least-once: a job is removed only after its handler
// returns nil, failed deliveries are reclaimed after a backoff, and jobs that
// exhaust their delivery budget move to a dead-letter stream.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/models"
)

const (
	// DefaultStream is the single named queue for ingest jobs.
	DefaultStream = "ingest-queue"

	payloadField = "payload"
	jobIDField   = "job_id"
)

// Publisher enqueues jobs onto the ingest stream.
type Publisher struct {
	rdb    *redis.Client
	stream string
}

// NewPublisher creates a publisher targeting the given stream.
func NewPublisher(rdb *redis.Client, stream string) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{
		rdb:    rdb,
		stream: stream,
	}
}

// Enqueue appends job to the stream and returns its id. It costs one round
// trip to Redis and never waits for the job to be processed.
func (p *Publisher) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", eris.Wrap(err, "queue: marshal job")
	}

	msgID, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			payloadField: string(data),
			jobIDField:   job.ID,
		},
	}).Result()
	if err != nil {
		return "", eris.Wrap(err, "queue: xadd")
	}

	zap.L().Info("enqueued ingest job",
		zap.String("job_id", job.ID),
		zap.String("message_id", msgID),
		zap.String("queue", p.stream),
	)
	return job.ID, nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return ping(ctx, p.rdb)
}

func ping(ctx context.Context, rdb *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

func decodeJob(msg redis.XMessage) (*models.Job, error) {
	raw, ok := msg.Values[payloadField].(string)
	if !ok {
		return nil, eris.Errorf("queue: message %s has no payload", msg.ID)
	}
	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, eris.Wrapf(err, "queue: decode message %s", msg.ID)
	}
	if job.ID == "" {
		return nil, eris.Errorf("queue: message %s has no job id", msg.ID)
	}
	return &job, nil
}
