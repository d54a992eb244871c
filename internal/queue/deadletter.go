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

package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	errorField    = "error"
	attemptsField = "attempts"
	failedAtField = "failed_at"
	sourceIDField = "source_id"
)

// ErrDeadLetterNotFound is returned by Requeue for an unknown entry id.
var ErrDeadLetterNotFound = eris.New("queue: dead-letter entry not found")

// DeadLetter is a job that exhausted its delivery budget or failed
// permanently. It stays in the dead-letter stream until requeued.
type DeadLetter struct {
	ID       string
	JobID    string
	Payload  string
	Error    string
	Attempts int
	FailedAt time.Time
}

func deadStream(stream string) string {
	return stream + ":dead"
}

// deadLetter moves msg to the dead-letter stream and acknowledges it in one
// MULTI block.
func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, attempt int, cause error) error {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	payload, _ := msg.Values[payloadField].(string)
	jobID, _ := msg.Values[jobIDField].(string)

	pipe := c.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: deadStream(c.cfg.Stream),
		Values: map[string]any{
			payloadField:  payload,
			jobIDField:    jobID,
			errorField:    cause.Error(),
			attemptsField: attempt,
			failedAtField: time.Now().UTC().Format(time.RFC3339),
			sourceIDField: msg.ID,
		},
	})
	pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID)
	pipe.XDel(ctx, c.cfg.Stream, msg.ID)
	pipe.HDel(ctx, c.attemptsKey(), msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(err, "queue: dead-letter %s", msg.ID)
	}
	return nil
}

// DeadLetterStore inspects and replays the dead-letter stream.
type DeadLetterStore struct {
	rdb    *redis.Client
	stream string
}

// NewDeadLetterStore creates a store for the dead letters of stream.
func NewDeadLetterStore(rdb *redis.Client, stream string) *DeadLetterStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &DeadLetterStore{rdb: rdb, stream: stream}
}

// List returns up to limit dead letters, oldest first.
func (s *DeadLetterStore) List(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	msgs, err := s.rdb.XRangeN(ctx, deadStream(s.stream), "-", "+", limit).Result()
	if err != nil {
		return nil, eris.Wrap(err, "queue: list dead letters")
	}

	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, parseDeadLetter(m))
	}
	return out, nil
}

// Requeue puts a dead letter back on the main stream with a fresh delivery
// budget and removes it from the dead-letter stream. The job keeps its id,
// so resolving it again stays idempotent.
func (s *DeadLetterStore) Requeue(ctx context.Context, id string) (DeadLetter, error) {
	msgs, err := s.rdb.XRange(ctx, deadStream(s.stream), id, id).Result()
	if err != nil {
		return DeadLetter{}, eris.Wrapf(err, "queue: read dead letter %s", id)
	}
	if len(msgs) == 0 {
		return DeadLetter{}, ErrDeadLetterNotFound
	}
	dl := parseDeadLetter(msgs[0])

	pipe := s.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			payloadField: dl.Payload,
			jobIDField:   dl.JobID,
		},
	})
	pipe.XDel(ctx, deadStream(s.stream), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return DeadLetter{}, eris.Wrapf(err, "queue: requeue %s", id)
	}

	zap.L().Info("requeued dead letter",
		zap.String("dead_letter_id", id),
		zap.String("job_id", dl.JobID),
	)
	return dl, nil
}

// Ping checks the Redis connection.
func (s *DeadLetterStore) Ping(ctx context.Context) error {
	return ping(ctx, s.rdb)
}

func parseDeadLetter(m redis.XMessage) DeadLetter {
	dl := DeadLetter{ID: m.ID}
	dl.Payload, _ = m.Values[payloadField].(string)
	dl.JobID, _ = m.Values[jobIDField].(string)
	dl.Error, _ = m.Values[errorField].(string)
	if v, ok := m.Values[attemptsField].(string); ok {
		dl.Attempts, _ = strconv.Atoi(v)
	}
	if v, ok := m.Values[failedAtField].(string); ok {
		dl.FailedAt, _ = time.Parse(time.RFC3339, v)
	}
	return dl
}
