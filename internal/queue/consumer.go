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
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/models"
	"github.com/verandana/leadgraph/internal/resilience"
)

const (
	// DefaultGroup is the consumer group shared by all worker slots.
	DefaultGroup = "ingest-workers"

	// DefaultMaxDeliveries bounds how often one job is handed to a handler.
	DefaultMaxDeliveries = 5

	// DefaultRetryBackoff is how long a failed delivery stays pending before
	// it is reclaimed. It must exceed the worker's per-job timeout.
	DefaultRetryBackoff = time.Minute

	// DefaultBlock is how long one XREADGROUP call waits for new jobs.
	DefaultBlock = 5 * time.Second
)

// Delivery is one hand-off of a job to a handler.
type Delivery struct {
	Job           *models.Job
	MessageID     string
	Attempt       int
	MaxDeliveries int
}

// Exhausted reports whether this is the last delivery the job will get.
func (d Delivery) Exhausted() bool {
	return d.Attempt >= d.MaxDeliveries
}

// DeadLetters reports whether a handler failure with err on this delivery
// sends the job to the dead-letter stream.
func (d Delivery) DeadLetters(err error) bool {
	return err != nil && (resilience.IsPermanent(err) || d.Exhausted())
}

// Handler processes one delivery. Returning nil acknowledges the job.
type Handler func(ctx context.Context, d Delivery) error

// ConsumerConfig configures one consumer slot.
type ConsumerConfig struct {
	Stream        string
	Group         string
	Name          string
	Block         time.Duration
	RetryBackoff  time.Duration
	MaxDeliveries int
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.Name == "" {
		c.Name = "worker"
	}
	if c.Block <= 0 {
		c.Block = DefaultBlock
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = DefaultMaxDeliveries
	}
	return c
}

// Consumer reads jobs for one consumer slot. Run one Consumer per slot; each
// handles a single job at a time.
type Consumer struct {
	rdb *redis.Client
	cfg ConsumerConfig
}

// NewConsumer creates a consumer slot.
func NewConsumer(rdb *redis.Client, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		rdb: rdb,
		cfg: cfg.withDefaults(),
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
// Jobs enqueued before the group existed are delivered too.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return eris.Wrapf(err, "queue: create group %s", c.cfg.Group)
	}
	return nil
}

// Consume delivers jobs to h until ctx is cancelled. It stops pulling new
// jobs as soon as ctx is done; a delivery already handed to h runs to
// completion first.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	zap.L().Info("consumer slot started",
		zap.String("queue", c.cfg.Stream),
		zap.String("consumer", c.cfg.Name),
	)

	for ctx.Err() == nil {
		if _, err := c.poll(ctx, h); err != nil {
			if ctx.Err() != nil {
				break
			}
			zap.L().Error("queue poll failed",
				zap.String("consumer", c.cfg.Name),
				zap.Error(err),
			)
			sleep(ctx, time.Second)
		}
	}

	zap.L().Info("consumer slot stopped", zap.String("consumer", c.cfg.Name))
	return nil
}

// poll handles at most one message: a reclaimed failed delivery if one is
// due, otherwise the next new message.
func (c *Consumer) poll(ctx context.Context, h Handler) (int, error) {
	msgs, err := c.reclaim(ctx)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		if msgs, err = c.read(ctx); err != nil {
			return 0, err
		}
	}

	for _, msg := range msgs {
		if err := c.deliver(ctx, h, msg); err != nil {
			return 0, err
		}
	}
	return len(msgs), nil
}

func (c *Consumer) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		MinIdle:  c.cfg.RetryBackoff,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, eris.Wrap(err, "queue: xautoclaim")
	}
	return msgs, nil
}

func (c *Consumer) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    1,
		Block:    c.cfg.Block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "queue: xreadgroup")
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// deliver runs h for one message and settles it. Only Redis failures are
// returned; handler failures are settled by retry or dead-lettering.
func (c *Consumer) deliver(ctx context.Context, h Handler, msg redis.XMessage) error {
	attempt, err := c.rdb.HIncrBy(ctx, c.attemptsKey(), msg.ID, 1).Result()
	if err != nil {
		return eris.Wrap(err, "queue: count attempt")
	}

	job, err := decodeJob(msg)
	if err != nil {
		zap.L().Error("dropping malformed job to dead-letter",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return c.deadLetter(ctx, msg, int(attempt), err)
	}

	d := Delivery{
		Job:           job,
		MessageID:     msg.ID,
		Attempt:       int(attempt),
		MaxDeliveries: c.cfg.MaxDeliveries,
	}

	herr := h(ctx, d)
	switch {
	case herr == nil:
		return c.ack(ctx, msg.ID)
	case d.DeadLetters(herr):
		zap.L().Error("job dead-lettered",
			zap.String("job_id", job.ID),
			zap.Int("attempt", d.Attempt),
			zap.String("class", resilience.Classify(herr)),
			zap.Error(herr),
		)
		return c.deadLetter(ctx, msg, d.Attempt, herr)
	default:
		zap.L().Warn("job failed, retry scheduled",
			zap.String("job_id", job.ID),
			zap.Int("attempt", d.Attempt),
			zap.Int("max_deliveries", d.MaxDeliveries),
			zap.Duration("backoff", c.cfg.RetryBackoff),
			zap.Error(herr),
		)
		return nil
	}
}

// ack removes a settled message from the stream and its attempt counter.
// Acknowledging uses a fresh context so a job finished during shutdown is
// not redelivered.
func (c *Consumer) ack(ctx context.Context, msgID string) error {
	ctx, cancel := settleContext(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, msgID)
	pipe.XDel(ctx, c.cfg.Stream, msgID)
	pipe.HDel(ctx, c.attemptsKey(), msgID)
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrapf(err, "queue: ack %s", msgID)
	}
	return nil
}

func (c *Consumer) attemptsKey() string {
	return attemptsKey(c.cfg.Stream)
}

func attemptsKey(stream string) string {
	return stream + ":attempts"
}

func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
