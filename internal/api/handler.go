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

// Package api serves the public ingestion endpoint. A request is validated,
// checked against the double-submit guard and enqueued; the response never
// waits for graph processing.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verandana/leadgraph/internal/dedup"
	"github.com/verandana/leadgraph/internal/models"
	"github.com/verandana/leadgraph/internal/normalize"
	"github.com/verandana/leadgraph/internal/validate"
)

// DefaultMaxBodyBytes caps the request body.
const DefaultMaxBodyBytes = 1 << 20

// Publisher enqueues jobs for the worker.
type Publisher interface {
	Enqueue(ctx context.Context, job *models.Job) (string, error)
	Ping(ctx context.Context) error
}

// Guard recognises double submissions.
type Guard interface {
	Claim(ctx context.Context, fingerprint, jobID string) (existingID string, fresh bool, err error)
	Release(ctx context.Context, fingerprint string) error
}

// Handler serves the ingestion and health endpoints.
type Handler struct {
	publisher Publisher
	guard     Guard
	hasher    *normalize.Hasher
	maxBody   int64

	now   func() time.Time
	newID func() string
}

// NewHandler creates a Handler. A nil guard disables double-submit
// detection.
func NewHandler(publisher Publisher, guard Guard, hasher *normalize.Hasher, maxBody int64) *Handler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handler{
		publisher: publisher,
		guard:     guard,
		hasher:    hasher,
		maxBody:   maxBody,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

type acceptedResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
}

type errorResponse struct {
	Error   string                `json:"error"`
	Details []validate.FieldError `json:"details,omitempty"`
}

// ServeIngest handles POST /v1/ingest.
func (h *Handler) ServeIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid payload",
			Details: []validate.FieldError{{Field: "body", Message: "could not read request body"}},
		})
		return
	}

	sub, err := validate.Submission(body)
	if err != nil {
		var verrs validate.Errors
		if !errors.As(err, &verrs) {
			verrs = validate.Errors{{Field: "body", Message: err.Error()}}
		}
		zap.L().Info("submission rejected", zap.Int("violations", len(verrs)))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload", Details: verrs})
		return
	}

	job := &models.Job{
		ID:          h.newID(),
		Version:     models.ContractVersion,
		SubmittedAt: h.now().UTC(),
		Submission:  *sub,
	}

	fingerprint, existing := h.claim(r.Context(), job)
	if existing != "" {
		zap.L().Info("double submission, returning original job",
			zap.String("job_id", existing),
			zap.String("product", sub.ProductID),
		)
		writeJSON(w, http.StatusAccepted, acceptedResponse{OK: true, ID: existing})
		return
	}

	if _, err := h.publisher.Enqueue(r.Context(), job); err != nil {
		zap.L().Error("enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		if fingerprint != "" {
			if rerr := h.guard.Release(context.WithoutCancel(r.Context()), fingerprint); rerr != nil {
				zap.L().Warn("dedup release failed", zap.String("job_id", job.ID), zap.Error(rerr))
			}
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
		return
	}

	zap.L().Info("submission accepted",
		zap.String("job_id", job.ID),
		zap.String("product", sub.ProductID),
	)
	writeJSON(w, http.StatusAccepted, acceptedResponse{OK: true, ID: job.ID})
}

// claim registers the job with the guard. It returns the fingerprint this
// request now owns, or the id of an earlier job with the same fingerprint.
// Guard failures fail open.
func (h *Handler) claim(ctx context.Context, job *models.Job) (fingerprint, existing string) {
	if h.guard == nil || h.hasher == nil {
		return "", ""
	}

	sub := &job.Submission
	fp := dedup.Fingerprint(h.hasher.HashEmail(sub.Person.Email), sub)
	if fp == "" {
		return "", ""
	}
	prev, fresh, err := h.guard.Claim(ctx, fp, job.ID)
	if err != nil {
		zap.L().Warn("dedup check failed, proceeding", zap.String("job_id", job.ID), zap.Error(err))
		return "", ""
	}
	if !fresh && prev != "" {
		return "", prev
	}
	return fp, ""
}

// ServeHealth reports whether the queue backend is reachable.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.publisher.Ping(r.Context()); err != nil {
		zap.L().Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "redis": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response failed", zap.Error(err))
	}
}
