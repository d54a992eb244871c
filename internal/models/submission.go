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

// Package models defines the data structures shared across the ingest
// pipeline: the canonical Submission produced by the validator and the Job
// envelope carried on the queue.
package models

import "time"

// ContractVersion is the version of the Submission wire contract. Jobs
// carrying any other version are rejected by the worker.
const ContractVersion = 1

// Product identifiers offered on the lead form.
const (
	ProductHomeExtension = "home-extension"
	ProductWarm          = "cieply"
	ProductCold          = "zimny"
	ProductPergola       = "pergola"
	ProductCanopy        = "zadaszenie"
)

// Products is the closed set of accepted product identifiers.
var Products = []string{
	ProductHomeExtension,
	ProductWarm,
	ProductCold,
	ProductPergola,
	ProductCanopy,
}

// Person holds the submitter's contact details.
type Person struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Location is the project site. Locality is optional.
type Location struct {
	PostalCode string `json:"postalCode"`
	Locality   string `json:"locality,omitempty"`
}

// TimePref is the submitter's preferred start date: a calendar date stored
// as UTC midnight.
type TimePref struct {
	Start *time.Time `json:"start,omitempty"`
}

// Consent captures the marketing consent given on the form. Profiling is
// derived from Marketing unless the submission overrides it.
type Consent struct {
	Marketing bool `json:"marketing"`
	Profiling bool `json:"profiling"`
}

// Attachment is metadata for a file uploaded through the upload path.
// File bytes never travel through the ingest pipeline.
type Attachment struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MediaType string `json:"mediaType"`
}

// Submission is the validated, canonical representation of one form entry.
type Submission struct {
	ProductID   string       `json:"productId"`
	Person      Person       `json:"person"`
	Location    Location     `json:"location"`
	TimePref    *TimePref    `json:"timePref,omitempty"`
	Consent     Consent      `json:"consent"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Comment     string       `json:"comment,omitempty"`
}

// StartDate returns the preferred start date, or nil when none was given.
func (s *Submission) StartDate() *time.Time {
	if s.TimePref == nil {
		return nil
	}
	return s.TimePref.Start
}

// Job is a queue entry wrapping one Submission.
//
// ID is assigned by the API at enqueue time and is used downstream as the
// Project identity, so redelivery of the same job never creates a second
// project.
type Job struct {
	ID          string     `json:"id"`
	Version     int        `json:"version"`
	SubmittedAt time.Time  `json:"submittedAt"`
	Submission  Submission `json:"submission"`
}
