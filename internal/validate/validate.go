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

// Package validate turns an inbound form body into a canonical
// models.Submission. All field problems are reported together so the form can
// highlight every invalid input at once.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"

	"github.com/verandana/leadgraph/internal/models"
)

const (
	// MaxAttachmentSize is the largest accepted upload, in bytes.
	MaxAttachmentSize = 5 * 1024 * 1024
	// MaxAttachments caps the number of attachment references per submission.
	MaxAttachments = 10

	dateLayout = "2006-01-02"

	// LocalZone is the zone UTC start timestamps are read in. The form is
	// served to Polish customers, so a browser's toISOString() of a local
	// date is turned back into that date.
	LocalZone = "Europe/Warsaw"
)

var localZone = mustLoadZone(LocalZone)

func mustLoadZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("validate: load zone %s: %v", name, err))
	}
	return loc
}

// AcceptedMediaTypes lists the upload media types the form allows.
var AcceptedMediaTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
	"image/heic",
	"image/heif",
	"application/pdf",
}

var postalCodeRe = regexp.MustCompile(`^\d{2}-\d{3}$`)

// FieldError describes one invalid field. Field is the JSON path of the
// offending value, e.g. "person.email" or "attachments[1].size".
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is the accumulated list of field errors for one submission.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

// Has reports whether field has at least one error.
func (e Errors) Has(field string) bool {
	return slices.ContainsFunc(e, func(fe FieldError) bool { return fe.Field == field })
}

// rawSubmission mirrors the JSON body before coercion.
type rawSubmission struct {
	ProductID string `json:"productId" validate:"required,product"`
	Person    struct {
		Name  string `json:"name" validate:"required,min=2,max=200"`
		Email string `json:"email" validate:"required,email,max=254"`
		Phone string `json:"phone" validate:"omitempty,max=32"`
	} `json:"person"`
	Location struct {
		PostalCode string `json:"postalCode" validate:"required,postalcode"`
		Locality   string `json:"locality" validate:"max=100"`
	} `json:"location"`
	TimePref *struct {
		Start string `json:"start" validate:"omitempty,startdate"`
	} `json:"timePref"`
	Consent struct {
		Marketing *bool `json:"marketing" validate:"required,accepted"`
		Profiling *bool `json:"profiling"`
	} `json:"consent"`
	Attachments []rawAttachment `json:"attachments" validate:"max=10,dive"`
	Comment     string          `json:"comment" validate:"max=2000"`
}

type rawAttachment struct {
	Name      string `json:"name" validate:"required,max=255"`
	Size      int64  `json:"size" validate:"gt=0,max=5242880"`
	MediaType string `json:"mediaType" validate:"required,mediatype"`
}

var engine = newEngine()

func newEngine() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "product", func(fl validator.FieldLevel) bool {
		return slices.Contains(models.Products, fl.Field().String())
	})
	mustRegister(v, "postalcode", func(fl validator.FieldLevel) bool {
		return postalCodeRe.MatchString(fl.Field().String())
	})
	mustRegister(v, "accepted", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.Bool && fl.Field().Bool()
	})
	mustRegister(v, "startdate", func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "mediatype", func(fl validator.FieldLevel) bool {
		return slices.Contains(AcceptedMediaTypes, strings.ToLower(fl.Field().String()))
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("validate: register %s: %v", tag, err))
	}
}

// Submission decodes and validates body. On failure the returned error is an
// Errors value listing every invalid field; it is always a client error.
func Submission(body []byte) (*models.Submission, error) {
	var raw rawSubmission
	var errs Errors

	if err := json.Unmarshal(body, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || typeErr.Field == "" {
			return nil, Errors{{Field: "body", Message: "must be a JSON object"}}
		}
		errs = append(errs, FieldError{
			Field:   typeErr.Field,
			Message: "must be of type " + typeErr.Type.String(),
		})
	}

	trim(&raw)

	if err := engine.Struct(&raw); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, err
		}
		for _, fe := range verrs {
			field := fieldPath(fe.Namespace())
			if errs.Has(field) {
				continue
			}
			errs = append(errs, FieldError{Field: field, Message: message(fe)})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return raw.canonical(), nil
}

func trim(raw *rawSubmission) {
	raw.ProductID = strings.TrimSpace(raw.ProductID)
	raw.Person.Name = strings.TrimSpace(raw.Person.Name)
	raw.Person.Email = strings.TrimSpace(raw.Person.Email)
	raw.Person.Phone = strings.TrimSpace(raw.Person.Phone)
	raw.Location.PostalCode = strings.TrimSpace(raw.Location.PostalCode)
	raw.Location.Locality = strings.TrimSpace(raw.Location.Locality)
	raw.Comment = strings.TrimSpace(raw.Comment)
	if raw.TimePref != nil {
		raw.TimePref.Start = strings.TrimSpace(raw.TimePref.Start)
	}
	for i := range raw.Attachments {
		raw.Attachments[i].Name = strings.TrimSpace(raw.Attachments[i].Name)
		raw.Attachments[i].MediaType = strings.ToLower(strings.TrimSpace(raw.Attachments[i].MediaType))
	}
}

// canonical converts an already validated raw submission.
func (raw *rawSubmission) canonical() *models.Submission {
	sub := &models.Submission{
		ProductID: raw.ProductID,
		Person: models.Person{
			Name:  raw.Person.Name,
			Email: raw.Person.Email,
			Phone: raw.Person.Phone,
		},
		Location: models.Location{
			PostalCode: raw.Location.PostalCode,
			Locality:   raw.Location.Locality,
		},
		Comment: raw.Comment,
	}

	sub.Consent.Marketing = *raw.Consent.Marketing
	sub.Consent.Profiling = sub.Consent.Marketing
	if raw.Consent.Profiling != nil {
		sub.Consent.Profiling = *raw.Consent.Profiling
	}

	if raw.TimePref != nil && raw.TimePref.Start != "" {
		start, _ := parseDate(raw.TimePref.Start)
		sub.TimePref = &models.TimePref{Start: &start}
	}

	for _, a := range raw.Attachments {
		sub.Attachments = append(sub.Attachments, models.Attachment{
			Name:      a.Name,
			Size:      a.Size,
			MediaType: a.MediaType,
		})
	}
	return sub
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and returns
// the calendar date at UTC midnight. A timestamp with an explicit offset
// keeps the date the client wrote; a "Z" timestamp is read in LocalZone.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		t = t.In(localZone)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// fieldPath drops the root struct name from a validator namespace:
// "rawSubmission.person.email" -> "person.email".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must have at most " + fe.Param() + " items"
		}
		if fe.Kind() == reflect.Int64 {
			return "must not exceed 5 MiB"
		}
		return "must be at most " + fe.Param() + " characters"
	case "gt":
		return "must be greater than " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "postalcode":
		return "must match the format 00-000"
	case "product":
		return "must be one of: " + strings.Join(models.Products, ", ")
	case "accepted":
		return "consent is required"
	case "startdate":
		return "must be a date (YYYY-MM-DD)"
	case "mediatype":
		return "unsupported media type"
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}
