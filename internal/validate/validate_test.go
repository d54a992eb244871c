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

package validate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verandana/leadgraph/internal/models"
)

func mustErrors(t *testing.T, err error) Errors {
	t.Helper()
	var errs Errors
	require.True(t, errors.As(err, &errs), "want validate.Errors, got %v", err)
	return errs
}

func TestSubmission_PergolaScenario(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "Jan@Example.com "},
		"location": {"postalCode": "44-100"},
		"consent": {"marketing": true}
	}`

	sub, err := Submission([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, models.ProductPergola, sub.ProductID)
	assert.Equal(t, "Jan", sub.Person.Name)
	assert.Equal(t, "Jan@Example.com", sub.Person.Email)
	assert.Equal(t, "44-100", sub.Location.PostalCode)
	assert.Empty(t, sub.Location.Locality)
	assert.True(t, sub.Consent.Marketing)
	assert.True(t, sub.Consent.Profiling, "profiling defaults to marketing")
	assert.Nil(t, sub.TimePref)
}

func TestSubmission_ProfilingOverride(t *testing.T) {
	body := `{
		"productId": "zimny",
		"person": {"name": "Anna", "email": "anna@example.com"},
		"location": {"postalCode": "00-950"},
		"consent": {"marketing": true, "profiling": false}
	}`

	sub, err := Submission([]byte(body))
	require.NoError(t, err)
	assert.False(t, sub.Consent.Profiling)
}

func TestSubmission_PostalCodeWithoutDash(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "jan@example.com"},
		"location": {"postalCode": "44100"},
		"consent": {"marketing": true}
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "location.postalCode", errs[0].Field)
	assert.Contains(t, errs[0].Message, "00-000")
}

func TestSubmission_MarketingConsentFalse(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "jan@example.com"},
		"location": {"postalCode": "44-100"},
		"consent": {"marketing": false}
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)
	assert.True(t, errs.Has("consent.marketing"))
}

func TestSubmission_MarketingConsentMissing(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "jan@example.com"},
		"location": {"postalCode": "44-100"}
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)
	assert.True(t, errs.Has("consent.marketing"))
}

func TestSubmission_ReportsAllErrors(t *testing.T) {
	body := `{
		"productId": "gazebo",
		"person": {"name": "J", "email": "not-an-email"},
		"location": {"postalCode": "4-4100"},
		"consent": {"marketing": true}
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)

	for _, field := range []string{"productId", "person.name", "person.email", "location.postalCode"} {
		assert.True(t, errs.Has(field), "missing error for %s in %v", field, errs)
	}
}

func TestSubmission_MissingEmailAndPostalCode(t *testing.T) {
	body := `{
		"productId": "cieply",
		"person": {"name": "Jan"},
		"location": {},
		"consent": {"marketing": true}
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)
	assert.True(t, errs.Has("person.email"))
	assert.True(t, errs.Has("location.postalCode"))
}

func TestSubmission_TrimsBeforeLengthCheck(t *testing.T) {
	body := `{
		"productId": " pergola ",
		"person": {"name": "  J  ", "email": "jan@example.com"},
		"location": {"postalCode": " 44-100 ", "locality": "  Gliwice "},
		"consent": {"marketing": true}
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "person.name", errs[0].Field)
}

func TestSubmission_TimePref(t *testing.T) {
	tests := []struct {
		start string
		want  time.Time
	}{
		{"2026-05-01", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-05-01T00:30:00+02:00", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-05-01T23:30:00-02:00", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-05-01T12:00:00+00:00", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-04-30T22:00:00.000Z", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2026-04-30T21:59:59Z", time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)},
		{"2026-01-14T23:30:00Z", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2026-01-14T22:30:00Z", time.Date(2026, 1, 14, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.start, func(t *testing.T) {
			body := `{
				"productId": "pergola",
				"person": {"name": "Jan", "email": "jan@example.com"},
				"location": {"postalCode": "44-100"},
				"timePref": {"start": "` + tt.start + `"},
				"consent": {"marketing": true}
			}`
			sub, err := Submission([]byte(body))
			require.NoError(t, err)
			require.NotNil(t, sub.StartDate())
			assert.True(t, tt.want.Equal(*sub.StartDate()), "got %s", sub.StartDate())
		})
	}
}

func TestSubmission_TimePrefWithoutStart(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "jan@example.com"},
		"location": {"postalCode": "44-100"},
		"timePref": {},
		"consent": {"marketing": true}
	}`

	sub, err := Submission([]byte(body))
	require.NoError(t, err)
	assert.Nil(t, sub.StartDate())
}

func TestSubmission_BadStartDate(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "jan@example.com"},
		"location": {"postalCode": "44-100"},
		"timePref": {"start": "next spring"},
		"consent": {"marketing": true}
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)
	assert.True(t, errs.Has("timePref.start"))
}

func TestSubmission_Attachments(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "jan@example.com"},
		"location": {"postalCode": "44-100"},
		"consent": {"marketing": true},
		"attachments": [
			{"name": "garden.jpg", "size": 1024, "mediaType": "IMAGE/JPEG"},
			{"name": "plan.exe", "size": 1024, "mediaType": "application/x-msdownload"},
			{"name": "huge.pdf", "size": 6291456, "mediaType": "application/pdf"}
		]
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)
	assert.False(t, errs.Has("attachments[0].mediaType"))
	assert.True(t, errs.Has("attachments[1].mediaType"))
	assert.True(t, errs.Has("attachments[2].size"))
}

func TestSubmission_AttachmentMetadataKept(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "jan@example.com"},
		"location": {"postalCode": "44-100"},
		"consent": {"marketing": true},
		"attachments": [{"name": "garden.jpg", "size": 1024, "mediaType": "image/jpeg"}]
	}`

	sub, err := Submission([]byte(body))
	require.NoError(t, err)
	require.Len(t, sub.Attachments, 1)
	assert.Equal(t, models.Attachment{Name: "garden.jpg", Size: 1024, MediaType: "image/jpeg"}, sub.Attachments[0])
}

func TestSubmission_TypeMismatchStillChecksOtherFields(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "nope"},
		"location": {"postalCode": "44-100"},
		"consent": {"marketing": "yes"}
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)
	assert.True(t, errs.Has("consent.marketing"))
	assert.True(t, errs.Has("person.email"))

	count := 0
	for _, fe := range errs {
		if fe.Field == "consent.marketing" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSubmission_NotJSON(t *testing.T) {
	for _, body := range []string{"not json", "[]", `"pergola"`, ""} {
		_, err := Submission([]byte(body))
		errs := mustErrors(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, "body", errs[0].Field)
	}
}

func TestSubmission_LegacyFlatShapeRejected(t *testing.T) {
	body := `{"name": "Jan", "email": "jan@example.com", "postal": "44-100", "selectedType": "pergola", "consent": true}`

	_, err := Submission([]byte(body))
	require.Error(t, err)
}

func TestSubmission_CommentTooLong(t *testing.T) {
	body := `{
		"productId": "pergola",
		"person": {"name": "Jan", "email": "jan@example.com"},
		"location": {"postalCode": "44-100"},
		"consent": {"marketing": true},
		"comment": "` + strings.Repeat("a", 2001) + `"
	}`

	_, err := Submission([]byte(body))
	errs := mustErrors(t, err)
	assert.True(t, errs.Has("comment"))
}

func TestErrors_Error(t *testing.T) {
	errs := Errors{{Field: "person.email", Message: "is required"}, {Field: "location.postalCode", Message: "is required"}}
	assert.Equal(t, "invalid submission: person.email: is required; location.postalCode: is required", errs.Error())
}
