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

package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/verandana/leadgraph/internal/models"
)

// DefaultHubSpotURL is the HubSpot API base URL.
const DefaultHubSpotURL = "https://api.hubapi.com"

const contactsPath = "/crm/v3/objects/contacts"

// HubSpotConfig configures the HubSpot syncer.
type HubSpotConfig struct {
	Token         string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	RetryMax      int
}

// HubSpot creates a contact per submission through the CRM objects API.
// A contact that already exists (409) counts as synced.
type HubSpot struct {
	client  *retryablehttp.Client
	baseURL string
	limiter *rate.Limiter
}

// NewHubSpot builds a syncer authenticated with a private-app token.
func NewHubSpot(cfg HubSpotConfig) *HubSpot {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHubSpotURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = cfg.Timeout

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = cfg.RetryMax
	rc.Logger = retryLogger{}

	h := &HubSpot{
		client:  rc,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
	if cfg.RatePerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(int(cfg.RatePerSecond), 1))
	}
	return h
}

type contactRequest struct {
	Properties map[string]string `json:"properties"`
}

// Sync creates the contact for sub.
func (h *HubSpot) Sync(ctx context.Context, sub *models.Submission) error {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "hubspot: rate limit")
		}
	}

	body, err := json.Marshal(contactRequest{Properties: contactProperties(sub)})
	if err != nil {
		return eris.Wrap(err, "hubspot: encode contact")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+contactsPath, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "hubspot: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "hubspot: create contact")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.New(fmt.Sprintf("hubspot: create contact: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}
}

// contactProperties maps a submission onto standard HubSpot contact
// properties. Empty values are omitted.
func contactProperties(sub *models.Submission) map[string]string {
	first, last := splitName(sub.Person.Name)
	props := map[string]string{
		"email":     sub.Person.Email,
		"firstname": first,
		"lastname":  last,
		"phone":     sub.Person.Phone,
		"zip":       sub.Location.PostalCode,
		"city":      sub.Location.Locality,
		"message":   sub.Comment,
	}
	for k, v := range props {
		if v == "" {
			delete(props, k)
		}
	}
	return props
}

func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	first, last, found := strings.Cut(name, " ")
	if !found {
		return name, ""
	}
	return first, strings.TrimSpace(last)
}

// retryLogger routes retryablehttp's leveled logs into zap.
type retryLogger struct{}

func (retryLogger) Error(msg string, kv ...interface{}) { zap.S().Errorw(msg, kv...) }
func (retryLogger) Info(msg string, kv ...interface{})  { zap.S().Debugw(msg, kv...) }
func (retryLogger) Debug(msg string, kv ...interface{}) { zap.S().Debugw(msg, kv...) }
func (retryLogger) Warn(msg string, kv ...interface{})  { zap.S().Warnw(msg, kv...) }
