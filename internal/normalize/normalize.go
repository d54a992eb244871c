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

// Package normalize holds the pure PII normalizers used before anything
// touches the graph: salted email hashing and phone number canonicalisation.
package normalize

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"github.com/rotisserie/eris"
)

// DefaultRegion is used for numbers written without a country code.
const DefaultRegion = "PL"

// ErrMissingSalt is returned by NewHasher when no salt is configured.
var ErrMissingSalt = eris.New("normalize: email hash salt is not configured")

// Hasher derives person identity keys from email addresses.
type Hasher struct {
	salt []byte
}

// NewHasher creates a Hasher keyed by salt. An empty salt is a configuration
// error and must stop the process at startup.
func NewHasher(salt string) (*Hasher, error) {
	if strings.TrimSpace(salt) == "" {
		return nil, ErrMissingSalt
	}
	return &Hasher{salt: []byte(salt)}, nil
}

// HashEmail returns hex(HMAC-SHA256(salt, lower(trim(email)))).
func (h *Hasher) HashEmail(email string) string {
	mac := hmac.New(sha256.New, h.salt)
	mac.Write([]byte(CanonicalEmail(email)))
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalEmail lower-cases and trims an email address.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Phone parses raw using region as the default country and returns the E.164
// form, or "" when the number is missing, unparseable or invalid. It never
// fails: callers treat "" as "no phone".
func Phone(raw, region string) (e164 string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if region == "" {
		region = DefaultRegion
	}

	defer func() {
		if recover() != nil {
			e164 = ""
		}
	}()

	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
