// Copyright 2025 Bluenote Technologies, Inc.
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

package ghapp

import (
	"net/http"
)

// AppTransport is an http.RoundTripper that authenticates requests as the
// app itself, attaching a signed assertion from the Signer. Use it for
// app-level endpoints: listing installations, exchanging tokens.
type AppTransport struct {
	signer *Signer
	base   http.RoundTripper
}

// NewAppTransport wraps base with app authentication. A nil base uses
// http.DefaultTransport.
func NewAppTransport(signer *Signer, base http.RoundTripper) *AppTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &AppTransport{signer: signer, base: base}
}

func (t *AppTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	assertion, err := t.signer.Issue()
	if err != nil {
		return nil, err
	}

	r = cloneRequest(r)
	r.Header.Set("Authorization", "Bearer "+assertion.Token)
	return t.base.RoundTrip(r)
}

// InstallationTransport is an http.RoundTripper that authenticates
// requests with an installation token from a TokenCache, refreshing it
// transparently as it expires.
type InstallationTransport struct {
	cache          *TokenCache
	installationID int64
	base           http.RoundTripper
}

// NewInstallationTransport wraps base with installation authentication
// for a single installation. A nil base uses http.DefaultTransport.
func NewInstallationTransport(cache *TokenCache, installationID int64, base http.RoundTripper) *InstallationTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstallationTransport{cache: cache, installationID: installationID, base: base}
}

func (t *InstallationTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.cache.GetToken(r.Context(), t.installationID)
	if err != nil {
		return nil, err
	}

	r = cloneRequest(r)
	r.Header.Set("Authorization", "token "+tok.Token)
	return t.base.RoundTrip(r)
}

// cloneRequest returns a shallow copy of r with deep-copied headers, so
// transports never mutate the caller's request.
func cloneRequest(r *http.Request) *http.Request {
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = r.Header.Clone()
	return r2
}
