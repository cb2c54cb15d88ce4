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
	"crypto/rsa"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	// MaxAssertionLifetime is the longest lifetime GitHub accepts for an
	// app JWT. Longer configured lifetimes are clamped to this value.
	MaxAssertionLifetime = 10 * time.Minute

	DefaultAssertionLifetime = 10 * time.Minute
	DefaultAssertionMargin   = time.Minute

	// assertionBackdate is subtracted from the issued-at claim to
	// tolerate clock drift between this process and GitHub.
	assertionBackdate = 30 * time.Second
)

// SignedAssertion is a signed app JWT proving control of the app's private
// key. Callers treat the token as opaque.
type SignedAssertion struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer issues signed app assertions for a single app identity. The last
// assertion is cached and reused until it approaches expiry, so Issue is
// cheap to call on every request. Signer is safe for concurrent use.
type Signer struct {
	appID    int64
	key      *rsa.PrivateKey
	lifetime time.Duration
	margin   time.Duration

	clock func() time.Time

	mu     sync.Mutex
	cached *SignedAssertion
}

// SignerOption configures properties of a Signer.
type SignerOption func(*Signer)

// WithAssertionLifetime sets the validity window of issued assertions. The
// lifetime is clamped to MaxAssertionLifetime.
func WithAssertionLifetime(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithAssertionMargin sets how long before expiry a cached assertion is
// considered stale and regenerated.
func WithAssertionMargin(d time.Duration) SignerOption {
	return func(s *Signer) {
		if d > 0 {
			s.margin = d
		}
	}
}

func withSignerClock(clock func() time.Time) SignerOption {
	return func(s *Signer) {
		s.clock = clock
	}
}

// NewSigner creates a Signer for the app identified by appID using a
// PEM-encoded PKCS1 or PKCS8 RSA private key. It returns a
// ConfigurationError if the key material is missing or cannot be parsed.
func NewSigner(appID int64, privateKeyPEM []byte, opts ...SignerOption) (*Signer, error) {
	if len(privateKeyPEM) == 0 {
		return nil, &ConfigurationError{Reason: "no private key provided"}
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, &ConfigurationError{Reason: "could not parse private key", Cause: err}
	}

	s := &Signer{
		appID:    appID,
		key:      key,
		lifetime: DefaultAssertionLifetime,
		margin:   DefaultAssertionMargin,
		clock:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.lifetime > MaxAssertionLifetime {
		s.lifetime = MaxAssertionLifetime
	}

	return s, nil
}

// AppID returns the app identifier this signer issues assertions for.
func (s *Signer) AppID() int64 {
	return s.appID
}

// Issue returns a signed assertion for the app. The cached assertion is
// reused while it remains valid past the configured margin; otherwise a
// new one is signed. Concurrent callers during regeneration observe a
// single signing.
func (s *Signer) Issue() (*SignedAssertion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if s.cached != nil && now.Before(s.cached.ExpiresAt.Add(-s.margin)) {
		return s.cached, nil
	}

	issuedAt := now.Add(-assertionBackdate)
	expiresAt := issuedAt.Add(s.lifetime)

	claims := &jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(s.appID, 10),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return nil, &ConfigurationError{Reason: "could not sign app assertion", Cause: err}
	}

	s.cached = &SignedAssertion{
		Token:     token,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}
	return s.cached, nil
}
