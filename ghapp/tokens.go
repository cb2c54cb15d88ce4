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
	"context"
	"sync"
	"time"
)

const (
	DefaultTokenMargin = 2 * time.Minute
)

// InstallationToken is a scoped access token for one installation of the
// app. Tokens are immutable; the cache replaces entries rather than
// mutating them.
type InstallationToken struct {
	InstallationID int64
	Token          string
	ExpiresAt      time.Time
	Permissions    map[string]string
}

// validAt reports whether the token can still be handed out at t, leaving
// margin before the hard expiry.
func (t *InstallationToken) validAt(at time.Time, margin time.Duration) bool {
	return at.Before(t.ExpiresAt.Add(-margin))
}

// TokenExchanger trades an app assertion for an installation token. The
// transport behind the exchange (HTTPS and JSON for GitHub's endpoint) is
// the implementation's concern; see ClientTokenExchanger.
//
// Implementations return an *InstallationNotFoundError when the
// installation no longer exists, and any other error to report a failed
// exchange.
type TokenExchanger interface {
	ExchangeToken(ctx context.Context, installationID int64) (*InstallationToken, error)
}

// TokenCache caches installation tokens and refreshes them through a
// TokenExchanger before they expire. At most one exchange is in flight
// per installation: concurrent requesters for the same installation wait
// for and share the in-flight result, while different installations
// refresh independently. TokenCache is safe for concurrent use.
type TokenCache struct {
	exchanger TokenExchanger
	margin    time.Duration
	clock     func() time.Time

	mu      sync.Mutex
	tokens  map[int64]*InstallationToken
	flights map[int64]*tokenFlight
}

// tokenFlight is a single in-progress exchange whose result is shared by
// every caller that was waiting on it.
type tokenFlight struct {
	done  chan struct{}
	token *InstallationToken
	err   error
}

// TokenCacheOption configures properties of a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithTokenMargin sets how long before expiry a cached token is treated
// as stale. Requests inside the margin trigger a refresh instead of
// returning the old token.
func WithTokenMargin(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		if d > 0 {
			c.margin = d
		}
	}
}

func withTokenClock(clock func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.clock = clock
	}
}

// NewTokenCache creates a TokenCache that refreshes tokens through
// exchanger.
func NewTokenCache(exchanger TokenExchanger, opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		exchanger: exchanger,
		margin:    DefaultTokenMargin,
		clock:     time.Now,
		tokens:    make(map[int64]*InstallationToken),
		flights:   make(map[int64]*tokenFlight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetToken returns a valid token for the installation, refreshing it if
// the cached one is missing or inside the expiry margin. A token past its
// expiry is never returned. Exchange failures are reported as
// *ExchangeError; a missing installation as *InstallationNotFoundError,
// which also evicts the cached entry.
//
// The context bounds both the exchange call and any wait on an exchange
// owned by another caller.
func (c *TokenCache) GetToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	for {
		c.mu.Lock()

		if tok, ok := c.tokens[installationID]; ok && tok.validAt(c.clock(), c.margin) {
			c.mu.Unlock()
			return tok, nil
		}

		if f, ok := c.flights[installationID]; ok {
			c.mu.Unlock()

			select {
			case <-f.done:
			case <-ctx.Done():
				return nil, &ExchangeError{InstallationID: installationID, Cause: ctx.Err()}
			}

			if f.err != nil {
				return nil, f.err
			}
			if f.token.validAt(c.clock(), 0) {
				return f.token, nil
			}
			// Shared result expired before we could use it; retry.
			continue
		}

		f := &tokenFlight{done: make(chan struct{})}
		c.flights[installationID] = f
		c.mu.Unlock()

		f.token, f.err = c.refresh(ctx, installationID)

		c.mu.Lock()
		delete(c.flights, installationID)
		if f.err == nil {
			c.tokens[installationID] = f.token
		} else if _, notFound := f.err.(*InstallationNotFoundError); notFound {
			delete(c.tokens, installationID)
		}
		c.mu.Unlock()

		close(f.done)
		return f.token, f.err
	}
}

func (c *TokenCache) refresh(ctx context.Context, installationID int64) (*InstallationToken, error) {
	tok, err := c.exchanger.ExchangeToken(ctx, installationID)
	if err != nil {
		if nf, ok := err.(*InstallationNotFoundError); ok {
			return nil, nf
		}
		return nil, &ExchangeError{InstallationID: installationID, Cause: err}
	}
	return tok, nil
}

// Evict drops any cached token for the installation. The next GetToken
// call performs a fresh exchange.
func (c *TokenCache) Evict(installationID int64) {
	c.mu.Lock()
	delete(c.tokens, installationID)
	c.mu.Unlock()
}
