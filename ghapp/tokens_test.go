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
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchanger counts exchange calls and returns canned results.
type fakeExchanger struct {
	calls int64
	delay time.Duration

	mu      sync.Mutex
	respond func(installationID int64) (*InstallationToken, error)
}

func (f *fakeExchanger) ExchangeToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	atomic.AddInt64(&f.calls, 1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	respond := f.respond
	f.mu.Unlock()
	return respond(installationID)
}

func (f *fakeExchanger) setResponse(respond func(installationID int64) (*InstallationToken, error)) {
	f.mu.Lock()
	f.respond = respond
	f.mu.Unlock()
}

func (f *fakeExchanger) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func tokenValidFor(installationID int64, d time.Duration, from time.Time) func(int64) (*InstallationToken, error) {
	return func(id int64) (*InstallationToken, error) {
		return &InstallationToken{
			InstallationID: id,
			Token:          "v1.installation-token",
			ExpiresAt:      from.Add(d),
		}, nil
	}
}

func TestTokenCacheHit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	exchanger := &fakeExchanger{}
	exchanger.setResponse(tokenValidFor(42, time.Hour, now))

	cache := NewTokenCache(exchanger, withTokenClock(func() time.Time { return now }))

	ctx := context.Background()

	first, err := cache.GetToken(ctx, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 1, exchanger.callCount())

	second, err := cache.GetToken(ctx, 42)
	require.NoError(t, err)
	assert.Same(t, first, second, "valid cached token should be returned as-is")
	assert.EqualValues(t, 1, exchanger.callCount(), "cache hit must not call the exchanger")
}

func TestTokenCacheRefreshInsideMargin(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	exchanger := &fakeExchanger{}
	exchanger.setResponse(tokenValidFor(42, time.Hour, now))

	cache := NewTokenCache(exchanger, withTokenClock(func() time.Time { return now }))

	ctx := context.Background()

	_, err := cache.GetToken(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 1, exchanger.callCount())

	// beyond the margin but before expiry: still a hit
	now = now.Add(time.Hour - DefaultTokenMargin - time.Second)
	_, err = cache.GetToken(ctx, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 1, exchanger.callCount())

	// inside the margin: exactly one refresh
	now = now.Add(2 * time.Second)
	exchanger.setResponse(tokenValidFor(42, time.Hour, now))
	tok, err := cache.GetToken(ctx, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 2, exchanger.callCount())
	assert.True(t, now.Before(tok.ExpiresAt))
}

func TestTokenCacheSingleFlight(t *testing.T) {
	now := time.Now()

	exchanger := &fakeExchanger{delay: 50 * time.Millisecond}
	exchanger.setResponse(tokenValidFor(42, time.Hour, now))

	cache := NewTokenCache(exchanger)

	const requesters = 25

	var wg sync.WaitGroup
	for i := 0; i < requesters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.GetToken(context.Background(), 42)
			assert.NoError(t, err)
			assert.NotNil(t, tok)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, exchanger.callCount(), "concurrent requesters must share one exchange")
}

func TestTokenCacheIndependentInstallations(t *testing.T) {
	now := time.Now()

	exchanger := &fakeExchanger{delay: 20 * time.Millisecond}
	exchanger.setResponse(tokenValidFor(0, time.Hour, now))

	cache := NewTokenCache(exchanger)

	var wg sync.WaitGroup
	for _, id := range []int64{1, 2, 3} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			tok, err := cache.GetToken(context.Background(), id)
			assert.NoError(t, err)
			assert.Equal(t, id, tok.InstallationID)
		}(id)
	}
	wg.Wait()

	assert.EqualValues(t, 3, exchanger.callCount(), "installations refresh independently")
}

func TestTokenCacheExchangeError(t *testing.T) {
	cause := errors.New("github is down")

	exchanger := &fakeExchanger{}
	exchanger.setResponse(func(int64) (*InstallationToken, error) {
		return nil, cause
	})

	cache := NewTokenCache(exchanger)

	_, err := cache.GetToken(context.Background(), 42)
	require.Error(t, err)

	var xerr *ExchangeError
	require.ErrorAs(t, err, &xerr)
	assert.EqualValues(t, 42, xerr.InstallationID)
	assert.ErrorIs(t, err, cause)
}

func TestTokenCacheExchangeTimeout(t *testing.T) {
	now := time.Now()

	exchanger := &fakeExchanger{delay: time.Second}
	exchanger.setResponse(tokenValidFor(42, time.Hour, now))

	cache := NewTokenCache(exchanger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := cache.GetToken(ctx, 42)
	require.Error(t, err)

	var xerr *ExchangeError
	require.ErrorAs(t, err, &xerr, "a timed-out exchange surfaces as an ExchangeError, not a hang")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenCacheInstallationNotFound(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	exchanger := &fakeExchanger{}
	exchanger.setResponse(tokenValidFor(42, 10*time.Minute, now))

	cache := NewTokenCache(exchanger, withTokenClock(func() time.Time { return now }))

	ctx := context.Background()

	_, err := cache.GetToken(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 1, exchanger.callCount())

	// app uninstalled: the refresh reports not-found and evicts the entry
	now = now.Add(10 * time.Minute)
	exchanger.setResponse(func(int64) (*InstallationToken, error) {
		return nil, &InstallationNotFoundError{InstallationID: 42}
	})

	_, err = cache.GetToken(ctx, 42)
	var nferr *InstallationNotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.EqualValues(t, 42, nferr.InstallationID)

	// reinstallation: the evicted entry forces a fresh exchange
	exchanger.setResponse(tokenValidFor(42, 10*time.Minute, now))
	_, err = cache.GetToken(ctx, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 3, exchanger.callCount())
}

func TestTokenCacheNeverReturnsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	exchanger := &fakeExchanger{}
	exchanger.setResponse(tokenValidFor(42, 10*time.Minute, now))

	cache := NewTokenCache(exchanger, withTokenClock(func() time.Time { return now }))

	ctx := context.Background()

	first, err := cache.GetToken(ctx, 42)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	exchanger.setResponse(tokenValidFor(42, 10*time.Minute, now))

	second, err := cache.GetToken(ctx, 42)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, now.Before(second.ExpiresAt))
}

func TestTokenCacheEvict(t *testing.T) {
	now := time.Now()

	exchanger := &fakeExchanger{}
	exchanger.setResponse(tokenValidFor(42, time.Hour, now))

	cache := NewTokenCache(exchanger)

	ctx := context.Background()

	_, err := cache.GetToken(ctx, 42)
	require.NoError(t, err)

	cache.Evict(42)

	_, err = cache.GetToken(ctx, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 2, exchanger.callCount())
}
