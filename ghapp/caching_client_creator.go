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
	"fmt"

	"github.com/google/go-github/v65/github"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/shurcooL/githubv4"
)

const (
	DefaultCachingClientCapacity = 64
)

// NewDefaultCachingClientCreator returns a caching ClientCreator wired
// from configuration with the default capacity.
func NewDefaultCachingClientCreator(c Config, opts ...ClientOption) (ClientCreator, error) {
	delegate, err := NewDefaultClientCreator(c, opts...)
	if err != nil {
		return nil, err
	}
	return NewCachingClientCreator(delegate, DefaultCachingClientCapacity)
}

// NewCachingClientCreator wraps delegate with an LRU cache of the given
// capacity for installation clients. Installation clients are safe to
// reuse because their transports refresh tokens internally; app and
// token clients are cheap and created fresh each time.
func NewCachingClientCreator(delegate ClientCreator, capacity int) (ClientCreator, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client cache")
	}

	return &cachingClientCreator{
		cachedClients: cache,
		delegate:      delegate,
	}, nil
}

type cachingClientCreator struct {
	cachedClients *lru.Cache
	delegate      ClientCreator
}

var _ ClientCreator = &cachingClientCreator{}

func (c *cachingClientCreator) NewAppClient() (*github.Client, error) {
	// app clients are not cached
	return c.delegate.NewAppClient()
}

func (c *cachingClientCreator) NewAppV4Client() (*githubv4.Client, error) {
	// app clients are not cached
	return c.delegate.NewAppV4Client()
}

func (c *cachingClientCreator) NewInstallationClient(installationID int64) (*github.Client, error) {
	key := c.toCacheKey("v3", installationID)
	if val, ok := c.cachedClients.Get(key); ok {
		if client, ok := val.(*github.Client); ok {
			return client, nil
		}
	}

	client, err := c.delegate.NewInstallationClient(installationID)
	if err != nil {
		return nil, err
	}
	c.cachedClients.Add(key, client)
	return client, nil
}

func (c *cachingClientCreator) NewInstallationV4Client(installationID int64) (*githubv4.Client, error) {
	key := c.toCacheKey("v4", installationID)
	if val, ok := c.cachedClients.Get(key); ok {
		if client, ok := val.(*githubv4.Client); ok {
			return client, nil
		}
	}

	client, err := c.delegate.NewInstallationV4Client(installationID)
	if err != nil {
		return nil, err
	}
	c.cachedClients.Add(key, client)
	return client, nil
}

func (c *cachingClientCreator) NewTokenClient(token string) (*github.Client, error) {
	// token clients are not cached
	return c.delegate.NewTokenClient(token)
}

func (c *cachingClientCreator) NewTokenV4Client(token string) (*githubv4.Client, error) {
	// token clients are not cached
	return c.delegate.NewTokenV4Client(token)
}

func (c *cachingClientCreator) toCacheKey(apiVersion string, installationID int64) string {
	return fmt.Sprintf("%s:%d", apiVersion, installationID)
}
