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
	"fmt"
	"time"

	"github.com/google/go-github/v65/github"
	ttlcache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

// Installation is a minimal representation of an installation ID and its
// corresponding owner.
type Installation struct {
	ID      int64
	Owner   string
	OwnerID int64
}

// InstallationsService resolves installations of the app. It is useful
// for background processes that do not respond directly to webhooks,
// since webhook deliveries otherwise carry the installation ID in their
// envelopes. It is an implementation detail how results are sourced,
// stored, and cached (or not).
type InstallationsService interface {
	ListAll(ctx context.Context) ([]Installation, error)
	GetByOwner(ctx context.Context, owner string) (Installation, error)
	GetByRepository(ctx context.Context, owner, name string) (Installation, error)
}

// NewInstallationsService returns an InstallationsService that always
// queries GitHub through an app-authenticated client.
func NewInstallationsService(appClient *github.Client) InstallationsService {
	return &installationsService{appClient: appClient}
}

type installationsService struct {
	appClient *github.Client
}

func toInstallation(from *github.Installation) Installation {
	return Installation{
		ID:      from.GetID(),
		Owner:   from.GetAccount().GetLogin(),
		OwnerID: from.GetAccount().GetID(),
	}
}

func (s *installationsService) ListAll(ctx context.Context) ([]Installation, error) {
	opt := github.ListOptions{
		PerPage: 100,
	}

	var all []Installation
	for {
		installations, res, err := s.appClient.Apps.ListInstallations(ctx, &opt)
		if err != nil {
			return nil, errors.Wrap(err, "failed to list installations")
		}
		for _, inst := range installations {
			all = append(all, toInstallation(inst))
		}
		if res.NextPage == 0 {
			break
		}
		opt.Page = res.NextPage
	}

	return all, nil
}

func (s *installationsService) GetByOwner(ctx context.Context, owner string) (Installation, error) {
	installation, _, err := s.appClient.Apps.FindOrganizationInstallation(ctx, owner)
	if err != nil {
		if isNotFound(err) {
			return Installation{}, errors.Errorf("no installation found for owner %q", owner)
		}
		return Installation{}, errors.Wrapf(err, "failed to get installation for owner %q", owner)
	}

	return toInstallation(installation), nil
}

func (s *installationsService) GetByRepository(ctx context.Context, owner, name string) (Installation, error) {
	installation, _, err := s.appClient.Apps.FindRepositoryInstallation(ctx, owner, name)
	if err != nil {
		if isNotFound(err) {
			return Installation{}, errors.Errorf("no installation found for repository %q", owner+"/"+name)
		}
		return Installation{}, errors.Wrapf(err, "failed to get installation for repository %q", owner+"/"+name)
	}

	return toInstallation(installation), nil
}

// NewCachingInstallationsService wraps delegate with a time-based cache
// of the provided expiry and cleanup interval, returning cached
// installation info on a hit.
func NewCachingInstallationsService(delegate InstallationsService, expiry, cleanup time.Duration) InstallationsService {
	return &cachingInstallationsService{
		cache:    ttlcache.New(expiry, cleanup),
		delegate: delegate,
	}
}

type cachingInstallationsService struct {
	cache    *ttlcache.Cache
	delegate InstallationsService
}

func (c *cachingInstallationsService) ListAll(ctx context.Context) ([]Installation, error) {
	// ListAll is not cached due to a lack of keys to retrieve from the
	// cache. Returning all values in the cache is not always desirable.
	return c.delegate.ListAll(ctx)
}

func (c *cachingInstallationsService) GetByOwner(ctx context.Context, owner string) (Installation, error) {
	if val, ok := c.cache.Get(owner); ok {
		return val.(Installation), nil
	}

	install, err := c.delegate.GetByOwner(ctx, owner)
	if err != nil {
		return Installation{}, err
	}
	c.cache.Set(owner, install, ttlcache.DefaultExpiration)
	return install, nil
}

func (c *cachingInstallationsService) GetByRepository(ctx context.Context, owner, name string) (Installation, error) {
	key := fmt.Sprintf("%s/%s", owner, name)
	if val, ok := c.cache.Get(key); ok {
		return val.(Installation), nil
	}

	install, err := c.delegate.GetByRepository(ctx, owner, name)
	if err != nil {
		return Installation{}, err
	}
	c.cache.Set(key, install, ttlcache.DefaultExpiration)
	return install, nil
}
