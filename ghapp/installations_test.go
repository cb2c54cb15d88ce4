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
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallationsServiceListAll(t *testing.T) {
	client, cleanup := newTestGitHubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/app/installations", r.URL.Path)

		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s?page=2>; rel="next"`, "http://"+r.Host+r.URL.Path))
			fmt.Fprint(w, `[{"id": 1, "account": {"login": "octocat", "id": 10}}]`)
		case "2":
			fmt.Fprint(w, `[{"id": 2, "account": {"login": "hubot", "id": 20}}]`)
		}
	}))
	defer cleanup()

	svc := NewInstallationsService(client)

	installations, err := svc.ListAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Installation{
		{ID: 1, Owner: "octocat", OwnerID: 10},
		{ID: 2, Owner: "hubot", OwnerID: 20},
	}, installations)
}

func TestInstallationsServiceGetByOwner(t *testing.T) {
	client, cleanup := newTestGitHubClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orgs/octo-org/installation":
			fmt.Fprint(w, `{"id": 3, "account": {"login": "octo-org", "id": 30}}`)
		default:
			http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
		}
	}))
	defer cleanup()

	svc := NewInstallationsService(client)

	install, err := svc.GetByOwner(context.Background(), "octo-org")
	require.NoError(t, err)
	assert.Equal(t, Installation{ID: 3, Owner: "octo-org", OwnerID: 30}, install)

	_, err = svc.GetByOwner(context.Background(), "missing-org")
	assert.EqualError(t, err, `no installation found for owner "missing-org"`)
}

type fakeInstallations struct {
	calls int
}

func (f *fakeInstallations) ListAll(ctx context.Context) ([]Installation, error) {
	f.calls++
	return []Installation{{ID: 1, Owner: "octocat"}}, nil
}

func (f *fakeInstallations) GetByOwner(ctx context.Context, owner string) (Installation, error) {
	f.calls++
	return Installation{ID: 1, Owner: owner}, nil
}

func (f *fakeInstallations) GetByRepository(ctx context.Context, owner, name string) (Installation, error) {
	f.calls++
	return Installation{ID: 1, Owner: owner}, nil
}

func TestCachingInstallationsService(t *testing.T) {
	delegate := &fakeInstallations{}
	svc := NewCachingInstallationsService(delegate, time.Minute, time.Minute)

	ctx := context.Background()

	first, err := svc.GetByOwner(ctx, "octocat")
	require.NoError(t, err)

	second, err := svc.GetByOwner(ctx, "octocat")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, delegate.calls, "repeated owner lookups hit the cache")

	_, err = svc.GetByRepository(ctx, "octocat", "hello-world")
	require.NoError(t, err)
	_, err = svc.GetByRepository(ctx, "octocat", "hello-world")
	require.NoError(t, err)
	assert.Equal(t, 2, delegate.calls)

	// ListAll is never cached
	_, err = svc.ListAll(ctx)
	require.NoError(t, err)
	_, err = svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, delegate.calls)
}
