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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	_, pemBytes := generateTestKey(t)

	var c Config
	c.App.IntegrationID = 1234
	c.App.WebhookSecret = testSecret
	c.App.PrivateKey = string(pemBytes)
	return c
}

func TestNewApp(t *testing.T) {
	app, err := New(testConfig(t))
	require.NoError(t, err)

	assert.EqualValues(t, 1234, app.Signer().AppID())
	assert.NotNil(t, app.Tokens())
	assert.NotNil(t, app.Registry())
	assert.NotNil(t, app.Clients())
}

func TestNewAppBadKey(t *testing.T) {
	var c Config
	c.App.IntegrationID = 1234

	_, err := New(c)
	require.Error(t, err)

	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestAppDispatch(t *testing.T) {
	app, err := New(testConfig(t))
	require.NoError(t, err)

	var comments, wildcards int
	app.On("issue_comment", "created", func(ctx context.Context, d *Delivery) error {
		comments++
		return nil
	})
	app.OnAny("issue_comment", func(ctx context.Context, d *Delivery) error {
		wildcards++
		return nil
	})

	body := []byte(`{"action":"created","installation":{"id":7}}`)

	res := app.NewDispatcher().Dispatch(context.Background(), body, deliveryHeaders("issue_comment", body))

	assert.Equal(t, DispatchCompleted, res.Status)
	assert.Equal(t, 2, res.Invoked)
	assert.Equal(t, 1, comments)
	assert.Equal(t, 1, wildcards)
}

func TestAppClients(t *testing.T) {
	app, err := New(testConfig(t), WithCachingClients(8), WithClientOptions(
		WithClientUserAgent("test-app/1.0"),
	))
	require.NoError(t, err)

	client, err := app.Clients().NewInstallationClient(7)
	require.NoError(t, err)
	assert.Equal(t, "test-app/1.0 (installation: 7)", client.UserAgent)

	again, err := app.Clients().NewInstallationClient(7)
	require.NoError(t, err)
	assert.Same(t, client, again, "installation clients should be cached")

	appClient, err := app.Clients().NewAppClient()
	require.NoError(t, err)
	assert.Equal(t, "test-app/1.0 (application)", appClient.UserAgent)
}
