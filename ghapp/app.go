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
	"net/url"
	"strings"

	"github.com/google/go-github/v65/github"
)

// App bundles the components for one app identity: the assertion signer,
// the installation token cache, the handler registry, and a client
// creator sharing all of them. There is no process-wide state; multiple
// App values with different identities can coexist in one process.
type App struct {
	config   Config
	signer   *Signer
	tokens   *TokenCache
	registry *Registry
	clients  ClientCreator
}

// AppOption configures properties of an App.
type AppOption func(*appOptions)

type appOptions struct {
	signerOpts     []SignerOption
	tokenOpts      []TokenCacheOption
	clientOpts     []ClientOption
	clientCapacity int
}

// WithSignerOptions forwards options to the App's Signer.
func WithSignerOptions(opts ...SignerOption) AppOption {
	return func(o *appOptions) {
		o.signerOpts = append(o.signerOpts, opts...)
	}
}

// WithTokenCacheOptions forwards options to the App's TokenCache.
func WithTokenCacheOptions(opts ...TokenCacheOption) AppOption {
	return func(o *appOptions) {
		o.tokenOpts = append(o.tokenOpts, opts...)
	}
}

// WithClientOptions forwards options to the App's ClientCreator.
func WithClientOptions(opts ...ClientOption) AppOption {
	return func(o *appOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// WithCachingClients caches installation clients in an LRU of the given
// capacity instead of creating them on every call.
func WithCachingClients(capacity int) AppOption {
	return func(o *appOptions) {
		o.clientCapacity = capacity
	}
}

// New constructs an App from configuration. It fails with a
// ConfigurationError if the credentials are missing or malformed; this is
// fatal at startup, nothing in the App retries it.
func New(c Config, opts ...AppOption) (*App, error) {
	c.SetDefaults()

	var options appOptions
	for _, opt := range opts {
		opt(&options)
	}

	signer, err := NewSigner(c.App.IntegrationID, []byte(c.App.PrivateKey), options.signerOpts...)
	if err != nil {
		return nil, err
	}

	exchangeClient, err := newExchangeClient(c.V3APIURL, signer)
	if err != nil {
		return nil, err
	}

	tokens := NewTokenCache(NewClientTokenExchanger(exchangeClient), options.tokenOpts...)

	var clients ClientCreator = NewClientCreator(c.V3APIURL, c.V4APIURL, signer, tokens, options.clientOpts...)
	if options.clientCapacity > 0 {
		clients, err = NewCachingClientCreator(clients, options.clientCapacity)
		if err != nil {
			return nil, err
		}
	}

	return &App{
		config:   c,
		signer:   signer,
		tokens:   tokens,
		registry: NewRegistry(),
		clients:  clients,
	}, nil
}

// newExchangeClient builds the plain app-authenticated client the token
// cache exchanges tokens through.
func newExchangeClient(v3BaseURL string, signer *Signer) (*github.Client, error) {
	baseURL, err := url.Parse(strings.TrimSuffix(v3BaseURL, "/") + "/")
	if err != nil {
		return nil, &ConfigurationError{Reason: "invalid v3 API URL", Cause: err}
	}

	client := github.NewClient(&http.Client{
		Transport: NewAppTransport(signer, nil),
	})
	client.BaseURL = baseURL
	return client, nil
}

// Signer returns the app's assertion signer.
func (a *App) Signer() *Signer { return a.signer }

// Tokens returns the app's installation token cache.
func (a *App) Tokens() *TokenCache { return a.tokens }

// Registry returns the app's handler registry.
func (a *App) Registry() *Registry { return a.registry }

// Clients returns the app's client creator.
func (a *App) Clients() ClientCreator { return a.clients }

// On registers a handler for the event type and action; see
// Registry.Register. It returns the App for chained registration during
// setup.
func (a *App) On(eventType, action string, fn HandlerFunc) *App {
	a.registry.Register(eventType, action, fn)
	return a
}

// OnAny registers a handler for every action of the event type.
func (a *App) OnAny(eventType string, fn HandlerFunc) *App {
	return a.On(eventType, ActionWildcard, fn)
}

// NewDispatcher creates a Dispatcher over the App's registry, verifying
// deliveries with the configured webhook secret.
func (a *App) NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	return NewDispatcher(a.registry, a.config.App.WebhookSecret, opts...)
}
