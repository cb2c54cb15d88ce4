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
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v65/github"
	"github.com/pkg/errors"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// ClientCreator builds GitHub clients authenticated for the app, for one
// of its installations, or with a raw OAuth token. App and installation
// clients share a single Signer and TokenCache, so token acquisition and
// renewal happen once per app identity no matter how many clients exist.
type ClientCreator interface {
	// NewAppClient returns a github.Client that authenticates as the app
	// itself using signed assertions. Use it for app-level operations not
	// associated with a specific installation, such as listing
	// installations or exchanging installation tokens.
	NewAppClient() (*github.Client, error)

	// NewAppV4Client returns an app-authenticated v4 API client, similar
	// to NewAppClient.
	NewAppV4Client() (*githubv4.Client, error)

	// NewInstallationClient returns a github.Client that authenticates
	// with installation tokens for the given installation. Tokens are
	// acquired and refreshed through the shared TokenCache.
	NewInstallationClient(installationID int64) (*github.Client, error)

	// NewInstallationV4Client returns an installation-authenticated v4
	// API client, similar to NewInstallationClient.
	NewInstallationV4Client(installationID int64) (*githubv4.Client, error)

	// NewTokenClient returns a github.Client that uses the passed OAuth
	// token for authentication.
	NewTokenClient(token string) (*github.Client, error)

	// NewTokenV4Client returns a githubv4.Client that uses the passed
	// OAuth token for authentication.
	NewTokenV4Client(token string) (*githubv4.Client, error)
}

// NewClientCreator returns a ClientCreator that builds clients from the
// given signer and token cache against the given API endpoints.
func NewClientCreator(v3BaseURL, v4BaseURL string, signer *Signer, tokens *TokenCache, opts ...ClientOption) ClientCreator {
	cc := &clientCreator{
		v3BaseURL: v3BaseURL,
		v4BaseURL: v4BaseURL,
		signer:    signer,
		tokens:    tokens,
	}

	for _, opt := range opts {
		opt(cc)
	}

	if !strings.HasSuffix(cc.v3BaseURL, "/") {
		cc.v3BaseURL += "/"
	}

	// graphql URL should not end in trailing slash
	cc.v4BaseURL = strings.TrimSuffix(cc.v4BaseURL, "/")

	return cc
}

// NewDefaultClientCreator wires the full client stack from configuration:
// a Signer for the app key, a TokenCache exchanging tokens through the
// app-authenticated client, and a ClientCreator on top of both. It
// returns a ConfigurationError if the credentials are unusable.
func NewDefaultClientCreator(c Config, opts ...ClientOption) (ClientCreator, error) {
	c.SetDefaults()

	signer, err := NewSigner(c.App.IntegrationID, []byte(c.App.PrivateKey))
	if err != nil {
		return nil, err
	}

	// The exchange client is deliberately plain: middleware and caching
	// from options apply to clients handed to applications, not to the
	// token exchange path.
	exchangeBase := strings.TrimSuffix(c.V3APIURL, "/") + "/"
	exchangeURL, err := url.Parse(exchangeBase)
	if err != nil {
		return nil, &ConfigurationError{Reason: "invalid v3 API URL", Cause: err}
	}

	exchangeClient := github.NewClient(&http.Client{
		Transport: NewAppTransport(signer, nil),
	})
	exchangeClient.BaseURL = exchangeURL

	tokens := NewTokenCache(NewClientTokenExchanger(exchangeClient))

	return NewClientCreator(c.V3APIURL, c.V4APIURL, signer, tokens, opts...), nil
}

type clientCreator struct {
	v3BaseURL string
	v4BaseURL string
	signer    *Signer
	tokens    *TokenCache

	userAgent  string
	timeout    time.Duration
	middleware []ClientMiddleware
}

var _ ClientCreator = &clientCreator{}

// ClientOption configures clients produced by a ClientCreator.
type ClientOption func(c *clientCreator)

// ClientMiddleware modifies the transport of a GitHub client to add
// common functionality, like logging or metrics collection.
type ClientMiddleware func(http.RoundTripper) http.RoundTripper

// WithClientUserAgent sets the base user agent for all created clients.
func WithClientUserAgent(agent string) ClientOption {
	return func(c *clientCreator) {
		c.userAgent = agent
	}
}

// WithClientTimeout sets a request timeout for all created clients.
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *clientCreator) {
		c.timeout = timeout
	}
}

// WithClientMiddleware adds middleware that is applied to all created
// clients.
func WithClientMiddleware(middleware ...ClientMiddleware) ClientOption {
	return func(c *clientCreator) {
		c.middleware = middleware
	}
}

func (c *clientCreator) NewAppClient() (*github.Client, error) {
	base := &http.Client{
		Transport: NewAppTransport(c.signer, http.DefaultTransport),
		Timeout:   c.timeout,
	}
	return c.newClient(base, "application")
}

func (c *clientCreator) NewAppV4Client() (*githubv4.Client, error) {
	base := &http.Client{
		Transport: NewAppTransport(c.signer, http.DefaultTransport),
		Timeout:   c.timeout,
	}
	return c.newV4Client(base, "application")
}

func (c *clientCreator) NewInstallationClient(installationID int64) (*github.Client, error) {
	base := &http.Client{
		Transport: NewInstallationTransport(c.tokens, installationID, http.DefaultTransport),
		Timeout:   c.timeout,
	}
	return c.newClient(base, fmt.Sprintf("installation: %d", installationID))
}

func (c *clientCreator) NewInstallationV4Client(installationID int64) (*githubv4.Client, error) {
	base := &http.Client{
		Transport: NewInstallationTransport(c.tokens, installationID, http.DefaultTransport),
		Timeout:   c.timeout,
	}
	return c.newV4Client(base, fmt.Sprintf("installation: %d", installationID))
}

func (c *clientCreator) NewTokenClient(token string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return c.newClient(tc, "oauth token")
}

func (c *clientCreator) NewTokenV4Client(token string) (*githubv4.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return c.newV4Client(tc, "oauth token")
}

func (c *clientCreator) newClient(base *http.Client, details string) (*github.Client, error) {
	applyMiddleware(base, c.middleware)

	baseURL, err := url.Parse(c.v3BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base URL: %q", c.v3BaseURL)
	}

	client := github.NewClient(base)
	client.BaseURL = baseURL
	client.UserAgent = makeUserAgent(c.userAgent, details)

	return client, nil
}

func (c *clientCreator) newV4Client(base *http.Client, details string) (*githubv4.Client, error) {
	ua := makeUserAgent(c.userAgent, details)

	middleware := append([]ClientMiddleware{setUserAgentHeader(ua)}, c.middleware...)
	applyMiddleware(base, middleware)

	v4BaseURL, err := url.Parse(c.v4BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base URL: %q", c.v4BaseURL)
	}

	client := githubv4.NewEnterpriseClient(v4BaseURL.String(), base)
	return client, nil
}

func applyMiddleware(base *http.Client, middleware []ClientMiddleware) {
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	for i := len(middleware) - 1; i >= 0; i-- {
		base.Transport = middleware[i](base.Transport)
	}
}

func makeUserAgent(base, details string) string {
	if base == "" {
		base = "go-ghapp/undefined"
	}
	return fmt.Sprintf("%s (%s)", base, details)
}

func setUserAgentHeader(agent string) ClientMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			r.Header.Set("User-Agent", agent)
			return next.RoundTrip(r)
		})
	}
}
