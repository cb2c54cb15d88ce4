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
	"encoding/json"
	"net/http"

	"github.com/google/go-github/v65/github"
	"github.com/pkg/errors"
)

// ClientTokenExchanger implements TokenExchanger over the GitHub apps
// API using an app-authenticated client.
type ClientTokenExchanger struct {
	client *github.Client
}

// NewClientTokenExchanger creates an exchanger backed by appClient, which
// must authenticate as the app (see AppTransport).
func NewClientTokenExchanger(appClient *github.Client) *ClientTokenExchanger {
	return &ClientTokenExchanger{client: appClient}
}

func (e *ClientTokenExchanger) ExchangeToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	tok, _, err := e.client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, &InstallationNotFoundError{InstallationID: installationID}
		}
		return nil, errors.Wrapf(err, "failed to create token for installation %d", installationID)
	}

	return &InstallationToken{
		InstallationID: installationID,
		Token:          tok.GetToken(),
		ExpiresAt:      tok.GetExpiresAt().Time,
		Permissions:    flattenPermissions(tok.GetPermissions()),
	}, nil
}

func isNotFound(err error) bool {
	rerr, ok := err.(*github.ErrorResponse)
	return ok && rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound
}

// flattenPermissions converts the typed permissions struct into the
// permission:level map GitHub serializes on the wire.
func flattenPermissions(p *github.InstallationPermissions) map[string]string {
	if p == nil {
		return nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil
	}

	perms := make(map[string]string)
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil
	}
	return perms
}

// type assertion
var _ TokenExchanger = &ClientTokenExchanger{}
