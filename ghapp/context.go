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

	"github.com/rs/zerolog"
)

const (
	LogKeyEventType       = "github_event_type"
	LogKeyDeliveryID      = "github_delivery_id"
	LogKeyInstallationID  = "github_installation_id"
	LogKeyRepositoryName  = "github_repository_name"
	LogKeyRepositoryOwner = "github_repository_owner"
)

type installationKeyType struct{}

var installationKey installationKeyType

// WithInstallation tags the context with the delivery's installation ID
// and adds it to the context logger. Client middleware reads the ID back
// for per-installation metrics.
func WithInstallation(ctx context.Context, installationID int64) context.Context {
	logger := zerolog.Ctx(ctx).With().
		Int64(LogKeyInstallationID, installationID).
		Logger()

	ctx = logger.WithContext(ctx)
	return context.WithValue(ctx, installationKey, installationID)
}

// InstallationFromContext returns the installation ID set by
// WithInstallation, or zero if none is set.
func InstallationFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(installationKey).(int64)
	return id
}
