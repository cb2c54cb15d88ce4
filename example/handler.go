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

package main

import (
	"context"
	"strings"

	"github.com/bluenote-io/go-ghapp/ghapp"
	"github.com/google/go-github/v65/github"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// commentReply answers "ping" issue comments with "pong" using an
// installation-scoped client.
func commentReply(clients ghapp.ClientCreator) ghapp.HandlerFunc {
	return func(ctx context.Context, d *ghapp.Delivery) error {
		payload, err := d.ParsePayload()
		if err != nil {
			return errors.Wrap(err, "failed to parse issue comment payload")
		}

		event, ok := payload.(*github.IssueCommentEvent)
		if !ok {
			return errors.Errorf("unexpected payload type %T", payload)
		}

		if !strings.EqualFold(strings.TrimSpace(event.GetComment().GetBody()), "ping") {
			return nil
		}

		ctx = ghapp.WithInstallation(ctx, d.InstallationID)

		client, err := clients.NewInstallationClient(d.InstallationID)
		if err != nil {
			return err
		}

		repo := event.GetRepo()
		number := event.GetIssue().GetNumber()

		zerolog.Ctx(ctx).Info().
			Str(ghapp.LogKeyRepositoryOwner, repo.GetOwner().GetLogin()).
			Str(ghapp.LogKeyRepositoryName, repo.GetName()).
			Msg("Replying to ping comment")

		_, _, err = client.Issues.CreateComment(ctx, repo.GetOwner().GetLogin(), repo.GetName(), number, &github.IssueComment{
			Body: github.String("pong"),
		})
		return errors.Wrap(err, "failed to create comment")
	}
}
