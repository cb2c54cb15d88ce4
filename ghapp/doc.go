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

// Package ghapp is a toolkit for building GitHub Apps: it authenticates
// as the app with signed assertions, acquires and caches installation
// access tokens, verifies webhook deliveries, and routes events to
// registered handlers.
//
// The package is library-shaped. It does not open sockets or load
// secrets; the surrounding application supplies configuration and mounts
// the Dispatcher on whatever HTTP stack it uses. All state is in-memory
// and rebuilt from configuration at startup.
//
// Most applications construct an App, register handlers, and mount its
// dispatcher:
//
//	app, err := ghapp.New(config)
//	if err != nil {
//		// bad credentials, fatal
//	}
//
//	app.On("issue_comment", "created", func(ctx context.Context, d *ghapp.Delivery) error {
//		client, err := app.Clients().NewInstallationClient(d.InstallationID)
//		// ...
//		return err
//	})
//
//	mux.Handle(pat.Post(ghapp.DefaultWebhookRoute), app.NewDispatcher())
package ghapp
