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
	"os"

	"github.com/bluenote-io/go-ghapp/ghapp"
	"github.com/c2h5oh/datasize"
	"github.com/die-net/lrucache"
	"github.com/palantir/go-baseapp/baseapp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"goji.io/pat"
)

const (
	DefaultWebhookWorkers   = 10
	DefaultWebhookQueueSize = 100

	DefaultHTTPCacheSize = 50 * datasize.MB
)

var rootConfig struct {
	Path string
}

var rootCmd = &cobra.Command{
	Use:   "example-app",
	Short: "Runs a minimal GitHub App that replies to ping comments.",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := ReadConfig(rootConfig.Path)
		if err != nil {
			return err
		}
		return runServer(c)
	},
}

func runServer(c *Config) error {
	logger := baseapp.NewLogger(baseapp.LoggingConfig{
		Level:  c.Logging.Level,
		Pretty: c.Logging.Text,
	})

	base, err := baseapp.NewServer(c.Server, baseapp.DefaultParams(logger, "exampleapp.")...)
	if err != nil {
		return errors.Wrap(err, "failed to initialize base server")
	}

	maxSize := int64(DefaultHTTPCacheSize)
	if c.Cache.MaxSize != 0 {
		maxSize = int64(c.Cache.MaxSize)
	}

	app, err := ghapp.New(c.Github,
		ghapp.WithCachingClients(ghapp.DefaultCachingClientCapacity),
		ghapp.WithClientOptions(
			ghapp.WithClientUserAgent("example-app/1.0"),
			ghapp.WithClientMiddleware(
				ghapp.ClientCache(true, lrucache.New(maxSize, 0)),
				ghapp.ClientLogging(zerolog.DebugLevel),
				ghapp.ClientMetrics(base.Registry()),
			),
		),
	)
	if err != nil {
		return errors.Wrap(err, "failed to initialize app")
	}

	app.On("issue_comment", "created", commentReply(app.Clients()))

	queueSize := c.Workers.QueueSize
	if queueSize < 1 {
		queueSize = DefaultWebhookQueueSize
	}

	workers := c.Workers.Workers
	if workers < 1 {
		workers = DefaultWebhookWorkers
	}

	dispatcher := app.NewDispatcher(
		ghapp.WithDispatchMetrics(base.Registry()),
		ghapp.WithScheduler(ghapp.QueueAsyncScheduler(
			queueSize, workers,
			ghapp.WithSchedulingMetrics(base.Registry()),
		)),
	)

	base.Mux().Handle(pat.Post(ghapp.DefaultWebhookRoute), dispatcher)

	return base.Start()
}

func main() {
	rootCmd.PersistentFlags().StringVar(&rootConfig.Path, "config", "config.yml", "configuration file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
