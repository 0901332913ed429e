// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/novatechflow/journal/pkg/codec"
	"github.com/novatechflow/journal/pkg/export"
	"github.com/novatechflow/journal/pkg/journal"
	"github.com/novatechflow/journal/pkg/storage"
)

// Deposit and Withdrawal are the transaction payloads written by bench and
// understood by replay.
type Deposit struct {
	Account string  `json:"account"`
	Amount  float64 `json:"amount"`
}

type Withdrawal struct {
	Account string  `json:"account"`
	Amount  float64 `json:"amount"`
}

func newRegistry() *codec.Registry {
	reg := codec.NewRegistry()
	codec.MustRegister[Deposit](reg, "Deposit")
	codec.MustRegister[Withdrawal](reg, "Withdrawal")
	return reg
}

type producerCloser interface {
	export.Producer
	Close()
}

// app carries the process-wide dependencies of the commands.
type app struct {
	out        io.Writer
	logger     *slog.Logger
	configPath string
	dir        string

	newS3Client func(ctx context.Context, cfg storage.S3Config) (storage.S3Client, error)
	newProducer func(brokers []string) (producerCloser, error)
}

func newApp(out io.Writer, logger *slog.Logger) *app {
	return &app{
		out:         out,
		logger:      logger,
		newS3Client: storage.NewS3Client,
		newProducer: func(brokers []string) (producerCloser, error) {
			return kgo.NewClient(kgo.SeedBrokers(brokers...), kgo.AllowAutoTopicCreation())
		},
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(newApp(os.Stdout, newLogger()))
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "journalctl",
		Short:        "Inspect and exercise an append-only journal directory",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML journal configuration file")
	root.PersistentFlags().StringVarP(&a.dir, "dir", "d", "", "journal directory (overrides config and JOURNAL_DIR)")
	root.SetOut(a.out)

	root.AddCommand(
		newAppendCmd(a),
		newReplayCmd(a),
		newLatestCmd(a),
		newFilesCmd(a),
		newBenchCmd(a),
		newExportCmd(a),
		newArchiveCmd(a),
	)
	return root
}

// loadConfig layers the YAML file, the environment and the --dir flag.
func (a *app) loadConfig() (journal.Config, error) {
	cfg := journal.DefaultConfig("")
	if a.configPath != "" {
		loaded, err := journal.LoadConfig(a.configPath)
		if err != nil {
			return journal.Config{}, err
		}
		cfg = loaded
	}
	cfg = journal.ConfigFromEnv(cfg)
	if a.dir != "" {
		cfg.Directory = a.dir
	}
	return cfg, nil
}

func (a *app) open(ctx context.Context, cfg journal.Config, opts ...journal.Option) (*journal.Journal, error) {
	opts = append([]journal.Option{
		journal.WithLogger(a.logger),
		journal.WithRegistry(newRegistry()),
	}, opts...)
	if cfg.Archive.Enabled {
		client, err := a.newS3Client(ctx, cfg.Archive.S3Config())
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, journal.WithArchiveClient(client))
	}
	return journal.OpenContext(ctx, cfg, opts...)
}

// parseBound parses an RFC 3339 range bound. Empty means open.
func parseBound(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return ts, nil
}

func logLevelFromEnv() slog.Level {
	level := slog.LevelWarn
	switch strings.ToLower(os.Getenv("JOURNAL_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return level
}

// newLogger writes to stderr so command output on stdout stays parseable.
func newLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:     logLevelFromEnv(),
		AddSource: true,
	})
	return slog.New(handler).With("component", "journalctl")
}
