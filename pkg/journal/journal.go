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

package journal

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/novatechflow/journal/pkg/codec"
	"github.com/novatechflow/journal/pkg/storage"
)

type options struct {
	logger   *slog.Logger
	registry *codec.Registry
	observer Observer
	archive  storage.S3Client
	clock    func() time.Time
}

// Option customizes Open.
type Option func(*options)

// WithLogger sets the base logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry sets the payload type registry used to encode and decode records.
func WithRegistry(reg *codec.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithObserver reports batches, rotations and replays to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithArchiveClient archives sealed files through client instead of the
// S3 client described by Config.Archive.
func WithArchiveClient(client storage.S3Client) Option {
	return func(o *options) { o.archive = client }
}

// WithClock overrides the clock used to stamp records.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// Journal is an append-only, batching, size-rotated log of payloads.
type Journal struct {
	cfg       Config
	logger    *slog.Logger
	observer  Observer
	persistor *storage.Persistor
	writer    *BatchingWriter
	stats     *Statistics
	archiver  *storage.Archiver

	closeOnce sync.Once
	closeErr  error
}

// Open is OpenContext with a background context.
func Open(cfg Config, opts ...Option) (*Journal, error) {
	return OpenContext(context.Background(), cfg, opts...)
}

// OpenContext loads the file index of cfg.Directory and starts the writer.
// ctx only bounds archive setup.
func OpenContext(ctx context.Context, cfg Config, opts ...Option) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default(), observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	logger := o.logger.With("component", "journal", "dir", cfg.Directory)

	archiver, err := openArchiver(ctx, cfg, o, logger)
	if err != nil {
		return nil, err
	}
	pcfg := storage.PersistorConfig{
		Dir:         cfg.Directory,
		MaxFileSize: cfg.MaxFileSize,
		SyncWrites:  cfg.SyncWrites,
		OnRotate: func(d storage.Descriptor) {
			o.observer.ObserveRotation(d.Sequence)
		},
	}
	if archiver != nil {
		pcfg.OnSeal = archiver.Enqueue
	}
	persistor, err := storage.NewPersistor(pcfg, codec.New(o.registry), logger)
	if err != nil {
		closeArchiver(archiver)
		return nil, fmt.Errorf("open journal: %w", err)
	}
	since, err := persistor.ReadLatestTimestamp()
	if err != nil {
		persistor.Close()
		closeArchiver(archiver)
		return nil, fmt.Errorf("open journal: %w", err)
	}

	stats := NewStatistics(cfg.StatisticsRetention)
	writer := NewBatchingWriter(persistor, WriterOptions{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout(),
		Since:        since,
		Statistics:   stats,
		Observer:     o.observer,
		Logger:       logger,
		Clock:        o.clock,
	})
	logger.Info("journal opened", "files", persistor.Index().Len(), "latest", since, "batch_size", cfg.BatchSize, "batch_timeout", cfg.BatchTimeout())
	return &Journal{
		cfg:       cfg,
		logger:    logger,
		observer:  o.observer,
		persistor: persistor,
		writer:    writer,
		stats:     stats,
		archiver:  archiver,
	}, nil
}

func openArchiver(ctx context.Context, cfg Config, o options, logger *slog.Logger) (*storage.Archiver, error) {
	client := o.archive
	if client == nil {
		if !cfg.Archive.Enabled {
			return nil, nil
		}
		var err error
		client, err = storage.NewS3Client(ctx, cfg.Archive.S3Config())
		if err != nil {
			return nil, fmt.Errorf("open journal archive: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("open journal archive: %w", err)
		}
	}
	acfg := storage.ArchiverConfig{
		Prefix:        cfg.Archive.Prefix,
		UploadTimeout: cfg.Archive.UploadTimeout(),
	}
	if obs, ok := o.observer.(ArchiveObserver); ok {
		acfg.OnUpload = func(_ string, elapsed time.Duration, err error) {
			obs.ObserveArchiveUpload(elapsed, err)
		}
	}
	return storage.NewArchiver(client, cfg.Directory, acfg, logger.With("component", "archive")), nil
}

func closeArchiver(a *storage.Archiver) error {
	if a == nil {
		return nil
	}
	return a.Close(context.Background())
}

// Append submits payload to the next batch. It never blocks; the returned
// future resolves once the batch is durable.
func (j *Journal) Append(payload any) *Future {
	return j.writer.Submit(payload)
}

// ReplayOptions bounds a replay. Zero timestamps are open bounds.
type ReplayOptions struct {
	First     time.Time
	Last      time.Time
	Predicate func(any) bool
}

// Replay yields the payloads recorded between opts.First and opts.Last,
// inclusive, in write order. Each call reads from disk independently of
// earlier replays. A failure ends the sequence with a single error; a
// cancelled ctx ends it with storage.ErrCancelled.
func (j *Journal) Replay(ctx context.Context, opts ReplayOptions) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		records := 0
		var replayErr error
		defer func() { j.observer.ObserveReplay(records, replayErr) }()

		for rec, err := range j.persistor.ReadRange(ctx, opts.First, opts.Last) {
			if err != nil {
				replayErr = err
				yield(nil, err)
				return
			}
			records++
			for _, p := range rec.Payloads {
				if opts.Predicate != nil && !opts.Predicate(p) {
					continue
				}
				if !yield(p, nil) {
					return
				}
			}
		}
	}
}

// ReplayOf yields only the payloads of type T that satisfy predicate.
func ReplayOf[T any](ctx context.Context, j *Journal, opts ReplayOptions, predicate func(T) bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for p, err := range j.Replay(ctx, opts) {
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			v, ok := p.(T)
			if !ok || (predicate != nil && !predicate(v)) {
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// ReplayRecords yields whole records with their timestamps.
func (j *Journal) ReplayRecords(ctx context.Context, first, last time.Time) iter.Seq2[codec.Record, error] {
	return j.persistor.ReadRange(ctx, first, last)
}

// ReadLatestTimestamp returns the timestamp of the newest durable record, or
// storage.MinTimestamp for an empty journal.
func (j *Journal) ReadLatestTimestamp() (time.Time, error) {
	return j.persistor.ReadLatestTimestamp()
}

// Statistics returns the per-batch statistics of this journal instance.
func (j *Journal) Statistics() *Statistics {
	return j.stats
}

// Files returns the descriptors of the journal files.
func (j *Journal) Files() []storage.Descriptor {
	return j.persistor.Index().Snapshot()
}

// ArchiveHealth reports the upload health of the S3 archive. ok is false when
// archiving is disabled.
func (j *Journal) ArchiveHealth() (snap storage.HealthSnapshot, ok bool) {
	if j.archiver == nil {
		return storage.HealthSnapshot{}, false
	}
	return j.archiver.Health(), true
}

// State reports the writer lifecycle state.
func (j *Journal) State() State {
	return j.writer.State()
}

// Err returns the failure that stopped the writer, if any.
func (j *Journal) Err() error {
	return j.writer.Err()
}

// Close drains accepted appends, closes the active file and waits for
// pending archive uploads.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		err := j.writer.Close()
		if aerr := closeArchiver(j.archiver); aerr != nil && err == nil {
			err = aerr
		}
		if err != nil {
			j.closeErr = fmt.Errorf("close journal: %w", err)
		}
		j.logger.Info("journal closed")
	})
	return j.closeErr
}
