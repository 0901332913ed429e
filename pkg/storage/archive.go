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

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ArchiverConfig controls where sealed files are uploaded.
type ArchiverConfig struct {
	Prefix string
	// UploadTimeout bounds a single upload. Zero means no limit.
	UploadTimeout time.Duration
	// OnUpload observes every upload attempt.
	OnUpload func(name string, elapsed time.Duration, err error)
	Health   HealthConfig
}

// Archiver copies sealed journal files to object storage in the background.
// Sealed files are immutable, so an upload never races with the writer.
type Archiver struct {
	client S3Client
	dir    string
	cfg    ArchiverConfig
	logger *slog.Logger
	health *ArchiveHealth

	mu      sync.Mutex
	pending []Descriptor
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewArchiver starts the upload loop for files sealed in dir.
func NewArchiver(client S3Client, dir string, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		client: client,
		dir:    dir,
		cfg:    cfg,
		logger: logger,
		health: NewArchiveHealth(cfg.Health),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Enqueue schedules desc for upload without blocking. It is the Persistor's
// OnSeal hook.
func (a *Archiver) Enqueue(desc Descriptor) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.logger.Warn("archiver closed, sealed file not uploaded", "file", desc.Name)
		return
	}
	a.pending = append(a.pending, desc)
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Archiver) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		batch := a.pending
		a.pending = nil
		closed := a.closed
		a.mu.Unlock()

		for _, desc := range batch {
			if err := a.Upload(context.Background(), desc); err != nil {
				a.logger.Error("archive upload failed", "file", desc.Name, "error", err)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-a.wake
	}
}

// Upload copies one journal file to the archive.
func (a *Archiver) Upload(ctx context.Context, desc Descriptor) error {
	if a.cfg.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.UploadTimeout)
		defer cancel()
	}
	start := time.Now()
	err := a.upload(ctx, desc)
	elapsed := time.Since(start)
	if a.cfg.OnUpload != nil {
		a.cfg.OnUpload(desc.Name, elapsed, err)
	}
	if snap, changed := a.health.Record(elapsed, err); changed {
		a.logger.Warn("archive health changed", "state", snap.State, "avg_latency", snap.AvgLatency, "error_rate", snap.ErrorRate)
	}
	if err == nil {
		a.logger.Debug("journal file archived", "file", desc.Name, "key", objectKey(a.cfg.Prefix, desc.Name))
	}
	return err
}

// Health reports the recent upload health.
func (a *Archiver) Health() HealthSnapshot {
	return a.health.Snapshot()
}

func (a *Archiver) upload(ctx context.Context, desc Descriptor) error {
	data, err := os.ReadFile(filepath.Join(a.dir, desc.Name))
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrIO, desc.Name, err)
	}
	return a.client.UploadFile(ctx, objectKey(a.cfg.Prefix, desc.Name), data)
}

// UploadSealed uploads every file of files except the last (active) one.
func (a *Archiver) UploadSealed(ctx context.Context, files []Descriptor) (int, error) {
	if len(files) < 2 {
		return 0, nil
	}
	uploaded := 0
	for _, desc := range files[:len(files)-1] {
		if err := a.Upload(ctx, desc); err != nil {
			return uploaded, err
		}
		uploaded++
	}
	return uploaded, nil
}

// Close stops accepting files and waits for queued uploads to finish.
func (a *Archiver) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("archiver close: %w", ctx.Err())
	}
}

// Restore downloads archived journal files missing from dir. It must only run
// while no journal is open on dir. Files already present locally are left
// untouched. It returns the descriptors it wrote.
func Restore(ctx context.Context, client S3Client, prefix, dir string) ([]Descriptor, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, dir, err)
	}
	listPrefix := strings.Trim(prefix, "/")
	if listPrefix != "" {
		listPrefix += "/"
	}
	objects, err := client.ListFiles(ctx, listPrefix)
	if err != nil {
		return nil, err
	}
	restored := make([]Descriptor, 0)
	for _, obj := range objects {
		desc, err := ParseDescriptor(path.Base(obj.Key))
		if err != nil {
			continue
		}
		target := filepath.Join(dir, desc.Name)
		if _, err := os.Stat(target); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return restored, fmt.Errorf("%w: stat %s: %w", ErrIO, target, err)
		}
		data, err := client.DownloadFile(ctx, obj.Key)
		if err != nil {
			return restored, err
		}
		if err := writeFileAtomic(target, data); err != nil {
			return restored, err
		}
		restored = append(restored, desc)
	}
	return restored, nil
}

func writeFileAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".restore-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrIO, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write %s: %w", ErrIO, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync %s: %w", ErrIO, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close %s: %w", ErrIO, tmpName, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename %s: %w", ErrIO, target, err)
	}
	return nil
}
