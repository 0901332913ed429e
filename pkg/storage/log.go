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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/novatechflow/journal/pkg/codec"
)

// ErrPersistorClosed is returned by Write after Close.
var ErrPersistorClosed = errors.New("persistor closed")

// Persistor appends records to the active journal file, rotates files by size
// and answers range and latest-timestamp reads. Write and Close must be called
// from a single goroutine; reads are safe from any goroutine.
type Persistor struct {
	cfg    PersistorConfig
	codec  *codec.Codec
	logger *slog.Logger
	index  *FileIndex
	active *segmentFile
	closed bool
}

// NewPersistor loads the file index of cfg.Dir. A directory holding a file
// that cannot be parsed is rejected.
func NewPersistor(cfg PersistorConfig, c *codec.Codec, logger *slog.Logger) (*Persistor, error) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if c == nil {
		c = codec.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	index, err := LoadIndex(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return &Persistor{
		cfg:    cfg,
		codec:  c,
		logger: logger,
		index:  index,
	}, nil
}

// Index exposes the file index for inspection.
func (p *Persistor) Index() *FileIndex {
	return p.index
}

// Codec returns the record codec used by the persistor.
func (p *Persistor) Codec() *codec.Codec {
	return p.codec
}

// Write encodes payloads as a single record stamped ts and appends it. The
// rotation check runs before the write, so a file may exceed MaxFileSize by
// up to one record.
func (p *Persistor) Write(ts time.Time, payloads []any) error {
	if p.closed {
		return ErrPersistorClosed
	}
	line, err := p.codec.Encode(ts, payloads)
	if err != nil {
		return err
	}
	if p.active == nil {
		if err := p.openActive(ts); err != nil {
			return err
		}
	}
	if p.active.size >= p.cfg.MaxFileSize {
		if err := p.rotate(ts); err != nil {
			return err
		}
	}
	return p.active.append(line, p.cfg.SyncWrites)
}

func (p *Persistor) openActive(ts time.Time) error {
	desc, ok := p.index.Last()
	created := false
	if !ok {
		first, err := NewDescriptor(1, ts)
		if err != nil {
			return err
		}
		desc, created = first, true
	}
	seg, err := openSegment(p.index.Path(desc), desc, p.logger)
	if err != nil {
		return err
	}
	if created {
		if err := p.index.Append(desc); err != nil {
			seg.close()
			return err
		}
		p.logger.Info("journal file created", "file", desc.Name)
		if p.cfg.OnRotate != nil {
			p.cfg.OnRotate(desc)
		}
	}
	p.active = seg
	return nil
}

func (p *Persistor) rotate(ts time.Time) error {
	sealed := p.active
	next, err := NewDescriptor(sealed.desc.Sequence+1, ts)
	if err != nil {
		return err
	}
	if err := sealed.close(); err != nil {
		return err
	}
	p.active = nil
	seg, err := openSegment(p.index.Path(next), next, p.logger)
	if err != nil {
		return err
	}
	if err := p.index.Append(next); err != nil {
		seg.close()
		return err
	}
	p.active = seg
	p.logger.Info("journal file rotated", "sealed", sealed.desc.Name, "sealed_bytes", sealed.size, "active", next.Name)
	if p.cfg.OnSeal != nil {
		p.cfg.OnSeal(sealed.desc)
	}
	if p.cfg.OnRotate != nil {
		p.cfg.OnRotate(next)
	}
	return nil
}

// Close flushes, syncs and closes the active file.
func (p *Persistor) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.active == nil {
		return nil
	}
	err := p.active.close()
	p.active = nil
	if err != nil {
		return fmt.Errorf("close persistor: %w", err)
	}
	return nil
}
