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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/novatechflow/journal/pkg/codec"
)

// ReadRange yields the records with first <= timestamp <= last in journal
// order. Zero bounds are open. Each call opens its own file handles and holds
// at most one decoded record; a stopped or cancelled iteration closes the
// current file before returning. A failure ends the sequence with one error.
func (p *Persistor) ReadRange(ctx context.Context, first, last time.Time) iter.Seq2[codec.Record, error] {
	first, last = clampRange(first, last)
	return func(yield func(codec.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(codec.Record{}, fmt.Errorf("%w: %w", ErrCancelled, err))
			return
		}
		if last.Before(first) {
			return
		}
		files := p.index.Snapshot()
		for i, desc := range files {
			// Records in file i are bounded above by the first record of file i+1.
			if i+1 < len(files) && files[i+1].First.Before(first) {
				continue
			}
			if desc.First.After(last) {
				return
			}
			more, err := p.readFile(ctx, desc, first, last, yield)
			if err != nil {
				yield(codec.Record{}, err)
				return
			}
			if !more {
				return
			}
		}
	}
}

// readFile reports whether the scan should continue with the next file.
func (p *Persistor) readFile(ctx context.Context, desc Descriptor, first, last time.Time, yield func(codec.Record, error) bool) (bool, error) {
	f, err := os.Open(p.index.Path(desc))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("%w: open %s: %w", ErrIO, desc.Name, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, segmentBufferSize)
	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		line, err := r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// A final line without a newline is a torn or in-flight write.
				return true, nil
			}
			return false, fmt.Errorf("%w: read %s: %w", ErrIO, desc.Name, err)
		}
		ts, err := codec.DecodeTimestamp(line)
		if err != nil {
			return false, fmt.Errorf("%s line %d: %w", desc.Name, lineNo, err)
		}
		if ts.Before(first) {
			continue
		}
		if ts.After(last) {
			return false, nil
		}
		rec, err := p.codec.Decode(line)
		if err != nil {
			return false, fmt.Errorf("%s line %d: %w", desc.Name, lineNo, err)
		}
		if !yield(rec, nil) {
			return false, nil
		}
	}
}

// ReadLatestTimestamp returns the timestamp of the newest record, or
// MinTimestamp when the journal is empty. It reads backwards from the end of
// the newest non-empty file, so its cost follows the size of the last record.
func (p *Persistor) ReadLatestTimestamp() (time.Time, error) {
	files := p.index.Snapshot()
	for i := len(files) - 1; i >= 0; i-- {
		line, err := p.lastLineOf(files[i])
		if err != nil {
			return time.Time{}, err
		}
		if line == nil {
			continue
		}
		ts, err := codec.DecodeTimestamp(line)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s: %w", files[i].Name, err)
		}
		return ts, nil
	}
	return MinTimestamp, nil
}

func (p *Persistor) lastLineOf(desc Descriptor) ([]byte, error) {
	f, err := os.Open(p.index.Path(desc))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, desc.Name, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, desc.Name, err)
	}
	line, err := lastLine(f, info.Size())
	if err != nil {
		if errors.Is(err, ErrFormat) {
			return nil, fmt.Errorf("%s: %w", desc.Name, err)
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, desc.Name, err)
	}
	return line, nil
}

// scanLatestTimestamp decodes every record forward and keeps the last
// timestamp. It must agree with ReadLatestTimestamp.
func (p *Persistor) scanLatestTimestamp(ctx context.Context) (time.Time, error) {
	latest := MinTimestamp
	for rec, err := range p.ReadRange(ctx, MinTimestamp, MaxTimestamp) {
		if err != nil {
			return time.Time{}, err
		}
		latest = rec.Timestamp
	}
	return latest, nil
}
