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

import "time"

type batchBufferConfig struct {
	MaxEntries int
	MaxDelay   time.Duration
}

type pendingEntry struct {
	payload  any
	future   *Future
	enqueued time.Time
}

// batchBuffer accumulates submitted entries until they form a batch. It is
// guarded by the owning BatchingWriter's mutex.
type batchBuffer struct {
	cfg     batchBufferConfig
	entries []pendingEntry
}

func newBatchBuffer(cfg batchBufferConfig) *batchBuffer {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1
	}
	return &batchBuffer{
		cfg:     cfg,
		entries: make([]pendingEntry, 0, cfg.MaxEntries),
	}
}

func (b *batchBuffer) Append(e pendingEntry) {
	b.entries = append(b.entries, e)
}

func (b *batchBuffer) Len() int {
	return len(b.entries)
}

// Full reports whether the count threshold closes the batch.
func (b *batchBuffer) Full() bool {
	return len(b.entries) >= b.cfg.MaxEntries
}

// ShouldFlush checks the count threshold and the age of the oldest entry.
func (b *batchBuffer) ShouldFlush(now time.Time) bool {
	if len(b.entries) == 0 {
		return false
	}
	if b.Full() {
		return true
	}
	deadline, _ := b.Deadline()
	return !now.Before(deadline)
}

// Deadline is when the oldest entry's batch must close.
func (b *batchBuffer) Deadline() (time.Time, bool) {
	if len(b.entries) == 0 {
		return time.Time{}, false
	}
	return b.entries[0].enqueued.Add(b.cfg.MaxDelay), true
}

// Drain returns the buffered entries as one batch and resets the buffer.
func (b *batchBuffer) Drain() []pendingEntry {
	if len(b.entries) == 0 {
		return nil
	}
	drained := b.entries
	b.entries = make([]pendingEntry, 0, b.cfg.MaxEntries)
	return drained
}
