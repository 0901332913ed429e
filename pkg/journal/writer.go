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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/novatechflow/journal/pkg/codec"
)

// State is the lifecycle of a BatchingWriter.
type State int32

const (
	StateOpen State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// RecordWriter is the durable sink of a BatchingWriter. Write and Close are
// only called from the writer goroutine.
type RecordWriter interface {
	Write(ts time.Time, payloads []any) error
	Close() error
}

// WriterOptions configures a BatchingWriter.
type WriterOptions struct {
	BatchSize    int
	BatchTimeout time.Duration
	// Since is the timestamp of the newest record already written; new
	// records are never stamped earlier.
	Since      time.Time
	Statistics *Statistics
	Observer   Observer
	Logger     *slog.Logger
	// Clock stamps records. Defaults to time.Now.
	Clock func() time.Time
}

// BatchingWriter turns concurrent submissions into an ordered sequence of
// batch writes performed by a single goroutine.
type BatchingWriter struct {
	out    RecordWriter
	opts   WriterOptions
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	failure error
	buffer  *batchBuffer
	queue   [][]pendingEntry
	wake    chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	last time.Time
}

// NewBatchingWriter starts the writer goroutine. The writer owns out until
// Close returns.
func NewBatchingWriter(out RecordWriter, opts WriterOptions) *BatchingWriter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = defaultBatchTimeout
	}
	if opts.Statistics == nil {
		opts.Statistics = NewStatistics(defaultStatisticsRetention)
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	w := &BatchingWriter{
		out:    out,
		opts:   opts,
		logger: opts.Logger,
		buffer: newBatchBuffer(batchBufferConfig{MaxEntries: opts.BatchSize, MaxDelay: opts.BatchTimeout}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		last:   opts.Since.UTC(),
	}
	go w.run()
	return w
}

// Submit queues payload for the next batch and returns immediately.
func (w *BatchingWriter) Submit(payload any) *Future {
	f := newFuture()
	w.mu.Lock()
	if w.failure != nil {
		err := w.failure
		w.mu.Unlock()
		f.fail(err)
		return f
	}
	if w.state != StateOpen {
		w.mu.Unlock()
		f.fail(ErrClosed)
		return f
	}
	w.buffer.Append(pendingEntry{payload: payload, future: f, enqueued: time.Now()})
	if w.buffer.Full() {
		w.queue = append(w.queue, w.buffer.Drain())
	}
	w.mu.Unlock()
	w.signal()
	return f
}

// State reports the lifecycle state.
func (w *BatchingWriter) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the write failure that stopped the writer, if any.
func (w *BatchingWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failure
}

// Close stops accepting entries, writes everything already accepted and
// closes the underlying RecordWriter.
func (w *BatchingWriter) Close() error {
	w.mu.Lock()
	if w.state == StateOpen {
		w.state = StateDraining
	}
	w.mu.Unlock()
	w.signal()
	<-w.done

	w.closeOnce.Do(func() {
		w.closeErr = w.out.Close()
		w.mu.Lock()
		w.state = StateClosed
		w.mu.Unlock()
	})
	return w.closeErr
}

func (w *BatchingWriter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *BatchingWriter) run() {
	defer close(w.done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		batch, deadline, exit := w.next(time.Now())
		if batch != nil {
			w.write(batch)
			continue
		}
		if exit {
			return
		}
		var fire <-chan time.Time
		if !deadline.IsZero() {
			timer.Reset(time.Until(deadline))
			fire = timer.C
		}
		select {
		case <-w.wake:
		case <-fire:
		}
		timer.Stop()
	}
}

// next closes an overdue batch and pops the oldest closed batch. Without a
// batch it returns the deadline to wait for, or exit when nothing is left.
func (w *BatchingWriter) next(now time.Time) ([]pendingEntry, time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failure == nil && w.buffer.Len() > 0 && (w.state != StateOpen || w.buffer.ShouldFlush(now)) {
		w.queue = append(w.queue, w.buffer.Drain())
	}
	if len(w.queue) > 0 {
		batch := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		return batch, time.Time{}, false
	}
	if w.failure != nil || w.state != StateOpen {
		return nil, time.Time{}, true
	}
	deadline, _ := w.buffer.Deadline()
	return nil, deadline, false
}

func (w *BatchingWriter) write(batch []pendingEntry) {
	ts := w.opts.Clock().UTC()
	if ts.Before(w.last) {
		ts = w.last
	}
	payloads := make([]any, len(batch))
	for i, e := range batch {
		payloads[i] = e.payload
	}

	start := time.Now()
	err := w.out.Write(ts, payloads)
	writing := time.Since(start)
	overall := time.Since(batch[0].enqueued)
	w.opts.Observer.ObserveBatch(len(batch), overall, writing, err)

	if err != nil {
		for _, e := range batch {
			e.future.fail(err)
		}
		if errors.Is(err, codec.ErrSerialization) {
			// Nothing reached the file; the writer stays usable.
			w.logger.Warn("journal batch rejected", "entries", len(batch), "error", err)
			return
		}
		w.fail(err)
		return
	}

	w.last = ts
	w.opts.Statistics.add(StatisticEntry{
		BatchSize: len(batch),
		Overall:   overall,
		Writing:   writing,
		Timestamp: ts,
	})
	for _, e := range batch {
		e.future.resolve(ts)
	}
}

func (w *BatchingWriter) fail(cause error) {
	failure := fmt.Errorf("%w: %w", ErrWriterFailed, cause)
	w.mu.Lock()
	w.failure = failure
	stranded := w.buffer.Drain()
	for _, b := range w.queue {
		stranded = append(stranded, b...)
	}
	w.queue = nil
	w.mu.Unlock()

	w.logger.Error("journal writer failed", "error", cause, "stranded_entries", len(stranded))
	for _, e := range stranded {
		e.future.fail(failure)
	}
}
