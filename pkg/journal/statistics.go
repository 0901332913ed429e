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
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"
)

// StatisticEntry describes one batch write. Overall runs from the arrival of
// the oldest entry in the batch until the write completed; Writing covers the
// file write alone.
type StatisticEntry struct {
	BatchSize int
	Overall   time.Duration
	Writing   time.Duration
	Timestamp time.Time
}

// Statistics is the read-only stream of per-batch statistics.
type Statistics struct {
	mu        sync.Mutex
	retention int
	entries   []StatisticEntry
	subs      map[int]chan StatisticEntry
	nextSub   int
	dropped   uint64
}

// NewStatistics keeps the latest retention entries; zero keeps everything.
func NewStatistics(retention int) *Statistics {
	return &Statistics{
		retention: retention,
		subs:      make(map[int]chan StatisticEntry),
	}
}

func (s *Statistics) add(e StatisticEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	if s.retention > 0 && len(s.entries) >= 2*s.retention {
		kept := copy(s.entries, s.entries[len(s.entries)-s.retention:])
		s.entries = s.entries[:kept]
	}
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.dropped++
		}
	}
}

// Entries returns a snapshot of the retained entries, oldest first.
func (s *Statistics) Entries() []StatisticEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.entries
	if s.retention > 0 && len(entries) > s.retention {
		entries = entries[len(entries)-s.retention:]
	}
	out := make([]StatisticEntry, len(entries))
	copy(out, entries)
	return out
}

// Subscribe streams entries recorded from now on. A subscriber that falls
// more than buffer entries behind misses entries instead of slowing the
// writer. The returned func unsubscribes and closes the channel.
func (s *Statistics) Subscribe(buffer int) (<-chan StatisticEntry, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan StatisticEntry, buffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped counts entries that subscribers missed.
func (s *Statistics) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Dump writes a histogram of the retained entries grouped by batch size:
//
//	histogram (<groups>)
//	<size>: elapsedMS=<avg>(<min>/<max>) maxDelayMs=<max of overall minus writing>
func (s *Statistics) Dump(w io.Writer) error {
	type group struct {
		count         int
		sum, min, max time.Duration
		maxDelay      time.Duration
	}
	groups := make(map[int]*group)
	for _, e := range s.Entries() {
		g, ok := groups[e.BatchSize]
		if !ok {
			g = &group{min: e.Overall, max: e.Overall, maxDelay: e.Overall - e.Writing}
			groups[e.BatchSize] = g
		}
		g.count++
		g.sum += e.Overall
		g.min = min(g.min, e.Overall)
		g.max = max(g.max, e.Overall)
		g.maxDelay = max(g.maxDelay, e.Overall-e.Writing)
	}
	sizes := make([]int, 0, len(groups))
	for size := range groups {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)

	if _, err := fmt.Fprintf(w, "histogram (%d)\n", len(sizes)); err != nil {
		return err
	}
	for _, size := range sizes {
		g := groups[size]
		avg := g.sum / time.Duration(g.count)
		if _, err := fmt.Fprintf(w, "%5d: elapsedMS=%s(%s/%s) maxDelayMs=%s\n",
			size, millis(avg), millis(g.min), millis(g.max), millis(g.maxDelay)); err != nil {
			return err
		}
	}
	return nil
}

func millis(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', -1, 64)
}
