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
	"sync"
	"time"
)

// HealthState is the archiver's view of object storage availability.
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

// HealthConfig holds the thresholds between health states.
type HealthConfig struct {
	Window      time.Duration
	LatencyWarn time.Duration
	LatencyCrit time.Duration
	ErrorWarn   float64
	ErrorCrit   float64
	MaxSamples  int
}

// HealthSnapshot is a point-in-time view of archive health.
type HealthSnapshot struct {
	State      HealthState
	Since      time.Time
	AvgLatency time.Duration
	ErrorRate  float64
	Samples    int
}

type uploadSample struct {
	at      time.Time
	latency time.Duration
	failed  bool
}

// ArchiveHealth aggregates recent upload outcomes over a sliding window.
type ArchiveHealth struct {
	cfg HealthConfig
	now func() time.Time

	mu      sync.Mutex
	samples []uploadSample
	snap    HealthSnapshot
}

// NewArchiveHealth applies defaults to unset thresholds.
func NewArchiveHealth(cfg HealthConfig) *ArchiveHealth {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.LatencyWarn <= 0 {
		cfg.LatencyWarn = 500 * time.Millisecond
	}
	if cfg.LatencyCrit <= 0 {
		cfg.LatencyCrit = 3 * time.Second
	}
	if cfg.ErrorWarn <= 0 {
		cfg.ErrorWarn = 0.2
	}
	if cfg.ErrorCrit <= 0 {
		cfg.ErrorCrit = 0.6
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 512
	}
	h := &ArchiveHealth{cfg: cfg, now: time.Now}
	h.snap = HealthSnapshot{State: HealthHealthy, Since: h.now()}
	return h
}

// Record adds one upload outcome and reports whether the state changed.
func (h *ArchiveHealth) Record(latency time.Duration, err error) (HealthSnapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.samples = append(h.samples, uploadSample{at: now, latency: latency, failed: err != nil})
	if len(h.samples) > h.cfg.MaxSamples {
		h.samples = h.samples[len(h.samples)-h.cfg.MaxSamples:]
	}
	cutoff := now.Add(-h.cfg.Window)
	keep := 0
	for keep < len(h.samples) && !h.samples[keep].at.After(cutoff) {
		keep++
	}
	h.samples = append(h.samples[:0:0], h.samples[keep:]...)
	prev := h.snap.State
	h.recomputeLocked(now)
	return h.snap, h.snap.State != prev
}

// Snapshot returns the current state and aggregates.
func (h *ArchiveHealth) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

func (h *ArchiveHealth) recomputeLocked(now time.Time) {
	next := HealthSnapshot{Since: h.snap.Since, Samples: len(h.samples)}
	if len(h.samples) > 0 {
		var total time.Duration
		failed := 0
		for _, s := range h.samples {
			total += s.latency
			if s.failed {
				failed++
			}
		}
		next.AvgLatency = total / time.Duration(len(h.samples))
		next.ErrorRate = float64(failed) / float64(len(h.samples))
	}
	switch {
	case next.AvgLatency >= h.cfg.LatencyCrit || next.ErrorRate >= h.cfg.ErrorCrit:
		next.State = HealthUnavailable
	case next.AvgLatency >= h.cfg.LatencyWarn || next.ErrorRate >= h.cfg.ErrorWarn:
		next.State = HealthDegraded
	default:
		next.State = HealthHealthy
	}
	if next.State != h.snap.State {
		next.Since = now
	}
	h.snap = next
}
