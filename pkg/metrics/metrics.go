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

package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/journal/pkg/storage"
)

const defaultNamespace = "journal"

// Collector exports journal activity as Prometheus metrics. It satisfies the
// journal Observer and ArchiveObserver interfaces.
type Collector struct {
	batchSize       prometheus.Histogram
	batchDuration   *prometheus.HistogramVec
	batchesTotal    *prometheus.CounterVec
	entriesTotal    prometheus.Counter
	filesTotal      prometheus.Counter
	activeSequence  prometheus.Gauge
	replaysTotal    *prometheus.CounterVec
	replayedRecords prometheus.Counter
	archiveUploads  *prometheus.CounterVec
	archiveDuration prometheus.Histogram
}

// NewCollector creates the collectors and registers them on reg.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	c := &Collector{
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Entries per written batch.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_ms",
			Help:      "Batch latency in milliseconds; overall includes queueing, writing covers the file write.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"phase"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batch writes by status.",
		}, []string{"status"}),
		entriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_written_total",
			Help:      "Entries durably written.",
		}),
		filesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_created_total",
			Help:      "Journal files created, including rotations.",
		}),
		activeSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_file_sequence",
			Help:      "Sequence number of the active journal file.",
		}),
		replaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Replays by outcome.",
		}, []string{"status"}),
		replayedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_records_total",
			Help:      "Records read by replays.",
		}),
		archiveUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_uploads_total",
			Help:      "Sealed file uploads by status.",
		}, []string{"status"}),
		archiveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_upload_duration_ms",
			Help:      "Sealed file upload duration in milliseconds.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		for _, col := range []prometheus.Collector{
			c.batchSize, c.batchDuration, c.batchesTotal, c.entriesTotal, c.filesTotal,
			c.activeSequence, c.replaysTotal, c.replayedRecords, c.archiveUploads, c.archiveDuration,
		} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func (c *Collector) ObserveBatch(size int, overall, writing time.Duration, err error) {
	if err != nil {
		c.batchesTotal.WithLabelValues("error").Inc()
		return
	}
	c.batchesTotal.WithLabelValues("ok").Inc()
	c.batchSize.Observe(float64(size))
	c.entriesTotal.Add(float64(size))
	c.batchDuration.WithLabelValues("overall").Observe(millis(overall))
	c.batchDuration.WithLabelValues("writing").Observe(millis(writing))
}

func (c *Collector) ObserveRotation(sequence int64) {
	c.filesTotal.Inc()
	c.activeSequence.Set(float64(sequence))
}

func (c *Collector) ObserveReplay(records int, err error) {
	c.replayedRecords.Add(float64(records))
	switch {
	case err == nil:
		c.replaysTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, storage.ErrCancelled):
		c.replaysTotal.WithLabelValues("cancelled").Inc()
	default:
		c.replaysTotal.WithLabelValues("error").Inc()
	}
}

func (c *Collector) ObserveArchiveUpload(elapsed time.Duration, err error) {
	if err != nil {
		c.archiveUploads.WithLabelValues("error").Inc()
		return
	}
	c.archiveUploads.WithLabelValues("ok").Inc()
	c.archiveDuration.Observe(millis(elapsed))
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
