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

package export

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/novatechflow/journal/pkg/codec"
)

const (
	defaultBatchSize = 500
	// HeaderSequence carries the index of the payload within its journal record.
	HeaderSequence = "journal-seq"
)

// ErrTopicRequired is returned when the exporter has no destination topic.
var ErrTopicRequired = errors.New("export topic required")

// Producer is the subset of *kgo.Client used by the exporter.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaConfig configures a KafkaExporter.
type KafkaConfig struct {
	Topic string
	// BatchSize is the number of records sent per ProduceSync call.
	BatchSize int
}

// KafkaExporter publishes journal payloads to a Kafka topic. Every payload
// becomes one Kafka record keyed by its journal record's tick count; the value
// is the tagged payload JSON, so consumers decode it with the same registry.
type KafkaExporter struct {
	producer Producer
	codec    *codec.Codec
	cfg      KafkaConfig
	logger   *slog.Logger
}

// NewKafkaExporter builds an exporter writing through producer.
func NewKafkaExporter(producer Producer, c *codec.Codec, cfg KafkaConfig, logger *slog.Logger) (*KafkaExporter, error) {
	if cfg.Topic == "" {
		return nil, ErrTopicRequired
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if c == nil {
		c = codec.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaExporter{producer: producer, codec: c, cfg: cfg, logger: logger}, nil
}

// Export drains records into the topic and returns how many payloads were
// produced. It stops at the first read or produce error.
func (e *KafkaExporter) Export(ctx context.Context, records iter.Seq2[codec.Record, error]) (int, error) {
	batch := make([]*kgo.Record, 0, e.cfg.BatchSize)
	exported := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.producer.ProduceSync(ctx, batch...).FirstErr(); err != nil {
			return fmt.Errorf("produce to %s: %w", e.cfg.Topic, err)
		}
		exported += len(batch)
		batch = batch[:0]
		return nil
	}
	for rec, err := range records {
		if err != nil {
			return exported, err
		}
		key := strconv.AppendInt(nil, codec.Ticks(rec.Timestamp), 10)
		for i, p := range rec.Payloads {
			kr, err := e.record(key, rec.Timestamp, i, p)
			if err != nil {
				return exported, err
			}
			batch = append(batch, kr)
			if len(batch) >= e.cfg.BatchSize {
				if err := flush(); err != nil {
					return exported, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return exported, err
	}
	e.logger.Info("journal exported", "topic", e.cfg.Topic, "payloads", exported)
	return exported, nil
}

func (e *KafkaExporter) record(key []byte, ts time.Time, seq int, payload any) (*kgo.Record, error) {
	value, err := e.codec.Registry().EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic:     e.cfg.Topic,
		Key:       key,
		Value:     value,
		Timestamp: ts,
		Headers: []kgo.RecordHeader{
			{Key: HeaderSequence, Value: strconv.AppendInt(nil, int64(seq), 10)},
		},
	}, nil
}
