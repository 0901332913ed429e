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

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/novatechflow/journal/pkg/codec"
	"github.com/novatechflow/journal/pkg/export"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		brokers   string
		topic     string
		from, to  string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Produce the payloads of a time range to a Kafka topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			seeds := splitList(brokers)
			if len(seeds) == 0 {
				return errors.New("--brokers is required")
			}
			first, err := parseBound(from)
			if err != nil {
				return err
			}
			last, err := parseBound(to)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			producer, err := a.newProducer(seeds)
			if err != nil {
				return fmt.Errorf("create kafka client: %w", err)
			}
			defer producer.Close()

			exporter, err := export.NewKafkaExporter(producer, codec.New(newRegistry()), export.KafkaConfig{
				Topic:     topic,
				BatchSize: batchSize,
			}, a.logger)
			if err != nil {
				return err
			}
			j, err := a.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			n, err := exporter.Export(cmd.Context(), j.ReplayRecords(cmd.Context(), first, last))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d payloads to %s\n", n, topic)
			return nil
		},
	}
	cmd.Flags().StringVar(&brokers, "brokers", "", "comma separated Kafka seed brokers")
	cmd.Flags().StringVar(&topic, "topic", "journal", "destination topic")
	cmd.Flags().StringVar(&from, "from", "", "first timestamp (RFC 3339), inclusive")
	cmd.Flags().StringVar(&to, "to", "", "last timestamp (RFC 3339), inclusive")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per produce call")
	return cmd
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
