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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/novatechflow/journal/pkg/journal"
	"github.com/novatechflow/journal/pkg/storage"
)

func newAppendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "append <text>...",
		Short: "Append each argument as a string payload",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			j, err := a.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			futures := make([]*journal.Future, 0, len(args))
			for _, text := range args {
				futures = append(futures, j.Append(text))
			}
			var errs []error
			for i, f := range futures {
				ts, err := f.Wait(cmd.Context())
				if err != nil {
					errs = append(errs, fmt.Errorf("append %q: %w", args[i], err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ts.Format(time.RFC3339Nano), args[i])
			}
			errs = append(errs, j.Close())
			return errors.Join(errs...)
		},
	}
}

func newReplayCmd(a *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Print the payloads recorded in a time range",
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			j, err := a.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer j.Close()

			reg := newRegistry()
			for rec, err := range j.ReplayRecords(cmd.Context(), first, last) {
				if err != nil {
					return err
				}
				for _, p := range rec.Payloads {
					data, err := reg.EncodePayload(p)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rec.Timestamp.Format(time.RFC3339Nano), data)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first timestamp (RFC 3339), inclusive")
	cmd.Flags().StringVar(&to, "to", "", "last timestamp (RFC 3339), inclusive")
	return cmd
}

func newLatestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the timestamp of the newest record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			j, err := a.open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer j.Close()
			ts, err := j.ReadLatestTimestamp()
			if err != nil {
				return err
			}
			if ts.Equal(storage.MinTimestamp) {
				fmt.Fprintln(cmd.OutOrStdout(), "empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), ts.Format(time.RFC3339Nano))
			return nil
		},
	}
}

func newFilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List the journal files in sequence order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := requireDir(cfg.Directory); err != nil {
				return err
			}
			index, err := storage.LoadIndex(cfg.Directory)
			if err != nil {
				return err
			}
			for _, d := range index.Snapshot() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", d.Sequence, d.First.Format(time.RFC3339Nano), d.Name)
			}
			return nil
		},
	}
}

// requireDir keeps read-only commands from creating a mistyped directory.
func requireDir(dir string) error {
	if dir == "" {
		return errors.New("journal directory required")
	}
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("journal directory %s not found", dir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
