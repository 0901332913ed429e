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
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/novatechflow/journal/pkg/journal"
	"github.com/novatechflow/journal/pkg/storage"
)

func newArchiveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy journal files to and from the S3 archive",
	}
	cmd.AddCommand(newArchivePushCmd(a), newArchiveRestoreCmd(a))
	return cmd
}

func (a *app) archiveClient(ctx context.Context, cfg journal.Config) (storage.S3Client, error) {
	if cfg.Archive.Bucket == "" {
		return nil, errors.New("archive.bucket (or JOURNAL_S3_BUCKET) is required")
	}
	client, err := a.newS3Client(ctx, cfg.Archive.S3Config())
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func newArchivePushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Upload every sealed journal file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			client, err := a.archiveClient(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			index, err := storage.LoadIndex(cfg.Directory)
			if err != nil {
				return err
			}
			archiver := storage.NewArchiver(client, cfg.Directory, storage.ArchiverConfig{
				Prefix:        cfg.Archive.Prefix,
				UploadTimeout: cfg.Archive.UploadTimeout(),
			}, a.logger)
			n, err := archiver.UploadSealed(cmd.Context(), index.Snapshot())
			if cerr := archiver.Close(cmd.Context()); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d sealed files\n", n)
			return nil
		},
	}
}

func newArchiveRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Download archived journal files missing from the directory",
		Long:  "Download archived journal files missing from the directory. No journal may be open on the directory while restoring.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Directory == "" {
				return errors.New("journal directory required")
			}
			client, err := a.archiveClient(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			restored, err := storage.Restore(cmd.Context(), client, cfg.Archive.Prefix, cfg.Directory)
			for _, d := range restored {
				fmt.Fprintln(cmd.OutOrStdout(), d.Name)
			}
			if err != nil {
				return err
			}
			if _, err := storage.LoadIndex(cfg.Directory); err != nil {
				return fmt.Errorf("restored directory is inconsistent: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d files\n", len(restored))
			return nil
		},
	}
}
