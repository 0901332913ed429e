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
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/novatechflow/journal/pkg/storage"
)

const (
	defaultBatchSize           = 1
	defaultBatchTimeout        = 100 * time.Millisecond
	throughputBatchSize        = 100
	throughputBatchTimeout     = 10 * time.Millisecond
	defaultStatisticsRetention = 10000
	defaultUploadTimeout       = 30 * time.Second
)

// Config holds the options recognized by Open.
type Config struct {
	Directory   string `yaml:"directory"`
	MaxFileSize int64  `yaml:"max_file_size"`
	BatchSize   int    `yaml:"batch_size"`
	// BatchTimeoutMS bounds how long an entry waits for its batch to fill.
	BatchTimeoutMS int  `yaml:"batch_timeout_ms"`
	SyncWrites     bool `yaml:"sync_writes"`
	// StatisticsRetention caps the per-batch statistics kept in memory.
	StatisticsRetention int           `yaml:"statistics_retention"`
	Archive             ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig enables background upload of sealed files to S3.
type ArchiveConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	Prefix         string `yaml:"prefix"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	KMSKeyARN      string `yaml:"kms_key_arn"`
	// Static credentials; the default AWS chain is used when empty.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UploadTimeoutMS int    `yaml:"upload_timeout_ms"`
}

// DefaultConfig favors latency: every append is its own batch.
func DefaultConfig(dir string) Config {
	return Config{
		Directory:           dir,
		MaxFileSize:         storage.DefaultMaxFileSize,
		BatchSize:           defaultBatchSize,
		BatchTimeoutMS:      int(defaultBatchTimeout / time.Millisecond),
		SyncWrites:          true,
		StatisticsRetention: defaultStatisticsRetention,
		Archive: ArchiveConfig{
			UploadTimeoutMS: int(defaultUploadTimeout / time.Millisecond),
		},
	}
}

// ThroughputConfig batches up to 100 appends and waits at most 10ms.
func ThroughputConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.BatchSize = throughputBatchSize
	cfg.BatchTimeoutMS = int(throughputBatchTimeout / time.Millisecond)
	return cfg
}

// BatchTimeout returns the flush timeout as a duration.
func (c Config) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMS) * time.Millisecond
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Directory) == "" {
		errs = append(errs, errors.New("directory required"))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("max_file_size must be positive, got %d", c.MaxFileSize))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.BatchTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("batch_timeout_ms must be positive, got %d", c.BatchTimeoutMS))
	}
	if c.StatisticsRetention < 0 {
		errs = append(errs, fmt.Errorf("statistics_retention must not be negative, got %d", c.StatisticsRetention))
	}
	if c.Archive.UploadTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("archive.upload_timeout_ms must not be negative, got %d", c.Archive.UploadTimeoutMS))
	}
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket required when archive is enabled"))
		}
		if c.Archive.Region == "" {
			errs = append(errs, errors.New("archive.region required when archive is enabled"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid journal config: %w", err)
	}
	return nil
}

// UploadTimeout bounds one archive upload. Zero falls back to the default so
// a hung request can never stall Close.
func (a ArchiveConfig) UploadTimeout() time.Duration {
	if a.UploadTimeoutMS <= 0 {
		return defaultUploadTimeout
	}
	return time.Duration(a.UploadTimeoutMS) * time.Millisecond
}

// S3Config converts the archive section into storage connection settings.
func (a ArchiveConfig) S3Config() storage.S3Config {
	return storage.S3Config{
		Bucket:          a.Bucket,
		Region:          a.Region,
		Endpoint:        a.Endpoint,
		ForcePathStyle:  a.ForcePathStyle,
		AccessKeyID:     a.AccessKeyID,
		SecretAccessKey: a.SecretAccessKey,
		KMSKeyARN:       a.KMSKeyARN,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig("")
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ConfigFromEnv overrides base with JOURNAL_* environment variables.
// Unparseable values keep the base setting.
func ConfigFromEnv(base Config) Config {
	cfg := base
	cfg.Directory = envOrDefault("JOURNAL_DIR", cfg.Directory)
	cfg.MaxFileSize = parseEnvInt64("JOURNAL_MAX_FILE_BYTES", cfg.MaxFileSize)
	cfg.BatchSize = parseEnvInt("JOURNAL_BATCH_SIZE", cfg.BatchSize)
	cfg.BatchTimeoutMS = parseEnvInt("JOURNAL_BATCH_TIMEOUT_MS", cfg.BatchTimeoutMS)
	cfg.SyncWrites = parseEnvBool("JOURNAL_SYNC_WRITES", cfg.SyncWrites)
	cfg.StatisticsRetention = parseEnvInt("JOURNAL_STATISTICS_RETENTION", cfg.StatisticsRetention)

	cfg.Archive.Enabled = parseEnvBool("JOURNAL_S3_ENABLED", cfg.Archive.Enabled)
	cfg.Archive.Bucket = envOrDefault("JOURNAL_S3_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.Region = envOrDefault("JOURNAL_S3_REGION", cfg.Archive.Region)
	cfg.Archive.Endpoint = envOrDefault("JOURNAL_S3_ENDPOINT", cfg.Archive.Endpoint)
	cfg.Archive.Prefix = envOrDefault("JOURNAL_S3_PREFIX", cfg.Archive.Prefix)
	cfg.Archive.ForcePathStyle = parseEnvBool("JOURNAL_S3_PATH_STYLE", cfg.Archive.ForcePathStyle)
	cfg.Archive.KMSKeyARN = envOrDefault("JOURNAL_S3_KMS_ARN", cfg.Archive.KMSKeyARN)
	cfg.Archive.AccessKeyID = envOrDefault("JOURNAL_S3_ACCESS_KEY", cfg.Archive.AccessKeyID)
	cfg.Archive.SecretAccessKey = envOrDefault("JOURNAL_S3_SECRET_KEY", cfg.Archive.SecretAccessKey)
	cfg.Archive.UploadTimeoutMS = parseEnvInt("JOURNAL_S3_UPLOAD_TIMEOUT_MS", cfg.Archive.UploadTimeoutMS)
	return cfg
}

func envOrDefault(name, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		return val
	}
	return fallback
}

func parseEnvInt(name string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvInt64(name string, fallback int64) int64 {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseEnvBool(name string, fallback bool) bool {
	if val := strings.TrimSpace(os.Getenv(name)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
