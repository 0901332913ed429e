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
	"errors"
	"math"
	"time"

	"github.com/novatechflow/journal/pkg/codec"
)

var (
	// ErrFormat is returned for malformed file names and record lines.
	ErrFormat = codec.ErrFormat
	// ErrIO wraps disk read or write failures.
	ErrIO = errors.New("journal i/o failure")
	// ErrCancelled is returned when a range read is cancelled by its context.
	ErrCancelled = errors.New("journal read cancelled")
)

var (
	// MinTimestamp is returned by ReadLatestTimestamp when the journal holds no record.
	MinTimestamp = codec.FromTicks(0)
	// MaxTimestamp is the open upper bound for range reads.
	MaxTimestamp = codec.FromTicks(math.MaxInt64)
)

// DefaultMaxFileSize is the rotation threshold used when none is configured.
const DefaultMaxFileSize int64 = 10 << 20

// PersistorConfig controls file rotation and durability.
type PersistorConfig struct {
	Dir         string
	MaxFileSize int64
	// SyncWrites fsyncs the active file after every record.
	SyncWrites bool
	// OnSeal is invoked on the writer goroutine after a file is rotated out.
	OnSeal func(Descriptor)
	// OnRotate is invoked after a new file becomes active.
	OnRotate func(Descriptor)
}

func clampRange(first, last time.Time) (time.Time, time.Time) {
	if first.IsZero() || first.Before(MinTimestamp) {
		first = MinTimestamp
	}
	if last.IsZero() {
		last = MaxTimestamp
	}
	return first, last
}
