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
	"fmt"
	"strconv"
	"time"

	"github.com/novatechflow/journal/pkg/codec"
)

const (
	fileSuffix   = ".journal"
	seqWidth     = 8
	ticksWidth   = 19
	fileNameLen  = seqWidth + 1 + ticksWidth + len(fileSuffix)
	maxSequence  = 99999999
	fileNameForm = "%08d.%019d" + fileSuffix
)

// Descriptor identifies one journal file by its rotation sequence and the
// timestamp of its first record.
type Descriptor struct {
	Sequence int64
	First    time.Time
	Name     string
}

// NewDescriptor builds the descriptor and file name for (seq, first).
func NewDescriptor(seq int64, first time.Time) (Descriptor, error) {
	if seq < 0 || seq > maxSequence {
		return Descriptor{}, fmt.Errorf("%w: sequence %d out of range", ErrFormat, seq)
	}
	ticks := codec.Ticks(first)
	if ticks < 0 {
		return Descriptor{}, fmt.Errorf("%w: first timestamp %s before epoch", ErrFormat, first)
	}
	return Descriptor{
		Sequence: seq,
		First:    codec.FromTicks(ticks),
		Name:     fmt.Sprintf(fileNameForm, seq, ticks),
	}, nil
}

// ParseDescriptor decodes a file name of the form
// <sequence:8 digits>.<first ticks:19 digits>.journal.
func ParseDescriptor(name string) (Descriptor, error) {
	if len(name) != fileNameLen || name[seqWidth] != '.' || name[seqWidth+1+ticksWidth:] != fileSuffix {
		return Descriptor{}, fmt.Errorf("%w: journal file name %q", ErrFormat, name)
	}
	seqPart := name[:seqWidth]
	ticksPart := name[seqWidth+1 : seqWidth+1+ticksWidth]
	if !allDigits(seqPart) || !allDigits(ticksPart) {
		return Descriptor{}, fmt.Errorf("%w: journal file name %q", ErrFormat, name)
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: journal file name %q: %v", ErrFormat, name, err)
	}
	ticks, err := strconv.ParseInt(ticksPart, 10, 64)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: journal file name %q: %v", ErrFormat, name, err)
	}
	return Descriptor{Sequence: seq, First: codec.FromTicks(ticks), Name: name}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
