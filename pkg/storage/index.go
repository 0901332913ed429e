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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileIndex is the ordered set of journal files in one directory. Readers take
// snapshots; only the writer appends, and only on rotation.
type FileIndex struct {
	dir   string
	mu    sync.RWMutex
	files []Descriptor
}

// LoadIndex scans dir (creating it when missing) and returns its files sorted
// by sequence. Any *.journal entry that does not parse is fatal.
func LoadIndex(dir string) (*FileIndex, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIO, dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrIO, dir, err)
	}
	files := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		desc, err := ParseDescriptor(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("load index %s: %w", dir, err)
		}
		files = append(files, desc)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Sequence < files[j].Sequence
	})
	for i := 1; i < len(files); i++ {
		prev, cur := files[i-1], files[i]
		if prev.Sequence == cur.Sequence {
			return nil, fmt.Errorf("%w: duplicate sequence %d (%s, %s)", ErrFormat, cur.Sequence, prev.Name, cur.Name)
		}
		if cur.First.Before(prev.First) {
			return nil, fmt.Errorf("%w: %s starts before %s", ErrFormat, cur.Name, prev.Name)
		}
	}
	return &FileIndex{dir: dir, files: files}, nil
}

// Dir returns the journal directory.
func (ix *FileIndex) Dir() string {
	return ix.dir
}

// Path returns the absolute location of a descriptor's file.
func (ix *FileIndex) Path(d Descriptor) string {
	return filepath.Join(ix.dir, d.Name)
}

// Snapshot returns a copy of the current descriptors.
func (ix *FileIndex) Snapshot() []Descriptor {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Descriptor, len(ix.files))
	copy(out, ix.files)
	return out
}

func (ix *FileIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.files)
}

// Last returns the newest descriptor.
func (ix *FileIndex) Last() (Descriptor, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(ix.files) == 0 {
		return Descriptor{}, false
	}
	return ix.files[len(ix.files)-1], true
}

// Append adds the descriptor of a newly created file. The sequence must follow
// the last one and the first timestamp must not go backwards.
func (ix *FileIndex) Append(d Descriptor) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if n := len(ix.files); n > 0 {
		last := ix.files[n-1]
		if d.Sequence != last.Sequence+1 {
			return fmt.Errorf("index append: sequence %d does not follow %d", d.Sequence, last.Sequence)
		}
		if d.First.Before(last.First) {
			return fmt.Errorf("index append: %s starts before %s", d.Name, last.Name)
		}
	}
	ix.files = append(ix.files, d)
	return nil
}
