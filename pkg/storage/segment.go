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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

const (
	segmentBufferSize = 64 << 10
	scanChunkSize     = 4 << 10
)

// segmentFile is the active journal file. It is owned by the writer goroutine.
type segmentFile struct {
	desc Descriptor
	path string
	file *os.File
	w    *bufio.Writer
	size int64
}

// openSegment opens path for appending, truncating any torn tail left by a
// crash in the middle of a record.
func openSegment(path string, desc Descriptor, logger *slog.Logger) (*segmentFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, desc.Name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, desc.Name, err)
	}
	size := info.Size()
	if size > 0 {
		end, err := completeLength(f, size)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: scan %s: %w", ErrIO, desc.Name, err)
		}
		if end < size {
			logger.Warn("truncating torn journal tail", "file", desc.Name, "size", size, "keep", end)
			if err := f.Truncate(end); err != nil {
				f.Close()
				return nil, fmt.Errorf("%w: truncate %s: %w", ErrIO, desc.Name, err)
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return nil, fmt.Errorf("%w: sync %s: %w", ErrIO, desc.Name, err)
			}
			size = end
		}
	}
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: seek %s: %w", ErrIO, desc.Name, err)
	}
	return &segmentFile{
		desc: desc,
		path: path,
		file: f,
		w:    bufio.NewWriterSize(f, segmentBufferSize),
		size: size,
	}, nil
}

// append writes one encoded record and makes it visible to readers.
func (s *segmentFile) append(line []byte, sync bool) error {
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, s.desc.Name, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("%w: flush %s: %w", ErrIO, s.desc.Name, err)
	}
	s.size += int64(len(line))
	if sync {
		if err := s.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync %s: %w", ErrIO, s.desc.Name, err)
		}
	}
	return nil
}

func (s *segmentFile) close() error {
	var errs []error
	if err := s.w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := s.file.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, s.desc.Name, err)
	}
	return nil
}

// lastIndexByte returns the offset of the last c in r[0:end), or -1.
func lastIndexByte(r io.ReaderAt, end int64, c byte) (int64, error) {
	buf := make([]byte, scanChunkSize)
	for end > 0 {
		start := max(end-scanChunkSize, 0)
		chunk := buf[:end-start]
		if n, err := r.ReadAt(chunk, start); err != nil && !(errors.Is(err, io.EOF) && n == len(chunk)) {
			return -1, err
		}
		if i := bytes.LastIndexByte(chunk, c); i >= 0 {
			return start + int64(i), nil
		}
		end = start
	}
	return -1, nil
}

// completeLength is the byte length of the file up to and including its last newline.
func completeLength(r io.ReaderAt, size int64) (int64, error) {
	nl, err := lastIndexByte(r, size, '\n')
	if err != nil {
		return 0, err
	}
	return nl + 1, nil
}

// lastLine returns the final complete record line of a file, or nil when the
// file holds none. Only the bytes of that line are read.
func lastLine(r io.ReaderAt, size int64) ([]byte, error) {
	end, err := lastIndexByte(r, size, '\n')
	if err != nil || end < 0 {
		return nil, err
	}
	start, err := lastIndexByte(r, end, '\n')
	if err != nil {
		return nil, err
	}
	line := make([]byte, end-start-1)
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty record line", ErrFormat)
	}
	if n, err := r.ReadAt(line, start+1); err != nil && !(errors.Is(err, io.EOF) && n == len(line)) {
		return nil, err
	}
	return line, nil
}
