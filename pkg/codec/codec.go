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

package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
)

// ErrFormat is returned for record lines that are not valid journal records.
var ErrFormat = errors.New("malformed journal record")

// Record is one line of a journal file: a batch of payloads sharing a timestamp.
type Record struct {
	Timestamp time.Time
	Payloads  []any
}

// Ticks converts a timestamp into its on-disk representation.
func Ticks(t time.Time) int64 {
	return t.UnixNano()
}

// FromTicks is the inverse of Ticks. The result is always UTC.
func FromTicks(ticks int64) time.Time {
	return time.Unix(0, ticks).UTC()
}

// Codec encodes and decodes record lines of the form
//
//	{"t":<ticks>,"c":[<payload>,...]}\n
type Codec struct {
	registry *Registry
}

// New returns a codec using reg for payload tagging. A nil registry only
// accepts built-in payloads.
func New(reg *Registry) *Codec {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Codec{registry: reg}
}

// Registry returns the payload registry backing the codec.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// Encode renders one newline-terminated record line.
func (c *Codec) Encode(ts time.Time, payloads []any) ([]byte, error) {
	buf := make([]byte, 0, 32+16*len(payloads))
	buf = append(buf, `{"t":`...)
	buf = strconv.AppendInt(buf, Ticks(ts), 10)
	buf = append(buf, `,"c":[`...)
	for i, p := range payloads {
		data, err := c.registry.EncodePayload(p)
		if err != nil {
			return nil, fmt.Errorf("encode payload %d: %w", i, err)
		}
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, data...)
	}
	buf = append(buf, "]}\n"...)
	return buf, nil
}

// Decode parses a record line. The trailing newline is optional.
func (c *Codec) Decode(line []byte) (Record, error) {
	line = bytes.TrimRight(line, "\r\n")
	ts, err := DecodeTimestamp(line)
	if err != nil {
		return Record{}, err
	}
	value, dataType, _, err := jsonparser.Get(line, "c")
	if err != nil || dataType != jsonparser.Array {
		return Record{}, fmt.Errorf("%w: missing payload list", ErrFormat)
	}
	payloads := make([]any, 0, 4)
	var decodeErr error
	_, err = jsonparser.ArrayEach(value, func(v []byte, vt jsonparser.ValueType, _ int, cbErr error) {
		if decodeErr != nil {
			return
		}
		if cbErr != nil {
			decodeErr = fmt.Errorf("%w: %v", ErrFormat, cbErr)
			return
		}
		p, err := c.registry.decodeValue(v, vt)
		if err != nil {
			decodeErr = fmt.Errorf("decode payload %d: %w", len(payloads), err)
			return
		}
		payloads = append(payloads, p)
	})
	if decodeErr != nil {
		return Record{}, decodeErr
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: payload list: %v", ErrFormat, err)
	}
	return Record{Timestamp: ts, Payloads: payloads}, nil
}

// DecodeTimestamp reads only the "t" member of a record line.
func DecodeTimestamp(line []byte) (time.Time, error) {
	ticks, err := jsonparser.GetInt(line, "t")
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrFormat, err)
	}
	if ticks < 0 {
		return time.Time{}, fmt.Errorf("%w: negative timestamp %d", ErrFormat, ticks)
	}
	return FromTicks(ticks), nil
}
