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
	"context"
	"sync"
	"time"
)

// Future is the single-assignment result of an Append. It resolves to the
// timestamp of the record the entry was written in, or to the write error.
type Future struct {
	once sync.Once
	done chan struct{}
	ts   time.Time
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(ts time.Time) {
	f.once.Do(func() {
		f.ts = ts
		close(f.done)
	})
}

func (f *Future) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the entry is durable or ctx ends. Giving up on the wait
// does not withdraw the entry.
func (f *Future) Wait(ctx context.Context) (time.Time, error) {
	select {
	case <-f.done:
		return f.ts, f.err
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	}
}
