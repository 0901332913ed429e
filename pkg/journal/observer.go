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

import "time"

// Observer receives journal activity for monitoring. Calls are made from the
// writer goroutine or the replaying goroutine and must not block.
type Observer interface {
	ObserveBatch(size int, overall, writing time.Duration, err error)
	ObserveRotation(sequence int64)
	ObserveReplay(records int, err error)
}

// ArchiveObserver is optionally implemented by an Observer to follow uploads
// of sealed files.
type ArchiveObserver interface {
	ObserveArchiveUpload(elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveBatch(int, time.Duration, time.Duration, error) {}
func (nopObserver) ObserveRotation(int64)                               {}
func (nopObserver) ObserveReplay(int, error)                            {}
