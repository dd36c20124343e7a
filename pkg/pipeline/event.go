// Copyright 2025 Kadir Pekel
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

package pipeline

import "time"

// Kind says what should happen to a storage key.
type Kind int

const (
	KindCreate Kind = iota
	KindDelete
)

func (k Kind) String() string {
	if k == KindDelete {
		return "delete"
	}
	return "create"
}

// Origin records which event source produced a WorkEvent.
type Origin string

const (
	OriginScan      Origin = "scan"
	OriginQueue     Origin = "queue"
	OriginReconcile Origin = "reconcile"
)

// WorkEvent is one unit of work handed to the pipeline.
type WorkEvent struct {
	Kind       Kind
	StorageKey string
	Origin     Origin
	EnqueuedAt time.Time
}

// Outcome is the terminal state of one processed WorkEvent. Every event
// reaches exactly one.
type Outcome string

const (
	OutcomeIndexed   Outcome = "indexed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
)

// Timing holds per-phase wall-clock durations for one document, in
// milliseconds. Phases that did not run stay zero.
type Timing struct {
	FetchMS   int64
	ExtractMS int64
	HashMS    int64
	DedupMS   int64
	ChunkMS   int64
	EmbedMS   int64
	IndexMS   int64
	TotalMS   int64
}

// Result is the terminal record of one WorkEvent.
type Result struct {
	Event   WorkEvent
	Outcome Outcome

	// DuplicateOf is the storage key already holding this content when
	// Outcome is duplicate.
	DuplicateOf string

	// Chunks is the number of records indexed when Outcome is indexed.
	Chunks int

	// Deleted is the number of records removed when Outcome is deleted.
	Deleted int

	// Err is set when Outcome is failed.
	Err error

	// Transient marks a failure worth redelivering: the same event may
	// succeed on retry (service outages, timeouts). Permanent failures
	// (unparseable file, unsupported type) are terminal.
	Transient bool

	Timing Timing
}

// Terminal reports whether the event should be acknowledged at its
// source. Every outcome is terminal except a transient failure.
func (r Result) Terminal() bool {
	return r.Outcome != OutcomeFailed || !r.Transient
}
