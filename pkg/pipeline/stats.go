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

import "log/slog"

// Stats aggregates Results. Not safe for concurrent use: feed it from a
// single reducer goroutine.
type Stats struct {
	Processed  int64
	Indexed    int64
	Duplicates int64
	Unchanged  int64
	Deleted    int64
	Empty      int64
	Failed     int64

	ChunksIndexed  int64
	RecordsDeleted int64

	totalMS   int64
	fetchMS   int64
	extractMS int64
	embedMS   int64
	indexMS   int64
}

// Add folds one result into the aggregate.
func (s *Stats) Add(res Result) {
	s.Processed++
	switch res.Outcome {
	case OutcomeIndexed:
		s.Indexed++
		s.ChunksIndexed += int64(res.Chunks)
	case OutcomeDuplicate:
		s.Duplicates++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeDeleted:
		s.Deleted++
		s.RecordsDeleted += int64(res.Deleted)
	case OutcomeEmpty:
		s.Empty++
	case OutcomeFailed:
		s.Failed++
	}
	s.totalMS += res.Timing.TotalMS
	s.fetchMS += res.Timing.FetchMS
	s.extractMS += res.Timing.ExtractMS
	s.embedMS += res.Timing.EmbedMS
	s.indexMS += res.Timing.IndexMS
}

// AvgTotalMS is the mean end-to-end processing time per document.
func (s *Stats) AvgTotalMS() int64 {
	if s.Processed == 0 {
		return 0
	}
	return s.totalMS / s.Processed
}

// LogSummary emits one aggregate line, used when a scan or sweep
// completes.
func (s *Stats) LogSummary(label string) {
	slog.Info(label,
		"processed", s.Processed,
		"indexed", s.Indexed,
		"duplicates", s.Duplicates,
		"unchanged", s.Unchanged,
		"deleted", s.Deleted,
		"empty", s.Empty,
		"failed", s.Failed,
		"chunks_indexed", s.ChunksIndexed,
		"records_deleted", s.RecordsDeleted,
		"avg_total_ms", s.AvgTotalMS(),
		"avg_fetch_ms", s.avg(s.fetchMS),
		"avg_extract_ms", s.avg(s.extractMS),
		"avg_embed_ms", s.avg(s.embedMS),
		"avg_index_ms", s.avg(s.indexMS))
}

func (s *Stats) avg(sum int64) int64 {
	if s.Processed == 0 {
		return 0
	}
	return sum / s.Processed
}
