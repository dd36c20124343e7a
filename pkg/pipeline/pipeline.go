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

// Package pipeline runs the per-document state machine: fetch, extract,
// fingerprint, dedup-check, chunk, embed, index. One WorkEvent in, one
// terminal Result out. A failure on one document never propagates to
// the caller as an error; it is a Result with outcome failed.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/kadirpekel/docsync/pkg/chunker"
	"github.com/kadirpekel/docsync/pkg/extract"
	"github.com/kadirpekel/docsync/pkg/httpclient"
	"github.com/kadirpekel/docsync/pkg/index"
	"github.com/kadirpekel/docsync/pkg/objstore"
)

// ObjectStore is the subset of the object store the pipeline needs.
type ObjectStore interface {
	Stat(ctx context.Context, key string) (objstore.Object, bool, error)
	Get(ctx context.Context, key string) (*objstore.RawDocument, error)
}

// Extractor turns raw bytes into cleaned text.
type Extractor interface {
	Extract(ctx context.Context, raw *objstore.RawDocument) (*extract.ExtractedDocument, error)
}

// Embedder turns chunk texts into vectors, order-preserving.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer is the subset of the index driver the pipeline needs.
type Indexer interface {
	LookupByFingerprint(ctx context.Context, contentHash string) (string, bool, error)
	UpsertDocument(ctx context.Context, storageKey string, records []index.Record) error
	DeleteByStorageKey(ctx context.Context, storageKey string) (int, error)
}

// Deps carries the pipeline's collaborators. No globals: everything the
// pipeline touches arrives here.
type Deps struct {
	Store     ObjectStore
	Extractor Extractor
	Chunker   *chunker.Chunker
	Embedder  Embedder
	Indexer   Indexer
	Metrics   *Metrics
}

// Pipeline processes WorkEvents.
type Pipeline struct {
	deps Deps
}

// New creates a pipeline. Metrics may be nil.
func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Process drives one WorkEvent to its terminal outcome. The returned
// Result is the only record of what happened; Process itself never
// returns an error.
func (p *Pipeline) Process(ctx context.Context, ev WorkEvent) Result {
	start := time.Now()

	var res Result
	switch ev.Kind {
	case KindDelete:
		res = p.processDelete(ctx, ev)
	default:
		res = p.processCreate(ctx, ev)
	}
	res.Timing.TotalMS = time.Since(start).Milliseconds()

	p.observe(res)
	return res
}

func (p *Pipeline) processCreate(ctx context.Context, ev WorkEvent) Result {
	res := Result{Event: ev}

	// A missing object means a delete raced ahead of us or the event
	// is stale. Either way the index must not keep the key.
	fetchStart := time.Now()
	_, found, err := p.deps.Store.Stat(ctx, ev.StorageKey)
	if err != nil {
		return p.fail(res, fmt.Errorf("stat: %w", err))
	}
	if !found {
		slog.Debug("Object gone before processing, deleting from index", "key", ev.StorageKey)
		del := p.processDelete(ctx, ev)
		del.Timing.FetchMS = time.Since(fetchStart).Milliseconds()
		return del
	}

	raw, err := p.deps.Store.Get(ctx, ev.StorageKey)
	if err != nil {
		return p.fail(res, fmt.Errorf("fetch: %w", err))
	}
	res.Timing.FetchMS = time.Since(fetchStart).Milliseconds()

	extractStart := time.Now()
	doc, err := p.deps.Extractor.Extract(ctx, raw)
	if err != nil {
		return p.fail(res, fmt.Errorf("extract: %w", err))
	}
	res.Timing.ExtractMS = time.Since(extractStart).Milliseconds()

	if strings.TrimSpace(doc.CleanedText) == "" {
		res.Outcome = OutcomeEmpty
		return res
	}

	hashStart := time.Now()
	fingerprint := Fingerprint(doc.CleanedText)
	res.Timing.HashMS = time.Since(hashStart).Milliseconds()

	dedupStart := time.Now()
	holder, exists, err := p.deps.Indexer.LookupByFingerprint(ctx, fingerprint)
	if err != nil {
		return p.fail(res, fmt.Errorf("dedup lookup: %w", err))
	}
	res.Timing.DedupMS = time.Since(dedupStart).Milliseconds()

	if exists {
		if holder == ev.StorageKey {
			// Same key, same content: already indexed.
			res.Outcome = OutcomeUnchanged
			return res
		}
		slog.Info("Duplicate content, skipping indexing",
			"key", ev.StorageKey, "original", holder)
		res.Outcome = OutcomeDuplicate
		res.DuplicateOf = holder
		return res
	}

	chunkStart := time.Now()
	chunks := p.deps.Chunker.Split(doc.CleanedText)
	res.Timing.ChunkMS = time.Since(chunkStart).Milliseconds()
	if len(chunks) == 0 {
		res.Outcome = OutcomeEmpty
		return res
	}

	embedStart := time.Now()
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := p.deps.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return p.fail(res, fmt.Errorf("embed: %w", err))
	}
	if len(vectors) != len(chunks) {
		return p.fail(res, fmt.Errorf("embed: %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	res.Timing.EmbedMS = time.Since(embedStart).Milliseconds()

	indexStart := time.Now()
	records := buildRecords(ev.StorageKey, doc, chunks, vectors, fingerprint)
	if err := p.deps.Indexer.UpsertDocument(ctx, ev.StorageKey, records); err != nil {
		return p.fail(res, fmt.Errorf("index: %w", err))
	}
	res.Timing.IndexMS = time.Since(indexStart).Milliseconds()

	res.Outcome = OutcomeIndexed
	res.Chunks = len(records)
	return res
}

func (p *Pipeline) processDelete(ctx context.Context, ev WorkEvent) Result {
	res := Result{Event: ev}

	indexStart := time.Now()
	n, err := p.deps.Indexer.DeleteByStorageKey(ctx, ev.StorageKey)
	if err != nil {
		return p.fail(res, fmt.Errorf("delete: %w", err))
	}
	res.Timing.IndexMS = time.Since(indexStart).Milliseconds()

	res.Outcome = OutcomeDeleted
	res.Deleted = n
	return res
}

func (p *Pipeline) fail(res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Transient = isTransient(err)
	slog.Warn("Document processing failed",
		"key", res.Event.StorageKey,
		"kind", res.Event.Kind.String(),
		"origin", string(res.Event.Origin),
		"transient", res.Transient,
		"error", err)
	return res
}

func (p *Pipeline) observe(res Result) {
	m := p.deps.Metrics
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(res.Outcome), string(res.Event.Origin)).Inc()
	if res.Outcome == OutcomeIndexed {
		m.ChunksIndexed.Add(float64(res.Chunks))
	}
	if res.Outcome == OutcomeDeleted {
		m.RecordsDeleted.Add(float64(res.Deleted))
	}
	if !res.Event.EnqueuedAt.IsZero() {
		m.QueueLag.Observe(time.Since(res.Event.EnqueuedAt).Seconds())
	}
	m.observeTiming(res.Timing)
}

// Fingerprint is the hex SHA-256 digest of cleaned text; the dedup key.
func Fingerprint(cleanedText string) string {
	sum := sha256.Sum256([]byte(cleanedText))
	return hex.EncodeToString(sum[:])
}

func buildRecords(storageKey string, doc *extract.ExtractedDocument, chunks []chunker.Chunk, vectors [][]float32, fingerprint string) []index.Record {
	fileName := path.Base(storageKey)
	fileType := strings.TrimPrefix(strings.ToLower(path.Ext(storageKey)), ".")

	records := make([]index.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = index.Record{
			StorageKey:  storageKey,
			FileName:    fileName,
			FileType:    fileType,
			Content:     ch.Text,
			ContentHash: fingerprint,
			Vector:      vectors[i],
			ChunkIndex:  ch.Index,
			ChunkCount:  len(chunks),
		}
	}
	return records
}

// isTransient classifies failures for the redelivery decision. Retry
// exhaustion and cancellation point at service conditions that a later
// attempt may not hit; anything else is taken as permanent.
func isTransient(err error) bool {
	if httpclient.IsRetryExhausted(err) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var storeErr *objstore.StoreError
	if errors.As(err, &storeErr) {
		return true
	}
	return false
}
