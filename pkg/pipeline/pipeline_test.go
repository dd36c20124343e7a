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

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docsync/pkg/chunker"
	"github.com/kadirpekel/docsync/pkg/config"
	"github.com/kadirpekel/docsync/pkg/embed"
	"github.com/kadirpekel/docsync/pkg/extract"
	"github.com/kadirpekel/docsync/pkg/index"
	"github.com/kadirpekel/docsync/pkg/objstore"
)

type fakeStore struct {
	objects map[string]string
	getErr  error
}

func (f *fakeStore) Stat(ctx context.Context, key string) (objstore.Object, bool, error) {
	text, ok := f.objects[key]
	if !ok {
		return objstore.Object{}, false, nil
	}
	return objstore.Object{Key: key, Size: int64(len(text))}, true, nil
}

func (f *fakeStore) Get(ctx context.Context, key string) (*objstore.RawDocument, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	text := f.objects[key]
	return &objstore.RawDocument{Key: key, Bytes: []byte(text), Size: int64(len(text))}, nil
}

// fakeExtractor passes the raw bytes through as cleaned text.
type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(ctx context.Context, raw *objstore.RawDocument) (*extract.ExtractedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &extract.ExtractedDocument{
		Key:         raw.Key,
		CleanedText: string(raw.Bytes),
		Method:      extract.MethodPlainText,
	}, nil
}

type fakeEmbedder struct {
	err   error
	short bool
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short && n > 0 {
		n--
	}
	vectors := make([][]float32, n)
	for i := range vectors {
		vectors[i] = []float32{1, 2, 3}
	}
	return vectors, nil
}

type upsertCall struct {
	key     string
	records []index.Record
}

type fakeIndexer struct {
	byHash    map[string]string
	deleted   map[string]int
	upserts   []upsertCall
	deletes   []string
	lookupErr error
	upsertErr error
	deleteErr error
}

func (f *fakeIndexer) LookupByFingerprint(ctx context.Context, hash string) (string, bool, error) {
	if f.lookupErr != nil {
		return "", false, f.lookupErr
	}
	key, ok := f.byHash[hash]
	return key, ok, nil
}

func (f *fakeIndexer) UpsertDocument(ctx context.Context, key string, records []index.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, upsertCall{key: key, records: records})
	return nil
}

func (f *fakeIndexer) DeleteByStorageKey(ctx context.Context, key string) (int, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deletes = append(f.deletes, key)
	return f.deleted[key], nil
}

func newTestPipeline(store *fakeStore, idx *fakeIndexer) *Pipeline {
	ch, _ := chunker.New(512, 50)
	return New(Deps{
		Store:     store,
		Extractor: &fakeExtractor{},
		Chunker:   ch,
		Embedder:  &fakeEmbedder{},
		Indexer:   idx,
	})
}

func createEvent(key string) WorkEvent {
	return WorkEvent{Kind: KindCreate, StorageKey: key, Origin: OriginQueue}
}

func TestProcessCreateIndexes(t *testing.T) {
	store := &fakeStore{objects: map[string]string{"docs/report.pdf": "hello search world"}}
	idx := &fakeIndexer{byHash: map[string]string{}}
	p := newTestPipeline(store, idx)

	res := p.Process(context.Background(), createEvent("docs/report.pdf"))

	require.Equal(t, OutcomeIndexed, res.Outcome)
	assert.Equal(t, 1, res.Chunks)
	require.Len(t, idx.upserts, 1)

	rec := idx.upserts[0].records[0]
	assert.Equal(t, "docs/report.pdf", rec.StorageKey)
	assert.Equal(t, "report.pdf", rec.FileName)
	assert.Equal(t, "pdf", rec.FileType)
	assert.Equal(t, "hello search world", rec.Content)
	assert.Equal(t, Fingerprint("hello search world"), rec.ContentHash)
	assert.Equal(t, 0, rec.ChunkIndex)
	assert.Equal(t, 1, rec.ChunkCount)
	assert.NotEmpty(t, rec.Vector)
}

func TestProcessCreateDuplicate(t *testing.T) {
	content := "identical content"
	store := &fakeStore{objects: map[string]string{"b.txt": content}}
	idx := &fakeIndexer{byHash: map[string]string{Fingerprint(content): "a.txt"}}
	p := newTestPipeline(store, idx)

	res := p.Process(context.Background(), createEvent("b.txt"))

	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Equal(t, "a.txt", res.DuplicateOf)
	assert.Empty(t, idx.upserts, "duplicates must not be indexed")
}

func TestProcessCreateUnchanged(t *testing.T) {
	content := "already indexed"
	store := &fakeStore{objects: map[string]string{"a.txt": content}}
	idx := &fakeIndexer{byHash: map[string]string{Fingerprint(content): "a.txt"}}
	p := newTestPipeline(store, idx)

	res := p.Process(context.Background(), createEvent("a.txt"))

	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Empty(t, idx.upserts)
}

func TestProcessCreateEmptyExtraction(t *testing.T) {
	store := &fakeStore{objects: map[string]string{"blank.txt": "   \n "}}
	idx := &fakeIndexer{byHash: map[string]string{}}
	p := newTestPipeline(store, idx)

	res := p.Process(context.Background(), createEvent("blank.txt"))

	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Empty(t, idx.upserts)
}

func TestProcessCreateMissingObjectBecomesDelete(t *testing.T) {
	store := &fakeStore{objects: map[string]string{}}
	idx := &fakeIndexer{deleted: map[string]int{"gone.txt": 2}}
	p := newTestPipeline(store, idx)

	res := p.Process(context.Background(), createEvent("gone.txt"))

	assert.Equal(t, OutcomeDeleted, res.Outcome)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, []string{"gone.txt"}, idx.deletes)
}

func TestProcessDeleteIdempotent(t *testing.T) {
	idx := &fakeIndexer{deleted: map[string]int{}}
	p := newTestPipeline(&fakeStore{}, idx)

	res := p.Process(context.Background(), WorkEvent{Kind: KindDelete, StorageKey: "never-indexed.txt"})

	assert.Equal(t, OutcomeDeleted, res.Outcome)
	assert.Zero(t, res.Deleted)
}

func TestProcessCreateExtractFailureIsPermanent(t *testing.T) {
	store := &fakeStore{objects: map[string]string{"bad.pdf": "x"}}
	idx := &fakeIndexer{byHash: map[string]string{}}
	ch, _ := chunker.New(512, 50)
	p := New(Deps{
		Store:     store,
		Extractor: &fakeExtractor{err: extract.NewExtractionError("pdf", "bad.pdf", "malformed file", nil)},
		Chunker:   ch,
		Embedder:  &fakeEmbedder{},
		Indexer:   idx,
	})

	res := p.Process(context.Background(), createEvent("bad.pdf"))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.Transient)
	assert.True(t, res.Terminal())
}

func TestProcessCreateStoreFailureIsTransient(t *testing.T) {
	store := &fakeStore{
		objects: map[string]string{"doc.txt": "text"},
		getErr:  objstore.NewStoreError("get", "doc.txt", "connection reset", nil),
	}
	idx := &fakeIndexer{byHash: map[string]string{}}
	p := newTestPipeline(store, idx)

	res := p.Process(context.Background(), createEvent("doc.txt"))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.Transient)
	assert.False(t, res.Terminal(), "transient failures leave the message for redelivery")
}

func TestProcessCreateEmbedCountMismatch(t *testing.T) {
	store := &fakeStore{objects: map[string]string{"doc.txt": "some text here"}}
	idx := &fakeIndexer{byHash: map[string]string{}}
	ch, _ := chunker.New(512, 50)
	p := New(Deps{
		Store:     store,
		Extractor: &fakeExtractor{},
		Chunker:   ch,
		Embedder:  &fakeEmbedder{short: true},
		Indexer:   idx,
	})

	res := p.Process(context.Background(), createEvent("doc.txt"))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, idx.upserts)
}

func TestProcessCancelledContextIsTransient(t *testing.T) {
	store := &fakeStore{objects: map[string]string{"doc.txt": "text"}}
	idx := &fakeIndexer{byHash: map[string]string{}, lookupErr: context.Canceled}
	p := newTestPipeline(store, idx)

	res := p.Process(context.Background(), createEvent("doc.txt"))

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.Transient)
}

func TestProcessRecordsTimings(t *testing.T) {
	store := &fakeStore{objects: map[string]string{"doc.txt": "timed content"}}
	idx := &fakeIndexer{byHash: map[string]string{}}
	p := newTestPipeline(store, idx)

	res := p.Process(context.Background(), createEvent("doc.txt"))

	require.Equal(t, OutcomeIndexed, res.Outcome)
	assert.GreaterOrEqual(t, res.Timing.TotalMS, int64(0))
	assert.GreaterOrEqual(t, res.Timing.FetchMS, int64(0))
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("same text")
	b := Fingerprint("same text")
	c := Fingerprint("other text")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	store := &fakeStore{objects: map[string]string{"doc.txt": "metric content"}}
	idx := &fakeIndexer{byHash: map[string]string{}}
	ch, _ := chunker.New(512, 50)
	p := New(Deps{
		Store:     store,
		Extractor: &fakeExtractor{},
		Chunker:   ch,
		Embedder:  &fakeEmbedder{},
		Indexer:   idx,
		Metrics:   metrics,
	})

	p.Process(context.Background(), createEvent("doc.txt"))

	indexed := testutil.ToFloat64(metrics.Outcomes.WithLabelValues("indexed", "queue"))
	assert.Equal(t, float64(1), indexed)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ChunksIndexed))
}

func TestStatsAggregation(t *testing.T) {
	var s Stats
	s.Add(Result{Outcome: OutcomeIndexed, Chunks: 3, Timing: Timing{TotalMS: 100}})
	s.Add(Result{Outcome: OutcomeDuplicate, Timing: Timing{TotalMS: 50}})
	s.Add(Result{Outcome: OutcomeDeleted, Deleted: 2})
	s.Add(Result{Outcome: OutcomeFailed, Err: errors.New("boom")})

	assert.Equal(t, int64(4), s.Processed)
	assert.Equal(t, int64(1), s.Indexed)
	assert.Equal(t, int64(3), s.ChunksIndexed)
	assert.Equal(t, int64(1), s.Duplicates)
	assert.Equal(t, int64(1), s.Deleted)
	assert.Equal(t, int64(2), s.RecordsDeleted)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(37), s.AvgTotalMS())
}

func TestProcessCreateEmbedOutageIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	embedder := embed.New(config.EmbeddingConfig{
		Endpoint:  server.URL,
		Model:     "all-minilm",
		BatchSize: 32,
		Timeout:   5 * time.Second,
		Retries:   1,
		BaseDelay: time.Millisecond,
	})

	store := &fakeStore{objects: map[string]string{"docs/a.txt": "some document text"}}
	idx := &fakeIndexer{byHash: map[string]string{}}
	ch, _ := chunker.New(512, 50)
	p := New(Deps{
		Store:     store,
		Extractor: &fakeExtractor{},
		Chunker:   ch,
		Embedder:  embedder,
		Indexer:   idx,
	})

	res := p.Process(context.Background(), createEvent("docs/a.txt"))
	require.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.Transient,
		"an embedding service outage must be retried via queue redelivery")
	assert.False(t, res.Terminal())
}
