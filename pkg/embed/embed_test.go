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

package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docsync/pkg/config"
	"github.com/kadirpekel/docsync/pkg/httpclient"
)

func testConfig(endpoint string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		Endpoint:  endpoint,
		Model:     "all-minilm",
		BatchSize: 32,
		Timeout:   5 * time.Second,
		Retries:   2,
		BaseDelay: time.Millisecond,
	}
}

// vecFor derives a deterministic fake vector from the text so tests can
// verify ordering.
func vecFor(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(len(text) + i)
	}
	return vec
}

func singleHandler(t *testing.T, dim int, calls *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req singleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		assert.True(t, req.Normalize)
		json.NewEncoder(w).Encode(singleResponse{Embedding: vecFor(req.Text, dim)})
	}
}

func TestDiscoverCachesDimension(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(singleHandler(t, 384, &calls))
	defer server.Close()

	client := New(testConfig(server.URL))
	require.Equal(t, 0, client.Dimension())

	dim, err := client.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 384, dim)
	assert.Equal(t, 384, client.Dimension())
}

func TestEmbedRejectsDimensionChange(t *testing.T) {
	dim := 3
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(singleResponse{Embedding: make([]float32, dim)})
	}))
	defer server.Close()

	client := New(testConfig(server.URL))
	_, err := client.Embed(context.Background(), "first")
	require.NoError(t, err)

	dim = 4
	_, err = client.Embed(context.Background(), "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension changed")
}

func TestEmbedClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(testConfig(server.URL))
	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int64(1), calls.Load())
}

func TestEmbedRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(singleResponse{Embedding: []float32{1, 2, 3}})
	}))
	defer server.Close()

	client := New(testConfig(server.URL))
	vec, err := client.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int64(3), calls.Load())
}

func TestEmbedEmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(singleResponse{})
	}))
	defer server.Close()

	client := New(testConfig(server.URL))
	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty vector")
}

func TestEmbedBatchUsesBatchEndpoint(t *testing.T) {
	var batchCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Texts, "expected batch request")
		batchCalls.Add(1)
		out := batchResponse{}
		for _, text := range req.Texts {
			out.Embeddings = append(out.Embeddings, vecFor(text, 4))
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	client := New(testConfig(server.URL))
	texts := []string{"a", "bb", "ccc"}
	vectors, err := client.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, text := range texts {
		assert.Equal(t, vecFor(text, 4), vectors[i], "vector order must match text order")
	}
	assert.Equal(t, int64(1), batchCalls.Load())
	assert.Equal(t, 4, client.Dimension())
}

func TestEmbedBatchSplitsIntoGroups(t *testing.T) {
	var batchCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchCalls.Add(1)
		assert.LessOrEqual(t, len(req.Texts), 2)
		out := batchResponse{}
		for _, text := range req.Texts {
			out.Embeddings = append(out.Embeddings, vecFor(text, 4))
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.BatchSize = 2
	client := New(cfg)

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Equal(t, int64(3), batchCalls.Load())
}

func TestEmbedBatchFallsBackToSingles(t *testing.T) {
	var singleCalls, batchCalls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var probe struct {
			Texts []string `json:"texts"`
			Text  string   `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&probe))
		if len(probe.Texts) > 0 {
			batchCalls.Add(1)
			http.Error(w, "unknown field texts", http.StatusBadRequest)
			return
		}
		singleCalls.Add(1)
		json.NewEncoder(w).Encode(singleResponse{Embedding: vecFor(probe.Text, 4)})
	}))
	defer server.Close()

	client := New(testConfig(server.URL))
	texts := []string{"a", "bb", "ccc"}
	vectors, err := client.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, text := range texts {
		assert.Equal(t, vecFor(text, 4), vectors[i])
	}
	assert.Equal(t, int64(1), batchCalls.Load())
	assert.Equal(t, int64(3), singleCalls.Load())

	// The unsupported answer is remembered.
	_, err = client.EmbedBatch(context.Background(), []string{"d", "e"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), batchCalls.Load())
	assert.Equal(t, int64(5), singleCalls.Load())
}

func TestEmbedBatchCountMismatchFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(batchResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer server.Close()

	client := New(testConfig(server.URL))
	_, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 vectors for 3 texts")
}

func TestEmbedBatchEmpty(t *testing.T) {
	client := New(testConfig("http://unused"))
	vectors, err := client.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatchSingleTextSkipsBatchProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req singleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Text, "single text must use the single form")
		json.NewEncoder(w).Encode(singleResponse{Embedding: vecFor(req.Text, 4)})
	}))
	defer server.Close()

	client := New(testConfig(server.URL))
	vectors, err := client.EmbedBatch(context.Background(), []string{"only"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, fmt.Sprintf("%v", vecFor("only", 4)), fmt.Sprintf("%v", vectors[0]))
}

func TestEmbedRetryExhaustionStaysVisible(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(testConfig(server.URL))
	_, err := client.Embed(context.Background(), "some text")
	require.Error(t, err)
	assert.True(t, httpclient.IsRetryExhausted(err),
		"a service outage after exhausted retries must stay identifiable as retry exhaustion")
	assert.Equal(t, int64(3), calls.Load())
}

func TestEmbedBatchConfirmedModeCoversSingleTail(t *testing.T) {
	// The service only speaks the array form; single-form requests fail.
	dim := 4
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if len(req.Texts) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		vectors := make([][]float32, len(req.Texts))
		for i, text := range req.Texts {
			vectors[i] = vecFor(text, dim)
		}
		json.NewEncoder(w).Encode(batchResponse{Embeddings: vectors})
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.BatchSize = 2
	client := New(cfg)

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, vecFor("c", dim), vectors[2])
	assert.Equal(t, int64(2), calls.Load(),
		"the one-text tail group must reuse the confirmed array form")
}
