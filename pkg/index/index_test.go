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

package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/docsync/pkg/config"
	"github.com/kadirpekel/docsync/pkg/httpclient"
)

func testDriver(t *testing.T, handler http.Handler) *Driver {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	d, err := New(config.IndexConfig{
		Endpoint: server.URL,
		Name:     "documents",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return d
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(config.IndexConfig{Name: "documents"})
	require.Error(t, err)
}

func TestRecordIDDeterministic(t *testing.T) {
	a := RecordID("reports/q1.pdf", 0)
	b := RecordID("reports/q1.pdf", 0)
	c := RecordID("reports/q1.pdf", 1)
	d := RecordID("reports/q2.pdf", 0)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestEnsureIndexCreatesWhenMissing(t *testing.T) {
	var putBody []byte
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/documents":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/documents":
			putBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	require.NoError(t, d.EnsureIndex(context.Background(), 384))
	require.NotEmpty(t, putBody)

	var mapping map[string]any
	require.NoError(t, json.Unmarshal(putBody, &mapping))
	props := mapping["mappings"].(map[string]any)["properties"].(map[string]any)
	vector := props["vector"].(map[string]any)
	assert.Equal(t, "dense_vector", vector["type"])
	assert.Equal(t, float64(384), vector["dims"])
	assert.Equal(t, "cosine", vector["similarity"])
	assert.Equal(t, "keyword", props["storage_key"].(map[string]any)["type"])
	assert.Equal(t, "keyword", props["content_hash"].(map[string]any)["type"])
	assert.Equal(t, "text", props["content"].(map[string]any)["type"])
}

func TestEnsureIndexAlreadyExists(t *testing.T) {
	var putCalls int
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			putCalls++
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, d.EnsureIndex(context.Background(), 384))
	assert.Zero(t, putCalls)
}

func TestEnsureIndexLosesCreateRace(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"resource_already_exists_exception"}}`)
	}))

	require.NoError(t, d.EnsureIndex(context.Background(), 384))
}

func TestLookupByFingerprint(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/documents/_search", r.URL.Path)
		var query map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		term := query["query"].(map[string]any)["term"].(map[string]any)
		require.Equal(t, "abc123", term["content_hash"])
		fmt.Fprint(w, `{"hits":{"hits":[{"_source":{"storage_key":"reports/q1.pdf"}}]}}`)
	}))

	key, found, err := d.LookupByFingerprint(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "reports/q1.pdf", key)
}

func TestLookupByFingerprintNotFound(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"hits":{"hits":[]}}`)
	}))

	_, found, err := d.LookupByFingerprint(context.Background(), "abc123")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookupByFingerprintMissingIndex(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, found, err := d.LookupByFingerprint(context.Background(), "abc123")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpsertDocumentDeletesThenInsertsThenRefreshes(t *testing.T) {
	var order []string
	var bulkBody string
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/documents/_delete_by_query":
			order = append(order, "delete")
			fmt.Fprint(w, `{"deleted":2}`)
		case "/_bulk":
			order = append(order, "bulk")
			body, _ := io.ReadAll(r.Body)
			bulkBody = string(body)
			assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
			fmt.Fprint(w, `{"errors":false,"items":[]}`)
		case "/documents/_refresh":
			order = append(order, "refresh")
			fmt.Fprint(w, `{}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	records := []Record{
		{StorageKey: "reports/q1.pdf", Content: "first chunk", ContentHash: "h", ChunkIndex: 0, ChunkCount: 2, Vector: []float32{1, 2}},
		{StorageKey: "reports/q1.pdf", Content: "second chunk", ContentHash: "h", ChunkIndex: 1, ChunkCount: 2, Vector: []float32{3, 4}},
	}
	require.NoError(t, d.UpsertDocument(context.Background(), "reports/q1.pdf", records))
	assert.Equal(t, []string{"delete", "bulk", "refresh"}, order)

	lines := strings.Split(strings.TrimSpace(bulkBody), "\n")
	require.Len(t, lines, 4, "two action lines and two record lines")

	var action struct {
		Index struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		} `json:"index"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &action))
	assert.Equal(t, "documents", action.Index.Index)
	assert.Equal(t, RecordID("reports/q1.pdf", 0), action.Index.ID)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "first chunk", rec.Content)
	assert.False(t, rec.IndexedAt.IsZero())
}

func TestUpsertDocumentBulkFailure(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/documents/_delete_by_query":
			fmt.Fprint(w, `{"deleted":0}`)
		case "/_bulk":
			fmt.Fprint(w, `{"errors":true,"items":[{"index":{"status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse"}}}]}`)
		default:
			fmt.Fprint(w, `{}`)
		}
	}))

	err := d.UpsertDocument(context.Background(), "k", []Record{{ChunkIndex: 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestUpsertDocumentRejectsEmpty(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	require.Error(t, d.UpsertDocument(context.Background(), "k", nil))
}

func TestDeleteByStorageKey(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/documents/_delete_by_query", r.URL.Path)
		var query map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		term := query["query"].(map[string]any)["term"].(map[string]any)
		require.Equal(t, "reports/q1.pdf", term["storage_key"])
		fmt.Fprint(w, `{"deleted":3}`)
	}))

	n, err := d.DeleteByStorageKey(context.Background(), "reports/q1.pdf")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeleteByStorageKeyMissingIndex(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	n, err := d.DeleteByStorageKey(context.Background(), "gone")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListStorageKeysPaginates(t *testing.T) {
	page := 0
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var query map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		composite := query["aggs"].(map[string]any)["keys"].(map[string]any)["composite"].(map[string]any)

		page++
		if page == 1 {
			require.Nil(t, composite["after"])
			buckets := make([]string, listPageSize)
			for i := range buckets {
				buckets[i] = fmt.Sprintf(`{"key":{"key":"doc-%04d"}}`, i)
			}
			fmt.Fprintf(w, `{"aggregations":{"keys":{"after_key":{"key":"doc-%04d"},"buckets":[%s]}}}`,
				listPageSize-1, strings.Join(buckets, ","))
			return
		}
		require.NotNil(t, composite["after"])
		fmt.Fprint(w, `{"aggregations":{"keys":{"buckets":[{"key":{"key":"doc-last"}}]}}}`)
	}))

	keys, err := d.ListStorageKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, page)
	assert.Len(t, keys, listPageSize+1)
	assert.Equal(t, "doc-0000", keys[0])
	assert.Equal(t, "doc-last", keys[len(keys)-1])
}

func TestListStorageKeysMissingIndex(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	keys, err := d.ListStorageKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStats(t *testing.T) {
	d := testDriver(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/documents/_count", r.URL.Path)
		fmt.Fprint(w, `{"count":42}`)
	}))

	stats, err := d.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.Documents)
	assert.Equal(t, "documents", stats.IndexName)
}

func TestBasicAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "elastic", user)
		assert.Equal(t, "secret", pass)
		fmt.Fprint(w, `{"count":0}`)
	}))
	defer server.Close()

	d, err := New(config.IndexConfig{
		Endpoint: server.URL,
		Name:     "documents",
		Username: "elastic",
		Password: "secret",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)

	_, err = d.Stats(context.Background())
	require.NoError(t, err)
}

func TestDeleteByStorageKeyRetryExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := &Driver{
		http: httpclient.New(
			httpclient.WithMaxRetries(1),
			httpclient.WithBaseDelay(time.Millisecond),
		),
		baseURL: server.URL,
		name:    "documents",
	}

	_, err := d.DeleteByStorageKey(context.Background(), "docs/a.txt")
	require.Error(t, err)
	assert.True(t, httpclient.IsRetryExhausted(err),
		"an index outage after exhausted retries must stay identifiable as retry exhaustion")

	var idxErr *IndexError
	require.ErrorAs(t, err, &idxErr)
	assert.Equal(t, http.StatusServiceUnavailable, idxErr.StatusCode)
}
