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

// Package index is the driver for the Elasticsearch-compatible search
// index. All mutation is keyed by storage_key: an upsert removes every
// record under the key before inserting the new chunk set, so readers
// observe either the previous document or the new one.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/docsync/pkg/config"
	"github.com/kadirpekel/docsync/pkg/httpclient"
)

// listPageSize is the composite aggregation page used by ListStorageKeys.
const listPageSize = 1000

// recordNamespace seeds the deterministic record ids. Re-indexing the
// same key always produces the same ids, which keeps upserts idempotent.
var recordNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Record is one indexed chunk of a document.
type Record struct {
	StorageKey  string    `json:"storage_key"`
	FileName    string    `json:"file_name"`
	FileType    string    `json:"file_type"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Vector      []float32 `json:"vector"`
	ChunkIndex  int       `json:"chunk_index"`
	ChunkCount  int       `json:"chunk_count"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// RecordID derives the deterministic document id for one chunk of a
// storage key.
func RecordID(storageKey string, chunkIndex int) string {
	return uuid.NewSHA1(recordNamespace, []byte(storageKey+"#"+strconv.Itoa(chunkIndex))).String()
}

// Stats summarizes the index.
type Stats struct {
	Documents int64
	IndexName string
}

// Driver issues REST calls against one named index.
type Driver struct {
	http     *httpclient.Client
	baseURL  string
	name     string
	username string
	password string
}

// New creates an index driver from configuration.
func New(cfg config.IndexConfig) (*Driver, error) {
	opts := []httpclient.Option{
		httpclient.WithTimeout(cfg.Timeout),
	}
	if cfg.InsecureSkipVerify || cfg.CACertificate != "" {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			CACertificate:      cfg.CACertificate,
		}))
	}
	if cfg.Endpoint == "" {
		return nil, NewIndexError("init", "index endpoint is required", 0, nil)
	}
	return &Driver{
		http:     httpclient.New(opts...),
		baseURL:  cfg.Endpoint,
		name:     cfg.Name,
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

// Name returns the index name the driver operates on.
func (d *Driver) Name() string { return d.name }

// EnsureIndex creates the index with the expected mapping if it does
// not exist. dimension is the embedding vector length. Safe to call on
// every startup.
func (d *Driver) EnsureIndex(ctx context.Context, dimension int) error {
	resp, doErr := d.do(ctx, http.MethodHead, "/"+d.name, nil)
	if resp == nil {
		return NewIndexError("ensure_index", "existence check failed", 0, doErr)
	}
	drain(resp)
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return NewIndexError("ensure_index", "existence check failed", resp.StatusCode, doErr)
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"storage_key":  map[string]any{"type": "keyword"},
				"file_name":    map[string]any{"type": "keyword"},
				"file_type":    map[string]any{"type": "keyword"},
				"content":      map[string]any{"type": "text"},
				"content_hash": map[string]any{"type": "keyword"},
				"vector": map[string]any{
					"type":       "dense_vector",
					"dims":       dimension,
					"index":      true,
					"similarity": "cosine",
				},
				"chunk_index": map[string]any{"type": "integer"},
				"chunk_count": map[string]any{"type": "integer"},
				"indexed_at":  map[string]any{"type": "date"},
			},
		},
	}

	resp, doErr = d.do(ctx, http.MethodPut, "/"+d.name, mapping)
	if resp == nil {
		return NewIndexError("ensure_index", "create failed", 0, doErr)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case isAlreadyExists(resp):
		// Lost a create race with another instance.
		return nil
	default:
		return NewIndexError("ensure_index", bodySnippet(resp), resp.StatusCode, doErr)
	}
}

// LookupByFingerprint returns the storage key of an existing document
// with the given content hash. found is false when no document holds
// the content, including when the index does not exist yet.
func (d *Driver) LookupByFingerprint(ctx context.Context, contentHash string) (storageKey string, found bool, err error) {
	query := map[string]any{
		"size":    1,
		"_source": []string{"storage_key"},
		"query": map[string]any{
			"term": map[string]any{"content_hash": contentHash},
		},
	}
	resp, doErr := d.do(ctx, http.MethodPost, "/"+d.name+"/_search", query)
	if resp == nil {
		return "", false, NewIndexError("lookup_by_fingerprint", "search failed", 0, doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, NewIndexError("lookup_by_fingerprint", bodySnippet(resp), resp.StatusCode, doErr)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, NewIndexError("lookup_by_fingerprint", "invalid response", resp.StatusCode, err)
	}
	if len(out.Hits.Hits) == 0 {
		return "", false, nil
	}
	return out.Hits.Hits[0].Source.StorageKey, true, nil
}

// UpsertDocument replaces every record under storageKey with the given
// chunk records in one bulk request, then refreshes the index so the
// new version is immediately searchable. Record ids and timestamps are
// assigned here.
func (d *Driver) UpsertDocument(ctx context.Context, storageKey string, records []Record) error {
	if len(records) == 0 {
		return NewIndexError("upsert_document", "no records to index", 0, nil)
	}

	if _, err := d.DeleteByStorageKey(ctx, storageKey); err != nil {
		return NewIndexError("upsert_document", "delete phase failed", 0, err)
	}

	now := time.Now().UTC()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		records[i].IndexedAt = now
		action := map[string]any{
			"index": map[string]any{
				"_index": d.name,
				"_id":    RecordID(storageKey, records[i].ChunkIndex),
			},
		}
		if err := enc.Encode(action); err != nil {
			return NewIndexError("upsert_document", "encode bulk action", 0, err)
		}
		if err := enc.Encode(records[i]); err != nil {
			return NewIndexError("upsert_document", "encode bulk record", 0, err)
		}
	}

	resp, doErr := d.doRaw(ctx, http.MethodPost, "/_bulk", buf.Bytes(), "application/x-ndjson")
	if resp == nil {
		return NewIndexError("upsert_document", "bulk insert failed", 0, doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NewIndexError("upsert_document", bodySnippet(resp), resp.StatusCode, doErr)
	}

	var out bulkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return NewIndexError("upsert_document", "invalid bulk response", resp.StatusCode, err)
	}
	if out.Errors {
		return NewIndexError("upsert_document", out.firstError(), resp.StatusCode, nil)
	}

	return d.Refresh(ctx)
}

// DeleteByStorageKey removes every record whose storage_key equals the
// argument and returns the number of records removed. Deleting a key
// with no records, or against a missing index, succeeds with 0.
func (d *Driver) DeleteByStorageKey(ctx context.Context, storageKey string) (int, error) {
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"storage_key": storageKey},
		},
	}
	resp, doErr := d.do(ctx, http.MethodPost, "/"+d.name+"/_delete_by_query?refresh=true", query)
	if resp == nil {
		return 0, NewIndexError("delete_by_storage_key", "request failed", 0, doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, NewIndexError("delete_by_storage_key", bodySnippet(resp), resp.StatusCode, doErr)
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, NewIndexError("delete_by_storage_key", "invalid response", resp.StatusCode, err)
	}
	return out.Deleted, nil
}

// ListStorageKeys returns the distinct storage keys present in the
// index, paginating a composite aggregation. The result is not a
// consistent snapshot.
func (d *Driver) ListStorageKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var after map[string]any

	for {
		composite := map[string]any{
			"size": listPageSize,
			"sources": []any{
				map[string]any{
					"key": map[string]any{
						"terms": map[string]any{"field": "storage_key"},
					},
				},
			},
		}
		if after != nil {
			composite["after"] = after
		}
		query := map[string]any{
			"size": 0,
			"aggs": map[string]any{
				"keys": map[string]any{"composite": composite},
			},
		}

		resp, doErr := d.do(ctx, http.MethodPost, "/"+d.name+"/_search", query)
		if resp == nil {
			return nil, NewIndexError("list_storage_keys", "search failed", 0, doErr)
		}

		if resp.StatusCode == http.StatusNotFound {
			drain(resp)
			return nil, nil
		}
		if resp.StatusCode != http.StatusOK {
			err := NewIndexError("list_storage_keys", bodySnippet(resp), resp.StatusCode, doErr)
			resp.Body.Close()
			return nil, err
		}

		var out compositeResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, NewIndexError("list_storage_keys", "invalid response", 0, decodeErr)
		}

		for _, bucket := range out.Aggregations.Keys.Buckets {
			keys = append(keys, bucket.Key.Key)
		}
		if out.Aggregations.Keys.AfterKey == nil || len(out.Aggregations.Keys.Buckets) < listPageSize {
			return keys, nil
		}
		after = out.Aggregations.Keys.AfterKey
	}
}

// Stats returns the current document count.
func (d *Driver) Stats(ctx context.Context) (Stats, error) {
	resp, doErr := d.do(ctx, http.MethodGet, "/"+d.name+"/_count", nil)
	if resp == nil {
		return Stats{}, NewIndexError("stats", "count failed", 0, doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Stats{IndexName: d.name}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Stats{}, NewIndexError("stats", bodySnippet(resp), resp.StatusCode, doErr)
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Stats{}, NewIndexError("stats", "invalid response", resp.StatusCode, err)
	}
	return Stats{Documents: out.Count, IndexName: d.name}, nil
}

// Refresh makes recent writes searchable.
func (d *Driver) Refresh(ctx context.Context) error {
	resp, doErr := d.do(ctx, http.MethodPost, "/"+d.name+"/_refresh", nil)
	if resp == nil {
		return NewIndexError("refresh", "request failed", 0, doErr)
	}
	drain(resp)
	if resp.StatusCode != http.StatusOK {
		return NewIndexError("refresh", "refresh failed", resp.StatusCode, doErr)
	}
	return nil
}

func (d *Driver) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}
	return d.doRaw(ctx, method, path, payload, "application/json")
}

func (d *Driver) doRaw(ctx context.Context, method, path string, payload []byte, contentType string) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if d.username != "" {
		req.SetBasicAuth(d.username, d.password)
	}

	// Non-2xx responses come back paired with an error; status codes
	// carry the semantics here, so the response and the error travel
	// together and callers wrap the error into their status errors.
	return d.http.Do(req)
}

// wire shapes

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source struct {
				StorageKey string `json:"storage_key"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type compositeResponse struct {
	Aggregations struct {
		Keys struct {
			AfterKey map[string]any `json:"after_key"`
			Buckets  []struct {
				Key struct {
					Key string `json:"key"`
				} `json:"key"`
			} `json:"buckets"`
		} `json:"keys"`
	} `json:"aggregations"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

func (b *bulkResponse) firstError() string {
	for _, item := range b.Items {
		for _, result := range item {
			if result.Error != nil {
				return fmt.Sprintf("%s: %s", result.Error.Type, result.Error.Reason)
			}
		}
	}
	return "bulk request reported errors"
}

func isAlreadyExists(resp *http.Response) bool {
	if resp.StatusCode != http.StatusBadRequest {
		return false
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return bytes.Contains(body, []byte("resource_already_exists_exception"))
}

func bodySnippet(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
