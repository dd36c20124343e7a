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

// Package embed is the client for the embedding service. It turns chunk
// text into fixed-dimension dense vectors.
//
// The vector dimension is not configured; it is discovered once at
// startup by embedding a probe text and cached for the lifetime of the
// client. Any later response with a different length is rejected, since
// the index mapping is created with the discovered dimension and a
// mismatched vector would be silently unsearchable.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/kadirpekel/docsync/pkg/config"
	"github.com/kadirpekel/docsync/pkg/httpclient"
)

// probeText is embedded once at startup to learn the model dimension.
const probeText = "dimension probe"

type singleRequest struct {
	Model     string `json:"model"`
	Text      string `json:"text"`
	Normalize bool   `json:"normalize"`
}

type singleResponse struct {
	Embedding []float32 `json:"embedding"`
}

type batchRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	Normalize bool     `json:"normalize"`
}

type batchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Client talks to the embedding service.
type Client struct {
	http      *httpclient.Client
	endpoint  string
	model     string
	batchSize int

	mu        sync.Mutex
	dimension int
	// batchMode is unknown until the first batch call probes the
	// endpoint: 0 untried, 1 supported, -1 unsupported.
	batchMode int
}

// New creates an embedding client from configuration. The dimension is
// not known until Discover or the first Embed call succeeds.
func New(cfg config.EmbeddingConfig) *Client {
	return &Client{
		http: httpclient.New(
			httpclient.WithTimeout(cfg.Timeout),
			httpclient.WithMaxRetries(cfg.Retries),
			httpclient.WithBaseDelay(cfg.BaseDelay),
		),
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
	}
}

// Discover learns the service's vector dimension by embedding a probe
// text. Call once at startup, before the index mapping is created.
func (c *Client) Discover(ctx context.Context) (int, error) {
	vec, err := c.Embed(ctx, probeText)
	if err != nil {
		return 0, fmt.Errorf("embedding dimension discovery: %w", err)
	}
	return len(vec), nil
}

// Dimension returns the cached vector dimension, or 0 if no embedding
// has succeeded yet.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed returns the vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(singleRequest{Model: c.model, Text: text, Normalize: true})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	resp, doErr := c.post(ctx, body)
	if resp == nil {
		return nil, doErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, doErr)
	}

	var out singleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	if err := c.checkDimension(len(out.Embedding)); err != nil {
		return nil, err
	}
	return out.Embedding, nil
}

// EmbedBatch returns one vector per text, in request order. Requests
// are issued in groups of at most the configured batch size. If the
// service rejects the array form, the client falls back to one request
// per text and remembers the answer.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	size := c.batchSize
	if size <= 0 {
		size = 1
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		group, err := c.embedGroup(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, group...)
	}
	return vectors, nil
}

func (c *Client) embedGroup(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	mode := c.batchMode
	c.mu.Unlock()

	// The array form is probed on a multi-text group; once confirmed it
	// serves every group, including single-text tails.
	if mode == 1 || (mode == 0 && len(texts) > 1) {
		vectors, supported, err := c.tryBatch(ctx, texts)
		if supported {
			return vectors, err
		}
		c.mu.Lock()
		c.batchMode = -1
		c.mu.Unlock()
		slog.Debug("Embedding service has no batch endpoint, using per-text requests")
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// tryBatch issues one array-form request. supported=false means the
// endpoint does not accept the array form and the caller should fall
// back; any other failure is returned as-is.
func (c *Client) tryBatch(ctx context.Context, texts []string) (vectors [][]float32, supported bool, err error) {
	body, err := json.Marshal(batchRequest{Model: c.model, Texts: texts, Normalize: true})
	if err != nil {
		return nil, true, fmt.Errorf("marshal batch embedding request: %w", err)
	}

	resp, doErr := c.post(ctx, body)
	if resp == nil {
		return nil, true, doErr
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed,
		http.StatusUnprocessableEntity:
		io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	default:
		return nil, true, statusError(resp, doErr)
	}

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, true, fmt.Errorf("decode batch embedding response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, true, fmt.Errorf("embedding batch returned %d vectors for %d texts",
			len(out.Embeddings), len(texts))
	}
	for i, vec := range out.Embeddings {
		if len(vec) == 0 {
			return nil, true, fmt.Errorf("embedding batch returned an empty vector at position %d", i)
		}
		if err := c.checkDimension(len(vec)); err != nil {
			return nil, true, fmt.Errorf("batch position %d: %w", i, err)
		}
	}

	c.mu.Lock()
	c.batchMode = 1
	c.mu.Unlock()
	return out.Embeddings, true, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Do pairs non-2xx responses with an error. Callers branch on the
	// status code and keep the error, so retry exhaustion stays
	// visible to the transience check.
	resp, err := c.http.Do(req)
	if resp == nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	return resp, err
}

// checkDimension caches the first observed vector length and rejects
// any later disagreement.
func (c *Client) checkDimension(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = n
		return nil
	}
	if n != c.dimension {
		return fmt.Errorf("embedding dimension changed from %d to %d", c.dimension, n)
	}
	return nil
}

func statusError(resp *http.Response, doErr error) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if doErr != nil {
		return fmt.Errorf("embedding service returned status %d: %s: %w",
			resp.StatusCode, string(body), doErr)
	}
	return fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(body))
}
