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

// Package config defines the configuration surface of the ingestion engine
// and the loader that reads it from YAML with environment expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Queue     QueueConfig     `yaml:"queue"`
	OCR       OCRConfig       `yaml:"ocr"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// StoreConfig describes the S3-compatible object store holding the documents.
type StoreConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Region        string        `yaml:"region"`
	Bucket        string        `yaml:"bucket"`
	Prefixes      []string      `yaml:"prefixes"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	UseSSL        bool          `yaml:"use_ssl"`
	GetTimeout    time.Duration `yaml:"get_timeout"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// QueueConfig describes the SQS queue delivering object-store notifications.
type QueueConfig struct {
	Enabled     bool          `yaml:"enabled"`
	URL         string        `yaml:"url"`
	Region      string        `yaml:"region"`
	MaxMessages int32         `yaml:"max_messages"`
	WaitTime    time.Duration `yaml:"wait_time"`
}

// OCRConfig selects and addresses the text recognition service.
// Mode is a static per-process choice: "fast" (multipart /ocr endpoint)
// or "llm" (OpenAI-compatible vision endpoint).
type OCRConfig struct {
	Mode     string        `yaml:"mode"`
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`

	// ExtraElisions adds deployment-specific entries to the built-in
	// elision table used during text cleaning.
	ExtraElisions map[string]string `yaml:"extra_elisions"`
}

// EmbeddingConfig addresses the embedding service.
type EmbeddingConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Retries   int           `yaml:"retries"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

// IndexConfig addresses the search index.
type IndexConfig struct {
	Endpoint           string        `yaml:"endpoint"`
	Name               string        `yaml:"name"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	Timeout            time.Duration `yaml:"timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	CACertificate      string        `yaml:"ca_certificate"`
}

// PipelineConfig tunes the worker pool and chunking parameters.
type PipelineConfig struct {
	Workers      int           `yaml:"workers"`
	QueueDepth   int           `yaml:"queue_depth"`
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap"`
	FullScan     bool          `yaml:"full_scan"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// ReconcileConfig tunes the periodic orphan sweep.
type ReconcileConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SetDefaults fills in zero values with working defaults.
func (c *Config) SetDefaults() {
	if c.Store.Region == "" {
		c.Store.Region = "us-east-1"
	}
	if len(c.Store.Prefixes) == 0 {
		c.Store.Prefixes = []string{""}
	}
	if c.Store.GetTimeout == 0 {
		c.Store.GetTimeout = 60 * time.Second
	}
	if c.Store.PresignExpiry == 0 {
		c.Store.PresignExpiry = time.Hour
	}

	if c.Queue.Region == "" {
		c.Queue.Region = c.Store.Region
	}
	if c.Queue.MaxMessages == 0 {
		c.Queue.MaxMessages = 10
	}
	if c.Queue.WaitTime == 0 {
		c.Queue.WaitTime = 20 * time.Second
	}

	if c.OCR.Mode == "" {
		c.OCR.Mode = "fast"
	}
	if c.OCR.Timeout == 0 {
		c.OCR.Timeout = 120 * time.Second
	}

	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 30 * time.Second
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 32
	}
	if c.Embedding.Retries == 0 {
		c.Embedding.Retries = 3
	}
	if c.Embedding.BaseDelay == 0 {
		c.Embedding.BaseDelay = 200 * time.Millisecond
	}

	if c.Index.Name == "" {
		c.Index.Name = "documents"
	}
	if c.Index.Timeout == 0 {
		c.Index.Timeout = 30 * time.Second
	}

	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.QueueDepth == 0 {
		c.Pipeline.QueueDepth = 64
	}
	if c.Pipeline.ChunkSize == 0 {
		c.Pipeline.ChunkSize = 512
	}
	if c.Pipeline.ChunkOverlap == 0 {
		c.Pipeline.ChunkOverlap = 50
	}
	if c.Pipeline.DrainTimeout == 0 {
		c.Pipeline.DrainTimeout = 30 * time.Second
	}

	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = 6 * time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Store.Bucket == "" {
		return fmt.Errorf("store.bucket is required")
	}
	if c.Store.Endpoint == "" {
		return fmt.Errorf("store.endpoint is required")
	}

	if c.Queue.Enabled && c.Queue.URL == "" {
		return fmt.Errorf("queue.url is required when queue is enabled")
	}
	if c.Queue.MaxMessages < 1 || c.Queue.MaxMessages > 10 {
		return fmt.Errorf("queue.max_messages must be between 1 and 10, got %d", c.Queue.MaxMessages)
	}

	switch c.OCR.Mode {
	case "fast", "llm":
	default:
		return fmt.Errorf("ocr.mode must be \"fast\" or \"llm\", got %q", c.OCR.Mode)
	}
	if c.OCR.Endpoint == "" {
		return fmt.Errorf("ocr.endpoint is required")
	}
	if c.OCR.Mode == "llm" && c.OCR.Model == "" {
		return fmt.Errorf("ocr.model is required in llm mode")
	}

	if c.Embedding.Endpoint == "" {
		return fmt.Errorf("embedding.endpoint is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 32 {
		return fmt.Errorf("embedding.batch_size must be between 1 and 32, got %d", c.Embedding.BatchSize)
	}

	if c.Index.Endpoint == "" {
		return fmt.Errorf("index.endpoint is required")
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap (%d) must be smaller than pipeline.chunk_size (%d)",
			c.Pipeline.ChunkOverlap, c.Pipeline.ChunkSize)
	}

	if !c.Queue.Enabled && !c.Pipeline.FullScan && !c.Reconcile.Enabled {
		return fmt.Errorf("no event source configured: enable the queue, the full scan, or reconciliation")
	}

	return nil
}
