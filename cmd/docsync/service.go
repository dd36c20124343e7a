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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/docsync/pkg/chunker"
	"github.com/kadirpekel/docsync/pkg/config"
	"github.com/kadirpekel/docsync/pkg/coordinator"
	"github.com/kadirpekel/docsync/pkg/embed"
	"github.com/kadirpekel/docsync/pkg/extract"
	"github.com/kadirpekel/docsync/pkg/index"
	"github.com/kadirpekel/docsync/pkg/objstore"
	"github.com/kadirpekel/docsync/pkg/pipeline"
	"github.com/kadirpekel/docsync/pkg/queue"
)

// Service wires the configured components together and runs the
// coordinator. It owns the optional metrics listener.
type Service struct {
	coord      *coordinator.Coordinator
	index      *index.Driver
	metricsSrv *http.Server
	closeOnce  sync.Once
}

// buildService constructs every component from configuration, probing
// the embedding service for its vector dimension and making sure the
// index exists with a matching mapping before any event is processed.
func buildService(ctx context.Context, cfg *config.Config) (*Service, error) {
	store, err := objstore.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	recognizer, err := extract.NewRecognizer(cfg.OCR)
	if err != nil {
		return nil, fmt.Errorf("recognizer: %w", err)
	}
	extractor := extract.New(recognizer, cfg.OCR.ExtraElisions)

	ch, err := chunker.New(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}

	embedder := embed.New(cfg.Embedding)
	dimension, err := embedder.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("embedding dimension probe: %w", err)
	}
	slog.Info("Embedding service ready",
		"model", cfg.Embedding.Model, "dimension", dimension)

	idx, err := index.New(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	if err := idx.EnsureIndex(ctx, dimension); err != nil {
		return nil, fmt.Errorf("ensure index: %w", err)
	}

	var receiver queue.Receiver
	if cfg.Queue.Enabled {
		r, err := queue.New(ctx, cfg.Queue)
		if err != nil {
			return nil, fmt.Errorf("queue: %w", err)
		}
		receiver = r
	}

	var metrics *pipeline.Metrics
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = pipeline.NewMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	}

	proc := pipeline.New(pipeline.Deps{
		Store:     store,
		Extractor: extractor,
		Chunker:   ch,
		Embedder:  embedder,
		Indexer:   idx,
		Metrics:   metrics,
	})

	interval := time.Duration(0)
	if cfg.Reconcile.Enabled {
		interval = cfg.Reconcile.Interval
	}
	coord := coordinator.New(coordinator.Deps{
		Processor: proc,
		Store:     store,
		Index:     idx,
		Receiver:  receiver,
	}, coordinator.Config{
		Workers:           cfg.Pipeline.Workers,
		QueueDepth:        cfg.Pipeline.QueueDepth,
		Prefixes:          cfg.Store.Prefixes,
		FullScan:          cfg.Pipeline.FullScan,
		ReconcileInterval: interval,
		DrainTimeout:      cfg.Pipeline.DrainTimeout,
	})

	return &Service{coord: coord, index: idx, metricsSrv: metricsSrv}, nil
}

// Run starts the metrics listener when configured and runs the
// coordinator until ctx is cancelled or its sources finish.
func (s *Service) Run(ctx context.Context) error {
	if s.metricsSrv != nil {
		go func() {
			slog.Info("Metrics listener started", "addr", s.metricsSrv.Addr)
			if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics listener failed", "error", err)
			}
		}()
	}
	return s.coord.Run(ctx)
}

// SweepOnce runs a single reconciliation sweep, then logs the index
// document count.
func (s *Service) SweepOnce(ctx context.Context) error {
	if err := s.coord.SweepOnce(ctx); err != nil {
		return err
	}
	stats, err := s.index.Stats(ctx)
	if err != nil {
		slog.Warn("Index stats unavailable", "error", err)
		return nil
	}
	slog.Info("Index state after sweep",
		"index", stats.IndexName, "documents", stats.Documents)
	return nil
}

// Close shuts down the metrics listener. Safe to call more than once.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		if s.metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics listener shutdown failed", "error", err)
		}
	})
}
