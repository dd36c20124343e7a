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

// Package coordinator drives the ingestion pipeline from three event
// sources: a one-shot full bucket scan, a long-polled queue
// subscription, and a periodic reconciliation sweep that garbage
// collects index records whose objects are gone.
//
// Events are routed to worker lanes by a hash of the storage key, so
// events for the same key always execute in submission order. Across
// keys there is no ordering guarantee.
package coordinator

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/docsync/pkg/objstore"
	"github.com/kadirpekel/docsync/pkg/pipeline"
	"github.com/kadirpekel/docsync/pkg/queue"
)

// Processor is the pipeline contract the coordinator drives.
type Processor interface {
	Process(ctx context.Context, ev pipeline.WorkEvent) pipeline.Result
}

// Lister is the object-store subset used by scan and reconciliation.
type Lister interface {
	List(ctx context.Context, prefix string) ([]objstore.Object, error)
}

// KeyLister is the index subset used by reconciliation.
type KeyLister interface {
	ListStorageKeys(ctx context.Context) ([]string, error)
}

// Config tunes the coordinator.
type Config struct {
	// Workers is the number of pipeline lanes.
	Workers int

	// QueueDepth bounds each lane's event channel.
	QueueDepth int

	// Prefixes restricts scan and reconciliation to these key prefixes.
	// Empty means the whole bucket.
	Prefixes []string

	// FullScan runs a full bucket scan before entering queue mode.
	FullScan bool

	// ReconcileInterval is the sweep period. Zero disables the sweep.
	ReconcileInterval time.Duration

	// DrainTimeout bounds how long in-flight events may run after
	// shutdown begins.
	DrainTimeout time.Duration
}

// Deps carries the coordinator's collaborators. Receiver may be nil for
// scan-only operation.
type Deps struct {
	Processor Processor
	Store     Lister
	Index     KeyLister
	Receiver  queue.Receiver
}

// laneItem pairs an event with an optional completion callback. The
// callback fires on the worker goroutine after the terminal outcome.
type laneItem struct {
	ev   pipeline.WorkEvent
	done func(pipeline.Result)
}

// Coordinator fans events from its sources into worker lanes.
type Coordinator struct {
	deps Deps
	cfg  Config

	lanes   []chan laneItem
	results chan pipeline.Result

	// procCtx is the detached processing context, valid while run() is
	// active. Drain-phase acknowledgements use it instead of the
	// already-cancelled source context.
	procCtx context.Context

	stats pipeline.Stats
}

// New creates a coordinator.
func New(deps Deps, cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}

	lanes := make([]chan laneItem, cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan laneItem, cfg.QueueDepth)
	}
	return &Coordinator{
		deps:    deps,
		cfg:     cfg,
		lanes:   lanes,
		results: make(chan pipeline.Result, cfg.Workers*2),
	}
}

// Run operates the coordinator until ctx is cancelled, then drains
// in-flight work within the configured deadline. The returned error is
// nil on a clean shutdown.
func (c *Coordinator) Run(ctx context.Context) error {
	return c.run(ctx, func(sources *errgroup.Group, sourceCtx context.Context) {
		sources.Go(func() error {
			if c.cfg.FullScan {
				if err := c.runScan(sourceCtx); err != nil {
					return err
				}
			}
			if c.deps.Receiver != nil {
				return c.runQueue(sourceCtx)
			}
			return nil
		})

		if c.cfg.ReconcileInterval > 0 {
			sources.Go(func() error {
				return c.runReconcile(sourceCtx)
			})
		}
	})
}

// SweepOnce runs a single reconciliation sweep to completion and
// returns. Used by the one-shot sweep command.
func (c *Coordinator) SweepOnce(ctx context.Context) error {
	return c.run(ctx, func(sources *errgroup.Group, sourceCtx context.Context) {
		sources.Go(func() error {
			return c.reconcileOnce(sourceCtx)
		})
	})
}

// run owns the worker and reducer lifecycle around the given sources.
func (c *Coordinator) run(ctx context.Context, start func(*errgroup.Group, context.Context)) error {
	// Workers outlive ctx by the drain deadline so in-flight documents
	// can reach a terminal outcome.
	procCtx, procCancel := context.WithCancel(context.Background())
	defer procCancel()

	var workers sync.WaitGroup
	for _, lane := range c.lanes {
		workers.Add(1)
		go func(lane chan laneItem) {
			defer workers.Done()
			c.runWorker(procCtx, lane)
		}(lane)
	}

	var reducer sync.WaitGroup
	reducer.Add(1)
	go func() {
		defer reducer.Done()
		for res := range c.results {
			c.stats.Add(res)
		}
	}()

	c.procCtx = procCtx

	sources, sourceCtx := errgroup.WithContext(ctx)
	start(sources, sourceCtx)
	err := sources.Wait()

	// Sources are done; nothing submits anymore. Close the lanes and
	// give workers until the drain deadline.
	for _, lane := range c.lanes {
		close(lane)
	}

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(c.cfg.DrainTimeout):
		slog.Warn("Drain deadline reached, abandoning in-flight events",
			"deadline", c.cfg.DrainTimeout)
		procCancel()
		<-drained
	}

	close(c.results)
	reducer.Wait()

	c.stats.LogSummary("Coordinator stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stats returns the aggregate after Run has returned. Undefined while
// running.
func (c *Coordinator) Stats() pipeline.Stats {
	return c.stats
}

func (c *Coordinator) runWorker(ctx context.Context, lane chan laneItem) {
	for item := range lane {
		res := c.deps.Processor.Process(ctx, item.ev)
		// The reducer outlives every worker; this send cannot deadlock.
		c.results <- res
		if item.done != nil {
			item.done(res)
		}
	}
}

// submit routes an event to its lane. Returns false when ctx was
// cancelled before the lane accepted the event.
func (c *Coordinator) submit(ctx context.Context, item laneItem) bool {
	lane := c.lanes[laneFor(item.ev.StorageKey, len(c.lanes))]
	select {
	case lane <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// laneFor hashes a storage key to a lane index. Events for the same key
// always land on the same lane.
func laneFor(storageKey string, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(storageKey))
	return int(h.Sum32() % uint32(lanes))
}

// runScan emits one CREATE per object under the configured prefixes and
// waits for every event to finish.
func (c *Coordinator) runScan(ctx context.Context) error {
	slog.Info("Starting full scan", "prefixes", c.cfg.Prefixes)

	keys, err := c.listStoreKeys(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var scanStats statsCollector
	now := time.Now()
	for _, key := range keys {
		ev := pipeline.WorkEvent{
			Kind:       pipeline.KindCreate,
			StorageKey: key,
			Origin:     pipeline.OriginScan,
			EnqueuedAt: now,
		}
		wg.Add(1)
		ok := c.submit(ctx, laneItem{ev: ev, done: func(res pipeline.Result) {
			scanStats.add(res)
			wg.Done()
		}})
		if !ok {
			wg.Done()
			return ctx.Err()
		}
	}
	wg.Wait()

	scanStats.logSummary("Full scan complete")
	return nil
}

// runQueue long-polls for messages and deletes each message only after
// all of its events reached a terminal outcome.
func (c *Coordinator) runQueue(ctx context.Context) error {
	slog.Info("Entering queue mode")
	for {
		notifications, err := c.deps.Receiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Queue receive failed, backing off", "error", err)
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for _, n := range notifications {
			if err := c.dispatchNotification(ctx, n); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) dispatchNotification(ctx context.Context, n queue.Notification) error {
	if len(n.Events) == 0 {
		// Nothing to process; acknowledge immediately.
		c.deleteMessage(c.procCtx, n.ReceiptHandle)
		return nil
	}

	pending := int64(len(n.Events))
	var failed atomic.Bool
	handle := n.ReceiptHandle

	now := time.Now()
	for _, qe := range n.Events {
		kind := pipeline.KindCreate
		if qe.Kind == queue.ObjectRemoved {
			kind = pipeline.KindDelete
		}
		ev := pipeline.WorkEvent{
			Kind:       kind,
			StorageKey: qe.Key,
			Origin:     pipeline.OriginQueue,
			EnqueuedAt: now,
		}
		ok := c.submit(ctx, laneItem{ev: ev, done: func(res pipeline.Result) {
			if !res.Terminal() {
				failed.Store(true)
			}
			if atomic.AddInt64(&pending, -1) == 0 && !failed.Load() {
				c.deleteMessage(c.procCtx, handle)
			}
		}})
		if !ok {
			// Shutdown mid-message: the message stays on the queue and
			// redelivers. Events already submitted still run.
			failed.Store(true)
			return ctx.Err()
		}
	}
	return nil
}

func (c *Coordinator) deleteMessage(ctx context.Context, handle string) {
	if err := c.deps.Receiver.Delete(ctx, handle); err != nil {
		// The message redelivers; processing it again is idempotent.
		slog.Warn("Failed to delete queue message", "error", err)
	}
}

// runReconcile periodically deletes index records whose storage keys no
// longer exist in the object store. It never creates: the scan and
// queue paths own creation.
func (c *Coordinator) runReconcile(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.reconcileOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("Reconciliation sweep failed", "error", err)
			}
		}
	}
}

// reconcileOnce runs one sweep: removes every indexed key that has no
// object behind it.
func (c *Coordinator) reconcileOnce(ctx context.Context) error {
	storeKeys, err := c.listStoreKeys(ctx)
	if err != nil {
		return err
	}
	live := make(map[string]struct{}, len(storeKeys))
	for _, key := range storeKeys {
		live[key] = struct{}{}
	}

	indexed, err := c.deps.Index.ListStorageKeys(ctx)
	if err != nil {
		return err
	}

	var orphans []string
	for _, key := range indexed {
		if _, ok := live[key]; !ok {
			orphans = append(orphans, key)
		}
	}
	if len(orphans) == 0 {
		slog.Debug("Reconciliation sweep found no orphans",
			"store_keys", len(storeKeys), "indexed_keys", len(indexed))
		return nil
	}

	slog.Info("Reconciliation sweep deleting orphaned index records",
		"orphans", len(orphans))

	var wg sync.WaitGroup
	var sweepStats statsCollector
	now := time.Now()
	for _, key := range orphans {
		ev := pipeline.WorkEvent{
			Kind:       pipeline.KindDelete,
			StorageKey: key,
			Origin:     pipeline.OriginReconcile,
			EnqueuedAt: now,
		}
		wg.Add(1)
		ok := c.submit(ctx, laneItem{ev: ev, done: func(res pipeline.Result) {
			sweepStats.add(res)
			wg.Done()
		}})
		if !ok {
			wg.Done()
			return ctx.Err()
		}
	}
	wg.Wait()

	sweepStats.logSummary("Reconciliation sweep complete")
	return nil
}

// listStoreKeys lists every object key under the configured prefixes.
func (c *Coordinator) listStoreKeys(ctx context.Context) ([]string, error) {
	prefixes := c.cfg.Prefixes
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}

	seen := make(map[string]struct{})
	var keys []string
	for _, prefix := range prefixes {
		objects, err := c.deps.Store.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, obj := range objects {
			if _, dup := seen[obj.Key]; dup {
				continue
			}
			seen[obj.Key] = struct{}{}
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// statsCollector is a mutex-guarded Stats for done callbacks, which run
// on worker goroutines.
type statsCollector struct {
	mu    sync.Mutex
	stats pipeline.Stats
}

func (s *statsCollector) add(res pipeline.Result) {
	s.mu.Lock()
	s.stats.Add(res)
	s.mu.Unlock()
}

func (s *statsCollector) logSummary(label string) {
	s.mu.Lock()
	s.stats.LogSummary(label)
	s.mu.Unlock()
}
