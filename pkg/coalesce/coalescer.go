// roomstore - Session state helpers for a Matrix chat client.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package coalesce

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DefaultDelay is the quiet window used when Config.Delay is zero.
const DefaultDelay = 500 * time.Millisecond

var ErrClosed = errors.New("coalescer closed")

// FetchFunc loads the records for a batch of ids in one round trip.
type FetchFunc[V any] func(ctx context.Context, ids []string) ([]V, error)

// KeyFunc returns the id a fetched record is cached under.
type KeyFunc[V any] func(V) string

type RetryConfig struct {
	Enabled             bool
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
	RandomizationFactor float64
}

type Config struct {
	// Name labels logs and metrics.
	Name string
	// Delay is the debounce window. Every Request that queues a new id
	// restarts it.
	Delay time.Duration
	// FetchTimeout bounds a single FetchFunc call. Zero leaves it to the
	// transport.
	FetchTimeout time.Duration
	Retry        RetryConfig
	// Clock defaults to the wall clock.
	Clock   clock.Clock
	Metrics *Metrics
}

// Coalescer batches lookups by id. Ids requested within one quiet window
// are fetched together and the results are kept in a cache for the rest of
// the session.
//
// Ids that are in flight are not queued again, but new ids may form a
// second batch before the first one returns.
type Coalescer[V any] struct {
	name    string
	fetch   FetchFunc[V]
	keyOf   KeyFunc[V]
	cfg     Config
	clock   clock.Clock
	log     zerolog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	pending    map[string]struct{}
	inFlight   map[string]struct{}
	cache      map[string]Entry[V]
	timer      *clock.Timer
	timerSeq   uint64
	generation uint64
	retry      *backoff.ExponentialBackOff
	changed    chan struct{}
	closed     bool
	onApply    func(values []V)
}

// New creates a coalescer. fetch and keyOf must not be nil.
func New[V any](fetch FetchFunc[V], keyOf KeyFunc[V], cfg Config, log zerolog.Logger) *Coalescer[V] {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coalescer[V]{
		name:     cfg.Name,
		fetch:    fetch,
		keyOf:    keyOf,
		cfg:      cfg,
		clock:    cfg.Clock,
		log:      log.With().Str("coalescer", cfg.Name).Logger(),
		metrics:  cfg.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
		cache:    make(map[string]Entry[V]),
		changed:  make(chan struct{}),
	}
	if cfg.Retry.Enabled {
		c.retry = newBackOff(cfg.Retry, cfg.Clock)
	}
	return c
}

func newBackOff(cfg RetryConfig, clk clock.Clock) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	b.MaxElapsedTime = cfg.MaxElapsedTime
	b.RandomizationFactor = cfg.RandomizationFactor
	b.Clock = clk
	b.Reset()
	return b
}

// OnApply registers fn to receive the records of every successful batch
// that is kept. Batches discarded by Reset never reach it. fn runs with the
// coalescer locked and must not call back into it.
func (c *Coalescer[V]) OnApply(fn func(values []V)) {
	c.mu.Lock()
	c.onApply = fn
	c.mu.Unlock()
}

// Request queues the ids that aren't cached or already being fetched and
// restarts the quiet window. Calling it again with the same ids is harmless.
func (c *Coalescer[V]) Request(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := c.cache[id]; ok {
			continue
		}
		if _, ok := c.pending[id]; ok {
			continue
		}
		if _, ok := c.inFlight[id]; ok {
			continue
		}
		c.pending[id] = struct{}{}
		added++
	}
	if added > 0 {
		c.metrics.requested(c.name, added)
	}
	if added > 0 || (c.timer == nil && len(c.pending) > 0) {
		c.armLocked(c.cfg.Delay)
	}
}

// armLocked replaces the outstanding timer, if any, with one that fires after d.
func (c *Coalescer[V]) armLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerSeq++
	seq := c.timerSeq
	c.timer = c.clock.AfterFunc(d, func() {
		c.fire(seq)
	})
}

func (c *Coalescer[V]) fire(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq {
		// Superseded by a later Request; Stop lost the race.
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.closed || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
		c.inFlight[id] = struct{}{}
	}
	slices.Sort(ids)
	c.pending = make(map[string]struct{})
	gen := c.generation
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	c.runBatch(gen, ids)
}

func (c *Coalescer[V]) runBatch(gen uint64, ids []string) {
	ctx := c.ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	c.log.Debug().Strs("ids", ids).Msg("Fetching batch")
	start := c.clock.Now()
	values, err := c.fetch(ctx, ids)
	c.metrics.observeBatch(c.name, len(ids), err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.log.Debug().Strs("ids", ids).Msg("Discarding batch started before reset")
		return
	}
	for _, id := range ids {
		delete(c.inFlight, id)
	}
	if err != nil {
		for _, id := range ids {
			if _, cached := c.cache[id]; !cached {
				c.pending[id] = struct{}{}
			}
		}
		evt := c.log.Warn().Err(err).Strs("ids", ids)
		if c.closed {
			evt.Msg("Batch fetch failed during shutdown")
			return
		}
		if c.retry == nil {
			evt.Msg("Batch fetch failed, ids stay queued until requested again")
			return
		}
		next := c.retry.NextBackOff()
		if next == backoff.Stop {
			evt.Msg("Batch fetch failed, retry budget exhausted")
			c.retry.Reset()
			return
		}
		evt.Dur("retry_in", next).Msg("Batch fetch failed, will retry")
		if c.timer == nil {
			c.armLocked(next)
		}
		return
	}
	if c.retry != nil {
		c.retry.Reset()
	}
	now := c.clock.Now()
	for _, v := range values {
		key := c.keyOf(v)
		if key == "" {
			continue
		}
		c.cache[key] = Entry[V]{Value: v, State: StateFound, FetchedAt: now}
		delete(c.pending, key)
	}
	missing := 0
	for _, id := range ids {
		if _, ok := c.cache[id]; !ok {
			c.cache[id] = Entry[V]{State: StateNotFound, FetchedAt: now}
			missing++
		}
	}
	c.log.Debug().
		Int("requested", len(ids)).
		Int("returned", len(values)).
		Int("missing", missing).
		Dur("duration", now.Sub(start)).
		Msg("Applied batch")
	if c.onApply != nil {
		c.onApply(values)
	}
	c.notifyLocked()
}

// Read returns the cached state of id without queueing anything.
func (c *Coalescer[V]) Read(id string) Entry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(id)
}

func (c *Coalescer[V]) readLocked(id string) Entry[V] {
	if entry, ok := c.cache[id]; ok {
		return entry
	}
	if _, ok := c.pending[id]; ok {
		return Entry[V]{State: StatePending}
	}
	if _, ok := c.inFlight[id]; ok {
		return Entry[V]{State: StatePending}
	}
	return Entry[V]{State: StateUnknown}
}

// Get returns the cached value of id if it has been fetched.
func (c *Coalescer[V]) Get(id string) (V, bool) {
	entry := c.Read(id)
	return entry.Value, entry.State == StateFound
}

// Pending returns the queued ids, not including ones currently in flight.
func (c *Coalescer[V]) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Prime stores records obtained elsewhere as if they had been fetched.
func (c *Coalescer[V]) Prime(values ...V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for _, v := range values {
		key := c.keyOf(v)
		if key == "" {
			continue
		}
		c.cache[key] = Entry[V]{Value: v, State: StateFound, FetchedAt: now}
		delete(c.pending, key)
	}
	c.notifyLocked()
}

// Invalidate drops cached entries so the next Request fetches them again.
func (c *Coalescer[V]) Invalidate(ids ...string) {
	c.mu.Lock()
	for _, id := range ids {
		delete(c.cache, id)
	}
	c.mu.Unlock()
}

// Wait blocks until every id is either found or known to be missing.
// It doesn't queue anything; call Request first.
func (c *Coalescer[V]) Wait(ctx context.Context, ids ...string) (map[string]Entry[V], error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		out := make(map[string]Entry[V], len(ids))
		for _, id := range ids {
			entry := c.readLocked(id)
			if !entry.State.Resolved() {
				out = nil
				break
			}
			out[id] = entry
		}
		changed := c.changed
		c.mu.Unlock()
		if out != nil {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

func (c *Coalescer[V]) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// Reset forgets everything: queued ids, the cache and the retry state.
// Batches that were started before the reset are discarded when they return.
func (c *Coalescer[V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
	c.pending = make(map[string]struct{})
	c.inFlight = make(map[string]struct{})
	c.cache = make(map[string]Entry[V])
	if c.retry != nil {
		c.retry.Reset()
	}
	c.notifyLocked()
	c.log.Debug().Msg("Coalescer reset")
}

// Close stops the timer, cancels batches in flight and waits for them to return.
func (c *Coalescer[V]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerSeq++
	c.notifyLocked()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
