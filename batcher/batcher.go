//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

// Package batcher coalesces entity lifecycle events per (session, workflow)
// key and flushes them to a delivery sink on a count or time trigger.
package batcher

import (
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-flowviz-go/log"
	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
)

// Key is the isolation unit for batching: one pending list and one timer
// per (session, workflow) pair, never shared across keys.
type Key struct {
	SessionID  string
	WorkflowID string
}

// Sink receives flushed output. DeliverBatch carries coalesced events in
// arrival order; DeliverEvent carries a single event from the immediate path.
type Sink interface {
	// DeliverBatch delivers a non-empty batch to the session's transport.
	DeliverBatch(sessionID string, batch protocol.Batch) error
	// DeliverEvent delivers one unbatched event to the session's transport.
	DeliverEvent(sessionID, workflowID string, event protocol.EventEnvelope) error
}

// Batcher accumulates events per key and flushes on batch size or window
// expiry, whichever comes first.
type Batcher struct {
	sink        Sink
	batchSize   int
	batchWindow time.Duration

	mu     sync.Mutex
	queues map[Key]*queue
}

// queue is the per-key pending list. Its own mutex serializes the
// size-triggered flush path against the timer callback; gen increments on
// every flush so a stale timer can detect that its set is already gone.
type queue struct {
	mu     sync.Mutex
	events []protocol.EventEnvelope
	timer  *time.Timer
	gen    uint64
}

// New creates a new batcher delivering to sink.
func New(sink Sink, opt ...Option) *Batcher {
	opts := newOptions(opt...)
	return &Batcher{
		sink:        sink,
		batchSize:   opts.batchSize,
		batchWindow: opts.batchWindow,
		queues:      make(map[Key]*queue),
	}
}

// Emit appends one event to the key's pending list. Reaching the batch
// size flushes synchronously and cancels the window timer in the same
// critical section; otherwise a timer is armed if none is pending.
func (b *Batcher) Emit(key Key, event protocol.EventEnvelope) {
	q := b.queue(key)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, event)
	if len(q.events) >= b.batchSize {
		b.flushLocked(key, q)
		return
	}
	if q.timer == nil {
		gen := q.gen
		q.timer = time.AfterFunc(b.batchWindow, func() {
			b.onWindowExpired(key, gen)
		})
	}
}

// EmitImmediate bypasses batching and delivers the event on its own with
// count 1. Mixing this path with Emit for the same key gives no ordering
// guarantee between the two.
func (b *Batcher) EmitImmediate(key Key, event protocol.EventEnvelope) {
	if err := b.sink.DeliverEvent(key.SessionID, key.WorkflowID, event); err != nil {
		log.Warnf("batcher: deliver immediate event, session %s workflow %s: %v",
			key.SessionID, key.WorkflowID, err)
	}
}

// Flush delivers the key's pending events now. No-op when nothing is pending.
func (b *Batcher) Flush(key Key) {
	q := b.lookup(key)
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	b.flushLocked(key, q)
}

// Cleanup drains any remainder and releases the key's timer resource.
// Idempotent: a second call for the same key is a no-op. Must be paired
// with workflow termination (completion, error, or cancel).
func (b *Batcher) Cleanup(key Key) {
	b.mu.Lock()
	q, ok := b.queues[key]
	if ok {
		delete(b.queues, key)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	b.flushLocked(key, q)
}

// PendingLen returns the number of events waiting under the key.
func (b *Batcher) PendingLen(key Key) int {
	q := b.lookup(key)
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// onWindowExpired is the timer callback. The generation check makes it a
// no-op when the accumulated set it was armed for has already been flushed.
func (b *Batcher) onWindowExpired(key Key, gen uint64) {
	q := b.lookup(key)
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.gen != gen {
		return
	}
	b.flushLocked(key, q)
}

// flushLocked delivers the pending list as one batch, clears it, and
// cancels the timer. Caller holds q.mu.
func (b *Batcher) flushLocked(key Key, q *queue) {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
	if len(q.events) == 0 {
		return
	}
	batch := protocol.Batch{
		WorkflowID: key.WorkflowID,
		Events:     q.events,
		Count:      len(q.events),
	}
	q.events = nil
	if err := b.sink.DeliverBatch(key.SessionID, batch); err != nil {
		log.Warnf("batcher: deliver batch of %d, session %s workflow %s: %v",
			batch.Count, key.SessionID, key.WorkflowID, err)
	}
}

// queue returns the key's queue, creating it on first use.
func (b *Batcher) queue(key Key) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[key]
	if !ok {
		q = &queue{}
		b.queues[key] = q
	}
	return q
}

// lookup returns the key's queue or nil.
func (b *Batcher) lookup(key Key) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[key]
}
