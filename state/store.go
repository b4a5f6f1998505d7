//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

// Package state holds the authoritative mapping from entity id to its
// execution state and applies single- and multi-event patches atomically.
package state

import (
	"sync"
	"time"

	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
)

// Store is the in-memory entity state map. All mutations go through
// Update, BatchUpdate, and Reset; those are the only serialization points.
type Store struct {
	mu         sync.RWMutex
	states     map[string]*protocol.EntityExecutionState
	maxLogs    int
	now        func() int64
	onChangeFn func(entityIDs []string)
}

// New creates a new store.
func New(opt ...Option) *Store {
	opts := newOptions(opt...)
	return &Store{
		states:     make(map[string]*protocol.EntityExecutionState),
		maxLogs:    opts.maxLogs,
		now:        opts.now,
		onChangeFn: opts.onChange,
	}
}

// Update merges one patch into the entity's state. A missing entity is
// created lazily with the idle default before the merge.
func (s *Store) Update(u protocol.EntityStateUpdate) {
	s.mu.Lock()
	s.apply(u)
	s.mu.Unlock()
	s.notify([]string{u.EntityID})
}

// BatchUpdate merges every patch under one write-lock section. Readers
// observe either the pre-batch or the post-batch state, never a partial
// application.
func (s *Store) BatchUpdate(updates []protocol.EntityStateUpdate) {
	if len(updates) == 0 {
		return
	}
	changed := make([]string, 0, len(updates))
	s.mu.Lock()
	for _, u := range updates {
		s.apply(u)
		changed = append(changed, u.EntityID)
	}
	s.mu.Unlock()
	s.notify(changed)
}

// Reset clears the entire map. Invoked when a new workflow run begins.
func (s *Store) Reset() {
	s.mu.Lock()
	s.states = make(map[string]*protocol.EntityExecutionState)
	s.mu.Unlock()
}

// Get returns a copy of the entity's state. An absent id yields the zero
// value and false; the idle default is a merge-time fabrication, not a
// read-time one.
func (s *Store) Get(entityID string) (protocol.EntityExecutionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[entityID]
	if !ok {
		return protocol.EntityExecutionState{}, false
	}
	return copyState(st), true
}

// Len returns the number of tracked entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Snapshot returns a copy of the full entity state map.
func (s *Store) Snapshot() map[string]protocol.EntityExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]protocol.EntityExecutionState, len(s.states))
	for id, st := range s.states {
		out[id] = copyState(st)
	}
	return out
}

// apply merges one patch. Caller holds the write lock.
func (s *Store) apply(u protocol.EntityStateUpdate) {
	st, ok := s.states[u.EntityID]
	if !ok {
		st = &protocol.EntityExecutionState{
			Status: protocol.StatusIdle,
			Logs:   []string{},
		}
		s.states[u.EntityID] = st
	}
	if u.Status != nil {
		st.Status = *u.Status
	}
	if u.Timestamp != nil {
		st.Timestamp = *u.Timestamp
	} else {
		st.Timestamp = s.now()
	}
	if u.StartTime != nil {
		st.StartTime = u.StartTime
	}
	if u.EndTime != nil {
		st.EndTime = u.EndTime
	}
	if u.Logs != nil {
		// Full replacement, then keep only the most recent entries.
		logs := u.Logs
		if len(logs) > s.maxLogs {
			logs = logs[len(logs)-s.maxLogs:]
		}
		st.Logs = append([]string(nil), logs...)
	}
	if u.Error != nil {
		st.Error = u.Error
	}
	if u.ErrorStack != nil {
		st.ErrorStack = u.ErrorStack
	}
	if u.Result != nil {
		st.Result = u.Result
	}
	if u.Progress != nil {
		st.Progress = u.Progress
	}
}

// notify runs the change listener outside the lock.
func (s *Store) notify(entityIDs []string) {
	if s.onChangeFn != nil {
		s.onChangeFn(entityIDs)
	}
}

func copyState(st *protocol.EntityExecutionState) protocol.EntityExecutionState {
	out := *st
	out.Logs = append([]string(nil), st.Logs...)
	return out
}

func defaultNow() int64 {
	return time.Now().UnixMilli()
}
