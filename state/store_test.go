//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
)

func statusPtr(s protocol.Status) *protocol.Status { return &s }
func int64Ptr(v int64) *int64                      { return &v }

func TestUpdateCreatesIdleDefaultThenMerges(t *testing.T) {
	store := New(WithClock(func() int64 { return 42 }))
	store.Update(protocol.EntityStateUpdate{
		EntityID: "n1",
		Status:   statusPtr(protocol.StatusRunning),
	})

	st, ok := store.Get("n1")
	require.True(t, ok)
	assert.Equal(t, protocol.StatusRunning, st.Status)
	assert.Equal(t, int64(42), st.Timestamp)
	assert.Empty(t, st.Logs)
	assert.Nil(t, st.Progress)
}

func TestUpdateKeepsUnpatchedFields(t *testing.T) {
	store := New()
	progress := 50.0
	store.Update(protocol.EntityStateUpdate{
		EntityID: "n1",
		Status:   statusPtr(protocol.StatusRunning),
		Progress: &progress,
		Logs:     []string{"one"},
	})
	store.Update(protocol.EntityStateUpdate{
		EntityID: "n1",
		Status:   statusPtr(protocol.StatusCompleted),
	})

	st, ok := store.Get("n1")
	require.True(t, ok)
	assert.Equal(t, protocol.StatusCompleted, st.Status)
	require.NotNil(t, st.Progress)
	assert.Equal(t, 50.0, *st.Progress)
	assert.Equal(t, []string{"one"}, st.Logs)
}

func TestUpdateExplicitTimestampWins(t *testing.T) {
	store := New(WithClock(func() int64 { return 99 }))
	store.Update(protocol.EntityStateUpdate{
		EntityID:  "n1",
		Timestamp: int64Ptr(7),
	})
	st, _ := store.Get("n1")
	assert.Equal(t, int64(7), st.Timestamp)
}

func TestLogsReplacedAndTruncated(t *testing.T) {
	store := New()
	// 150 sequential log-appending updates, each replacing the full list.
	var logs []string
	for i := 0; i < 150; i++ {
		logs = append(logs, fmt.Sprintf("line-%d", i))
		store.Update(protocol.EntityStateUpdate{
			EntityID: "n1",
			Logs:     append([]string(nil), logs...),
		})
	}
	st, ok := store.Get("n1")
	require.True(t, ok)
	require.Len(t, st.Logs, protocol.MaxLogsPerEntity)
	assert.Equal(t, "line-50", st.Logs[0])
	assert.Equal(t, "line-149", st.Logs[len(st.Logs)-1])
}

func TestGetAbsentID(t *testing.T) {
	store := New()
	st, ok := store.Get("ghost")
	assert.False(t, ok)
	assert.Zero(t, st)
}

func TestGetReturnsCopy(t *testing.T) {
	store := New()
	store.Update(protocol.EntityStateUpdate{EntityID: "n1", Logs: []string{"a"}})
	st, _ := store.Get("n1")
	st.Logs[0] = "mutated"
	again, _ := store.Get("n1")
	assert.Equal(t, "a", again.Logs[0])
}

func TestReset(t *testing.T) {
	store := New()
	store.Update(protocol.EntityStateUpdate{EntityID: "n1"})
	store.Update(protocol.EntityStateUpdate{EntityID: "n2"})
	require.Equal(t, 2, store.Len())

	store.Reset()
	assert.Equal(t, 0, store.Len())
	_, ok := store.Get("n1")
	assert.False(t, ok)
}

func TestBatchUpdateAtomicVisibility(t *testing.T) {
	store := New()
	store.BatchUpdate([]protocol.EntityStateUpdate{
		{EntityID: "x", Status: statusPtr(protocol.StatusIdle)},
		{EntityID: "y", Status: statusPtr(protocol.StatusIdle)},
	})

	const rounds = 500
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	// Reader must never observe x updated without y (or vice versa):
	// both flip status in the same batch every round.
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			snap := store.Snapshot()
			x, okX := snap["x"]
			y, okY := snap["y"]
			if !okX || !okY {
				continue
			}
			assert.Equal(t, x.Status, y.Status, "partial batch observed")
		}
	}()
	for i := 0; i < rounds; i++ {
		status := protocol.StatusRunning
		if i%2 == 1 {
			status = protocol.StatusCompleted
		}
		store.BatchUpdate([]protocol.EntityStateUpdate{
			{EntityID: "x", Status: statusPtr(status)},
			{EntityID: "y", Status: statusPtr(status)},
		})
	}
	close(done)
	wg.Wait()
}

func TestBatchUpdateEmptyIsNoOp(t *testing.T) {
	called := false
	store := New(WithChangeListener(func([]string) { called = true }))
	store.BatchUpdate(nil)
	assert.False(t, called)
}

func TestChangeListenerReportsTouchedIDs(t *testing.T) {
	var got [][]string
	store := New(WithChangeListener(func(ids []string) {
		got = append(got, ids)
	}))
	store.Update(protocol.EntityStateUpdate{EntityID: "a"})
	store.BatchUpdate([]protocol.EntityStateUpdate{
		{EntityID: "b"},
		{EntityID: "c"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a"}, got[0])
	assert.Equal(t, []string{"b", "c"}, got[1])
}

func TestConcurrentUpdates(t *testing.T) {
	store := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := fmt.Sprintf("n%d", g)
			for i := 0; i < 200; i++ {
				store.Update(protocol.EntityStateUpdate{
					EntityID: id,
					Status:   statusPtr(protocol.StatusRunning),
				})
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 8, store.Len())
}
