//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
	"trpc.group/trpc-go/trpc-flowviz-go/state"
)

// wsTestServer is a minimal websocket endpoint that records inbound
// command frames and lets tests push frames to the client and kill
// connections.
type wsTestServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	reject   atomic.Bool
	frames   chan *protocol.Message

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{frames: make(chan *protocol.Message, 64)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ts.reject.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.DecodeMessage(data)
			if err != nil {
				continue
			}
			ts.frames <- msg
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

// push writes a frame to the most recent client connection.
func (ts *wsTestServer) push(t *testing.T, msgType protocol.MessageType, payload any) {
	t.Helper()
	data, err := protocol.EncodeMessage(msgType, payload)
	require.NoError(t, err)
	ts.mu.Lock()
	conn := ts.conns[len(ts.conns)-1]
	ts.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// killConns closes every accepted connection from the server side.
func (ts *wsTestServer) killConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		c.Close()
	}
	ts.conns = nil
}

func (ts *wsTestServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

// nextFrame waits for one recorded inbound frame.
func (ts *wsTestServer) nextFrame(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case msg := <-ts.frames:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func newTestSession(t *testing.T, url string, store *state.Store, opt ...Option) *Session {
	t.Helper()
	opts := append([]Option{
		WithStore(store),
		WithReconnectDelay(10 * time.Millisecond),
		WithMaxReconnectAttempts(20),
	}, opt...)
	sess, err := New(url, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Disconnect() })
	return sess
}

func cancelPayload(id string) *protocol.CancelCommand {
	return &protocol.CancelCommand{WorkflowID: id}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New("ws://localhost/ws")
	require.Error(t, err)
}

func TestConnectFailureIsReturned(t *testing.T) {
	ts := newWSTestServer(t)
	url := ts.url()
	ts.srv.Close()

	sess := newTestSession(t, url, state.New())
	err := sess.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, sess.State())
	assert.True(t, sess.Queueing())
}

func TestSendCommandQueuesWhileDisconnected(t *testing.T) {
	sess := newTestSession(t, "ws://localhost:1/ws", state.New())
	require.NoError(t, sess.SendCommand(protocol.MessageCancel, cancelPayload("A")))
	require.NoError(t, sess.SendCommand(protocol.MessageCancel, cancelPayload("B")))
	assert.Equal(t, 2, sess.QueuedCommands())
}

func TestSendCommandRejectsInvalidSynchronously(t *testing.T) {
	sess := newTestSession(t, "ws://localhost:1/ws", state.New())
	err := sess.SendCommand(protocol.MessageCancel, &protocol.CancelCommand{})
	require.ErrorIs(t, err, protocol.ErrValidation)
	assert.Equal(t, 0, sess.QueuedCommands(), "rejected command is never queued")

	err = sess.SendCommand(protocol.MessageStarted, &protocol.StartedEvent{WorkflowID: "wf"})
	require.ErrorIs(t, err, protocol.ErrValidation)
}

func TestConnectReplaysQueueInOrder(t *testing.T) {
	ts := newWSTestServer(t)
	sess := newTestSession(t, ts.url(), state.New())

	require.NoError(t, sess.SendCommand(protocol.MessageCancel, cancelPayload("A")))
	require.NoError(t, sess.SendCommand(protocol.MessageCancel, cancelPayload("B")))
	require.NoError(t, sess.Connect(context.Background()))
	assert.Equal(t, StateConnected, sess.State())
	assert.False(t, sess.Queueing())

	for _, want := range []string{"A", "B"} {
		msg := ts.nextFrame(t)
		require.Equal(t, protocol.MessageCancel, msg.Type)
		var cmd protocol.CancelCommand
		require.NoError(t, msg.UnmarshalPayload(&cmd))
		assert.Equal(t, want, cmd.WorkflowID)
	}
	assert.Equal(t, 0, sess.QueuedCommands())
}

func TestSendCommandWhileConnectedSendsImmediately(t *testing.T) {
	ts := newWSTestServer(t)
	sess := newTestSession(t, ts.url(), state.New())
	require.NoError(t, sess.Connect(context.Background()))

	require.NoError(t, sess.SendCommand(protocol.MessageCancel, cancelPayload("now")))
	msg := ts.nextFrame(t)
	assert.Equal(t, protocol.MessageCancel, msg.Type)
	assert.Equal(t, 0, sess.QueuedCommands())
}

func TestStartedResetsStore(t *testing.T) {
	ts := newWSTestServer(t)
	store := state.New()
	store.Update(protocol.EntityStateUpdate{EntityID: "stale"})
	sess := newTestSession(t, ts.url(), store)
	require.NoError(t, sess.Connect(context.Background()))

	ts.push(t, protocol.MessageStarted, &protocol.StartedEvent{WorkflowID: "wf"})
	require.Eventually(t, func() bool { return store.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestInboundBatchAppliedInOneCall(t *testing.T) {
	ts := newWSTestServer(t)
	var calls [][]string
	var callsMu sync.Mutex
	store := state.New(state.WithChangeListener(func(ids []string) {
		callsMu.Lock()
		calls = append(calls, ids)
		callsMu.Unlock()
	}))
	sess := newTestSession(t, ts.url(), store)
	require.NoError(t, sess.Connect(context.Background()))

	batch := &protocol.Batch{
		WorkflowID: "wf",
		Events: []protocol.EventEnvelope{
			{EntityID: "x", EventType: protocol.EventStart, Timestamp: 1},
			{EntityID: "y", EventType: protocol.EventComplete, Timestamp: 2},
		},
		Count: 2,
	}
	ts.push(t, protocol.MessageNodeEventsBatch, batch)

	require.Eventually(t, func() bool { return store.Len() == 2 },
		2*time.Second, 10*time.Millisecond)
	callsMu.Lock()
	defer callsMu.Unlock()
	require.Len(t, calls, 1, "one BatchUpdate call for the whole batch")
	assert.Equal(t, []string{"x", "y"}, calls[0])

	x, _ := store.Get("x")
	y, _ := store.Get("y")
	assert.Equal(t, protocol.StatusRunning, x.Status)
	assert.Equal(t, protocol.StatusCompleted, y.Status)
}

func TestMalformedEnvelopeDoesNotPoisonBatch(t *testing.T) {
	ts := newWSTestServer(t)
	store := state.New()
	sess := newTestSession(t, ts.url(), store)
	require.NoError(t, sess.Connect(context.Background()))

	batch := &protocol.Batch{
		WorkflowID: "wf",
		Events: []protocol.EventEnvelope{
			{EntityID: "bad", EventType: "boom", Timestamp: 1},
			{EntityID: "good", EventType: protocol.EventStart, Timestamp: 2},
		},
		Count: 2,
	}
	ts.push(t, protocol.MessageNodeEventsBatch, batch)

	require.Eventually(t, func() bool { return store.Len() == 1 },
		2*time.Second, 10*time.Millisecond)
	_, ok := store.Get("bad")
	assert.False(t, ok)
	_, ok = store.Get("good")
	assert.True(t, ok)
}

func TestInboundNodeEventApplied(t *testing.T) {
	ts := newWSTestServer(t)
	store := state.New()
	sess := newTestSession(t, ts.url(), store)
	require.NoError(t, sess.Connect(context.Background()))

	ts.push(t, protocol.MessageNodeEvent, &protocol.NodeEvent{
		WorkflowID: "wf",
		Event:      protocol.EventEnvelope{EntityID: "n1", EventType: protocol.EventStart, Timestamp: 3},
		Count:      1,
	})
	require.Eventually(t, func() bool {
		st, ok := store.Get("n1")
		return ok && st.Status == protocol.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerEventHandlerReceivesTerminalEvents(t *testing.T) {
	ts := newWSTestServer(t)
	got := make(chan protocol.MessageType, 8)
	sess := newTestSession(t, ts.url(), state.New(),
		WithServerEventHandler(func(msg *protocol.Message) {
			got <- msg.Type
		}))
	require.NoError(t, sess.Connect(context.Background()))

	ts.push(t, protocol.MessageComplete, &protocol.CompleteEvent{
		WorkflowID: "wf", TotalTime: 12, Status: protocol.RunStatusSuccess,
	})
	select {
	case mt := <-got:
		assert.Equal(t, protocol.MessageComplete, mt)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestReconnectReplaysCommandsQueuedDuringOutage(t *testing.T) {
	ts := newWSTestServer(t)
	sess := newTestSession(t, ts.url(), state.New())
	require.NoError(t, sess.Connect(context.Background()))

	// Force an outage: refuse upgrades, then cut the live connection.
	ts.reject.Store(true)
	ts.killConns()
	require.Eventually(t, func() bool { return sess.Queueing() },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, sess.SendCommand(protocol.MessageCancel, cancelPayload("A")))
	require.NoError(t, sess.SendCommand(protocol.MessageCancel, cancelPayload("B")))
	assert.Equal(t, 2, sess.QueuedCommands())

	ts.reject.Store(false)
	for _, want := range []string{"A", "B"} {
		msg := ts.nextFrame(t)
		require.Equal(t, protocol.MessageCancel, msg.Type)
		var cmd protocol.CancelCommand
		require.NoError(t, msg.UnmarshalPayload(&cmd))
		assert.Equal(t, want, cmd.WorkflowID, "FIFO order across the reconnect")
	}
	require.Eventually(t, func() bool { return sess.State() == StateConnected },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sess.QueuedCommands())
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	ts := newWSTestServer(t)
	sess := newTestSession(t, ts.url(), state.New())
	require.NoError(t, sess.Connect(context.Background()))
	require.Eventually(t, func() bool { return ts.connCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, sess.Disconnect())
	assert.Equal(t, StateDisconnected, sess.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ts.connCount(), "no reconnection after explicit disconnect")

	require.ErrorIs(t, sess.Connect(context.Background()), ErrClosed)
}
