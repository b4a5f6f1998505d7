//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

// Package client implements the transport session: it owns the live
// websocket connection, the reconnect policy, and the outbound command
// queue, and feeds inbound event batches into the state store.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"trpc.group/trpc-go/trpc-flowviz-go/log"
	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
)

// State is the connection state of a session.
type State string

// Session states.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// ErrClosed is returned when operating on an explicitly disconnected session.
var ErrClosed = errors.New("client: session closed")

// command is one queued outbound command.
type command struct {
	name    protocol.MessageType
	payload any
}

// Session is the client-side transport session. Construct it with New and
// inject configuration through options; it holds no process-wide state.
type Session struct {
	url     string
	opts    *options
	writeMu sync.Mutex // serializes writes to the live connection

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	queueing     bool
	pending      []command
	closed       bool
	reconnecting bool
	connGen      uint64 // invalidates read loops of replaced connections
}

// New creates a session targeting the given websocket URL.
func New(url string, opt ...Option) (*Session, error) {
	opts := newOptions(opt...)
	if opts.store == nil {
		return nil, errors.New("client: state store is required")
	}
	return &Session{
		url:      url,
		opts:     opts,
		state:    StateDisconnected,
		queueing: true,
	}, nil
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Queueing reports whether outbound commands are currently being queued
// instead of sent. True whenever the session is not actively connected.
func (s *Session) Queueing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueing
}

// QueuedCommands returns the number of commands waiting for replay.
func (s *Session) QueuedCommands() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Connect establishes the connection. A failure before the first
// successful connect is returned to the caller; once connected, the
// queued outbound commands are replayed in FIFO order and the read loop
// starts.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == StateConnected || s.state == StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("client: connect while %s", s.state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, _, err := s.opts.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return fmt.Errorf("client: dial %s: %w", s.url, err)
	}
	s.adopt(conn)
	return nil
}

// Disconnect tears the session down. No reconnection is scheduled; queued
// commands are retained but never replayed.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateDisconnected
	s.queueing = true
	conn := s.conn
	s.conn = nil
	s.connGen++
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// SendCommand validates and sends a command, or queues it while not
// connected. Queueing is not an error: delivery happens on (re)connect.
func (s *Session) SendCommand(name protocol.MessageType, payload any) error {
	if err := protocol.ValidateCommand(name, payload); err != nil {
		return err
	}
	s.mu.Lock()
	if s.queueing || s.conn == nil {
		s.pending = append(s.pending, command{name: name, payload: payload})
		n := len(s.pending)
		s.mu.Unlock()
		log.Debugf("client: queued command %s, %d pending", name, n)
		return nil
	}
	conn := s.conn
	s.mu.Unlock()
	if err := s.write(conn, name, payload); err != nil {
		// The write found a dead connection before the read loop did.
		// Keep the command; the read loop drives reconnection.
		s.mu.Lock()
		s.pending = append(s.pending, command{name: name, payload: payload})
		s.mu.Unlock()
		log.Warnf("client: send command %s failed, queued for replay: %v", name, err)
		return nil
	}
	return nil
}

// adopt installs a live connection, replays the queue, and starts the
// read loop.
func (s *Session) adopt(conn *websocket.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = StateConnected
	s.queueing = false
	replay := s.pending
	s.pending = nil
	s.connGen++
	gen := s.connGen
	s.mu.Unlock()

	for _, c := range replay {
		if err := s.write(conn, c.name, c.payload); err != nil {
			log.Warnf("client: replay command %s: %v", c.name, err)
			s.mu.Lock()
			s.pending = append(s.pending, c)
			s.mu.Unlock()
		}
	}
	go s.readLoop(conn, gen)
}

// write frames and writes one command on the given connection.
func (s *Session) write(conn *websocket.Conn, name protocol.MessageType, payload any) error {
	data, err := protocol.EncodeMessage(name, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes inbound frames until the connection dies, then hands
// off to the reconnect policy. gen guards against a loop of a replaced
// connection touching session state.
func (s *Session) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.onConnLost(gen, err)
			return
		}
		s.dispatch(data)
	}
}

// onConnLost transitions to queueing and schedules reconnection, unless
// the loss was an explicit Disconnect or the loop is stale.
func (s *Session) onConnLost(gen uint64, cause error) {
	s.mu.Lock()
	if s.closed || gen != s.connGen {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	s.queueing = true
	if s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()
	log.Warnf("client: connection lost, queueing outbound commands: %v", cause)
	go s.reconnect()
}

// reconnect retries the dial with capped exponential backoff. Exhausting
// the attempt limit leaves the session queueing indefinitely; surfacing
// that is the caller's concern.
func (s *Session) reconnect() {
	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.opts.reconnectDelay
	expo.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(expo, uint64(s.opts.maxReconnectAttempts))
	attempt := 0
	err := backoff.Retry(func() error {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return backoff.Permanent(ErrClosed)
		}
		attempt++
		conn, _, err := s.opts.dialer.Dial(s.url, nil)
		if err != nil {
			log.Debugf("client: reconnect attempt %d: %v", attempt, err)
			return err
		}
		// Clear the flag before the new read loop starts so a loss of
		// this connection can schedule the next reconnect.
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
		s.adopt(conn)
		return nil
	}, policy)
	if err != nil && !errors.Is(err, ErrClosed) {
		log.Errorf("client: reconnect gave up after %d attempts: %v", attempt, err)
	}
}
