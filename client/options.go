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
	"time"

	"github.com/gorilla/websocket"

	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
	"trpc.group/trpc-go/trpc-flowviz-go/state"
)

const (
	defaultReconnectDelay       = 3 * time.Second // defaultReconnectDelay is the initial backoff interval.
	defaultMaxReconnectAttempts = 5               // defaultMaxReconnectAttempts caps the retry count.
)

// Option is a function that configures the session options.
type Option func(*options)

// options configures the session.
type options struct {
	store                *state.Store
	dialer               *websocket.Dialer
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	eventHandler         func(*protocol.Message)
}

// newOptions creates a new options instance.
func newOptions(opt ...Option) *options {
	opts := &options{
		dialer:               websocket.DefaultDialer,
		reconnectDelay:       defaultReconnectDelay,
		maxReconnectAttempts: defaultMaxReconnectAttempts,
	}
	for _, o := range opt {
		o(opts)
	}
	return opts
}

// WithStore sets the state store inbound batches are merged into. Required.
func WithStore(s *state.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithReconnectDelay sets the initial delay between reconnection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconnectDelay = d
		}
	}
}

// WithMaxReconnectAttempts caps the number of reconnection attempts after
// an unexpected disconnect.
func WithMaxReconnectAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxReconnectAttempts = n
		}
	}
}

// WithServerEventHandler registers a callback for workflow-level server
// events (started, complete, error, cancelled) and applied event frames.
func WithServerEventHandler(fn func(*protocol.Message)) Option {
	return func(o *options) {
		o.eventHandler = fn
	}
}
