//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"time"

	"trpc.group/trpc-go/trpc-flowviz-go/batcher"
)

const (
	defaultAddress = ":8080" // defaultAddress is the listen address.
	defaultWSPath  = "/ws"   // defaultWSPath is the websocket endpoint path.
)

// Option is a function that configures the server options.
type Option func(*options)

// options configures the server.
type options struct {
	address        string
	wsPath         string
	allowedOrigins []string
	batcherOptions []batcher.Option
}

// newOptions creates a new options instance.
func newOptions(opt ...Option) *options {
	opts := &options{
		address:        defaultAddress,
		wsPath:         defaultWSPath,
		allowedOrigins: []string{"*"},
	}
	for _, o := range opt {
		o(opts)
	}
	return opts
}

// WithAddress sets the listen address.
func WithAddress(addr string) Option {
	return func(o *options) {
		if addr != "" {
			o.address = addr
		}
	}
}

// WithWSPath sets the websocket endpoint path.
func WithWSPath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.wsPath = path
		}
	}
}

// WithAllowedOrigins sets the CORS allowed origins.
func WithAllowedOrigins(origins []string) Option {
	return func(o *options) {
		if len(origins) > 0 {
			o.allowedOrigins = origins
		}
	}
}

// WithBatchSize sets the event count at which a pending batch flushes.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batcherOptions = append(o.batcherOptions, batcher.WithBatchSize(n))
	}
}

// WithBatchWindow sets how long events may wait before a flush.
func WithBatchWindow(d time.Duration) Option {
	return func(o *options) {
		o.batcherOptions = append(o.batcherOptions, batcher.WithBatchWindow(d))
	}
}
