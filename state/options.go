//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

package state

import "trpc.group/trpc-go/trpc-flowviz-go/protocol"

// Option is a function that configures the store options.
type Option func(*options)

// options configures the store.
type options struct {
	maxLogs  int
	now      func() int64
	onChange func(entityIDs []string)
}

// newOptions creates a new options instance.
func newOptions(opt ...Option) *options {
	opts := &options{
		maxLogs: protocol.MaxLogsPerEntity,
		now:     defaultNow,
	}
	for _, o := range opt {
		o(opts)
	}
	return opts
}

// WithMaxLogs overrides the per-entity log cap. Intended for tests; the
// wire contract fixes the cap at protocol.MaxLogsPerEntity.
func WithMaxLogs(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLogs = n
		}
	}
}

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() int64) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithChangeListener registers a callback invoked once per Update or
// BatchUpdate with the ids of the entities touched, after the mutation
// is fully visible.
func WithChangeListener(fn func(entityIDs []string)) Option {
	return func(o *options) {
		o.onChange = fn
	}
}
