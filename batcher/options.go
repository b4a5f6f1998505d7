//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

package batcher

import "time"

const (
	defaultBatchSize   = 10                     // defaultBatchSize is the count trigger.
	defaultBatchWindow = 100 * time.Millisecond // defaultBatchWindow is the time trigger.
)

// Option is a function that configures the batcher options.
type Option func(*options)

// options configures the batcher.
type options struct {
	batchSize   int
	batchWindow time.Duration
}

// newOptions creates a new options instance.
func newOptions(opt ...Option) *options {
	opts := &options{
		batchSize:   defaultBatchSize,
		batchWindow: defaultBatchWindow,
	}
	for _, o := range opt {
		o(opts)
	}
	return opts
}

// WithBatchSize sets the count at which a pending list flushes immediately.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithBatchWindow sets how long events may wait before a flush
// regardless of count.
func WithBatchWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.batchWindow = d
		}
	}
}
