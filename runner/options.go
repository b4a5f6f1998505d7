//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"math/rand"
	"sync"
	"time"
)

const (
	defaultMinStepDelay = 200 * time.Millisecond // defaultMinStepDelay bounds simulated latency below.
	defaultMaxStepDelay = 800 * time.Millisecond // defaultMaxStepDelay bounds simulated latency above.
)

// Option is a function that configures the engine options.
type Option func(*options)

// options configures the engine.
type options struct {
	delay func() time.Duration
}

// newOptions creates a new options instance.
func newOptions(opt ...Option) *options {
	opts := &options{
		delay: randomDelay(defaultMinStepDelay, defaultMaxStepDelay),
	}
	for _, o := range opt {
		o(opts)
	}
	return opts
}

// WithDelayRange sets the simulated per-step latency bounds.
func WithDelayRange(min, max time.Duration) Option {
	return func(o *options) {
		if min >= 0 && max >= min {
			o.delay = randomDelay(min, max)
		}
	}
}

// WithDelayFunc overrides the step delay source entirely. A func returning
// zero makes runs effectively instantaneous; intended for tests.
func WithDelayFunc(fn func() time.Duration) Option {
	return func(o *options) {
		if fn != nil {
			o.delay = fn
		}
	}
}

// randomDelay returns a goroutine-safe uniform delay source over [min, max].
func randomDelay(min, max time.Duration) func() time.Duration {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func() time.Duration {
		if max == min {
			return min
		}
		mu.Lock()
		defer mu.Unlock()
		return min + time.Duration(rng.Int63n(int64(max-min)))
	}
}
