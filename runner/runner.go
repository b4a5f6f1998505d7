//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

// Package runner provides the mock workflow execution driver. It walks a
// node graph from its start node with simulated latency and failures and
// emits entity lifecycle events through an injected emit function.
package runner

import (
	"context"
	"fmt"
	"time"

	"trpc.group/trpc-go/trpc-flowviz-go/log"
	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
)

// EmitFunc receives one lifecycle event per call, in execution order.
type EmitFunc func(event protocol.EventEnvelope)

// Result is the terminal outcome of one workflow run.
type Result struct {
	Status      protocol.RunStatus
	FailedNodes []string
	TotalTime   time.Duration
}

// Engine drives mock workflow runs. A single engine is safe for
// concurrent runs.
type Engine struct {
	opts *options
}

// New creates an engine.
func New(opt ...Option) *Engine {
	return &Engine{opts: newOptions(opt...)}
}

// Run executes the graph and emits lifecycle events. It returns the run
// result, or the context error if cancelled mid-run. Events for an entity
// stop at its first terminal event; nodes downstream of a failure are
// never started.
func (e *Engine) Run(ctx context.Context, g *protocol.Graph, emit EmitFunc) (*Result, error) {
	start := time.Now()
	order := executionOrder(g)
	skip := make(map[string]bool)
	var failed []string
	for _, node := range order {
		if skip[node.ID] {
			continue
		}
		if err := e.runNode(ctx, node, emit); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed = append(failed, node.ID)
			for _, id := range descendants(g, node.ID) {
				skip[id] = true
			}
		}
	}
	res := &Result{
		Status:    protocol.RunStatusSuccess,
		TotalTime: time.Since(start),
	}
	if len(failed) > 0 {
		res.Status = protocol.RunStatusFailed
		res.FailedNodes = failed
	}
	return res, nil
}

// runNode emits the lifecycle of one node: start, running steps for api
// nodes, then complete or error. The returned error marks node failure.
func (e *Engine) runNode(ctx context.Context, node protocol.Node, emit EmitFunc) error {
	startTime := protocol.NowMillis()
	emit(protocol.EventEnvelope{
		EntityID:  node.ID,
		EventType: protocol.EventStart,
		Timestamp: startTime,
		Payload: &protocol.EventPayload{
			StartTime: &startTime,
			Logs:      []string{fmt.Sprintf("Executing %s node %s", node.Type, node.ID)},
		},
	})
	if node.Type == protocol.NodeTypeAPI {
		for _, progress := range []float64{25, 50, 75} {
			if err := e.pause(ctx); err != nil {
				return err
			}
			p := progress
			emit(protocol.EventEnvelope{
				EntityID:  node.ID,
				EventType: protocol.EventRunning,
				Timestamp: protocol.NowMillis(),
				Payload: &protocol.EventPayload{
					Progress: &p,
					Logs: []string{
						fmt.Sprintf("Executing %s node %s", node.Type, node.ID),
						fmt.Sprintf("Request in flight (%.0f%%)", p),
					},
				},
			})
		}
	}
	if err := e.pause(ctx); err != nil {
		return err
	}
	if forceError(node) {
		msg := fmt.Sprintf("node %s failed: simulated upstream error", node.ID)
		stack := fmt.Sprintf("Error: simulated upstream error\n    at %s (%s)", node.ID, node.Type)
		endTime := protocol.NowMillis()
		emit(protocol.EventEnvelope{
			EntityID:  node.ID,
			EventType: protocol.EventError,
			Timestamp: endTime,
			Payload: &protocol.EventPayload{
				EndTime:    &endTime,
				Error:      &msg,
				ErrorStack: &stack,
			},
		})
		log.Debugf("runner: node %s failed", node.ID)
		return fmt.Errorf("runner: %s", msg)
	}
	endTime := protocol.NowMillis()
	progress := 100.0
	emit(protocol.EventEnvelope{
		EntityID:  node.ID,
		EventType: protocol.EventComplete,
		Timestamp: endTime,
		Payload: &protocol.EventPayload{
			EndTime:  &endTime,
			Progress: &progress,
			Result:   nodeResult(node),
		},
	})
	return nil
}

// pause sleeps a simulated step delay, honoring cancellation.
func (e *Engine) pause(ctx context.Context) error {
	d := e.opts.delay()
	if d <= 0 {
		// Still yield to cancellation between steps.
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// forceError reports whether the node's data requests a simulated failure.
func forceError(node protocol.Node) bool {
	v, ok := node.Data["forceError"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// nodeResult fabricates the completion payload for a node.
func nodeResult(node protocol.Node) any {
	switch node.Type {
	case protocol.NodeTypeAPI:
		return map[string]any{"statusCode": 200, "nodeId": node.ID}
	case protocol.NodeTypeResult:
		return map[string]any{"done": true}
	default:
		return map[string]any{"started": true}
	}
}

// executionOrder walks the graph breadth-first from its start nodes.
// Nodes unreachable from a start node are skipped.
func executionOrder(g *protocol.Graph) []protocol.Node {
	byID := make(map[string]protocol.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}
	adj := adjacency(g)
	var queue []string
	for _, n := range g.Nodes {
		if n.Type == protocol.NodeTypeStart {
			queue = append(queue, n.ID)
		}
	}
	seen := make(map[string]bool, len(g.Nodes))
	var order []protocol.Node
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		order = append(order, byID[id])
		queue = append(queue, adj[id]...)
	}
	return order
}

// descendants returns every node reachable from id, excluding id itself.
func descendants(g *protocol.Graph, id string) []string {
	adj := adjacency(g)
	seen := map[string]bool{id: true}
	queue := append([]string(nil), adj[id]...)
	var out []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, adj[next]...)
	}
	return out
}

// adjacency builds the source → targets map of the graph's edges.
func adjacency(g *protocol.Graph) map[string][]string {
	adj := make(map[string][]string, len(g.Edges))
	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	return adj
}
