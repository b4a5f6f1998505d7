//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

// Package protocol defines the wire vocabulary shared by the flowviz
// server and client: entity execution state, lifecycle event envelopes,
// batches, and the command/event message shapes.
package protocol

import "time"

// Status represents the execution status of a single entity.
type Status string

// Status constants.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRunning, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status ends an execution attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// EventType represents the lifecycle phase carried by an event envelope.
type EventType string

// Event type constants.
const (
	EventStart    EventType = "start"
	EventRunning  EventType = "running"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Valid reports whether the event type is one of the known values.
func (t EventType) Valid() bool {
	switch t {
	case EventStart, EventRunning, EventComplete, EventError:
		return true
	default:
		return false
	}
}

// Status maps the event type to the entity status it implies.
func (t EventType) Status() Status {
	switch t {
	case EventStart, EventRunning:
		return StatusRunning
	case EventComplete:
		return StatusCompleted
	case EventError:
		return StatusError
	default:
		return StatusIdle
	}
}

// MaxLogsPerEntity is the hard cap on retained log lines per entity.
// Oldest entries are dropped first when the cap is exceeded.
const MaxLogsPerEntity = 100

// EntityExecutionState is the tracked execution state of one entity.
// Timestamps are Unix milliseconds.
type EntityExecutionState struct {
	Status     Status   `json:"status"`
	Timestamp  int64    `json:"timestamp"`
	StartTime  *int64   `json:"startTime,omitempty"`
	EndTime    *int64   `json:"endTime,omitempty"`
	Logs       []string `json:"logs"`
	Error      *string  `json:"error,omitempty"`
	ErrorStack *string  `json:"errorStack,omitempty"`
	Result     any      `json:"result,omitempty"`
	Progress   *float64 `json:"progress,omitempty"`
}

// EntityStateUpdate is a partial patch against one entity's state.
// Nil fields leave the current value unchanged. A non-nil Logs slice
// replaces the log list wholesale (then truncation applies). A nil
// Timestamp defaults to "now" at merge time.
type EntityStateUpdate struct {
	EntityID   string   `json:"entityId"`
	Status     *Status  `json:"status,omitempty"`
	Timestamp  *int64   `json:"timestamp,omitempty"`
	StartTime  *int64   `json:"startTime,omitempty"`
	EndTime    *int64   `json:"endTime,omitempty"`
	Logs       []string `json:"logs,omitempty"`
	Error      *string  `json:"error,omitempty"`
	ErrorStack *string  `json:"errorStack,omitempty"`
	Result     any      `json:"result,omitempty"`
	Progress   *float64 `json:"progress,omitempty"`
}

// EventPayload carries the optional state fields of an event envelope.
type EventPayload struct {
	Status     *Status  `json:"status,omitempty"`
	StartTime  *int64   `json:"startTime,omitempty"`
	EndTime    *int64   `json:"endTime,omitempty"`
	Logs       []string `json:"logs,omitempty"`
	Error      *string  `json:"error,omitempty"`
	ErrorStack *string  `json:"errorStack,omitempty"`
	Result     any      `json:"result,omitempty"`
	Progress   *float64 `json:"progress,omitempty"`
}

// EventEnvelope is one entity lifecycle event on the wire.
type EventEnvelope struct {
	EntityID  string        `json:"entityId"`
	EventType EventType     `json:"eventType"`
	Timestamp int64         `json:"timestamp"`
	Payload   *EventPayload `json:"payload,omitempty"`
}

// StateUpdate converts the envelope into a state patch. The entity status
// is derived from the event type unless the payload carries one explicitly.
func (e *EventEnvelope) StateUpdate() EntityStateUpdate {
	ts := e.Timestamp
	status := e.EventType.Status()
	u := EntityStateUpdate{
		EntityID:  e.EntityID,
		Status:    &status,
		Timestamp: &ts,
	}
	if p := e.Payload; p != nil {
		if p.Status != nil {
			u.Status = p.Status
		}
		u.StartTime = p.StartTime
		u.EndTime = p.EndTime
		u.Logs = p.Logs
		u.Error = p.Error
		u.ErrorStack = p.ErrorStack
		u.Result = p.Result
		u.Progress = p.Progress
	}
	return u
}

// Batch is an ordered group of event envelopes for one workflow.
// Count always equals len(Events) and an emitted batch is never empty.
type Batch struct {
	WorkflowID string          `json:"workflowId"`
	Events     []EventEnvelope `json:"events"`
	Count      int             `json:"count"`
}

// NodeType represents the type of a workflow graph node.
type NodeType string

// Node type constants.
const (
	NodeTypeStart  NodeType = "start"
	NodeTypeAPI    NodeType = "api"
	NodeTypeResult NodeType = "result"
)

// Valid reports whether the node type is one of the known values.
func (nt NodeType) Valid() bool {
	switch nt {
	case NodeTypeStart, NodeTypeAPI, NodeTypeResult:
		return true
	default:
		return false
	}
}

// Node is one node of a workflow graph submitted for execution.
type Node struct {
	ID    string         `json:"id"`
	Type  NodeType       `json:"type"`
	Label string         `json:"label,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Edge is a directed dependency between two nodes.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the node/edge input of an execute command.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NowMillis returns the current time in Unix milliseconds, the timestamp
// unit used throughout the protocol.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
