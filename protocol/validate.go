//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrValidation is the sentinel wrapped by every validation failure.
var ErrValidation = errors.New("protocol: validation failed")

// Stable error codes reported to clients.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeExecutionError  = "EXECUTION_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// ValidateEnvelope checks one event envelope against the wire contract:
// non-empty entity id, known event type, strictly positive timestamp, and
// payload fields within their domains.
func ValidateEnvelope(e *EventEnvelope) error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrValidation)
	}
	if e.EntityID == "" {
		return fmt.Errorf("%w: envelope entity id is empty", ErrValidation)
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, e.EventType)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: envelope timestamp %d is not positive", ErrValidation, e.Timestamp)
	}
	if p := e.Payload; p != nil {
		if p.Status != nil && !p.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrValidation, *p.Status)
		}
		if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 100) {
			return fmt.Errorf("%w: progress %v outside [0,100]", ErrValidation, *p.Progress)
		}
	}
	return nil
}

// ValidateBatch checks a batch frame: non-empty workflow id, at least one
// event, a consistent count, and every envelope valid.
func ValidateBatch(b *Batch) error {
	if b == nil {
		return fmt.Errorf("%w: nil batch", ErrValidation)
	}
	if b.WorkflowID == "" {
		return fmt.Errorf("%w: batch workflow id is empty", ErrValidation)
	}
	if len(b.Events) == 0 {
		return fmt.Errorf("%w: batch is empty", ErrValidation)
	}
	if b.Count != len(b.Events) {
		return fmt.Errorf("%w: batch count %d does not match %d events", ErrValidation, b.Count, len(b.Events))
	}
	for i := range b.Events {
		if err := ValidateEnvelope(&b.Events[i]); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// ValidateExecute checks an execute command: at least one node, unique
// non-empty node ids, known node types, at least one start node, and edges
// that reference known nodes.
func ValidateExecute(cmd *ExecuteCommand) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil execute command", ErrValidation)
	}
	if len(cmd.Nodes) == 0 {
		return fmt.Errorf("%w: execute has no nodes", ErrValidation)
	}
	ids := make(map[string]struct{}, len(cmd.Nodes))
	hasStart := false
	for i, n := range cmd.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has empty id", ErrValidation, i)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrValidation, n.ID)
		}
		ids[n.ID] = struct{}{}
		if !n.Type.Valid() {
			return fmt.Errorf("%w: node %q has unknown type %q", ErrValidation, n.ID, n.Type)
		}
		if n.Type == NodeTypeStart {
			hasStart = true
		}
	}
	if !hasStart {
		return fmt.Errorf("%w: execute has no start node", ErrValidation)
	}
	for i, e := range cmd.Edges {
		if e.ID == "" {
			return fmt.Errorf("%w: edge %d has empty id", ErrValidation, i)
		}
		if _, ok := ids[e.Source]; !ok {
			return fmt.Errorf("%w: edge %q references unknown source %q", ErrValidation, e.ID, e.Source)
		}
		if _, ok := ids[e.Target]; !ok {
			return fmt.Errorf("%w: edge %q references unknown target %q", ErrValidation, e.ID, e.Target)
		}
	}
	return nil
}

// ValidateCancel checks a cancel command.
func ValidateCancel(cmd *CancelCommand) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil cancel command", ErrValidation)
	}
	if cmd.WorkflowID == "" {
		return fmt.Errorf("%w: cancel workflow id is empty", ErrValidation)
	}
	return nil
}

// ValidateCommand decodes and validates an outbound command payload before
// it is queued or sent. Only command message types are accepted.
func ValidateCommand(t MessageType, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: command %q payload not serializable: %v", ErrValidation, t, err)
	}
	switch t {
	case MessageExecute:
		var cmd ExecuteCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return fmt.Errorf("%w: malformed execute payload: %v", ErrValidation, err)
		}
		return ValidateExecute(&cmd)
	case MessageCancel:
		var cmd CancelCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			return fmt.Errorf("%w: malformed cancel payload: %v", ErrValidation, err)
		}
		return ValidateCancel(&cmd)
	default:
		return fmt.Errorf("%w: %q is not a command", ErrValidation, t)
	}
}
