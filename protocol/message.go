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
	"fmt"
)

// MessageType identifies a wire message shape.
type MessageType string

// Client to server commands.
const (
	MessageExecute MessageType = "execute"
	MessageCancel  MessageType = "cancel"
)

// Server to client events.
const (
	MessageStarted         MessageType = "started"
	MessageNodeEvent       MessageType = "node-event"
	MessageNodeEventsBatch MessageType = "node-events-batch"
	MessageComplete        MessageType = "complete"
	MessageError           MessageType = "error"
	MessageCancelled       MessageType = "cancelled"
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	return string(t)
}

// Command reports whether the message type is a client-issued command.
func (t MessageType) Command() bool {
	return t == MessageExecute || t == MessageCancel
}

// Valid reports whether the message type is one of the known values.
func (t MessageType) Valid() bool {
	switch t {
	case MessageExecute, MessageCancel, MessageStarted, MessageNodeEvent,
		MessageNodeEventsBatch, MessageComplete, MessageError, MessageCancelled:
		return true
	default:
		return false
	}
}

// Message is the outer frame of every wire message.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalPayload decodes the message payload into v.
func (m *Message) UnmarshalPayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("protocol: message %q has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode %q payload: %w", m.Type, err)
	}
	return nil
}

// ExecuteCommand asks the server to run a workflow graph.
type ExecuteCommand struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// CancelCommand asks the server to stop a running workflow.
type CancelCommand struct {
	WorkflowID string `json:"workflowId"`
}

// StartedEvent announces that a workflow run has been admitted.
type StartedEvent struct {
	WorkflowID string `json:"workflowId"`
}

// NodeEvent carries a single unbatched lifecycle event.
type NodeEvent struct {
	WorkflowID string        `json:"workflowId"`
	Event      EventEnvelope `json:"event"`
	Count      int           `json:"count"`
}

// RunStatus is the terminal outcome of a workflow run.
type RunStatus string

// Run status constants.
const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// CompleteEvent announces the end of a workflow run.
type CompleteEvent struct {
	WorkflowID  string    `json:"workflowId"`
	TotalTime   float64   `json:"totalTime"`
	Status      RunStatus `json:"status"`
	FailedNodes []string  `json:"failedNodes,omitempty"`
}

// ErrorEvent reports a server-side failure to the client.
type ErrorEvent struct {
	WorkflowID string `json:"workflowId,omitempty"`
	Code       string `json:"code"`
	Error      string `json:"error"`
}

// CancelledEvent confirms a cancel command.
type CancelledEvent struct {
	WorkflowID string `json:"workflowId"`
}

// EncodeMessage frames payload as a message of the given type.
func EncodeMessage(t MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %q payload: %w", t, err)
	}
	return json.Marshal(&Message{Type: t, Payload: raw})
}

// DecodeMessage parses one wire frame. Unknown message types are rejected.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrValidation, m.Type)
	}
	return &m, nil
}
