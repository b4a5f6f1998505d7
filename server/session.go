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
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trpc.group/trpc-go/trpc-flowviz-go/batcher"
	"trpc.group/trpc-go/trpc-flowviz-go/log"
	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
)

// session is one connected client. All writes to the connection go
// through send, which serializes the run goroutines, the batcher timers,
// and the command loop.
type session struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	writeMu sync.Mutex

	runsMu sync.Mutex
	runs   map[string]context.CancelFunc
}

// loop reads commands until the connection dies.
func (s *session) loop() {
	defer s.conn.Close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("flowviz: session %s read: %v", s.id, err)
			}
			return
		}
		s.handleCommand(data)
	}
}

// handleCommand validates and dispatches one inbound command frame.
// Validation failures are reported back on the same channel with a
// stable code and never tear the session down.
func (s *session) handleCommand(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.sendError("", protocol.CodeValidationError, err.Error())
		return
	}
	if !msg.Type.Command() {
		s.sendError("", protocol.CodeValidationError, "not a command: "+msg.Type.String())
		return
	}
	switch msg.Type {
	case protocol.MessageExecute:
		s.handleExecute(msg)
	case protocol.MessageCancel:
		s.handleCancel(msg)
	}
}

// handleExecute admits a workflow run and drives it in the background.
func (s *session) handleExecute(msg *protocol.Message) {
	var cmd protocol.ExecuteCommand
	if err := msg.UnmarshalPayload(&cmd); err != nil {
		s.sendError("", protocol.CodeValidationError, err.Error())
		return
	}
	if err := protocol.ValidateExecute(&cmd); err != nil {
		s.sendError("", protocol.CodeValidationError, err.Error())
		return
	}
	workflowID := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	s.runsMu.Lock()
	s.runs[workflowID] = cancel
	s.runsMu.Unlock()
	if err := s.send(protocol.MessageStarted, &protocol.StartedEvent{WorkflowID: workflowID}); err != nil {
		log.Warnf("flowviz: session %s send started: %v", s.id, err)
	}
	go s.run(ctx, workflowID, &protocol.Graph{Nodes: cmd.Nodes, Edges: cmd.Edges})
}

// run executes the workflow, streaming its events through the batcher.
// Cleanup of the batching key is paired with every termination path.
func (s *session) run(ctx context.Context, workflowID string, graph *protocol.Graph) {
	key := batcher.Key{SessionID: s.id, WorkflowID: workflowID}
	defer s.finishRun(workflowID)
	result, err := s.server.engine.Run(ctx, graph, func(event protocol.EventEnvelope) {
		if event.EventType == protocol.EventError {
			// Error events are high priority: drain what came before,
			// then deliver the error on the immediate path.
			s.server.batcher.Flush(key)
			s.server.batcher.EmitImmediate(key, event)
			return
		}
		s.server.batcher.Emit(key, event)
	})
	// Drain pending events before the terminal frame, on every path.
	s.server.batcher.Cleanup(key)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			if sendErr := s.send(protocol.MessageCancelled, &protocol.CancelledEvent{WorkflowID: workflowID}); sendErr != nil {
				log.Warnf("flowviz: session %s send cancelled: %v", s.id, sendErr)
			}
			return
		}
		s.sendError(workflowID, protocol.CodeExecutionError, err.Error())
		return
	}
	complete := &protocol.CompleteEvent{
		WorkflowID:  workflowID,
		TotalTime:   float64(result.TotalTime.Milliseconds()),
		Status:      result.Status,
		FailedNodes: result.FailedNodes,
	}
	if err := s.send(protocol.MessageComplete, complete); err != nil {
		log.Warnf("flowviz: session %s send complete: %v", s.id, err)
	}
}

// handleCancel stops a live run. The cancelled frame is emitted by the
// run goroutine once it observes the cancellation, after its final flush.
func (s *session) handleCancel(msg *protocol.Message) {
	var cmd protocol.CancelCommand
	if err := msg.UnmarshalPayload(&cmd); err != nil {
		s.sendError("", protocol.CodeValidationError, err.Error())
		return
	}
	if err := protocol.ValidateCancel(&cmd); err != nil {
		s.sendError("", protocol.CodeValidationError, err.Error())
		return
	}
	s.runsMu.Lock()
	cancel, ok := s.runs[cmd.WorkflowID]
	s.runsMu.Unlock()
	if !ok {
		s.sendError(cmd.WorkflowID, protocol.CodeExecutionError, "workflow not running")
		return
	}
	cancel()
}

// finishRun forgets the run's cancel handle.
func (s *session) finishRun(workflowID string) {
	s.runsMu.Lock()
	if cancel, ok := s.runs[workflowID]; ok {
		cancel()
		delete(s.runs, workflowID)
	}
	s.runsMu.Unlock()
}

// cancelAll cancels every live run of the session.
func (s *session) cancelAll() {
	s.runsMu.Lock()
	for _, cancel := range s.runs {
		cancel()
	}
	s.runsMu.Unlock()
}

// send frames and writes one message on the connection.
func (s *session) send(t protocol.MessageType, payload any) error {
	data, err := protocol.EncodeMessage(t, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// sendError reports a failure back over the session channel.
func (s *session) sendError(workflowID, code, message string) {
	log.Warnf("flowviz: session %s error %s: %s", s.id, code, message)
	ev := &protocol.ErrorEvent{WorkflowID: workflowID, Code: code, Error: message}
	if err := s.send(protocol.MessageError, ev); err != nil {
		log.Warnf("flowviz: session %s send error frame: %v", s.id, err)
	}
}
