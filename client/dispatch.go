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
	"trpc.group/trpc-go/trpc-flowviz-go/log"
	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
)

// dispatch parses one inbound frame and applies it. Malformed frames and
// envelopes are dropped and logged; they never poison the rest of a batch.
func (s *Session) dispatch(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		log.Warnf("client: drop inbound frame: %v", err)
		return
	}
	switch msg.Type {
	case protocol.MessageStarted:
		// A new run resets the whole state map before its events arrive.
		s.opts.store.Reset()
		s.forward(msg)
	case protocol.MessageNodeEvent:
		s.applyNodeEvent(msg)
	case protocol.MessageNodeEventsBatch:
		s.applyBatch(msg)
	case protocol.MessageComplete, protocol.MessageError, protocol.MessageCancelled:
		s.forward(msg)
	default:
		log.Warnf("client: drop inbound frame of unexpected type %q", msg.Type)
	}
}

// applyNodeEvent merges one immediate event into the store.
func (s *Session) applyNodeEvent(msg *protocol.Message) {
	var ev protocol.NodeEvent
	if err := msg.UnmarshalPayload(&ev); err != nil {
		log.Warnf("client: drop node event: %v", err)
		return
	}
	if err := protocol.ValidateEnvelope(&ev.Event); err != nil {
		log.Warnf("client: drop node event for workflow %s: %v", ev.WorkflowID, err)
		return
	}
	s.opts.store.Update(ev.Event.StateUpdate())
	s.forward(msg)
}

// applyBatch unpacks a batch into state updates and commits them through
// one BatchUpdate call so readers never see a partial application.
func (s *Session) applyBatch(msg *protocol.Message) {
	var batch protocol.Batch
	if err := msg.UnmarshalPayload(&batch); err != nil {
		log.Warnf("client: drop event batch: %v", err)
		return
	}
	updates := make([]protocol.EntityStateUpdate, 0, len(batch.Events))
	for i := range batch.Events {
		env := &batch.Events[i]
		if err := protocol.ValidateEnvelope(env); err != nil {
			log.Warnf("client: drop envelope %d of batch for workflow %s: %v", i, batch.WorkflowID, err)
			continue
		}
		updates = append(updates, env.StateUpdate())
	}
	if len(updates) == 0 {
		return
	}
	s.opts.store.BatchUpdate(updates)
	s.forward(msg)
}

// forward hands the message to the registered server event handler, if any.
func (s *Session) forward(msg *protocol.Message) {
	if s.opts.eventHandler != nil {
		s.opts.eventHandler(msg)
	}
}
