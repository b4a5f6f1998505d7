//
// Tencent is pleased to support the open source community by making trpc-flowviz-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flowviz-go is licensed under the Apache License Version 2.0.
//
//

// Package server exposes workflow execution over a websocket endpoint:
// it accepts execute/cancel commands, drives the execution engine, and
// streams batched entity lifecycle events back to each session.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-flowviz-go/batcher"
	"trpc.group/trpc-go/trpc-flowviz-go/log"
	"trpc.group/trpc-go/trpc-flowviz-go/protocol"
	"trpc.group/trpc-go/trpc-flowviz-go/runner"
)

// Server is the flowviz websocket server.
type Server struct {
	engine     *runner.Engine
	batcher    *batcher.Batcher
	handler    http.Handler
	address    string
	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a server around the given execution engine.
func New(engine *runner.Engine, opt ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("flowviz: engine must not be nil")
	}
	opts := newOptions(opt...)
	s := &Server{
		engine:  engine,
		address: opts.address,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
	s.batcher = batcher.New(s, opts.batcherOptions...)
	router := mux.NewRouter()
	router.HandleFunc(opts.wsPath, s.handleWS).Methods(http.MethodGet)
	router.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	s.handler = cors.New(cors.Options{
		AllowedOrigins: opts.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(router)
	return s, nil
}

// Handler returns the HTTP handler serving the websocket and health routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve starts the server and listens on the configured address.
func (s *Server) Serve(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.address, Handler: s.handler}
	log.Infof("flowviz: serving on %s", s.address)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the server.
func (s *Server) Close(ctx context.Context) error {
	if s.httpServer == nil {
		return errors.New("flowviz: http server not running")
	}
	return s.httpServer.Shutdown(ctx)
}

// DeliverBatch implements batcher.Sink: it frames the batch as a
// node-events-batch message on the session's connection.
func (s *Server) DeliverBatch(sessionID string, batch protocol.Batch) error {
	sess := s.session(sessionID)
	if sess == nil {
		return errors.New("flowviz: session gone")
	}
	return sess.send(protocol.MessageNodeEventsBatch, &batch)
}

// DeliverEvent implements batcher.Sink for the immediate path.
func (s *Server) DeliverEvent(sessionID, workflowID string, event protocol.EventEnvelope) error {
	sess := s.session(sessionID)
	if sess == nil {
		return errors.New("flowviz: session gone")
	}
	return sess.send(protocol.MessageNodeEvent, &protocol.NodeEvent{
		WorkflowID: workflowID,
		Event:      event,
		Count:      1,
	})
}

// handleWS upgrades the connection and runs the session loop.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("flowviz: websocket upgrade: %v", err)
		return
	}
	sess := &session{
		id:     uuid.New().String(),
		conn:   conn,
		server: s,
		runs:   make(map[string]context.CancelFunc),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	log.Infof("flowviz: session %s connected", sess.id)
	sess.loop()
	s.dropSession(sess)
}

// session looks up a live session by id.
func (s *Server) session(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// dropSession unregisters the session and cancels its live runs.
func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.cancelAll()
	log.Infof("flowviz: session %s disconnected", sess.id)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
